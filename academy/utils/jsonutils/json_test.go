package jsonutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```\nenjoy", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 2}\n```", `{"a": 2}`},
		{"prose around object", `sure! {"title":"x"} hope that helps`, `{"title":"x"}`},
		{"trailing comma", `{"a": [1, 2,], "b": 3,}`, `{"a": [1, 2], "b": 3}`},
		{"zero width", "\u200B{\"a\":1}\uFEFF", `{"a":1}`},
		{"no object", "  nothing here ", "nothing here"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.input))
		})
	}
}

func TestToJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", ToJSON(map[string]int{"a": 1}))
	assert.Equal(t, "", ToJSON(make(chan int)))
}
