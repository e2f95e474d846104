package jsonutils

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reFence         = regexp.MustCompile("(?s)```(?:json)?(.*?)```")
	reObject        = regexp.MustCompile(`(?s)\{.*\}`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractJSON pulls a JSON object out of model output.
//
// Priority:
// 1. a fenced ```json ... ``` (or bare ```) block
// 2. the outermost {...} span
//
// Zero-width characters and trailing commas before a closing brace/bracket
// are removed. Input without any object is returned trimmed.
func ExtractJSON(input string) string {
	input = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D' {
			return -1
		}
		return r
	}, input))

	if match := reFence.FindStringSubmatch(input); len(match) > 1 {
		input = strings.TrimSpace(match[1])
	}
	if match := reObject.FindString(input); match != "" {
		input = match
	}

	input = reTrailingComma.ReplaceAllString(input, "$1")
	return strings.TrimSpace(input)
}

// ToJSON serializes v with 2-space indentation, "" on failure.
func ToJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
