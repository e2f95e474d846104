package stream

import (
	"encoding/json"
	"strings"
)

const (
	DataPrefix = "data: "
	Terminator = "[DONE]"
)

type EventKind int

const (
	KindBlank EventKind = iota
	KindComment
	KindData
	KindTerminator
)

func (k EventKind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindComment:
		return "comment"
	case KindData:
		return "data"
	case KindTerminator:
		return "terminator"
	}
	return "unknown"
}

// Event is one decoded protocol line. Payload is only set for KindData.
type Event struct {
	Kind    EventKind
	Payload string
}

// ClassifyLine turns a single line (newline and trailing CR already removed)
// into an Event. Keep-alives and lines without the data prefix come back as
// comments so callers can discard them in one place.
func ClassifyLine(line string) Event {
	if line == "" {
		return Event{Kind: KindBlank}
	}
	if strings.HasPrefix(line, ":") || !strings.HasPrefix(line, DataPrefix) {
		return Event{Kind: KindComment}
	}
	payload := strings.TrimSpace(line[len(DataPrefix):])
	if payload == Terminator {
		return Event{Kind: KindTerminator}
	}
	return Event{Kind: KindData, Payload: payload}
}

type deltaEnvelope struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// DecodeDelta extracts choices[0].delta.content from a data payload.
// Valid JSON without that field (or with an empty string) reports ok=false
// and a nil error; only unparseable payloads return an error.
func DecodeDelta(payload string) (string, bool, error) {
	var env deltaEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", false, err
	}
	if len(env.Choices) == 0 || env.Choices[0].Delta.Content == nil {
		return "", false, nil
	}
	content := *env.Choices[0].Delta.Content
	if content == "" {
		return "", false, nil
	}
	return content, true, nil
}
