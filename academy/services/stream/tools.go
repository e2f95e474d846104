package stream

import (
	"academy/academy/utils/jsonutils"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidToolPayload = errors.New("invalid tool payload")

type ToolKind string

const (
	ToolQuiz    ToolKind = "quiz"
	ToolModules ToolKind = "modules"
)

type QuizQuestion struct {
	Question     string   `json:"question" validate:"required"`
	Options      []string `json:"options" validate:"min=2,dive,required"`
	CorrectIndex int      `json:"correct_index" validate:"gte=0"`
	Explanation  string   `json:"explanation,omitempty"`
}

type Quiz struct {
	Title     string         `json:"title" validate:"required"`
	Questions []QuizQuestion `json:"questions" validate:"required,min=1,dive"`
}

type LessonOutline struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
}

type ModuleOutline struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description,omitempty"`
	Lessons     []LessonOutline `json:"lessons" validate:"dive"`
}

type Modules struct {
	Modules []ModuleOutline `json:"modules" validate:"required,min=1,dive"`
}

// ToolPayload is the validated result of a generation tool call.
// Exactly one of Quiz or Modules is set, matching Kind.
type ToolPayload struct {
	Kind    ToolKind `json:"kind"`
	Quiz    *Quiz    `json:"quiz,omitempty"`
	Modules *Modules `json:"modules,omitempty"`
}

var validate = validator.New()

// ToolKindFor maps a tool/function name to its payload kind.
func ToolKindFor(name string) (ToolKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quiz", "generate_quiz", "create_quiz":
		return ToolQuiz, true
	case "modules", "generate_modules", "create_modules":
		return ToolModules, true
	}
	return "", false
}

// DecodeToolPayload parses and validates tool-call arguments. Arguments that
// arrive wrapped in prose or a fenced block are unwrapped first.
func DecodeToolPayload(name string, args []byte) (ToolPayload, error) {
	kind, ok := ToolKindFor(name)
	if !ok {
		return ToolPayload{}, fmt.Errorf("%w: unknown tool %q", ErrInvalidToolPayload, name)
	}

	var target any
	out := ToolPayload{Kind: kind}
	switch kind {
	case ToolQuiz:
		out.Quiz = &Quiz{}
		target = out.Quiz
	case ToolModules:
		out.Modules = &Modules{}
		target = out.Modules
	}

	if err := json.Unmarshal(args, target); err != nil {
		cleaned := jsonutils.ExtractJSON(string(args))
		if err2 := json.Unmarshal([]byte(cleaned), target); err2 != nil {
			return ToolPayload{}, fmt.Errorf("%w: %v", ErrInvalidToolPayload, err)
		}
	}
	if err := validate.Struct(target); err != nil {
		return ToolPayload{}, fmt.Errorf("%w: %v", ErrInvalidToolPayload, err)
	}
	if out.Quiz != nil {
		for i, q := range out.Quiz.Questions {
			if q.CorrectIndex >= len(q.Options) {
				return ToolPayload{}, fmt.Errorf("%w: question %d correct_index out of range", ErrInvalidToolPayload, i)
			}
		}
	}
	return out, nil
}
