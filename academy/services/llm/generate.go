package llm

import (
	"academy/academy/services/stream"
	"academy/academy/utils/logging"
	"context"
	"fmt"

	"go.uber.org/zap"
)

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

var quizTool = Tool{
	Type: "function",
	Function: ToolFunction{
		Name:        "generate_quiz",
		Description: "Create a multiple choice quiz for a lesson.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"title", "questions"},
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"questions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"question", "options", "correct_index"},
						"properties": map[string]any{
							"question":      map[string]any{"type": "string"},
							"options":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"correct_index": map[string]any{"type": "integer"},
							"explanation":   map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	},
}

var modulesTool = Tool{
	Type: "function",
	Function: ToolFunction{
		Name:        "generate_modules",
		Description: "Outline the modules and lessons of a course.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"modules"},
			"properties": map[string]any{
				"modules": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"title"},
						"properties": map[string]any{
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"lessons": map[string]any{
								"type": "array",
								"items": map[string]any{
									"type":     "object",
									"required": []string{"title"},
									"properties": map[string]any{
										"title":       map[string]any{"type": "string"},
										"description": map[string]any{"type": "string"},
									},
								},
							},
						},
					},
				},
			},
		},
	},
}

func toolFor(kind stream.ToolKind) (Tool, error) {
	switch kind {
	case stream.ToolQuiz:
		return quizTool, nil
	case stream.ToolModules:
		return modulesTool, nil
	}
	return Tool{}, fmt.Errorf("%w: unknown kind %q", stream.ErrInvalidToolPayload, kind)
}

// Generate asks the gateway for a structured payload of the given kind via
// a forced tool call. Models that answer in plain content are accepted as
// long as the content decodes to the same shape.
func (c *Client) Generate(ctx context.Context, kind stream.ToolKind, prompt string) (stream.ToolPayload, error) {
	defer logging.LogDuration(ctx, "llm_generate")()

	tool, err := toolFor(kind)
	if err != nil {
		return stream.ToolPayload{}, err
	}
	req := ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You create structured course content. Always answer by calling the provided function."},
			{Role: "user", Content: prompt},
		},
		Tools: []Tool{tool},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tool.Function.Name},
		},
	}

	resp, err := c.complete(ctx, req)
	if err != nil {
		return stream.ToolPayload{}, err
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		return stream.DecodeToolPayload(call.Function.Name, []byte(call.Function.Arguments))
	}
	logging.AppLogger.Info("llm generate: no tool call, decoding content", zap.String("kind", string(kind)))
	return stream.DecodeToolPayload(string(kind), []byte(msg.Content))
}
