package chat

import (
	"academy/academy/config"
	"academy/academy/services/llm"
	httputils "academy/academy/utils/http"
	"academy/academy/utils/jsonutils"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

// Request is the body of the chat streaming endpoint.
type Request struct {
	Messages  []Message      `json:"messages" validate:"required,min=1,dive"`
	Mode      string         `json:"mode,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Transport opens a streaming chat response. Implementations return typed
// llm errors for non-2xx responses; the body must be closed by the caller.
type Transport interface {
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// HTTPTransport calls the exposed chat endpoint (POST /chat/stream).
type HTTPTransport struct {
	URL    string
	Token  string
	Client *http.Client
}

func (t *HTTPTransport) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	var headers map[string]string
	if t.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + t.Token}
	}
	body, err := httputils.PostStream(ctx, t.Client, t.URL, headers, req)
	if err != nil {
		var se *httputils.StatusError
		if errors.As(err, &se) {
			return nil, llm.ErrorFromStatus(se.StatusCode, se.Body)
		}
		return nil, err
	}
	return body, nil
}

// Streamer opens a raw gateway stream. *llm.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error)
}

// GatewayTransport talks to the LLM gateway directly, prepending the mode's
// system prompt.
type GatewayTransport struct {
	Client Streamer
	Modes  config.Modes
}

func (t *GatewayTransport) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	return t.Client.Stream(ctx, GatewayRequest(req, t.Modes))
}

// GatewayRequest turns a chat request into the gateway's wire request: the
// mode's system prompt first, then any caller context, then the history.
func GatewayRequest(req Request, modes config.Modes) llm.ChatRequest {
	if modes == nil {
		modes = config.DefaultModes()
	}
	mode := modes.Get(req.Mode)

	system := mode.SystemPrompt
	if len(req.Context) > 0 {
		system += "\n\nContext:\n" + jsonutils.ToJSON(req.Context)
	}

	msgs := make([]llm.Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, llm.Message{Role: RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		// clients don't get to inject their own system prompt
		if m.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return llm.ChatRequest{Model: mode.Model, Messages: msgs}
}
