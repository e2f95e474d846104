package llm

import (
	"academy/academy/config"
	httputils "academy/academy/utils/http"
	"academy/academy/utils/logging"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model      string    `json:"model"`
	Messages   []Message `json:"messages"`
	Stream     bool      `json:"stream"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice any       `json:"tool_choice,omitempty"`
}

type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Client talks to an OpenAI-compatible chat completions gateway.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func NewClient(cfg config.Config) *Client {
	if cfg.LLMAPIKey == "" {
		logging.AppLogger.Warn("LLM_API_KEY is empty, gateway calls will be unauthenticated")
	}
	return &Client{
		apiKey:  cfg.LLMAPIKey,
		baseURL: cfg.LLMGatewayURL,
		model:   cfg.LLMModel,
		http:    &http.Client{},
	}
}

// NewClientWithHTTP is used by tests and callers that need custom transports.
func NewClientWithHTTP(baseURL, apiKey, model string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, model: model, http: hc}
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *Client) prepare(req ChatRequest, stream bool) ChatRequest {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = stream
	return req
}

func mapError(err error) error {
	var se *httputils.StatusError
	if errors.As(err, &se) {
		return ErrorFromStatus(se.StatusCode, se.Body)
	}
	return err
}

// Stream opens a streaming completion and returns the raw event-stream body.
// The caller must close it. Non-2xx responses come back as typed errors.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	defer logging.LogDuration(ctx, "llm_stream_open")()

	body, err := httputils.PostStream(ctx, c.http, c.baseURL, c.headers(), c.prepare(req, true))
	if err != nil {
		err = mapError(err)
		logging.ErrorLogger.Error("llm stream request failed", zap.Error(err))
		return nil, err
	}
	return body, nil
}

func (c *Client) complete(ctx context.Context, req ChatRequest) (*completionResponse, error) {
	var parsed completionResponse
	if err := httputils.PostJSON(ctx, c.http, c.baseURL, c.headers(), c.prepare(req, false), &parsed); err != nil {
		return nil, mapError(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response")
	}
	return &parsed, nil
}

// Complete runs a single non-streaming completion.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "llm_complete")()

	resp, err := c.complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}
