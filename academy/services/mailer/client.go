package mailer

import (
	"academy/academy/types"
	httputils "academy/academy/utils/http"
	"context"
	"fmt"
	"net/http"
	"time"
)

// SecretHeader carries the shared secret between functions.
const SecretHeader = "X-Processor-Secret"

// Client calls a remote send-email function over HTTP.
type Client struct {
	URL    string
	Secret string
	HTTP   *http.Client
}

func NewClient(url, secret string) *Client {
	return &Client{URL: url, Secret: secret, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// Send implements sequence.Sender.
func (c *Client) Send(ctx context.Context, req types.SendEmailRequest) error {
	headers := map[string]string{}
	if c.Secret != "" {
		headers[SecretHeader] = c.Secret
	}
	var resp types.SendEmailResponse
	if err := httputils.PostJSON(ctx, c.HTTP, c.URL, headers, req, &resp); err != nil {
		return fmt.Errorf("send-email function: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("send-email function reported failure")
	}
	return nil
}
