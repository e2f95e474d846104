package mailer

import (
	"academy/academy/utils/logging"
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Provider delivers a rendered message and returns the provider message id.
type Provider interface {
	Deliver(ctx context.Context, msg Message) (string, error)
}

type SendGrid struct {
	key  string
	host string
	from *sgmail.Email
}

func NewSendGrid(key, fromName, fromAddress string) *SendGrid {
	return &SendGrid{
		key:  key,
		host: sendgridHost,
		from: sgmail.NewEmail(fromName, fromAddress),
	}
}

func (s *SendGrid) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToAddress))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	// text/plain must come before text/html
	if msg.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	return m
}

func (s *SendGrid) Deliver(ctx context.Context, msg Message) (string, error) {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := sendgrid.API(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

// LogProvider writes messages to the app log instead of sending them. Used
// when no SendGrid key is configured.
type LogProvider struct{}

func (LogProvider) Deliver(ctx context.Context, msg Message) (string, error) {
	logging.AppLogger.Info("email (not sent, no provider configured)",
		zap.String("to", msg.ToAddress),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)))
	return "", nil
}
