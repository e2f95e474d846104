package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const CodeCreditsLimitReached = "AI_CREDITS_LIMIT_REACHED"

var (
	ErrRateLimited     = errors.New("llm: rate limited")
	ErrPaymentRequired = errors.New("llm: payment required")
)

// ForbiddenError is a 403 from the gateway. Code carries the structured
// reason when the body had one, e.g. AI_CREDITS_LIMIT_REACHED.
type ForbiddenError struct {
	Code    string
	Message string
}

func (e *ForbiddenError) Error() string {
	if e.Code != "" {
		return "llm: forbidden (" + e.Code + ")"
	}
	return "llm: forbidden"
}

// StatusError is any other non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: request failed: %d %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ErrorFromStatus maps a non-2xx status and its body to a typed error.
func ErrorFromStatus(status int, body []byte) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	case http.StatusForbidden:
		var payload struct {
			Code    string `json:"code"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		msg := payload.Message
		if msg == "" {
			msg = payload.Error
		}
		return &ForbiddenError{Code: payload.Code, Message: msg}
	}
	return &StatusError{StatusCode: status, Body: string(body)}
}

// IsCreditsExhausted is true for 402s and for 403s carrying the credits code.
func IsCreditsExhausted(err error) bool {
	if errors.Is(err, ErrPaymentRequired) {
		return true
	}
	var fe *ForbiddenError
	return errors.As(err, &fe) && fe.Code == CodeCreditsLimitReached
}

// StatusCode returns the HTTP status a typed error should be relayed with.
func StatusCode(err error) int {
	var fe *ForbiddenError
	var se *StatusError
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.As(err, &fe):
		return http.StatusForbidden
	case errors.As(err, &se):
		return se.StatusCode
	}
	return http.StatusBadGateway
}
