// academy/types/chat.go
package types

// ChatSessionSummary is one thread in the threads panel.
// LastActivity: RFC3339 string
type ChatSessionSummary struct {
	SessionID       string `json:"session_id"`
	LastMessage     string `json:"last_message"`
	LastMessageRole string `json:"last_message_role"`
	LastActivity    string `json:"last_activity"`
	Mode            string `json:"mode,omitempty"`
}

type GenerateRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=quiz modules"`
	Topic string `json:"topic" validate:"required,max=2000"`
}
