package types

import (
	"time"
)

const EmailTypeSequence = "sequence"

// SendEmailRequest is the body of the send-email function.
type SendEmailRequest struct {
	Type           string `json:"type" validate:"required"`
	OrganizationID string `json:"organizationId" validate:"required,uuid"`
	RecipientEmail string `json:"recipientEmail" validate:"required,email"`
	RecipientName  string `json:"recipientName,omitempty"`
	CourseName     string `json:"courseName,omitempty"`
	SequenceStepID string `json:"sequenceStepId,omitempty" validate:"omitempty,uuid"`
	TemplateID     string `json:"templateId" validate:"required,uuid"`
}

type SendEmailResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
}

type EnrollRequest struct {
	UserID   string  `json:"user_id" validate:"required,uuid"`
	CourseID *string `json:"course_id,omitempty" validate:"omitempty,uuid"`
}

// ProcessorReport is the archived record of one sequence processor run.
type ProcessorReport struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Processed  int                   `json:"processed"`
	Errors     int                   `json:"errors"`
	Skipped    int                   `json:"skipped"`
	Total      int                   `json:"total"`
	Items      []ProcessorReportItem `json:"items"`
}

type ProcessorReportItem struct {
	EnrollmentID string `json:"enrollment_id"`
	Outcome      string `json:"outcome"`
	Step         int    `json:"step,omitempty"`
	Error        string `json:"error,omitempty"`
}
