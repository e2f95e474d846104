package sequence

import (
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence the processor needs. dao.SequenceStore implements it.
type Store interface {
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error)
	ClaimEnrollment(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error)
	ReleaseEnrollment(ctx context.Context, id uuid.UUID) error
	AdvanceEnrollment(ctx context.Context, id uuid.UUID, step int, nextEmailAt time.Time) error
	CompleteEnrollment(ctx context.Context, id uuid.UUID, step int, at time.Time) error
	PauseEnrollment(ctx context.Context, id uuid.UUID) error

	GetSequence(ctx context.Context, id uuid.UUID) (*models.EmailSequence, error)
	GetStep(ctx context.Context, sequenceID uuid.UUID, order int) (*models.SequenceStep, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	WriteAudit(ctx context.Context, entry *models.AuditLog) error
}

type Quota interface {
	Increment(ctx context.Context, orgID uuid.UUID, monthYear, kind string, amount int) (bool, int, error)
}

// Dedup remembers which (enrollment, step) pairs were already handed to the sender.
type Dedup interface {
	MarkSent(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Sender interface {
	Send(ctx context.Context, req types.SendEmailRequest) error
}

type ReportSink interface {
	SaveReport(ctx context.Context, report types.ProcessorReport) (string, error)
}

// Result is what the processor endpoint returns.
type Result struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

const (
	OutcomeSent      = "sent"
	OutcomeCompleted = "completed"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomePaused    = "paused"
	OutcomeError     = "error"
)
