package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EmailSequence struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID  `json:"organization_id" gorm:"type:uuid;not null;index"`
	CourseID       *uuid.UUID `json:"course_id,omitempty" gorm:"type:uuid"`
	Name           string     `json:"name" gorm:"type:varchar(255);not null"`
	IsActive       bool       `json:"is_active" gorm:"not null"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (s *EmailSequence) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SequenceStep is read-only configuration. StepOrder starts at 1.
type SequenceStep struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SequenceID uuid.UUID `json:"sequence_id" gorm:"type:uuid;not null;uniqueIndex:idx_sequence_step_order"`
	TemplateID uuid.UUID `json:"template_id" gorm:"type:uuid;not null"`
	DelayHours int       `json:"delay_hours" gorm:"not null;default:0"`
	StepOrder  int       `json:"step_order" gorm:"not null;uniqueIndex:idx_sequence_step_order"`
}

func (s *SequenceStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayHours) * time.Hour
}

// SequenceEnrollment is a user's position in a drip sequence. CurrentStep is
// the order of the last step sent (0 before the first send). LockedUntil is
// the processing lease.
type SequenceEnrollment struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	SequenceID  uuid.UUID  `json:"sequence_id" gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_user"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_user"`
	CourseID    *uuid.UUID `json:"course_id,omitempty" gorm:"type:uuid"`
	CurrentStep int        `json:"current_step" gorm:"not null;default:0"`
	NextEmailAt *time.Time `json:"next_email_at,omitempty" gorm:"index"`
	IsActive    bool       `json:"is_active" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (e *SequenceEnrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
