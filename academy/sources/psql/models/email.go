package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EmailTemplate struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID `json:"organization_id" gorm:"type:uuid;not null;index"`
	Name           string    `json:"name" gorm:"type:varchar(255);not null"`
	Subject        string    `json:"subject" gorm:"type:varchar(512);not null"`
	HTMLBody       string    `json:"html_body" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at"`
}

func (t *EmailTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

const (
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

type EmailLog struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizationID  uuid.UUID  `json:"organization_id" gorm:"type:uuid;not null;index"`
	RecipientEmail  string     `json:"recipient_email" gorm:"type:varchar(255);not null"`
	TemplateID      *uuid.UUID `json:"template_id,omitempty" gorm:"type:uuid"`
	SequenceStepID  *uuid.UUID `json:"sequence_step_id,omitempty" gorm:"type:uuid"`
	Type            string     `json:"type" gorm:"type:varchar(50);not null"`
	Status          string     `json:"status" gorm:"type:varchar(20);not null"`
	ProviderMessage string     `json:"provider_message,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (l *EmailLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
