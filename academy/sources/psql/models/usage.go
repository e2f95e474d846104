package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UsageKindEmails    = "emails"
	UsageKindAICredits = "ai_credits"
)

// UsageCounter is one organization's usage of one kind in one calendar month
// (MonthYear is "YYYY-MM", UTC). Used never exceeds Limit.
type UsageCounter struct {
	OrganizationID uuid.UUID `json:"organization_id" gorm:"type:uuid;primaryKey"`
	MonthYear      string    `json:"month_year" gorm:"type:varchar(7);primaryKey"`
	Kind           string    `json:"kind" gorm:"type:varchar(20);primaryKey"`
	Used           int       `json:"used" gorm:"not null;default:0"`
	Limit          int       `json:"limit" gorm:"column:quota_limit;not null"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	AuditSequencePausedQuota = "sequence_paused_quota_exceeded"
)

type AuditLog struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID `json:"organization_id" gorm:"type:uuid;not null;index"`
	Action         string    `json:"action" gorm:"type:varchar(100);not null"`
	EntityType     string    `json:"entity_type" gorm:"type:varchar(100);not null"`
	EntityID       string    `json:"entity_id" gorm:"type:varchar(255)"`
	Details        string    `json:"details" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
