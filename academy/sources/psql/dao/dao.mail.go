package dao

import (
	"academy/academy/sources/psql/models"
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MailDAO struct {
	DB *gorm.DB
}

func NewMailDAO(db *gorm.DB) *MailDAO {
	return &MailDAO{DB: db}
}

func (dao *MailDAO) GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error) {
	var t models.EmailTemplate
	err := dao.DB.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (dao *MailDAO) CreateEmailLog(ctx context.Context, entry *models.EmailLog) error {
	return dao.DB.WithContext(ctx).Create(entry).Error
}

// RecentEmailLogs lists an organization's most recent sends, newest first.
func (dao *MailDAO) RecentEmailLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]models.EmailLog, error) {
	var logs []models.EmailLog
	err := dao.DB.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
