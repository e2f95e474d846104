package dao

import (
	"academy/academy/sources/psql/models"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaDAO owns the usage counters. Every writer (chat credits, sequence
// emails) goes through Increment.
type QuotaDAO struct {
	DB                   *gorm.DB
	DefaultEmailLimit    int
	DefaultAICreditLimit int
}

func NewQuotaDAO(db *gorm.DB, defaultEmailLimit, defaultAICreditLimit int) *QuotaDAO {
	return &QuotaDAO{DB: db, DefaultEmailLimit: defaultEmailLimit, DefaultAICreditLimit: defaultAICreditLimit}
}

func (dao *QuotaDAO) limitFor(ctx context.Context, orgID uuid.UUID, kind string) (int, error) {
	var org models.Organization
	err := dao.DB.WithContext(ctx).First(&org, "id = ?", orgID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	switch kind {
	case models.UsageKindEmails:
		if org.EmailLimit > 0 {
			return org.EmailLimit, nil
		}
		return dao.DefaultEmailLimit, nil
	case models.UsageKindAICredits:
		if org.AICreditLimit > 0 {
			return org.AICreditLimit, nil
		}
		return dao.DefaultAICreditLimit, nil
	}
	return 0, fmt.Errorf("unknown usage kind %q", kind)
}

// Increment adds amount to the counter only if the result stays within the
// limit. The check and the write are one UPDATE, so concurrent callers can
// never push the counter past its limit. ok=false means the limit was already
// reached; used is the counter value after the call.
func (dao *QuotaDAO) Increment(ctx context.Context, orgID uuid.UUID, monthYear, kind string, amount int) (bool, int, error) {
	limit, err := dao.limitFor(ctx, orgID, kind)
	if err != nil {
		return false, 0, err
	}
	db := dao.DB.WithContext(ctx)

	row := models.UsageCounter{OrganizationID: orgID, MonthYear: monthYear, Kind: kind, Limit: limit}
	// the row follows the organization's current limit; used is never touched here
	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "month_year"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"quota_limit"}),
	}
	if err := db.Clauses(upsert).Create(&row).Error; err != nil {
		return false, 0, fmt.Errorf("ensure usage counter: %w", err)
	}

	res := db.Model(&models.UsageCounter{}).
		Where("organization_id = ? AND month_year = ? AND kind = ? AND used + ? <= quota_limit", orgID, monthYear, kind, amount).
		UpdateColumn("used", gorm.Expr("used + ?", amount))
	if res.Error != nil {
		return false, 0, fmt.Errorf("increment usage counter: %w", res.Error)
	}

	var current models.UsageCounter
	if err := db.Where("organization_id = ? AND month_year = ? AND kind = ?", orgID, monthYear, kind).First(&current).Error; err != nil {
		return false, 0, err
	}
	return res.RowsAffected == 1, current.Used, nil
}

// Usage returns the counter, or nil when nothing was recorded this month.
func (dao *QuotaDAO) Usage(ctx context.Context, orgID uuid.UUID, monthYear, kind string) (*models.UsageCounter, error) {
	var counter models.UsageCounter
	err := dao.DB.WithContext(ctx).
		Where("organization_id = ? AND month_year = ? AND kind = ?", orgID, monthYear, kind).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}
