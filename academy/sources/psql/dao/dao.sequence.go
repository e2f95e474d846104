package dao

import (
	"academy/academy/sources/psql"
	"academy/academy/sources/psql/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrAlreadyEnrolled = errors.New("user is already enrolled in this sequence")
	ErrNoSteps         = errors.New("sequence has no steps")
)

type SequenceDAO struct {
	DB *gorm.DB
}

func NewSequenceDAO(db *gorm.DB) *SequenceDAO {
	return &SequenceDAO{DB: db}
}

// DueEnrollments selects active, uncompleted enrollments whose next email is
// due, oldest first.
func (dao *SequenceDAO) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	var out []models.SequenceEnrollment
	q := dao.DB.WithContext(ctx).
		Where("is_active = ? AND completed_at IS NULL AND next_email_at IS NOT NULL AND next_email_at <= ?", true, now).
		Order("next_email_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimEnrollment takes the processing lease with a compare-and-swap on
// locked_until. It fails when another processor holds an unexpired lease or
// the row is no longer due.
func (dao *SequenceDAO) ClaimEnrollment(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	res := dao.DB.WithContext(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ? AND is_active = ? AND completed_at IS NULL AND next_email_at <= ?", id, true, now).
		Where("(locked_until IS NULL OR locked_until <= ?)", now).
		UpdateColumn("locked_until", now.Add(lease))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (dao *SequenceDAO) ReleaseEnrollment(ctx context.Context, id uuid.UUID) error {
	return dao.DB.WithContext(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ?", id).
		UpdateColumn("locked_until", gorm.Expr("NULL")).Error
}

func (dao *SequenceDAO) AdvanceEnrollment(ctx context.Context, id uuid.UUID, step int, nextEmailAt time.Time) error {
	return dao.DB.WithContext(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_step":  step,
			"next_email_at": nextEmailAt,
			"locked_until":  gorm.Expr("NULL"),
		}).Error
}

func (dao *SequenceDAO) CompleteEnrollment(ctx context.Context, id uuid.UUID, step int, at time.Time) error {
	return dao.DB.WithContext(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_step": step,
			"is_active":    false,
			"completed_at": at,
			"locked_until": gorm.Expr("NULL"),
		}).Error
}

func (dao *SequenceDAO) PauseEnrollment(ctx context.Context, id uuid.UUID) error {
	return dao.DB.WithContext(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":    false,
			"locked_until": gorm.Expr("NULL"),
		}).Error
}

func (dao *SequenceDAO) GetEnrollment(ctx context.Context, id uuid.UUID) (*models.SequenceEnrollment, error) {
	var e models.SequenceEnrollment
	err := dao.DB.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (dao *SequenceDAO) GetSequence(ctx context.Context, id uuid.UUID) (*models.EmailSequence, error) {
	var s models.EmailSequence
	err := dao.DB.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStep returns the step at order, or nil when the sequence has none.
func (dao *SequenceDAO) GetStep(ctx context.Context, sequenceID uuid.UUID, order int) (*models.SequenceStep, error) {
	var step models.SequenceStep
	err := dao.DB.WithContext(ctx).
		Where("sequence_id = ? AND step_order = ?", sequenceID, order).
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (dao *SequenceDAO) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var c models.Course
	err := dao.DB.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (dao *SequenceDAO) WriteAudit(ctx context.Context, entry *models.AuditLog) error {
	return dao.DB.WithContext(ctx).Create(entry).Error
}

// Enroll puts a user at step 0 of a sequence, due after the first step's
// delay.
func (dao *SequenceDAO) Enroll(ctx context.Context, sequenceID, userID uuid.UUID, courseID *uuid.UUID, now time.Time) (*models.SequenceEnrollment, error) {
	first, err := dao.GetStep(ctx, sequenceID, 1)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, ErrNoSteps
	}
	next := now.Add(first.Delay())
	e := models.SequenceEnrollment{
		SequenceID:  sequenceID,
		UserID:      userID,
		CourseID:    courseID,
		CurrentStep: 0,
		NextEmailAt: &next,
		IsActive:    true,
	}
	if err := dao.DB.WithContext(ctx).Create(&e).Error; err != nil {
		if psql.IsUniqueViolation(err) {
			return nil, ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	return &e, nil
}
