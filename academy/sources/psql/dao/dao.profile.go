package dao

import (
	"academy/academy/sources/psql/models"
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProfileDAO struct {
	DB *gorm.DB
}

func NewProfileDAO(db *gorm.DB) *ProfileDAO {
	return &ProfileDAO{DB: db}
}

func (dao *ProfileDAO) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := dao.DB.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (dao *ProfileDAO) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var p models.Profile
	err := dao.DB.WithContext(ctx).Where("email = ?", email).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (dao *ProfileDAO) CreateProfile(ctx context.Context, email string, fullName *string, orgID *uuid.UUID) (*models.Profile, error) {
	p := models.Profile{
		Email:          email,
		FullName:       fullName,
		OrganizationID: orgID,
	}
	if err := dao.DB.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile saves every field of p.
func (dao *ProfileDAO) UpdateProfile(ctx context.Context, p *models.Profile) error {
	return dao.DB.WithContext(ctx).Save(p).Error
}
