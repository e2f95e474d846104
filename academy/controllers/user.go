package controllers

import (
	"academy/academy/sources/psql/dao"
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

type UserController struct {
	profileDAO *dao.ProfileDAO
	validate   *validator.Validate
}

func NewUserController(profileDAO *dao.ProfileDAO) *UserController {
	return &UserController{profileDAO: profileDAO, validate: validator.New()}
}

func (c *UserController) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p, err := c.profileDAO.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (c *UserController) UpdateProfile(ctx context.Context, id uuid.UUID, req types.UpdateProfileRequest) (*models.Profile, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	p, err := c.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.FullName != nil {
		p.FullName = req.FullName
	}
	if err := c.profileDAO.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
