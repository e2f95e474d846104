// academy/controllers/auth.go
package controllers

import (
	"academy/academy/sources/psql/dao"
	"academy/academy/types"
	"context"
	"fmt"
	"time"

	"academy/academy/config"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

type AuthController struct {
	profileDAO *dao.ProfileDAO
	cfg        config.Config
	validate   *validator.Validate
}

func NewAuthController(profileDAO *dao.ProfileDAO, cfg config.Config) *AuthController {
	return &AuthController{
		profileDAO: profileDAO,
		cfg:        cfg,
		validate:   validator.New(),
	}
}

// IssueToken signs a token for the profile with req.Email, creating the
// profile on first use.
func (c *AuthController) IssueToken(ctx context.Context, req types.TokenRequest) (string, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	profile, err := c.profileDAO.GetProfileByEmail(ctx, req.Email)
	if err != nil {
		return "", err
	}
	if profile == nil {
		var orgID *uuid.UUID
		if req.OrganizationID != nil {
			id := uuid.MustParse(*req.OrganizationID)
			orgID = &id
		}
		profile, err = c.profileDAO.CreateProfile(ctx, req.Email, req.FullName, orgID)
		if err != nil {
			return "", err
		}
	}
	return SignToken(c.cfg.JWTSecret, profile.ID, profile.OrganizationID, tokenTTL)
}

func SignToken(secret string, userID uuid.UUID, orgID *uuid.UUID, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if orgID != nil {
		claims["org_id"] = orgID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
