package controllers

import (
	"academy/academy/services/mailer"
	"academy/academy/types"
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type MailController struct {
	service *mailer.Service
}

func NewMailController(service *mailer.Service) *MailController {
	return &MailController{service: service}
}

// SendEmail runs the send-email function and picks the response status.
func (c *MailController) SendEmail(ctx context.Context, req types.SendEmailRequest) (types.SendEmailResponse, int, error) {
	resp, err := c.service.SendEmail(ctx, req)
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return resp, http.StatusOK, nil
	case errors.As(err, &verrs):
		return resp, http.StatusBadRequest, err
	case errors.Is(err, mailer.ErrTemplateNotFound):
		return resp, http.StatusNotFound, err
	default:
		return resp, http.StatusBadGateway, err
	}
}
