// Package mailer renders organization email templates and delivers them.
package mailer

import (
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"academy/academy/utils/logging"
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrTemplateNotFound = errors.New("email template not found")

// Store resolves templates and records sends. dao.MailDAO implements it.
type Store interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error)
	CreateEmailLog(ctx context.Context, entry *models.EmailLog) error
}

// Service is the send-email function run in-process.
type Service struct {
	store    Store
	provider Provider
	validate *validator.Validate
}

func NewService(store Store, provider Provider) *Service {
	if provider == nil {
		provider = LogProvider{}
	}
	return &Service{store: store, provider: provider, validate: validator.New()}
}

// Send implements sequence.Sender.
func (s *Service) Send(ctx context.Context, req types.SendEmailRequest) error {
	_, err := s.SendEmail(ctx, req)
	return err
}

// SendEmail validates req, renders its template and delivers it. Every
// delivery attempt is written to the email log.
func (s *Service) SendEmail(ctx context.Context, req types.SendEmailRequest) (types.SendEmailResponse, error) {
	defer logging.LogDuration(ctx, "mailer.SendEmail")()

	if err := s.validate.Struct(req); err != nil {
		return types.SendEmailResponse{}, fmt.Errorf("invalid send-email request: %w", err)
	}
	orgID := uuid.MustParse(req.OrganizationID)
	templateID := uuid.MustParse(req.TemplateID)

	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return types.SendEmailResponse{}, fmt.Errorf("load template: %w", err)
	}
	if tpl == nil || tpl.OrganizationID != orgID {
		return types.SendEmailResponse{}, ErrTemplateNotFound
	}

	msg, err := Compose(tpl, req)
	if err != nil {
		return types.SendEmailResponse{}, err
	}

	entry := &models.EmailLog{
		OrganizationID: orgID,
		RecipientEmail: req.RecipientEmail,
		TemplateID:     &templateID,
		Type:           req.Type,
		Status:         models.EmailStatusSent,
	}
	if req.SequenceStepID != "" {
		stepID := uuid.MustParse(req.SequenceStepID)
		entry.SequenceStepID = &stepID
	}

	id, sendErr := s.provider.Deliver(ctx, msg)
	if sendErr != nil {
		entry.Status = models.EmailStatusFailed
		entry.ProviderMessage = sendErr.Error()
	} else {
		entry.ProviderMessage = id
	}
	if err := s.store.CreateEmailLog(ctx, entry); err != nil {
		logging.ErrorLogger.Error("write email log", zap.String("recipient", req.RecipientEmail), zap.Error(err))
	}
	if sendErr != nil {
		return types.SendEmailResponse{}, fmt.Errorf("deliver email: %w", sendErr)
	}

	logging.AppLogger.Info("email sent",
		zap.String("type", req.Type),
		zap.String("template_id", req.TemplateID),
		zap.String("message_id", id))
	return types.SendEmailResponse{Success: true, MessageID: id}, nil
}

// Compose renders a template for one recipient.
func Compose(tpl *models.EmailTemplate, req types.SendEmailRequest) (Message, error) {
	data := TemplateData{Name: req.RecipientName, Course: req.CourseName}
	subject, err := RenderSubject(tpl.Subject, data)
	if err != nil {
		return Message{}, err
	}
	body, err := RenderHTML(tpl.HTMLBody, data)
	if err != nil {
		return Message{}, err
	}
	text, err := PlainText(body)
	if err != nil {
		return Message{}, fmt.Errorf("plain text: %w", err)
	}
	return Message{
		ToName:    req.RecipientName,
		ToAddress: req.RecipientEmail,
		Subject:   subject,
		HTML:      body,
		Text:      text,
	}, nil
}
