package dao

import (
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found or forbidden")

type ChatMessageDAO struct {
	DB *gorm.DB
}

func NewChatMessageDAO(db *gorm.DB) *ChatMessageDAO {
	return &ChatMessageDAO{DB: db}
}

func (dao *ChatMessageDAO) CreateSessionID() string {
	return uuid.New().String()
}

func (dao *ChatMessageDAO) SaveMessage(ctx context.Context, sessionID string, userID uuid.UUID, role, content, mode string) error {
	msg := models.ChatMessage{
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Mode:      mode,
		Timestamp: time.Now().UTC(),
	}
	return dao.DB.WithContext(ctx).Create(&msg).Error
}

// GetMessagesForSession returns the thread in order. Sessions that don't
// belong to userID are reported as not found.
func (dao *ChatMessageDAO) GetMessagesForSession(ctx context.Context, userID uuid.UUID, sessionID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := dao.DB.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("timestamp ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrSessionNotFound
	}
	return msgs, nil
}

func (dao *ChatMessageDAO) ListSessions(ctx context.Context, userID uuid.UUID) ([]types.ChatSessionSummary, error) {
	var sessionIDs []string
	err := dao.DB.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("user_id = ?", userID).
		Group("session_id").
		Order("MAX(timestamp) DESC").
		Pluck("session_id", &sessionIDs).Error
	if err != nil {
		return nil, err
	}

	out := make([]types.ChatSessionSummary, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		var last models.ChatMessage
		err := dao.DB.WithContext(ctx).
			Where("session_id = ? AND user_id = ?", id, userID).
			Order("timestamp DESC").
			First(&last).Error
		if err != nil {
			return nil, err
		}
		out = append(out, types.ChatSessionSummary{
			SessionID:       id,
			LastMessage:     last.Content,
			LastMessageRole: last.Role,
			LastActivity:    last.Timestamp.UTC().Format(time.RFC3339),
			Mode:            last.Mode,
		})
	}
	return out, nil
}

func (dao *ChatMessageDAO) DeleteSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	res := dao.DB.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Delete(&models.ChatMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
