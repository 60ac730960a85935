package repository

import (
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

// MessageNotificationModel is the persistence model for the message_notifications table.
type MessageNotificationModel struct {
	ID          string        `gorm:"type:uuid;primaryKey"`
	Recipient   string        `gorm:"type:varchar(255);not null"`
	Message     *string       `gorm:"type:text"`
	MediaID     *string       `gorm:"type:varchar(36)"`
	MediaSrc    *string       `gorm:"type:text"`
	Robot       int           `gorm:"not null;default:1"`
	Method      domain.Method `gorm:"type:varchar(10);not null"`
	Status      domain.Status `gorm:"type:varchar(20);not null"`
	ScheduledAt time.Time     `gorm:"not null"`
	ClaimedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MessageNotificationModel) TableName() string {
	return "message_notifications"
}

// MediaModel is the persistence model for the media table owned by the wider backend.
type MediaModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Src       string `gorm:"type:text;not null"`
	FileName  string `gorm:"type:varchar(255)"`
	MimeType  string `gorm:"type:varchar(100)"`
	Type      string `gorm:"type:varchar(20)"`
	CreatedAt time.Time
}

func (MediaModel) TableName() string {
	return "media"
}

// MessageAttemptModel is the persistence model for message_attempts.
type MessageAttemptModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	MessageID        string  `gorm:"type:uuid;not null"`
	Robot            int     `gorm:"not null"`
	ChatID           string  `gorm:"type:varchar(255);not null"`
	AckCode          *int    `gorm:"type:int"`
	GatewayMessageID *string `gorm:"type:varchar(255)"`
	Error            *string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (MessageAttemptModel) TableName() string {
	return "message_attempts"
}

func messageModelFromDomain(m *domain.MessageNotification) *MessageNotificationModel {
	if m == nil {
		return nil
	}

	model := &MessageNotificationModel{
		ID:          m.ID,
		Recipient:   m.To,
		Message:     m.Message,
		Robot:       m.Robot,
		Method:      m.Method,
		Status:      m.Status,
		ScheduledAt: m.ScheduledAt,
		ClaimedAt:   m.ClaimedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if m.Media != nil {
		value := m.Media.Value
		switch m.Media.Kind {
		case domain.MediaByID:
			model.MediaID = &value
		case domain.MediaBySource:
			model.MediaSrc = &value
		}
	}

	return model
}

func messageModelToDomain(m *MessageNotificationModel) *domain.MessageNotification {
	if m == nil {
		return nil
	}

	msg := &domain.MessageNotification{
		ID:          m.ID,
		To:          m.Recipient,
		Message:     m.Message,
		Robot:       m.Robot,
		Method:      m.Method,
		Status:      m.Status,
		ScheduledAt: m.ScheduledAt,
		ClaimedAt:   m.ClaimedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	switch {
	case m.MediaID != nil && *m.MediaID != "":
		ref := domain.MediaRefByID(*m.MediaID)
		msg.Media = &ref
	case m.MediaSrc != nil && *m.MediaSrc != "":
		ref := domain.MediaRefBySource(*m.MediaSrc)
		msg.Media = &ref
	}

	return msg
}

func mediaModelToDomain(m *MediaModel) *domain.Media {
	if m == nil {
		return nil
	}

	return &domain.Media{
		ID:        m.ID,
		Src:       m.Src,
		FileName:  m.FileName,
		MimeType:  m.MimeType,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
}

func attemptModelFromDomain(a *domain.MessageAttempt) *MessageAttemptModel {
	if a == nil {
		return nil
	}

	return &MessageAttemptModel{
		ID:               a.ID,
		MessageID:        a.MessageID,
		Robot:            a.Robot,
		ChatID:           a.ChatID,
		AckCode:          a.AckCode,
		GatewayMessageID: a.GatewayMessageID,
		Error:            a.Error,
		CreatedAt:        a.CreatedAt,
	}
}

func attemptModelToDomain(m *MessageAttemptModel) *domain.MessageAttempt {
	if m == nil {
		return nil
	}

	return &domain.MessageAttempt{
		ID:               m.ID,
		MessageID:        m.MessageID,
		Robot:            m.Robot,
		ChatID:           m.ChatID,
		AckCode:          m.AckCode,
		GatewayMessageID: m.GatewayMessageID,
		Error:            m.Error,
		CreatedAt:        m.CreatedAt,
	}
}
