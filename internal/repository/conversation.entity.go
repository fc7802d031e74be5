package repository

import (
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
)

type ConversationEntity struct {
	ID            int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Phone         string     `db:"phone"           gorm:"column:phone;not null;uniqueIndex"`
	ClientID      *int64     `db:"client_id"       gorm:"column:client_id;index"`
	Status        string     `db:"status"          gorm:"column:status;not null;default:open"`
	UnreadCount   int        `db:"unread_count"    gorm:"column:unread_count;not null;default:0"`
	LastMessageAt *time.Time `db:"last_message_at" gorm:"column:last_message_at"`
	CreatedAt     time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (ConversationEntity) TableName() string {
	return "conversations"
}

func toConversationModel(e *ConversationEntity) *model.Conversation {
	if e == nil {
		return nil
	}
	return &model.Conversation{
		ID:            e.ID,
		Phone:         e.Phone,
		ClientID:      e.ClientID,
		Status:        model.ConversationStatus(e.Status),
		UnreadCount:   e.UnreadCount,
		LastMessageAt: e.LastMessageAt,
		CreatedAt:     e.CreatedAt,
	}
}

type MessageEntity struct {
	ID                int64          `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	ConversationID    int64          `db:"conversation_id"     gorm:"column:conversation_id;not null;index"`
	ReminderID        *int64         `db:"reminder_id"         gorm:"column:reminder_id;index"`
	ProviderMessageID *string        `db:"provider_message_id" gorm:"column:provider_message_id;uniqueIndex"`
	Direction         string         `db:"direction"           gorm:"column:direction;not null"`
	Type              string         `db:"type"                gorm:"column:type;not null"`
	Status            string         `db:"status"              gorm:"column:status;not null"`
	Body              string         `db:"body"                gorm:"column:body"`
	Metadata          map[string]any `db:"metadata"            gorm:"column:metadata;serializer:json"`
	Error             *string        `db:"error"               gorm:"column:error"`
	CreatedAt         time.Time      `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ReminderID:        m.ReminderID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         string(m.Direction),
		Type:              m.Type,
		Status:            string(m.Status),
		Body:              m.Body,
		Metadata:          m.Metadata,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                e.ID,
		ConversationID:    e.ConversationID,
		ReminderID:        e.ReminderID,
		ProviderMessageID: e.ProviderMessageID,
		Direction:         model.MessageDirection(e.Direction),
		Type:              e.Type,
		Status:            model.MessageStatus(e.Status),
		Body:              e.Body,
		Metadata:          e.Metadata,
		Error:             e.Error,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
