package repository

import (
	"encoding/json"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
)

type StatusLogEntity struct {
	ID                int64      `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	ProviderMessageID string     `db:"provider_message_id" gorm:"column:provider_message_id;not null;index"`
	Status            string     `db:"status"              gorm:"column:status;not null"`
	Recipient         string     `db:"recipient"           gorm:"column:recipient"`
	ErrorPayload      *string    `db:"error_payload"       gorm:"column:error_payload"`
	ReportedAt        *time.Time `db:"reported_at"         gorm:"column:reported_at"`
	Processed         bool       `db:"processed"           gorm:"column:processed;not null;default:false;index"`
	ProcessedAt       *time.Time `db:"processed_at"        gorm:"column:processed_at"`
	MessageID         *int64     `db:"message_id"          gorm:"column:message_id"`
	CreatedAt         time.Time  `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
}

func (StatusLogEntity) TableName() string {
	return "status_log_entries"
}

func toStatusLogEntity(m *model.StatusLogEntry) *StatusLogEntity {
	e := &StatusLogEntity{
		ID:                m.ID,
		ProviderMessageID: m.ProviderMessageID,
		Status:            string(m.Status),
		Recipient:         m.Recipient,
		ReportedAt:        m.ReportedAt,
		Processed:         m.Processed,
		ProcessedAt:       m.ProcessedAt,
		MessageID:         m.MessageID,
		CreatedAt:         m.CreatedAt,
	}
	if len(m.ErrorPayload) > 0 {
		s := string(m.ErrorPayload)
		e.ErrorPayload = &s
	}
	return e
}

func toStatusLogModel(e *StatusLogEntity) *model.StatusLogEntry {
	m := &model.StatusLogEntry{
		ID:                e.ID,
		ProviderMessageID: e.ProviderMessageID,
		Status:            model.MessageStatus(e.Status),
		Recipient:         e.Recipient,
		ReportedAt:        e.ReportedAt,
		Processed:         e.Processed,
		ProcessedAt:       e.ProcessedAt,
		MessageID:         e.MessageID,
		CreatedAt:         e.CreatedAt,
	}
	if e.ErrorPayload != nil {
		m.ErrorPayload = json.RawMessage(*e.ErrorPayload)
	}
	return m
}

func toStatusLogModels(entities []*StatusLogEntity) []*model.StatusLogEntry {
	out := make([]*model.StatusLogEntry, len(entities))
	for i, e := range entities {
		out[i] = toStatusLogModel(e)
	}
	return out
}
