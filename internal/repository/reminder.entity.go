package repository

import (
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
)

type ReminderEntity struct {
	ID                 int64         `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	ClientID           int64         `db:"client_id"            gorm:"column:client_id;not null;index"`
	Client             *ClientEntity `gorm:"foreignKey:ClientID;references:ID"`
	DueDate            *time.Time    `db:"due_date"             gorm:"column:due_date"`
	Status             string        `db:"status"               gorm:"column:status;not null;index"`
	StatusChangedAt    time.Time     `db:"status_changed_at"    gorm:"column:status_changed_at;not null"`
	LastSendMarker     *string       `db:"last_send_marker"     gorm:"column:last_send_marker"`
	LastSendAt         *time.Time    `db:"last_send_at"         gorm:"column:last_send_at"`
	LastError          *string       `db:"last_error"           gorm:"column:last_error"`
	ResponseReceivedAt *time.Time    `db:"response_received_at" gorm:"column:response_received_at"`
	FacilityName       string        `db:"facility_name"        gorm:"column:facility_name;index"`
	CreatedAt          time.Time     `db:"created_at"           gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time     `db:"updated_at"           gorm:"column:updated_at;autoUpdateTime"`
}

func (ReminderEntity) TableName() string {
	return "reminders"
}

type ReminderNoteEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	ReminderID int64     `db:"reminder_id" gorm:"column:reminder_id;not null;index"`
	Body       string    `db:"body"        gorm:"column:body;not null"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (ReminderNoteEntity) TableName() string {
	return "reminder_notes"
}

func toReminderEntity(m *model.Reminder) *ReminderEntity {
	if m == nil {
		return nil
	}
	return &ReminderEntity{
		ID:                 m.ID,
		ClientID:           m.ClientID,
		DueDate:            m.DueDate,
		Status:             string(m.Status),
		StatusChangedAt:    m.StatusChangedAt,
		LastSendMarker:     m.LastSendMarker,
		LastSendAt:         m.LastSendAt,
		LastError:          m.LastError,
		ResponseReceivedAt: m.ResponseReceivedAt,
		FacilityName:       m.FacilityName,
		CreatedAt:          m.CreatedAt,
	}
}

func toReminderModel(e *ReminderEntity) *model.Reminder {
	if e == nil {
		return nil
	}
	return &model.Reminder{
		ID:                 e.ID,
		ClientID:           e.ClientID,
		Client:             toClientModel(e.Client),
		DueDate:            e.DueDate,
		Status:             model.ReminderStatus(e.Status),
		StatusChangedAt:    e.StatusChangedAt,
		LastSendMarker:     e.LastSendMarker,
		LastSendAt:         e.LastSendAt,
		LastError:          e.LastError,
		ResponseReceivedAt: e.ResponseReceivedAt,
		FacilityName:       e.FacilityName,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toReminderModels(entities []*ReminderEntity) []*model.Reminder {
	if entities == nil {
		return nil
	}
	models := make([]*model.Reminder, len(entities))
	for i, e := range entities {
		models[i] = toReminderModel(e)
	}
	return models
}

func toReminderNoteModel(e *ReminderNoteEntity) *model.ReminderNote {
	return &model.ReminderNote{
		ID:         e.ID,
		ReminderID: e.ReminderID,
		Body:       e.Body,
		CreatedAt:  e.CreatedAt,
	}
}
