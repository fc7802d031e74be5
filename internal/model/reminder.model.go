package model

import (
	"errors"
	"time"
)

type ReminderStatus string

const (
	ReminderStatusPending              ReminderStatus = "pending"
	ReminderStatusScheduled            ReminderStatus = "scheduled"
	ReminderStatusReminderSent         ReminderStatus = "reminder_sent"
	ReminderStatusSecondReminderSent   ReminderStatus = "second_reminder_sent"
	ReminderStatusSentNoWhatsApp       ReminderStatus = "sent_no_whatsapp"
	ReminderStatusReplied              ReminderStatus = "replied"
	ReminderStatusCallbackRequested    ReminderStatus = "callback_requested"
	ReminderStatusAppointmentConfirmed ReminderStatus = "appointment_confirmed"
	ReminderStatusFailed               ReminderStatus = "failed"
	ReminderStatusCancelled            ReminderStatus = "cancelled"
	ReminderStatusCompleted            ReminderStatus = "completed"
	ReminderStatusClientLost           ReminderStatus = "client_lost"
)

var ErrInvalidReminderStatus = errors.New("invalid reminder status")

var reminderStatuses = map[ReminderStatus]struct{}{
	ReminderStatusPending:              {},
	ReminderStatusScheduled:            {},
	ReminderStatusReminderSent:         {},
	ReminderStatusSecondReminderSent:   {},
	ReminderStatusSentNoWhatsApp:       {},
	ReminderStatusReplied:              {},
	ReminderStatusCallbackRequested:    {},
	ReminderStatusAppointmentConfirmed: {},
	ReminderStatusFailed:               {},
	ReminderStatusCancelled:            {},
	ReminderStatusCompleted:            {},
	ReminderStatusClientLost:           {},
}

// FinalReminderStatuses leave the active pipeline.
var FinalReminderStatuses = []ReminderStatus{
	ReminderStatusAppointmentConfirmed,
	ReminderStatusCompleted,
	ReminderStatusCancelled,
	ReminderStatusClientLost,
}

// SentReminderStatuses are the "reminder went out" variants.
var SentReminderStatuses = []ReminderStatus{
	ReminderStatusReminderSent,
	ReminderStatusSecondReminderSent,
	ReminderStatusSentNoWhatsApp,
}

func (s ReminderStatus) Valid() bool {
	_, ok := reminderStatuses[s]
	return ok
}

func (s ReminderStatus) IsFinal() bool {
	for _, f := range FinalReminderStatuses {
		if s == f {
			return true
		}
	}
	return false
}

func (s ReminderStatus) IsSent() bool {
	for _, f := range SentReminderStatuses {
		if s == f {
			return true
		}
	}
	return false
}

func ParseReminderStatus(s string) (ReminderStatus, error) {
	st := ReminderStatus(s)
	if !st.Valid() {
		return "", ErrInvalidReminderStatus
	}
	return st, nil
}

type Reminder struct {
	ID                 int64          `json:"id"`
	ClientID           int64          `json:"client_id"`
	Client             *Client        `json:"client,omitempty"`
	DueDate            *time.Time     `json:"due_date,omitempty"`
	Status             ReminderStatus `json:"status"`
	StatusChangedAt    time.Time      `json:"status_changed_at"`
	LastSendMarker     *string        `json:"last_send_marker,omitempty"`
	LastSendAt         *time.Time     `json:"last_send_at,omitempty"`
	LastError          *string        `json:"last_error,omitempty"`
	ResponseReceivedAt *time.Time     `json:"response_received_at,omitempty"`
	FacilityName       string         `json:"facility_name"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ReminderNote is an append-only audit line attached to a reminder.
type ReminderNote struct {
	ID         int64     `json:"id"`
	ReminderID int64     `json:"reminder_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type ReminderFilter struct {
	Statuses []ReminderStatus
	Facility *string
	ClientID *int64
	Limit    int
	Offset   int
}

type ReminderStatusUpdate struct {
	Status ReminderStatus
	Note   string
}

// ReplyTransitionFrom lists the statuses a reminder may be in for an inbound
// reply to move it to next. Stronger signals override weaker ones, never the
// other way round.
func ReplyTransitionFrom(next ReminderStatus) []ReminderStatus {
	switch next {
	case ReminderStatusReplied:
		return SentReminderStatuses
	case ReminderStatusCallbackRequested:
		return append(append([]ReminderStatus{}, SentReminderStatuses...), ReminderStatusReplied)
	case ReminderStatusAppointmentConfirmed:
		return append(append([]ReminderStatus{}, SentReminderStatuses...), ReminderStatusReplied, ReminderStatusCallbackRequested)
	}
	return nil
}
