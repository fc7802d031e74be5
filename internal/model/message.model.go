package model

import (
	"encoding/json"
	"time"
)

// MessageStatus is the delivery state of a message. Outbound states are
// totally ordered by Priority.
type MessageStatus string

const (
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"

	// MessageStatusReceived marks inbound messages and is outside the ordering.
	MessageStatusReceived MessageStatus = "received"
)

var messageStatusPriority = map[MessageStatus]int{
	MessageStatusFailed:    0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// Priority returns the confidence rank of a delivery status, -1 when the
// status is not a delivery status.
func (s MessageStatus) Priority() int {
	if p, ok := messageStatusPriority[s]; ok {
		return p
	}
	return -1
}

func (s MessageStatus) IsDeliveryStatus() bool {
	return s.Priority() >= 0
}

// Below lists the delivery statuses a message may move up from when s is applied.
func (s MessageStatus) Below() []MessageStatus {
	p := s.Priority()
	var out []MessageStatus
	for st, sp := range messageStatusPriority {
		if sp < p {
			out = append(out, st)
		}
	}
	return out
}

type MessageDirection string

const (
	MessageDirectionOutbound MessageDirection = "outbound"
	MessageDirectionInbound  MessageDirection = "inbound"
)

type Message struct {
	ID                int64            `json:"id"`
	ConversationID    int64            `json:"conversation_id"`
	ReminderID        *int64           `json:"reminder_id,omitempty"`
	ProviderMessageID *string          `json:"provider_message_id,omitempty"`
	Direction         MessageDirection `json:"direction"`
	Type              string           `json:"type"`
	Status            MessageStatus    `json:"status"`
	Body              string           `json:"body"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	Error             *string          `json:"error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type MessageFilter struct {
	ConversationID *int64
	Direction      *MessageDirection
	Limit          int
	Offset         int
	Desc           bool
}

type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

type Conversation struct {
	ID            int64              `json:"id"`
	Phone         string             `json:"phone"`
	ClientID      *int64             `json:"client_id,omitempty"`
	Status        ConversationStatus `json:"status"`
	UnreadCount   int                `json:"unread_count"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

type ConversationFilter struct {
	Status     *ConversationStatus
	UnreadOnly bool
	Limit      int
	Offset     int
}

// StatusLogEntry is one delivery callback exactly as the provider reported it.
// Rows are only ever appended; reconciliation flips Processed once and fills
// ProcessedAt and MessageID at the same time.
type StatusLogEntry struct {
	ID                int64           `json:"id"`
	ProviderMessageID string          `json:"provider_message_id"`
	Status            MessageStatus   `json:"status"`
	Recipient         string          `json:"recipient,omitempty"`
	ErrorPayload      json.RawMessage `json:"error_payload,omitempty"`
	ReportedAt        *time.Time      `json:"reported_at,omitempty"`
	Processed         bool            `json:"processed"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	MessageID         *int64          `json:"message_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// BestStatusEntry picks the entry with the highest delivery priority. Entries
// of equal priority keep their input order, the first one wins.
func BestStatusEntry(entries []*StatusLogEntry) *StatusLogEntry {
	var best *StatusLogEntry
	for _, e := range entries {
		if !e.Status.IsDeliveryStatus() {
			continue
		}
		if best == nil || e.Status.Priority() > best.Status.Priority() {
			best = e
		}
	}
	return best
}
