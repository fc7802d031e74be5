package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProviderError is one element of the errors array a gateway attaches to a
// failed status or returns from a rejected send.
type ProviderError struct {
	Code      int    `json:"code"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorData struct {
		Details string `json:"details,omitempty"`
	} `json:"error_data,omitempty"`
}

func (e ProviderError) String() string {
	var b strings.Builder
	if e.Code != 0 {
		fmt.Fprintf(&b, "%d", e.Code)
	}
	if e.Title != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Title)
	}
	if e.Message != "" && e.Message != e.Title {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	if e.ErrorData.Details != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "(%s)", e.ErrorData.Details)
	}
	return b.String()
}

// FormatProviderErrors renders a stored error payload for humans. Payloads that
// are not an error list are returned as raw text.
func FormatProviderErrors(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var errs []ProviderError
	if err := json.Unmarshal(raw, &errs); err != nil {
		var single ProviderError
		if err := json.Unmarshal(raw, &single); err != nil {
			return string(raw)
		}
		errs = []ProviderError{single}
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if s := e.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

type ReconcileMode string

const (
	ReconcileModeImmediate ReconcileMode = "immediate"
	ReconcileModeSweep     ReconcileMode = "sweep"
)

// ReconcileOutcome describes what one reconciliation pass did for a single
// provider message id.
type ReconcileOutcome struct {
	ProviderMessageID string        `json:"provider_message_id"`
	MessageID         *int64        `json:"message_id,omitempty"`
	Entries           int           `json:"entries"`
	Claimed           int           `json:"claimed"`
	Winner            MessageStatus `json:"winner,omitempty"`
	Applied           bool          `json:"applied"`
	MessageMissing    bool          `json:"message_missing,omitempty"`
}

type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Cutoff    time.Time     `json:"cutoff"`
	Groups    int           `json:"groups"`
	Claimed   int           `json:"claimed"`
	Applied   int           `json:"applied"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}
