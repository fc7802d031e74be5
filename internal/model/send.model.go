package model

import "time"

type SendRequest struct {
	ReminderID int64  `json:"reminder_id"`
	Phone      string `json:"phone"`
}

// SendErrorKind classifies a failed or partially failed send.
type SendErrorKind string

const (
	SendErrorNone        SendErrorKind = ""
	SendErrorValidation  SendErrorKind = "validation"
	SendErrorNotFound    SendErrorKind = "not_found"
	SendErrorGateway     SendErrorKind = "gateway"
	SendErrorPersistence SendErrorKind = "persistence"
	SendErrorCancelled   SendErrorKind = "cancelled"
)

// SendResult is returned for every send attempt. Success reports whether the
// gateway accepted the message; StatusRecorded whether the local state caught up.
type SendResult struct {
	ReminderID        int64          `json:"reminder_id"`
	Phone             string         `json:"phone"`
	Success           bool           `json:"success"`
	StatusRecorded    bool           `json:"status_recorded"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	ReminderStatus    ReminderStatus `json:"reminder_status,omitempty"`
	Kind              SendErrorKind  `json:"kind,omitempty"`
	Error             string         `json:"error,omitempty"`
}

type BatchResult struct {
	Sent    int           `json:"sent"`
	Failed  int           `json:"failed"`
	Results []*SendResult `json:"results"`
}

// DispatchJob is the queued form of a send request.
type DispatchJob struct {
	ID         string    `json:"id"`
	ReminderID int64     `json:"reminder_id"`
	Phone      string    `json:"phone"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TemplateVariables are the named parameters of a reminder template.
type TemplateVariables struct {
	ClientName    string
	VehicleMake   string
	VehicleModel  string
	LastVisitDate string
	NextDueDate   string
	FacilityName  string
	FacilityPhone string
}

// Params returns the variables in the fixed template order.
func (v TemplateVariables) Params() [][2]string {
	return [][2]string{
		{"client_name", v.ClientName},
		{"vehicle_make", v.VehicleMake},
		{"vehicle_model", v.VehicleModel},
		{"last_visit_date", v.LastVisitDate},
		{"next_due_date", v.NextDueDate},
		{"facility_name", v.FacilityName},
		{"facility_phone", v.FacilityPhone},
	}
}
