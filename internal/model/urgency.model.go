package model

type UrgencyLevel int

const (
	UrgencyOverdue UrgencyLevel = iota + 1
	UrgencyDueSoon
	UrgencyDueThisWeek
	UrgencyStagnant
	UrgencyNone
)

func (l UrgencyLevel) String() string {
	switch l {
	case UrgencyOverdue:
		return "overdue"
	case UrgencyDueSoon:
		return "due_soon"
	case UrgencyDueThisWeek:
		return "due_this_week"
	case UrgencyStagnant:
		return "stagnant"
	case UrgencyNone:
		return "none"
	}
	return "unknown"
}

type UrgencyItem struct {
	Reminder        *Reminder    `json:"reminder"`
	Level           UrgencyLevel `json:"level"`
	LevelName       string       `json:"level_name"`
	DaysUntilDue    *int         `json:"days_until_due,omitempty"`
	DaysSinceChange int          `json:"days_since_change"`
	NoReply         bool         `json:"no_reply"`
}

type UrgencyCounts struct {
	Overdue        int `json:"overdue"`
	DueWithin7     int `json:"due_within_7"`
	DueWithin30    int `json:"due_within_30"`
	ConfirmedToday int `json:"confirmed_today"`
	ActionsWaiting int `json:"actions_waiting"`
	Stagnant7      int `json:"stagnant_7"`
	Stagnant14     int `json:"stagnant_14"`
}

type UrgencyBoard struct {
	Facility string         `json:"facility,omitempty"`
	Actions  []*UrgencyItem `json:"actions"`
	Counts   UrgencyCounts  `json:"counts"`
}
