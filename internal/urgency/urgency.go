// Package urgency ranks reminders for operators. Everything here is a pure
// function of the reminders and the clock passed in.
package urgency

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
)

const (
	dueSoonDays     = 3
	dueThisWeekDays = 7
	dueMonthDays    = 30
	stagnantDays    = 7
	stagnantLongDay = 14
	noReplyAfter    = 3 * 24 * time.Hour
)

// Build evaluates reminders at now. Reminders in a final status only count
// towards ConfirmedToday. An empty facility keeps every reminder.
func Build(reminders []*model.Reminder, facility string, now time.Time) *model.UrgencyBoard {
	board := &model.UrgencyBoard{Facility: facility, Actions: []*model.UrgencyItem{}}
	today := day(now)

	for _, r := range reminders {
		if r == nil {
			continue
		}
		if facility != "" && !strings.EqualFold(strings.TrimSpace(r.FacilityName), strings.TrimSpace(facility)) {
			continue
		}

		sinceChange := daysBetween(day(r.StatusChangedAt), today)
		if r.Status == model.ReminderStatusAppointmentConfirmed && sinceChange == 0 {
			board.Counts.ConfirmedToday++
		}
		if r.Status.IsFinal() {
			continue
		}

		item := Evaluate(r, now)

		if d := item.DaysUntilDue; d != nil {
			switch {
			case *d < 0:
				board.Counts.Overdue++
			case *d <= dueThisWeekDays:
				board.Counts.DueWithin7++
				board.Counts.DueWithin30++
			case *d <= dueMonthDays:
				board.Counts.DueWithin30++
			}
		}
		if waitingOnOperator(r.Status) || item.NoReply {
			board.Counts.ActionsWaiting++
		}
		if item.DaysSinceChange > stagnantDays {
			board.Counts.Stagnant7++
		}
		if item.DaysSinceChange > stagnantLongDay {
			board.Counts.Stagnant14++
		}

		if item.Level < model.UrgencyNone {
			board.Actions = append(board.Actions, item)
		}
	}

	sort.SliceStable(board.Actions, func(i, j int) bool {
		a, b := board.Actions[i], board.Actions[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		switch {
		case a.DaysUntilDue == nil && b.DaysUntilDue == nil:
			return false
		case a.DaysUntilDue == nil:
			return false
		case b.DaysUntilDue == nil:
			return true
		}
		return *a.DaysUntilDue < *b.DaysUntilDue
	})
	return board
}

// Evaluate derives the urgency of a single reminder.
func Evaluate(r *model.Reminder, now time.Time) *model.UrgencyItem {
	today := day(now)
	item := &model.UrgencyItem{
		Reminder:        r,
		DaysSinceChange: daysBetween(day(r.StatusChangedAt), today),
		NoReply:         NoReply(r, now),
	}
	if r.DueDate != nil {
		d := DaysUntil(*r.DueDate, now)
		item.DaysUntilDue = &d
	}
	item.Level = Level(item.DaysUntilDue, item.DaysSinceChange)
	item.LevelName = item.Level.String()
	return item
}

// Level applies the urgency table; the first matching row wins.
func Level(daysUntilDue *int, daysSinceChange int) model.UrgencyLevel {
	if daysUntilDue != nil {
		switch d := *daysUntilDue; {
		case d < 0:
			return model.UrgencyOverdue
		case d <= dueSoonDays:
			return model.UrgencyDueSoon
		case d <= dueThisWeekDays:
			return model.UrgencyDueThisWeek
		}
	}
	if daysSinceChange > stagnantDays {
		return model.UrgencyStagnant
	}
	return model.UrgencyNone
}

// NoReply reports a sent reminder that got no answer within three days.
func NoReply(r *model.Reminder, now time.Time) bool {
	if !r.Status.IsSent() || r.ResponseReceivedAt != nil || r.LastSendAt == nil {
		return false
	}
	return now.Sub(*r.LastSendAt) > noReplyAfter
}

func waitingOnOperator(s model.ReminderStatus) bool {
	switch s {
	case model.ReminderStatusReplied,
		model.ReminderStatusCallbackRequested,
		model.ReminderStatusSentNoWhatsApp,
		model.ReminderStatusFailed:
		return true
	}
	return false
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil is the time left until due in days, rounded up. Anything due
// later today counts as one day out; anything past due by less than a day
// counts as zero.
func DaysUntil(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
