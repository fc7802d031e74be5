package services

import (
	"context"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/urgency"
)

type UrgencySource interface {
	ListForUrgency(ctx context.Context, facility string, confirmedSince time.Time) ([]*model.Reminder, error)
}

type UrgencyService struct {
	reminders UrgencySource
	now       func() time.Time
}

func NewUrgencyService(reminders UrgencySource) *UrgencyService {
	return &UrgencyService{reminders: reminders, now: func() time.Time { return time.Now().UTC() }}
}

// Board ranks the open reminders of one facility, or of all facilities when
// facility is empty.
func (s *UrgencyService) Board(ctx context.Context, facility string) (*model.UrgencyBoard, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	reminders, err := s.reminders.ListForUrgency(ctx, facility, today)
	if err != nil {
		return nil, err
	}
	return urgency.Build(reminders, facility, now), nil
}
