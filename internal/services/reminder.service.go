package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/logger"
)

var ErrNothingToDispatch = errors.New("no requests to dispatch")

type ReminderManager interface {
	GetByID(ctx context.Context, id int64) (*model.Reminder, error)
	List(ctx context.Context, f model.ReminderFilter) ([]*model.Reminder, int64, error)
	UpdateStatus(ctx context.Context, id int64, status model.ReminderStatus, at time.Time) error
	AddNote(ctx context.Context, reminderID int64, body string) (*model.ReminderNote, error)
	ListNotes(ctx context.Context, reminderID int64) ([]*model.ReminderNote, error)
}

// Publisher puts a job on the dispatch queue.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

type ReminderDetail struct {
	*model.Reminder
	Notes []*model.ReminderNote `json:"notes"`
}

// DispatchRejection is a request refused before it reached the queue.
type DispatchRejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type DispatchResult struct {
	Jobs     []*model.DispatchJob `json:"jobs"`
	Rejected []DispatchRejection  `json:"rejected,omitempty"`
}

type ReminderService struct {
	reminders ReminderManager
	tx        Transactor
	queue     Publisher
	now       func() time.Time
}

func NewReminderService(reminders ReminderManager, tx Transactor, queue Publisher) *ReminderService {
	return &ReminderService{
		reminders: reminders,
		tx:        tx,
		queue:     queue,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReminderService) List(ctx context.Context, f model.ReminderFilter) ([]*model.Reminder, int64, error) {
	return s.reminders.List(ctx, f)
}

func (s *ReminderService) Get(ctx context.Context, id int64) (*ReminderDetail, error) {
	r, err := s.reminders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.reminders.ListNotes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReminderDetail{Reminder: r, Notes: notes}, nil
}

// UpdateStatus is the manual override used by operators. The change and its
// audit note are written together.
func (s *ReminderService) UpdateStatus(ctx context.Context, id int64, u model.ReminderStatusUpdate) (*model.Reminder, error) {
	if !u.Status.Valid() {
		return nil, model.ErrInvalidReminderStatus
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.reminders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reminders.UpdateStatus(ctx, id, u.Status, s.now()); err != nil {
			return err
		}
		note := fmt.Sprintf("Status changed: %s -> %s", current.Status, u.Status)
		if text := strings.TrimSpace(u.Note); text != "" {
			note += ": " + text
		}
		_, err = s.reminders.AddNote(ctx, id, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.reminders.GetByID(ctx, id)
}

// Enqueue validates the requests and hands the valid ones to the dispatch
// queue, where a single consumer sends them with the usual pacing.
func (s *ReminderService) Enqueue(ctx context.Context, reqs []model.SendRequest) (*DispatchResult, error) {
	if len(reqs) == 0 {
		return nil, ErrNothingToDispatch
	}

	out := &DispatchResult{Jobs: make([]*model.DispatchJob, 0, len(reqs))}
	for i, req := range reqs {
		phone, err := validateSendRequest(req)
		if err != nil {
			out.Rejected = append(out.Rejected, DispatchRejection{Index: i, Error: err.Error()})
			continue
		}

		job := &model.DispatchJob{
			ID:         uuid.NewString(),
			ReminderID: req.ReminderID,
			Phone:      phone,
			EnqueuedAt: s.now(),
		}
		if _, err := s.queue.PublishJSON(ctx, job, map[string]string{"job_id": job.ID}); err != nil {
			return out, fmt.Errorf("publish job for reminder %d: %w", req.ReminderID, err)
		}
		out.Jobs = append(out.Jobs, job)
	}

	logger.Info("Reminders queued", "queued", len(out.Jobs), "rejected", len(out.Rejected))
	return out, nil
}
