package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

func TestReminderService_UpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, r := env.seed(t, model.ReminderStatusCallbackRequested, "Lisboa Centro")
	svc := NewReminderService(env.reminders, env.db, nil)

	updated, err := svc.UpdateStatus(ctx, r.ID, model.ReminderStatusUpdate{Status: model.ReminderStatusAppointmentConfirmed, Note: "booked for 12/05"})
	require.NoError(t, err)
	assert.Equal(t, model.ReminderStatusAppointmentConfirmed, updated.Status)

	detail, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, detail.Notes, 1)
	assert.Equal(t, "Status changed: callback_requested -> appointment_confirmed: booked for 12/05", detail.Notes[0].Body)

	_, err = svc.UpdateStatus(ctx, r.ID, model.ReminderStatusUpdate{Status: "maybe"})
	assert.ErrorIs(t, err, model.ErrInvalidReminderStatus)

	_, err = svc.UpdateStatus(ctx, 999, model.ReminderStatusUpdate{Status: model.ReminderStatusCompleted})
	assert.ErrorIs(t, err, repository.ErrReminderNotFound)
}

func TestReminderService_List(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, model.ReminderStatusPending, "Lisboa Centro")
	env.seed(t, model.ReminderStatusReplied, "Porto Norte")
	svc := NewReminderService(env.reminders, env.db, nil)

	list, total, err := svc.List(context.Background(), model.ReminderFilter{Statuses: []model.ReminderStatus{model.ReminderStatusReplied}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, "Porto Norte", list[0].FacilityName)
}

func TestReminderService_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes valid requests", func(t *testing.T) {
		pub := new(MockPublisher)
		svc := NewReminderService(nil, nil, pub)
		svc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

		pub.On("PublishJSON", ctx, mock.MatchedBy(func(job *model.DispatchJob) bool {
			return job.ReminderID == 1 && job.Phone == "5511987654321" && job.ID != ""
		}), mock.Anything).Return("1-0", nil).Once()

		out, err := svc.Enqueue(ctx, []model.SendRequest{
			{ReminderID: 1, Phone: "+55 (11) 98765-4321"},
			{ReminderID: 2, Phone: ""},
		})
		require.NoError(t, err)
		require.Len(t, out.Jobs, 1)
		assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), out.Jobs[0].EnqueuedAt)
		require.Len(t, out.Rejected, 1)
		assert.Equal(t, 1, out.Rejected[0].Index)
		pub.AssertExpectations(t)
	})

	t.Run("empty input", func(t *testing.T) {
		svc := NewReminderService(nil, nil, new(MockPublisher))
		_, err := svc.Enqueue(ctx, nil)
		assert.ErrorIs(t, err, ErrNothingToDispatch)
	})

	t.Run("publish failure", func(t *testing.T) {
		pub := new(MockPublisher)
		svc := NewReminderService(nil, nil, pub)
		pub.On("PublishJSON", ctx, mock.Anything, mock.Anything).Return("", errors.New("redis down"))

		_, err := svc.Enqueue(ctx, []model.SendRequest{{ReminderID: 1, Phone: "5511987654321"}})
		assert.ErrorContains(t, err, "redis down")
	})
}

func TestConversationService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewConversationService(env.conversations, env.messages)

	msg := env.seedOutbound(t, "wamid.CV1")
	require.NoError(t, env.conversations.TouchInbound(ctx, msg.ConversationID, time.Now().UTC()))

	list, total, err := svc.List(ctx, model.ConversationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)

	msgs, total, err := svc.Messages(ctx, msg.ConversationID, model.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, msg.ID, msgs[0].ID)

	_, _, err = svc.Messages(ctx, 999, model.MessageFilter{})
	assert.ErrorIs(t, err, repository.ErrConversationNotFound)

	require.NoError(t, svc.MarkRead(ctx, msg.ConversationID))
	list, _, err = svc.List(ctx, model.ConversationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

type stubUrgencySource struct {
	facility string
	since    time.Time
	out      []*model.Reminder
}

func (s *stubUrgencySource) ListForUrgency(ctx context.Context, facility string, confirmedSince time.Time) ([]*model.Reminder, error) {
	s.facility, s.since = facility, confirmedSince
	return s.out, nil
}

func TestUrgencyService_Board(t *testing.T) {
	now := time.Date(2025, 5, 10, 15, 30, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)
	src := &stubUrgencySource{out: []*model.Reminder{
		{ID: 1, Status: model.ReminderStatusPending, DueDate: &due, StatusChangedAt: now},
	}}
	svc := NewUrgencyService(src)
	svc.now = func() time.Time { return now }

	board, err := svc.Board(context.Background(), "Lisboa Centro")
	require.NoError(t, err)
	assert.Equal(t, "Lisboa Centro", src.facility)
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), src.since)
	require.Len(t, board.Actions, 1)
	assert.Equal(t, model.UrgencyOverdue, board.Actions[0].Level)
	assert.Equal(t, 1, board.Counts.Overdue)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthService_Check(t *testing.T) {
	ok := NewHealthService(stubPinger{}, stubPinger{}, nil).Check(context.Background())
	assert.True(t, ok.Healthy)
	assert.Equal(t, "ok", ok.Checks["postgres"])

	bad := NewHealthService(stubPinger{}, stubPinger{err: errors.New("connection refused")}, nil).Check(context.Background())
	assert.False(t, bad.Healthy)
	assert.Equal(t, "connection refused", bad.Checks["redis"])
}
