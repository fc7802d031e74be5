package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/queue"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func jobMessage(t *testing.T, job model.DispatchJob) *queue.Message {
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &queue.Message{ID: "1700000000000-0", Data: data, Timestamp: time.Now()}
}

func newTestDispatch(t *testing.T, sender *stubSender, pacer *countingPacer) (*DispatchProcessor, *IdempotencyService) {
	_, adapter := setupTestRedis(t)
	idem := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	return NewDispatchProcessor(sender, pacer, idem), idem
}

func TestDispatchProcessor_Sends(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	pacer := &countingPacer{}
	p, idem := newTestDispatch(t, sender, pacer)

	msg := jobMessage(t, model.DispatchJob{ID: "job-1", ReminderID: 42, Phone: "5511987654321"})
	require.NoError(t, p.Process(ctx, msg))

	require.Equal(t, 1, sender.Calls())
	assert.Equal(t, model.SendRequest{ReminderID: 42, Phone: "5511987654321"}, sender.calls[0])
	assert.Equal(t, 1, pacer.waits)

	done, err := idem.IsDone(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, done)

	// redelivery is acknowledged without a second gateway call
	require.NoError(t, p.Process(ctx, msg))
	assert.Equal(t, 1, sender.Calls())
}

func TestDispatchProcessor_OutcomeHandling(t *testing.T) {
	tests := []struct {
		name      string
		result    *model.SendResult
		wantRetry bool
	}{
		{"gateway failure is retried", &model.SendResult{Kind: model.SendErrorGateway, Error: "(#131026) Message undeliverable"}, true},
		{"cancelled is retried", &model.SendResult{Kind: model.SendErrorCancelled, Error: "context canceled"}, true},
		{"unknown reminder is dropped", &model.SendResult{Kind: model.SendErrorNotFound, Error: "reminder not found"}, false},
		{"bad phone is dropped", &model.SendResult{Kind: model.SendErrorValidation, Error: "invalid phone"}, false},
		{"persistence failure after send is not resent", &model.SendResult{Success: true, Kind: model.SendErrorPersistence, ProviderMessageID: "wamid.P"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sender := &stubSender{results: []*model.SendResult{tt.result}}
			p, idem := newTestDispatch(t, sender, &countingPacer{})

			err := p.Process(ctx, jobMessage(t, model.DispatchJob{ID: "job", ReminderID: 1, Phone: "5511987654321"}))
			done, doneErr := idem.IsDone(ctx, "job")
			require.NoError(t, doneErr)

			if tt.wantRetry {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.result.Error)
				assert.False(t, done)
				attempts, _ := idem.Attempts(ctx, "job")
				assert.Equal(t, 1, attempts)
			} else {
				assert.NoError(t, err)
				assert.True(t, done)
			}
		})
	}
}

func TestDispatchProcessor_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	failing := &model.SendResult{Kind: model.SendErrorGateway, Error: "timeout"}
	sender := &stubSender{results: []*model.SendResult{failing, failing, failing, failing}}
	p, _ := newTestDispatch(t, sender, &countingPacer{})
	msg := jobMessage(t, model.DispatchJob{ID: "job-r", ReminderID: 1, Phone: "5511987654321"})

	for i := 0; i < DefaultIdempotencyConfig().MaxRetries; i++ {
		assert.Error(t, p.Process(ctx, msg))
	}
	assert.NoError(t, p.Process(ctx, msg))
	assert.Equal(t, 3, sender.Calls())
}

func TestDispatchProcessor_PacerCancelled(t *testing.T) {
	sender := &stubSender{}
	p, idem := newTestDispatch(t, sender, &countingPacer{err: context.Canceled})

	err := p.Process(context.Background(), jobMessage(t, model.DispatchJob{ID: "job-c", ReminderID: 1, Phone: "5511987654321"}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sender.Calls())

	// lock released, so the redelivery can run
	_, err = idem.Acquire(context.Background(), "job-c")
	assert.NoError(t, err)
}

func TestDispatchProcessor_MalformedJob(t *testing.T) {
	sender := &stubSender{}
	p, _ := newTestDispatch(t, sender, &countingPacer{})

	err := p.Process(context.Background(), &queue.Message{ID: "1-0", Data: []byte("{not json")})
	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
	assert.Zero(t, sender.Calls())
}

func TestDispatchProcessor_FallsBackToStreamID(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	p, idem := newTestDispatch(t, sender, &countingPacer{})

	msg := jobMessage(t, model.DispatchJob{ReminderID: 9, Phone: "5511987654321"})
	require.NoError(t, p.Process(ctx, msg))

	done, err := idem.IsDone(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDispatchProcessor_LogsUnrecordedFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	t.Cleanup(logger.Install(zap.New(core).Sugar()))

	mr, adapter := setupTestRedis(t)
	idem := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	sender := &stubSender{
		results: []*model.SendResult{{Kind: model.SendErrorGateway, Error: "gateway timeout"}},
		during:  mr.Close,
	}
	p := NewDispatchProcessor(sender, &countingPacer{}, idem)

	err := p.Process(context.Background(), jobMessage(t, model.DispatchJob{ID: "job-down", ReminderID: 9, Phone: "5511987654321"}))
	require.Error(t, err)

	entries := logs.FilterMessage("Failed to record dispatch failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "job-down", entries[0].ContextMap()["job_id"])
}
