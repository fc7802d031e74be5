package processor

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorService_ConsumesAndSweeps(t *testing.T) {
	_, adapter := setupTestRedis(t)

	sender := &stubSender{}
	dispatch := NewDispatchProcessor(sender, &countingPacer{}, NewIdempotencyService(adapter, DefaultIdempotencyConfig()))
	sweeper := &stubSweeper{}
	svc := NewProcessorService(adapter, dispatch, NewSweepLoop(sweeper, NewLease(adapter, "sweep:lease", time.Minute), time.Hour))

	qcfg := queue.QueueConfig{
		Name:              "reminders:dispatch",
		ConsumerGroup:     "dispatchers",
		ConsumerName:      "dispatcher-test",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		BatchSize:         10,
		EnableDLQ:         true,
	}
	require.NoError(t, svc.Start(qcfg))

	producer, err := queue.NewQueue(adapter, qcfg)
	require.NoError(t, err)
	for i, id := range []string{"job-a", "job-b"} {
		_, err := producer.PublishJSON(context.Background(), model.DispatchJob{ID: id, ReminderID: int64(i + 1), Phone: "5511987654321"}, nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return sender.Calls() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return sweeper.Runs() == 1 }, time.Second, 10*time.Millisecond)

	svc.Stop()
	snap := svc.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Handled)
	assert.Zero(t, snap.Retried)
}

func TestServiceMetrics(t *testing.T) {
	m := NewServiceMetrics()
	m.RecordHandled(10 * time.Millisecond)
	m.RecordHandled(30 * time.Millisecond)
	m.RecordRetry()

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Handled)
	assert.Equal(t, int64(1), s.Retried)
	assert.Equal(t, 20*time.Millisecond, s.AvgDuration)
	assert.Greater(t, s.RatePerSecond, 0.0)
}
