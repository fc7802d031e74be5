package processor

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSweepLoop_RunOnceHonoursLease(t *testing.T) {
	ctx := context.Background()
	_, adapter := setupTestRedis(t)

	first := &stubSweeper{}
	second := &stubSweeper{}
	a := NewSweepLoop(first, NewLease(adapter, "sweep:lease", time.Minute), time.Hour)
	b := NewSweepLoop(second, NewLease(adapter, "sweep:lease", time.Minute), time.Hour)

	report, ran := a.RunOnce(ctx)
	require.True(t, ran)
	assert.Equal(t, 1, report.Groups)

	_, ran = b.RunOnce(ctx)
	assert.False(t, ran)

	_, ran = a.RunOnce(ctx)
	assert.True(t, ran)

	assert.Equal(t, 2, first.Runs())
	assert.Zero(t, second.Runs())
}

func TestSweepLoop_StartStop(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	sweeper := &stubSweeper{}
	loop := NewSweepLoop(sweeper, NewLease(adapter, "sweep:lease", time.Minute), 20*time.Millisecond)

	require.NoError(t, loop.Start(context.Background()))
	assert.ErrorIs(t, loop.Start(context.Background()), ErrSweeperRunning)
	assert.True(t, loop.IsRunning())

	assert.Eventually(t, func() bool { return sweeper.Runs() >= 2 }, 2*time.Second, 10*time.Millisecond)

	loop.Stop()
	assert.False(t, loop.IsRunning())
	assert.False(t, mr.Exists("sweep:lease"), "stop releases the lease")

	runs := sweeper.Runs()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, runs, sweeper.Runs())

	loop.Stop()
}

type panickingSweeper struct{ calls int }

func (p *panickingSweeper) Sweep(context.Context) *model.SweepReport {
	p.calls++
	panic("boom")
}

func TestSweepLoop_SurvivesPanic(t *testing.T) {
	_, adapter := setupTestRedis(t)
	s := &panickingSweeper{}
	loop := NewSweepLoop(s, NewLease(adapter, "sweep:lease", time.Minute), time.Hour)

	assert.NotPanics(t, func() { loop.safeTick(context.Background()) })
	assert.Equal(t, 1, s.calls)
}

func TestSweepLoop_TickLeavesReportLoggingToSweeper(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	t.Cleanup(logger.Install(zap.New(core).Sugar()))

	_, adapter := setupTestRedis(t)
	sweeper := &stubSweeper{}
	loop := NewSweepLoop(sweeper, NewLease(adapter, "sweep:lease", time.Minute), time.Hour)

	loop.safeTick(context.Background())

	assert.Equal(t, 1, sweeper.Runs())
	assert.Zero(t, logs.FilterMessage("Sweep finished").Len())
}
