package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/logger"
)

var ErrSweeperRunning = errors.New("sweeper already running")

type Sweeper interface {
	Sweep(ctx context.Context) *model.SweepReport
}

// SweepLoop runs the reconciliation sweep on a fixed interval. Only the
// process holding the lease sweeps; the others tick and skip.
type SweepLoop struct {
	sweeper  Sweeper
	lease    *Lease
	interval time.Duration

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSweepLoop(sweeper Sweeper, lease *Lease, interval time.Duration) *SweepLoop {
	return &SweepLoop{sweeper: sweeper, lease: lease, interval: interval}
}

func (l *SweepLoop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrSweeperRunning
	}

	l.mu.Lock()
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go func() {
		defer close(done)
		defer l.running.Store(false)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.safeTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.safeTick(ctx)
			}
		}
	}()

	logger.Info("Sweep loop started", "interval", l.interval, "owner", l.lease.Owner())
	return nil
}

func (l *SweepLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done

	if err := l.lease.Release(context.Background()); err != nil {
		logger.Warn("Failed to release sweep lease", "error", err)
	}
	logger.Info("Sweep loop stopped")
}

func (l *SweepLoop) IsRunning() bool {
	return l.running.Load()
}

// RunOnce sweeps if this process holds (or can take) the lease. The second
// return value is false when another process owns the sweep.
func (l *SweepLoop) RunOnce(ctx context.Context) (*model.SweepReport, bool) {
	ok, err := l.lease.Acquire(ctx)
	if err != nil {
		logger.Error("Sweep lease lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		logger.Debug("Sweep lease held elsewhere, skipping")
		return nil, false
	}

	report := l.sweeper.Sweep(ctx)

	if err := l.lease.Renew(ctx); err != nil {
		logger.Warn("Sweep lease lost during run", "error", err)
	}
	return report, true
}

func (l *SweepLoop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Sweep panicked", "panic", r)
		}
	}()

	l.RunOnce(ctx)
}
