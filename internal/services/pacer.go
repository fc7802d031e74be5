package services

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces consecutive sends.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedPacer lets one caller through at a time, at least delay after the
// previous one. The first call never waits.
type FixedPacer struct {
	delay time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewFixedPacer(delay time.Duration) *FixedPacer {
	return &FixedPacer{delay: delay}
}

func (p *FixedPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() && p.delay > 0 {
		if wait := time.Until(p.last.Add(p.delay)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.last = time.Now()
	return nil
}

type noPacer struct{}

func (noPacer) Wait(ctx context.Context) error { return ctx.Err() }
