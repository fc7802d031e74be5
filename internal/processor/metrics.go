package processor

import (
	"sync/atomic"
	"time"
)

type ServiceMetrics struct {
	handled    atomic.Int64
	retried    atomic.Int64
	durationNs atomic.Int64
	startedNs  atomic.Int64
}

type MetricsSnapshot struct {
	Handled       int64
	Retried       int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Uptime        time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.startedNs.Store(time.Now().UnixNano())
	return m
}

func (m *ServiceMetrics) RecordHandled(d time.Duration) {
	m.handled.Add(1)
	m.durationNs.Add(int64(d))
}

func (m *ServiceMetrics) RecordRetry() {
	m.retried.Add(1)
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	handled := m.handled.Load()
	uptime := time.Since(time.Unix(0, m.startedNs.Load()))

	s := MetricsSnapshot{
		Handled: handled,
		Retried: m.retried.Load(),
		Uptime:  uptime,
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RatePerSecond = float64(handled) / secs
	}
	if handled > 0 {
		s.AvgDuration = time.Duration(m.durationNs.Load() / handled)
	}
	return s
}
