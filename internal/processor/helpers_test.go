package processor

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

type stubSender struct {
	mu      sync.Mutex
	calls   []model.SendRequest
	results []*model.SendResult
	// during runs inside Send, before the result is picked
	during func()
}

func (s *stubSender) Send(_ context.Context, req model.SendRequest) *model.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.during != nil {
		s.during()
	}

	res := &model.SendResult{ReminderID: req.ReminderID, Phone: req.Phone, Success: true, StatusRecorded: true}
	if len(s.results) > 0 {
		res = s.results[0]
		s.results = s.results[1:]
	}
	return res
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
	err   error
}

func (p *countingPacer) Wait(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return p.err
}

type stubSweeper struct {
	mu    sync.Mutex
	runs  int
	block chan struct{}
}

func (s *stubSweeper) Sweep(context.Context) *model.SweepReport {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return &model.SweepReport{Groups: 1}
}

func (s *stubSweeper) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
