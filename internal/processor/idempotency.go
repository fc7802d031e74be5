package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/redis"
)

var (
	ErrAlreadyDispatched = errors.New("dispatch job already handled")
	ErrJobLocked         = errors.New("dispatch job is being handled by another consumer")
	ErrRetriesExhausted  = errors.New("dispatch job retries exhausted")
)

type IdempotencyConfig struct {
	LockTTL time.Duration
	DoneTTL time.Duration

	MaxRetries int

	LockKeyPrefix  string
	RetryKeyPrefix string
	DoneKeyPrefix  string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:        30 * time.Second,
		DoneTTL:        24 * time.Hour,
		MaxRetries:     3,
		LockKeyPrefix:  "dispatch:lock:",
		RetryKeyPrefix: "dispatch:retry:",
		DoneKeyPrefix:  "dispatch:done:",
	}
}

// IdempotencyService makes a dispatch job produce at most one gateway call
// even when the stream redelivers it.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(adapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{redis: adapter, config: config}
}

// JobClaim is held by exactly one consumer while it works a job.
type JobClaim struct {
	JobID   string
	Attempt int
	held    bool
}

func (c *JobClaim) IsRetry() bool { return c.Attempt > 0 }

func (s *IdempotencyService) Acquire(ctx context.Context, jobID string) (*JobClaim, error) {
	done, err := s.redis.Exist(s.config.DoneKeyPrefix + jobID)
	if err != nil {
		// a flaky marker lookup must not stall the queue
		logger.Warn("Failed to check dispatch marker", "job_id", jobID, "error", err)
	} else if done > 0 {
		return nil, ErrAlreadyDispatched
	}

	attempt, err := s.Attempts(ctx, jobID)
	if err != nil {
		logger.Warn("Failed to read dispatch retry counter", "job_id", jobID, "error", err)
	}
	if attempt >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: job_id=%s, attempts=%d", ErrRetriesExhausted, jobID, attempt)
	}

	ok, err := s.redis.SetNX(s.config.LockKeyPrefix+jobID, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return nil, ErrJobLocked
	}

	logger.Debug("Dispatch lock acquired", "job_id", jobID, "attempt", attempt)
	return &JobClaim{JobID: jobID, Attempt: attempt, held: true}, nil
}

// MarkSuccess records the job as done so redeliveries are acknowledged
// without touching the gateway again.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, c *JobClaim) error {
	if err := s.redis.Set(s.config.DoneKeyPrefix+c.JobID, []byte("1"), s.config.DoneTTL); err != nil {
		return fmt.Errorf("mark dispatch done: %w", err)
	}
	s.del(c.JobID, s.config.RetryKeyPrefix)
	return s.Release(ctx, c)
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, c *JobClaim, reason error) error {
	next := c.Attempt + 1
	logger.Warn("Dispatch attempt failed",
		"job_id", c.JobID,
		"attempt", next,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	var bumpErr error
	if err := s.redis.Set(s.config.RetryKeyPrefix+c.JobID, []byte(strconv.Itoa(next)), s.config.DoneTTL); err != nil {
		bumpErr = fmt.Errorf("bump retry counter: %w", err)
	}
	return errors.Join(bumpErr, s.Release(ctx, c))
}

func (s *IdempotencyService) Release(_ context.Context, c *JobClaim) error {
	if c == nil || !c.held {
		return nil
	}
	c.held = false
	return s.del(c.JobID, s.config.LockKeyPrefix)
}

func (s *IdempotencyService) Attempts(_ context.Context, jobID string) (int, error) {
	raw, err := s.redis.Get(s.config.RetryKeyPrefix + jobID)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("corrupt retry counter %q: %w", raw, err)
	}
	return n, nil
}

func (s *IdempotencyService) IsDone(_ context.Context, jobID string) (bool, error) {
	n, err := s.redis.Exist(s.config.DoneKeyPrefix + jobID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *IdempotencyService) del(jobID, prefix string) error {
	if err := s.redis.Del(prefix + jobID); err != nil {
		logger.Warn("Failed to delete dispatch key", "key", prefix+jobID, "error", err)
		return err
	}
	return nil
}

// ReplayGuard marks inbound provider message ids so a redelivered webhook is
// recognised before it reaches the database.
type ReplayGuard struct {
	redis  redis.RedisAdapter
	ttl    time.Duration
	prefix string
}

func NewReplayGuard(adapter redis.RedisAdapter, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{redis: adapter, ttl: ttl, prefix: "replay:"}
}

// Claim returns false when key was already claimed within the TTL.
func (g *ReplayGuard) Claim(_ context.Context, key string) (bool, error) {
	return g.redis.SetNX(g.prefix+key, []byte("1"), g.ttl)
}

// Release forgets key so a failed ingestion can be retried by the provider.
func (g *ReplayGuard) Release(_ context.Context, key string) error {
	return g.redis.Del(g.prefix + key)
}
