package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/visit-reminders/pkg/redis"
)

var ErrLeaseNotHeld = errors.New("lease is held by another owner")

// Lease is a Redis-backed mutual exclusion token that expires on its own when
// the holder dies.
type Lease struct {
	redis redis.RedisAdapter
	key   string
	owner []byte
	ttl   time.Duration
}

func NewLease(adapter redis.RedisAdapter, key string, ttl time.Duration) *Lease {
	return &Lease{
		redis: adapter,
		key:   key,
		owner: []byte(uuid.NewString()),
		ttl:   ttl,
	}
}

func (l *Lease) Owner() string { return string(l.owner) }

// Acquire takes the lease or, if this owner already holds it, extends it.
func (l *Lease) Acquire(_ context.Context) (bool, error) {
	ok, err := l.redis.SetNX(l.key, l.owner, l.ttl)
	if err != nil || ok {
		return ok, err
	}
	return l.redis.CompareAndExpire(l.key, l.owner, l.ttl)
}

func (l *Lease) Renew(_ context.Context) error {
	ok, err := l.redis.CompareAndExpire(l.key, l.owner, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseNotHeld
	}
	return nil
}

// Release drops the lease only if this owner still holds it.
func (l *Lease) Release(_ context.Context) error {
	_, err := l.redis.CompareAndDelete(l.key, l.owner)
	return err
}
