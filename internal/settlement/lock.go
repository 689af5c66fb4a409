package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"

	"github.com/utilibill/utilibill/internal/shared"
)

// RedisAdmissionLock serialises authorizations per organisation with a
// redis lease.
type RedisAdmissionLock struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisAdmissionLock wraps a redislock client. Waiting callers retry every
// 100ms for up to one lease period.
func NewRedisAdmissionLock(client *redislock.Client, ttl time.Duration) *RedisAdmissionLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	attempts := int(ttl / (100 * time.Millisecond))
	return &RedisAdmissionLock{
		client: client,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), attempts),
	}
}

// Acquire obtains the organisation lease. A lease still held elsewhere after
// the retry window is reported as ErrConcurrentModification.
func (l *RedisAdmissionLock) Acquire(ctx context.Context, orgID int64) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("settlement: admission lock not initialised")
	}
	lock, err := l.client.Obtain(ctx, shared.AdmissionLockKey(orgID), l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: admission for organisation %d is in progress", ErrConcurrentModification, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: obtain admission lock: %w", err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
