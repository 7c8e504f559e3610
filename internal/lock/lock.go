// Package lock serialises concurrent checkouts of the same cart.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when the lock is still held by someone else after waiting
var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains a named lock, waiting while ctx allows
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// CheckoutKey is the lock name for one user's cart within a tenant
func CheckoutKey(tenantID, userID, cartID string) string {
	return fmt.Sprintf("checkout:%s:%s:%s", tenantID, userID, cartID)
}

const retryBackoff = 50 * time.Millisecond

// RedisLocker is backed by redislock so that every replica shares the lock
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lk, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryBackoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return lk, nil
}

// LocalLocker is an in-process lock for single instance deployments
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

type localLock struct {
	locker *LocalLocker
	key    string
	done   chan struct{}
	once   sync.Once
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			lk := &localLock{locker: l, key: key, done: done}
			// expire like the redis lock would
			time.AfterFunc(ttl, func() { _ = lk.Release(context.Background()) })
			return lk, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ErrNotObtained
		}
	}
}

func (lk *localLock) Release(context.Context) error {
	lk.once.Do(func() {
		lk.locker.mu.Lock()
		if lk.locker.held[lk.key] == lk.done {
			delete(lk.locker.held, lk.key)
		}
		lk.locker.mu.Unlock()
		close(lk.done)
	})
	return nil
}
