package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 4 * time.Minute

// ReleaseFunc gives up a held lock.
type ReleaseFunc func(ctx context.Context) error

// Lock grants one worker at a time the right to run a cycle.
type Lock interface {
	TryLock(ctx context.Context) (ReleaseFunc, bool, error)
}

type lockClient interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock is a SETNX lease. The TTL must outlast a cycle; a crashed holder
// frees the lease when it expires.
type RedisLock struct {
	client lockClient
	key    string
	ttl    time.Duration
}

func NewRedisLock(client lockClient, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TryLock(ctx context.Context) (ReleaseFunc, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		holder, err := l.client.Get(ctx, l.key)
		switch {
		case errors.Is(err, redis.Nil):
			return nil
		case err != nil:
			return fmt.Errorf("read lock holder: %w", err)
		case holder != token:
			// lease expired and another worker took it
			return nil
		}
		return l.client.Del(ctx, l.key)
	}
	return release, true, nil
}

// LocalLock serializes cycles inside one process. It backs the in-process
// expiry runner of a resident bot started with memory stores.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) TryLock(context.Context) (ReleaseFunc, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.mu.Unlock()
		return nil
	}, true, nil
}
