package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock guards a login handshake. Acquire waits at most the configured
// timeout; the returned release func is safe to call more than once.
type Lock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type LockOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		PollInterval: 100 * time.Millisecond,
		Timeout:      7 * time.Second,
	}
}

// MutexLock is held by at most one goroutine in the process.
type MutexLock struct {
	slot chan struct{}
	opts LockOptions
}

func NewMutexLock(opts LockOptions) *MutexLock {
	return &MutexLock{slot: make(chan struct{}, 1), opts: opts}
}

func (l *MutexLock) Acquire(ctx context.Context) (func(), error) {
	err := poll(ctx, l.opts, func(context.Context) (bool, error) {
		select {
		case l.slot <- struct{}{}:
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { <-l.slot }) }, nil
}

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLock is shared by every process using the same key. The lease
// bounds how long a crashed holder can block others.
type RedisLock struct {
	client redis.Cmdable
	key    string
	lease  time.Duration
	opts   LockOptions
}

func NewRedisLock(client redis.Cmdable, key string, lease time.Duration, opts LockOptions) *RedisLock {
	return &RedisLock{client: client, key: key, lease: lease, opts: opts}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	owner := uuid.NewString()
	err := poll(ctx, l.opts, func(ctx context.Context) (bool, error) {
		return l.client.SetNX(ctx, l.key, owner, l.lease).Result()
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			l.client.Eval(ctx, releaseScript, []string{l.key}, owner)
		})
	}, nil
}

func poll(ctx context.Context, opts LockOptions, try func(context.Context) (bool, error)) error {
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrLockTimeout
		case <-time.After(opts.PollInterval):
		}
	}
}
