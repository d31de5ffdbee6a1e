package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockKeyEmpty   = errors.New("lock key is empty")
	ErrLockTTLInvalid = errors.New("lock ttl must be positive")
	ErrLockNotHeld    = errors.New("lock not acquired")
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out short-lived exclusive leases keyed by string. A lease
// is released with the token returned when it was taken.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	if client == nil {
		return nil
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := checkLockArgs(key, ttl); err != nil {
		return "", false, err
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type lease struct {
	token   string
	expires time.Time
}

// MemoryLocker serializes holders inside a single process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := checkLockArgs(key, ttl); err != nil {
		return "", false, err
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.leases[key]; ok && now.Before(current.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.leases[key]; ok && current.token == token {
		delete(l.leases, key)
	}
	return nil
}

// Acquire polls TryLock until the lease is taken or ctx ends. The returned
// release func is safe to defer.
func Acquire(ctx context.Context, locker Locker, key string, ttl, poll time.Duration) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	for {
		token, ok, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = locker.Release(context.WithoutCancel(ctx), key, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotHeld, ctx.Err())
		case <-time.After(poll):
		}
	}
}

func checkLockArgs(key string, ttl time.Duration) error {
	if key == "" {
		return ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return ErrLockTTLInvalid
	}
	return nil
}
