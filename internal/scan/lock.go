package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const scanLockKey = "opportunity_finder:scan_lock"

var errLockNotHeld = errors.New("scan lock not held")

// Locker serializes scans.
type Locker interface {
	// Acquire returns ErrScanInProgress when another scan holds the lock.
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held scan lock.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLocker is a token-guarded SETNX lock shared by every process.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a lock whose hold expires after ttl unless extended.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	return &RedisLocker{client: client, key: scanLockKey, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !ok {
		return nil, ErrScanInProgress
	}
	return &redisLease{locker: l, token: token}, nil
}

type redisLease struct {
	locker *RedisLocker
	token  string
}

func (r *redisLease) Extend(ctx context.Context) error {
	res, err := extendScript.Run(ctx, r.locker.client, []string{r.locker.key}, r.token, r.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend scan lock: %w", err)
	}
	if res == 0 {
		return errLockNotHeld
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	res, err := unlockScript.Run(ctx, r.locker.client, []string{r.locker.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("release scan lock: %w", err)
	}
	if res == 0 {
		return errLockNotHeld
	}
	return nil
}

// LocalLocker serializes scans within one process when Redis is disabled.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Acquire(context.Context) (Lease, error) {
	if !l.mu.TryLock() {
		return nil, ErrScanInProgress
	}
	return &localLease{locker: l}, nil
}

type localLease struct {
	locker *LocalLocker
	once   sync.Once
}

func (*localLease) Extend(context.Context) error { return nil }

func (l *localLease) Release(context.Context) error {
	l.once.Do(l.locker.mu.Unlock)
	return nil
}
