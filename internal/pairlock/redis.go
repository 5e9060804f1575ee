// ABOUTME: Redis-backed pair lock using SET NX with a random token and a compare-and-delete unlock
// ABOUTME: Lets several gateway processes serialize conversation creation for the same pair

package pairlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL  = 5 * time.Second
	defaultSpinWait = 20 * time.Millisecond
	keyPrefix       = "chatline:pairlock:"
)

// unlockLua deletes the lock only if we still own it
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker implements Locker on a shared Redis
type RedisLocker struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	spinWait time.Duration
	logger   *slog.Logger
}

// RedisConfig holds connection and timing settings for RedisLocker
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisLocker connects to Redis and verifies it with PING
func NewRedisLocker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisLocker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedisLockerFromClient(rdb, cfg.TTL, logger), nil
}

// NewRedisLockerFromClient wraps an existing client
func NewRedisLockerFromClient(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rdb:      rdb,
		ttl:      ttl,
		spinWait: defaultSpinWait,
		logger:   logger.With("component", "pairlock"),
	}
}

// Lock spins on SET NX until the key is acquired or ctx ends.
// The lock expires after the TTL even if unlock is never called.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("acquiring pair lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.spinWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
	}

	return func() {
		// Unlock with a fresh context so a cancelled caller still releases
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.rdb.Eval(unlockCtx, unlockLua, []string{lockKey}, token).Err(); err != nil {
			r.logger.Warn("pair lock release failed", "key", key, "error", err)
		}
	}, nil
}

// Close closes the underlying client
func (r *RedisLocker) Close() error {
	return r.rdb.Close()
}
