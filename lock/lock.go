// Package lock provides named cross-process mutexes over Redis. Ownership is
// a random token bounded by a TTL: a crashed holder is reclaimed when the key
// expires, and a holder whose lease already expired cannot release or extend
// a lock that has since been reacquired by someone else. Every mutation is a
// single atomic Redis operation; release and extend run as Lua scripts so the
// compare and the write cannot be split by another client.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotAcquired is returned when the retry budget is exhausted without
// obtaining the lock. Callers must not proceed with the guarded section.
var ErrNotAcquired = errors.New("lock not acquired")

const keyPrefix = "lock:"

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript refreshes the TTL only while we still own it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Options bound a single acquisition attempt.
type Options struct {
	TTL        time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

// DefaultOptions cover lifecycle operations that finish well inside 30s.
var DefaultOptions = Options{
	TTL:        30 * time.Second,
	RetryDelay: 150 * time.Millisecond,
	MaxRetries: 3,
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultOptions.TTL
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultOptions.RetryDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultOptions.MaxRetries
	}
	return o
}

// Manager acquires and releases named locks against one Redis namespace.
// One Manager is constructed at startup and shared by injection.
type Manager struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{
		rdb: rdb,
		log: log.With().Str("component", "lock").Logger(),
	}
}

// Acquire attempts SET NX PX on lock:{key}. On success it returns the
// ownership token. It retries up to opts.MaxRetries with opts.RetryDelay
// between attempts and then returns ErrNotAcquired; it never blocks
// indefinitely.
func (m *Manager) Acquire(ctx context.Context, key string, opts Options) (string, error) {
	opts = opts.withDefaults()
	token := uuid.NewString()

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		ok, err := m.rdb.SetNX(ctx, keyPrefix+key, token, opts.TTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
	}
	m.log.Warn().Str("key", key).Int("retries", opts.MaxRetries).Msg("lock acquisition exhausted retries")
	return "", ErrNotAcquired
}

// Release deletes the key only if it still holds token. The bool reports
// whether the release actually happened; false means the lease had already
// expired and possibly been reassigned.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{keyPrefix + key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Extend refreshes the TTL only while token still owns the lock.
func (m *Manager) Extend(ctx context.Context, key, token string, additionalTTL time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.rdb, []string{keyPrefix + key}, token, additionalTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ForceRelease unconditionally deletes the lock. Operator cleanup only,
// never part of the hot path.
func (m *Manager) ForceRelease(ctx context.Context, key string) error {
	m.log.Warn().Str("key", key).Msg("force-releasing lock")
	return m.rdb.Del(ctx, keyPrefix+key).Err()
}

// WithLock acquires key, runs fn, and always releases on the way out,
// including when fn returns an error or panics. Acquisition failure surfaces
// as ErrNotAcquired so callers cannot mistake it for fn failing.
func (m *Manager) WithLock(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	token, err := m.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		released, relErr := m.Release(context.WithoutCancel(ctx), key, token)
		if relErr != nil {
			m.log.Error().Err(relErr).Str("key", key).Msg("lock release failed")
		} else if !released {
			m.log.Warn().Str("key", key).Msg("lock expired before release, possibly reassigned")
		}
	}()
	return fn(ctx)
}
