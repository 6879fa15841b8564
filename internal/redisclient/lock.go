package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker guards the two critical sections of the booking core: the
// check-then-insert sequence per (therapist, slot) and the
// read-modify-write of a conversation session per phone number.
type Locker interface {
	// WithLock runs fn while holding the key lock, failing fast with
	// ErrLockNotAcquired when someone else holds it.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	// WithLockWait polls for the key lock until it is acquired or ctx
	// expires. Used per phone so concurrent messages from the same
	// sender queue instead of failing.
	WithLockWait(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotLockKey serializes booking attempts for one therapist time slot.
func SlotLockKey(therapistID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%d", therapistID.String(), start.UTC().Unix())
}

// PhoneLockKey serializes session mutation for one sender.
func PhoneLockKey(phone string) string {
	return fmt.Sprintf("lock:phone:%s", phone)
}

type redisKeyLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKeyLocker creates a locker backed by per-key Redis SetNX leases.
func NewRedisKeyLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisKeyLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisKeyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	return l.run(ctx, key, token, fn)
}

func (l *redisKeyLocker) WithLockWait(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return ErrLockNotAcquired
		case <-time.After(50 * time.Millisecond):
		}
	}

	return l.run(ctx, key, token, fn)
}

func (l *redisKeyLocker) run(ctx context.Context, key, token string, fn func(ctx context.Context) error) error {
	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisKeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
