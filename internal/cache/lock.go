package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`

// TryLock acquires the lock key with SET NX and a TTL. The returned unlock
// releases it only while this holder's token is still stored.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// Background context: unlock must run after the caller's context is done.
		_ = r.client.Eval(context.Background(), unlockScript, []string{key}, token).Err()
	}, nil
}

// ForceUnlock deletes key regardless of holder.
func ForceUnlock(ctx context.Context, r *Redis, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache unlock %s: %w", key, err)
	}
	return nil
}

// IsLocked returns true if the lock key exists.
func IsLocked(ctx context.Context, r *Redis, key string) bool {
	n, _ := r.client.Exists(ctx, key).Result()
	return n > 0
}

// Locks namespaces lock keys under a prefix, e.g. "guidevault:lock:".
type Locks struct {
	r      *Redis
	prefix string
}

// NewLocks returns a Locks over r.
func NewLocks(r *Redis, prefix string) *Locks {
	return &Locks{r: r, prefix: prefix}
}

// Acquire is TryLock under the prefix.
func (l *Locks) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	return TryLock(ctx, l.r, l.prefix+name, ttl)
}

// Release is ForceUnlock under the prefix.
func (l *Locks) Release(ctx context.Context, name string) error {
	return ForceUnlock(ctx, l.r, l.prefix+name)
}
