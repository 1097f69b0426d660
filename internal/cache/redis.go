package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Redis wraps a go-redis client. It backs the read cache, target locks and
// the job queue.
type Redis struct {
	client *redis.Client
}

// New parses a Redis URL such as "redis://host:6379/0". It does not dial;
// call Ping to check the server.
func New(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Get loads the JSON value under key. ok is false on a miss.
func Get[T any](ctx context.Context, r *Redis, key string) (v T, ok bool, err error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores v as JSON under key for ttl.
func Set(ctx context.Context, r *Redis, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Del unlinks keys. Missing keys are not an error.
func Del(ctx context.Context, r *Redis, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// Purge unlinks every key matching one of the glob patterns and returns the
// number removed.
func Purge(ctx context.Context, r *Redis, patterns ...string) (int, error) {
	const batch = 100
	removed := 0
	for _, pattern := range patterns {
		var keys []string
		it := r.client.Scan(ctx, 0, pattern, batch).Iterator()
		for it.Next(ctx) {
			keys = append(keys, it.Val())
			if len(keys) == batch {
				if err := Del(ctx, r, keys...); err != nil {
					return removed, err
				}
				removed += len(keys)
				keys = keys[:0]
			}
		}
		if err := it.Err(); err != nil {
			return removed, fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		if err := Del(ctx, r, keys...); err != nil {
			return removed, err
		}
		removed += len(keys)
	}
	return removed, nil
}
