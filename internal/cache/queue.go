package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list key of the job queue.
const DefaultQueue = "guidevault:jobs"

// Queue is a FIFO of JSON-encoded T on a Redis list: LPUSH in, BRPOP out.
type Queue[T any] struct {
	r   *Redis
	key string
}

func NewQueue[T any](r *Redis, key string) *Queue[T] {
	if key == "" {
		key = DefaultQueue
	}
	return &Queue[T]{r: r, key: key}
}

func (q *Queue[T]) Key() string { return q.key }

func (q *Queue[T]) Push(ctx context.Context, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue %s encode: %w", q.key, err)
	}
	if err := q.r.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("queue %s push: %w", q.key, err)
	}
	return nil
}

// Pop waits up to wait for an item. It returns (nil, nil) when the wait
// expires or ctx is done, so workers can loop and notice shutdown.
func (q *Queue[T]) Pop(ctx context.Context, wait time.Duration) (*T, error) {
	res, err := q.r.client.BRPop(ctx, wait, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil), ctx.Err() != nil:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("queue %s pop: %w", q.key, err)
	case len(res) != 2:
		return nil, nil
	}
	item := new(T)
	if err := json.Unmarshal([]byte(res[1]), item); err != nil {
		return nil, fmt.Errorf("queue %s decode: %w", q.key, err)
	}
	return item, nil
}

// Len reports the number of queued items.
func (q *Queue[T]) Len(ctx context.Context) (int64, error) {
	return q.r.client.LLen(ctx, q.key).Result()
}
