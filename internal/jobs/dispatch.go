package jobs

import (
	"context"
	"time"

	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/logging"
)

// Dispatcher hands an admitted job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// goDispatcher runs each job in its own goroutine, detached from the
// admitting request's cancellation.
type goDispatcher struct{ m *Manager }

func (d goDispatcher) Dispatch(ctx context.Context, req Request) error {
	d.m.wg.Add(1)
	go func() {
		defer d.m.wg.Done()
		d.m.Execute(context.WithoutCancel(ctx), req)
	}()
	return nil
}

// QueueDispatcher pushes jobs onto a Redis list consumed by Work, possibly
// in another process.
type QueueDispatcher struct {
	q *cache.Queue[Request]
}

// NewQueueDispatcher returns a QueueDispatcher; queue defaults to cache.DefaultQueue.
func NewQueueDispatcher(r *cache.Redis, queue string) *QueueDispatcher {
	return &QueueDispatcher{q: cache.NewQueue[Request](r, queue)}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, req Request) error {
	return d.q.Push(ctx, req)
}

// Work executes queued jobs until ctx is cancelled.
func (m *Manager) Work(ctx context.Context, d *QueueDispatcher) {
	ev := logging.Info().Str("queue", d.q.Key())
	if n, err := d.q.Len(ctx); err == nil {
		ev = ev.Int64("pending", n)
	}
	ev.Msg("job worker started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("job worker stopping")
			return
		default:
		}

		req, err := d.q.Pop(ctx, 5*time.Second)
		if err != nil {
			logging.Error().Err(err).Msg("job worker: dequeue")
			time.Sleep(2 * time.Second)
			continue
		}
		if req == nil {
			continue
		}
		m.wg.Add(1)
		func() {
			defer m.wg.Done()
			m.Execute(context.WithoutCancel(ctx), *req)
		}()
	}
}
