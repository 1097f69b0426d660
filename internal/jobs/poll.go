package jobs

import (
	"context"
	"time"
)

// Poll calls check every interval until it reports done, returns an error,
// ctx is cancelled, or maxAttempts checks have run (maxAttempts <= 0 means
// no bound other than ctx). The first check runs immediately.
func Poll(ctx context.Context, interval time.Duration, maxAttempts int, check func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if maxAttempts > 0 && attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrPollExhausted
}
