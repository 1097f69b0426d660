package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollUntilDone(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, 10, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPollExhausted(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, 4, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrPollExhausted) || calls != 4 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPollStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), time.Millisecond, 0, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Poll(ctx, time.Hour, 0, func(context.Context) (bool, error) {
		calls++
		cancel()
		return false, nil
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
