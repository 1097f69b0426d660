package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// testRedis connects to REDIS_TEST_URL or skips.
func testRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	r, err := New(url)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not-a-redis-url"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetSetMiss(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()
	key := "guidevault:test:" + t.Name()
	defer Del(ctx, r, key)

	if _, ok, err := Get[[]string](ctx, r, key); ok || err != nil {
		t.Fatalf("ok = %v, err = %v, want miss", ok, err)
	}
	if err := Set(ctx, r, key, []string{"a", "b"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Get[[]string](ctx, r, key)
	if err != nil || !ok || len(got) != 2 || got[1] != "b" {
		t.Fatalf("got %v, %v, %v", got, ok, err)
	}
}

func TestPurge(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()
	prefix := "guidevault:test:" + t.Name() + ":"
	for _, k := range []string{"a", "b", "c"} {
		if err := Set(ctx, r, prefix+k, k, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	n, err := Purge(ctx, r, prefix+"*")
	if err != nil || n != 3 {
		t.Fatalf("purged %d, %v", n, err)
	}
	if _, ok, _ := Get[string](ctx, r, prefix+"a"); ok {
		t.Error("key survived purge")
	}
}

func TestLocks(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()
	l := NewLocks(r, "guidevault:test:lock:")
	defer l.Release(ctx, "playlist:1")

	unlock, err := l.Acquire(ctx, "playlist:1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "playlist:1", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire err = %v", err)
	}
	unlock()
	unlock2, err := l.Acquire(ctx, "playlist:1", time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	// A forced release must not be undone by the stale holder.
	if err := l.Release(ctx, "playlist:1"); err != nil {
		t.Fatal(err)
	}
	unlock3, err := l.Acquire(ctx, "playlist:1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	unlock2()
	if !IsLocked(ctx, r, "guidevault:test:lock:playlist:1") {
		t.Error("stale unlock released the new holder's lock")
	}
	unlock3()
}

func TestQueueRoundTrip(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()
	q := "guidevault:test:queue:" + t.Name()
	defer Del(ctx, r, q)

	type job struct {
		ID int64 `json:"id"`
	}
	queue := NewQueue[job](r, q)
	if err := queue.Push(ctx, job{ID: 7}); err != nil {
		t.Fatal(err)
	}
	if n, err := queue.Len(ctx); err != nil || n != 1 {
		t.Fatalf("len = %d, %v", n, err)
	}
	got, err := queue.Pop(ctx, time.Second)
	if err != nil || got == nil || got.ID != 7 {
		t.Fatalf("got %+v, %v", got, err)
	}
	empty, err := queue.Pop(ctx, 100*time.Millisecond)
	if err != nil || empty != nil {
		t.Fatalf("empty dequeue = %+v, %v", empty, err)
	}
}
