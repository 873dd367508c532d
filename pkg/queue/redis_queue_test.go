package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedisQueue(t *testing.T, capacity int) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, capacity)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q := testRedisQueue(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := q.Enqueue(ctx, queuedRead(fmt.Sprintf("act-%d", i), "ledger"))
		if err != nil || !ok {
			t.Fatalf("enqueue %d: ok=%v err=%v", i, ok, err)
		}
	}

	if n, err := q.Size(ctx, "ledger"); err != nil || n != 3 {
		t.Fatalf("size = %d, err = %v", n, err)
	}

	ops, err := q.Drain(ctx, "ledger", 0)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("drained %d operations, want 3", len(ops))
	}
	for i, op := range ops {
		if want := fmt.Sprintf("act-%d", i); op.Request.ID != want {
			t.Errorf("position %d: got %q, want %q", i, op.Request.ID, want)
		}
	}
	if op := ops[0]; op.Request.Service != "ledger" || op.EnqueuedAt.IsZero() {
		t.Errorf("operation fields lost in serialization: %+v", op)
	}
}

func TestRedisQueueCapacityIsAtomic(t *testing.T) {
	q := testRedisQueue(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := q.Enqueue(ctx, queuedRead(fmt.Sprintf("act-%d", i), "ledger")); !ok {
			t.Fatalf("enqueue %d rejected below capacity", i)
		}
	}

	ok, err := q.Enqueue(ctx, queuedRead("act-overflow", "ledger"))
	if err != nil {
		t.Fatalf("overflow enqueue errored: %v", err)
	}
	if ok {
		t.Fatal("enqueue at capacity must return false")
	}

	if n, _ := q.Size(ctx, "ledger"); n != 2 {
		t.Errorf("size after rejected push = %d, want 2", n)
	}
}

func TestRedisQueueDrainEmptyService(t *testing.T) {
	q := testRedisQueue(t, 10)

	ops, err := q.Drain(context.Background(), "never-used", 10)
	if err != nil {
		t.Fatalf("drain of empty queue errored: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("drained %d operations from empty queue", len(ops))
	}
}

func TestRedisQueueRejectsNonIdempotent(t *testing.T) {
	q := testRedisQueue(t, 10)

	op := queuedRead("act-1", "ledger")
	op.Request.Kind = "content_publish"

	if _, err := q.Enqueue(context.Background(), op); err != ErrNotQueueable {
		t.Fatalf("want ErrNotQueueable, got %v", err)
	}
}
