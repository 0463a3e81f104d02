package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestQueueProcessesEnqueuedItems(t *testing.T) {
	var processed atomic.Int64

	q := New(Config[int]{
		Name:     "test",
		Workers:  2,
		Capacity: 10,
		Handler: func(ctx context.Context, item int) error {
			processed.Add(int64(item))
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 1; i <= 5; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for processed.Load() != 15 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := processed.Load(); got != 15 {
		t.Fatalf("expected sum 15, got %d", got)
	}

	q.Stop()
}

func TestQueueHandlerErrorDoesNotStopOthers(t *testing.T) {
	var succeeded atomic.Int64

	q := New(Config[int]{
		Name:    "test",
		Workers: 1,
		Handler: func(ctx context.Context, item int) error {
			if item == 2 {
				return errBoom
			}
			succeeded.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for _, i := range []int{1, 2, 3} {
		q.Enqueue(ctx, i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for succeeded.Load() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := succeeded.Load(); got != 2 {
		t.Fatalf("expected 2 successes despite one failure, got %d", got)
	}

	q.Stop()
}

func TestTryEnqueueFullQueue(t *testing.T) {
	block := make(chan struct{})
	q := New(Config[int]{
		Name:     "test",
		Workers:  1,
		Capacity: 1,
		Handler: func(ctx context.Context, item int) error {
			<-block
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(ctx, 1) // picked up by the single worker, which then blocks
	time.Sleep(20 * time.Millisecond)

	if !q.TryEnqueue(2) {
		t.Fatalf("expected room for one buffered item")
	}
	if q.TryEnqueue(3) {
		t.Fatalf("expected queue full")
	}

	close(block)
	q.Stop()
}
