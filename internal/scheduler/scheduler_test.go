package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryFiresImmediatelyAndThenOnInterval(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	var calls atomic.Int64
	if err := s.Every("tick", 30*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got < 3 {
		t.Fatalf("expected at least 3 ticks (immediate + 2 intervals), got %d", got)
	}
}

func TestTickPanicIsRecovered(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	var calls atomic.Int64
	if err := s.Every("panicky", 20*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
		panic("boom")
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got < 2 {
		t.Fatalf("expected scheduler to keep ticking after panic, got %d calls", got)
	}
}

func TestStopShutsDownCleanly(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
