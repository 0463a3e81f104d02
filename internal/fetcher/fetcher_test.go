package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chesscrawler/internal/coordination"
	"chesscrawler/internal/ingestor"
	"chesscrawler/internal/store"
	"chesscrawler/internal/upstream"
)

type fakeLock struct{ released *bool }

func (l fakeLock) Release(ctx context.Context) error {
	*l.released = true
	return nil
}

type fakeCoordination struct {
	mu           sync.Mutex
	failN        int // AcquireLock fails ErrLockTimeout this many times before succeeding
	attempts     int
	lastReleased bool
}

func (c *fakeCoordination) AcquireLock(ctx context.Context, name string, wait, ttl time.Duration) (coordination.Lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.failN {
		return nil, coordination.ErrLockTimeout
	}
	return fakeLock{released: &c.lastReleased}, nil
}

func (c *fakeCoordination) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (c *fakeCoordination) Clear(ctx context.Context, key string) error { return nil }

type fakeIngestQueue struct {
	mu    sync.Mutex
	items []ingestor.Item
}

func (q *fakeIngestQueue) Enqueue(ctx context.Context, item ingestor.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

type fakeFetchQueue struct {
	mu    sync.Mutex
	items []Request
}

func (q *fakeFetchQueue) Enqueue(ctx context.Context, item Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

type stubStore struct {
	store.Store
	lastMove int64
}

func (s stubStore) LastMoveTime(ctx context.Context, playerID string) (int64, error) {
	return s.lastMove, nil
}

func newNDJSONServer(t *testing.T, lines []string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}))
}

func gameLine(id string, lastMoveAt int64) string {
	b, _ := json.Marshal(upstream.Game{ID: id, LastMoveAt: lastMoveAt})
	return string(b)
}

func TestHandleEnqueuesOneIngestionItemPerGame(t *testing.T) {
	srv := newNDJSONServer(t, []string{gameLine("g1", 100), gameLine("g2", 200)}, http.StatusOK)
	defer srv.Close()

	ingestQ := &fakeIngestQueue{}
	fetchQ := &fakeFetchQueue{}
	f := New(Config{
		Coordination: &fakeCoordination{},
		Upstream:     upstream.New(upstream.Config{BaseURL: srv.URL, Token: "t"}),
		Store:        stubStore{},
		IngestQueue:  ingestQ,
		FetchQueue:   fetchQ,
		MaxGames:     10,
	})

	if err := f.Handle(context.Background(), Request{PlayerID: "seed", Depth: 0}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(ingestQ.items) != 2 {
		t.Fatalf("expected 2 ingestion items, got %d", len(ingestQ.items))
	}
	if len(fetchQ.items) != 0 {
		t.Fatalf("expected no pagination continuation, got %d", len(fetchQ.items))
	}
}

func TestHandlePaginatesWhenMaxHit(t *testing.T) {
	srv := newNDJSONServer(t, []string{gameLine("g1", 100), gameLine("g2", 200)}, http.StatusOK)
	defer srv.Close()

	ingestQ := &fakeIngestQueue{}
	fetchQ := &fakeFetchQueue{}
	f := New(Config{
		Coordination: &fakeCoordination{},
		Upstream:     upstream.New(upstream.Config{BaseURL: srv.URL, Token: "t"}),
		Store:        stubStore{},
		IngestQueue:  ingestQ,
		FetchQueue:   fetchQ,
		MaxGames:     2, // exactly matches game count -> HitMax
	})

	if err := f.Handle(context.Background(), Request{PlayerID: "seed", Depth: 0}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(fetchQ.items) != 1 {
		t.Fatalf("expected one pagination continuation, got %d", len(fetchQ.items))
	}
	if fetchQ.items[0].Since != 201 {
		t.Errorf("expected continuation cursor 201, got %d", fetchQ.items[0].Since)
	}
}

func TestHandlePlayerNotFoundDoesNotError(t *testing.T) {
	srv := newNDJSONServer(t, nil, http.StatusNotFound)
	defer srv.Close()

	f := New(Config{
		Coordination: &fakeCoordination{},
		Upstream:     upstream.New(upstream.Config{BaseURL: srv.URL, Token: "t", RetryMax: 1}),
		Store:        stubStore{},
		IngestQueue:  &fakeIngestQueue{},
		FetchQueue:   &fakeFetchQueue{},
	})

	if err := f.Handle(context.Background(), Request{PlayerID: "ghost"}); err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
}

func TestHandleReleasesLockOnExit(t *testing.T) {
	srv := newNDJSONServer(t, nil, http.StatusOK)
	defer srv.Close()

	coord := &fakeCoordination{}
	f := New(Config{
		Coordination: coord,
		Upstream:     upstream.New(upstream.Config{BaseURL: srv.URL, Token: "t"}),
		Store:        stubStore{},
		IngestQueue:  &fakeIngestQueue{},
		FetchQueue:   &fakeFetchQueue{},
	})

	if err := f.Handle(context.Background(), Request{PlayerID: "p1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !coord.lastReleased {
		t.Errorf("expected lock to be released")
	}
}

func TestAcquireLockRetriesOnTimeout(t *testing.T) {
	srv := newNDJSONServer(t, nil, http.StatusOK)
	defer srv.Close()

	coord := &fakeCoordination{failN: 2}
	f := New(Config{
		Coordination:     coord,
		Upstream:         upstream.New(upstream.Config{BaseURL: srv.URL, Token: "t"}),
		Store:            stubStore{},
		IngestQueue:      &fakeIngestQueue{},
		FetchQueue:       &fakeFetchQueue{},
		LockRetryBackoff: time.Millisecond,
		LockRetryMax:     5,
	})

	if err := f.Handle(context.Background(), Request{PlayerID: "p1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if coord.attempts != 3 {
		t.Errorf("expected 3 acquisition attempts, got %d", coord.attempts)
	}
}

func TestAcquireLockGivesUpAfterRetryMax(t *testing.T) {
	coord := &fakeCoordination{failN: 100}
	f := New(Config{
		Coordination:     coord,
		Upstream:         upstream.New(upstream.Config{BaseURL: "http://unused", Token: "t"}),
		Store:            stubStore{},
		IngestQueue:      &fakeIngestQueue{},
		FetchQueue:       &fakeFetchQueue{},
		LockRetryBackoff: time.Millisecond,
		LockRetryMax:     3,
	})

	err := f.Handle(context.Background(), Request{PlayerID: "p1"})
	if err == nil {
		t.Fatal("expected error after exhausting lock retries")
	}
	if !errors.Is(err, coordination.ErrLockTimeout) {
		t.Errorf("expected wrapped ErrLockTimeout, got %v", err)
	}
}
