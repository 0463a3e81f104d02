package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chesscrawler/internal/fetcher"
	"chesscrawler/internal/store"
)

var errBoom = errors.New("boom")

type fakeFetchQueue struct {
	mu    sync.Mutex
	items []fetcher.Request
}

func (q *fakeFetchQueue) Enqueue(ctx context.Context, item fetcher.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

type fakeStore struct {
	store.Store

	lastMove    int64
	lastMoveErr error

	claimed    store.ClaimedPlayer
	claimErr   error
	claimCalls int
}

func (s *fakeStore) LastMoveTime(ctx context.Context, playerID string) (int64, error) {
	return s.lastMove, s.lastMoveErr
}

func (s *fakeStore) ClaimNextPlayer(ctx context.Context, now time.Time) (store.ClaimedPlayer, error) {
	s.claimCalls++
	return s.claimed, s.claimErr
}

func TestTickSeedBranchEnqueuesFetchAtCursor(t *testing.T) {
	fq := &fakeFetchQueue{}
	s := &fakeStore{lastMove: 5000, claimErr: store.ErrNotFound}
	o := New(Config{Store: s, FetchQueue: fq, SeedPlayerID: "seed"})

	o.Tick(context.Background())

	if len(fq.items) != 1 {
		t.Fatalf("expected 1 enqueued fetch (seed only, no eligible opponent), got %d", len(fq.items))
	}
	if fq.items[0].PlayerID != "seed" || fq.items[0].Since != 5000 || fq.items[0].Depth != 0 {
		t.Errorf("unexpected seed request: %+v", fq.items[0])
	}
}

func TestTickOpponentBranchEnqueuesFetchAtPreviousCursor(t *testing.T) {
	fq := &fakeFetchQueue{}
	prev := time.UnixMilli(12345)
	s := &fakeStore{
		lastMoveErr: nil,
		claimed: store.ClaimedPlayer{
			Player:            store.Player{PlayerID: "opp1", Depth: 1},
			PreviousFetchedAt: &prev,
		},
	}
	o := New(Config{Store: s, FetchQueue: fq}) // no seed configured

	o.Tick(context.Background())

	if len(fq.items) != 1 {
		t.Fatalf("expected 1 enqueued fetch, got %d", len(fq.items))
	}
	if fq.items[0].PlayerID != "opp1" || fq.items[0].Since != 12345 || fq.items[0].Depth != 1 {
		t.Errorf("unexpected opponent request: %+v", fq.items[0])
	}
}

func TestTickOpponentBranchNoOpWhenNoEligiblePlayer(t *testing.T) {
	fq := &fakeFetchQueue{}
	s := &fakeStore{claimErr: store.ErrNotFound}
	o := New(Config{Store: s, FetchQueue: fq})

	o.Tick(context.Background())

	if len(fq.items) != 0 {
		t.Fatalf("expected no enqueued fetch when no player eligible, got %d", len(fq.items))
	}
}

func TestTickSeedBranchFailureDoesNotBlockOpponentBranch(t *testing.T) {
	fq := &fakeFetchQueue{}
	s := &fakeStore{
		lastMoveErr: errBoom,
		claimed:     store.ClaimedPlayer{Player: store.Player{PlayerID: "opp1"}},
	}
	o := New(Config{Store: s, FetchQueue: fq, SeedPlayerID: "seed"})

	o.Tick(context.Background())

	if len(fq.items) != 1 {
		t.Fatalf("expected opponent branch to still enqueue despite seed branch failure, got %d", len(fq.items))
	}
	if fq.items[0].PlayerID != "opp1" {
		t.Errorf("expected opponent fetch, got %+v", fq.items[0])
	}
}
