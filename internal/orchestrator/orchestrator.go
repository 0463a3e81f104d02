// Package orchestrator runs the periodic tick that seeds fetch work (spec
// §4.1): on every tick, it dispatches a fetch for the seed user's newest
// activity and claims and dispatches a fetch for one eligible opponent.
// Both branches log and swallow their own failures so one never blocks the
// other, the same per-branch error containment the teacher uses for its
// own scheduled retention and rotation sweeps.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chesscrawler/internal/fetcher"
	"chesscrawler/internal/logging"
	"chesscrawler/internal/store"
)

// FetchQueue is the destination for dispatched fetch work items.
type FetchQueue interface {
	Enqueue(ctx context.Context, item fetcher.Request) error
}

// Config configures an Orchestrator.
type Config struct {
	Store      store.Store
	FetchQueue FetchQueue

	// SeedPlayerID is the always-crawled root of the graph (spec §4.1's
	// "seed user"). If empty, the seed branch is a no-op.
	SeedPlayerID string

	Logger *slog.Logger
}

// Orchestrator runs the seed and opponent-claim branches on each Tick.
type Orchestrator struct {
	store        store.Store
	fetchQueue   FetchQueue
	seedPlayerID string
	logger       *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:        cfg.Store,
		fetchQueue:   cfg.FetchQueue,
		seedPlayerID: cfg.SeedPlayerID,
		logger:       logging.Default(cfg.Logger).With("component", "orchestrator"),
	}
}

// Tick runs both branches. Each branch makes Store calls and then an
// Enqueue on the fetch queue, which blocks while that queue is full. Tick
// never returns an error — individual failures are logged and do not
// prevent the other branch from running.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.seedBranch(ctx)
	o.opponentBranch(ctx)
}

func (o *Orchestrator) seedBranch(ctx context.Context) {
	if o.seedPlayerID == "" {
		return
	}
	cursor, err := o.store.LastMoveTime(ctx, o.seedPlayerID)
	if err != nil {
		o.logger.Warn("seed branch: failed to read cursor", "player_id", o.seedPlayerID, "error", err)
		return
	}
	req := fetcher.Request{PlayerID: o.seedPlayerID, Since: cursor, Depth: 0}
	if err := o.fetchQueue.Enqueue(ctx, req); err != nil {
		o.logger.Warn("seed branch: failed to enqueue fetch", "player_id", o.seedPlayerID, "error", err)
	}
}

func (o *Orchestrator) opponentBranch(ctx context.Context) {
	claimed, err := o.store.ClaimNextPlayer(ctx, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		o.logger.Warn("opponent branch: claim failed", "error", err)
		return
	}

	var since int64
	if claimed.PreviousFetchedAt != nil {
		since = claimed.PreviousFetchedAt.UnixMilli()
	}
	req := fetcher.Request{PlayerID: claimed.Player.PlayerID, Since: since, Depth: claimed.Player.Depth}
	if err := o.fetchQueue.Enqueue(ctx, req); err != nil {
		o.logger.Warn("opponent branch: failed to enqueue fetch", "player_id", claimed.Player.PlayerID, "error", err)
	}
}
