// Package fetcher performs one streaming upstream fetch per work item
// (spec §4.2): acquire the fleet-wide upstream lock, stream games from the
// upstream provider, enqueue one ingestion item per game, and handle
// pagination by re-enqueuing a continuation request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chesscrawler/internal/coordination"
	"chesscrawler/internal/ingestor"
	"chesscrawler/internal/logging"
	"chesscrawler/internal/store"
	"chesscrawler/internal/upstream"
)

// lockName is the fleet-wide named lease guarding upstream access (spec
// §4.2/§5: "the only cross-process synchronization on the hot path").
const lockName = "upstream_api_lock"

// Request is one fetch work item: crawl playerID's games since the given
// cursor (ms since epoch, 0 meaning "unknown, ask the Store"), tagging
// ingested games at depth.
type Request struct {
	PlayerID string
	Since    int64
	Depth    int
}

// IngestQueue is the destination for per-game ingestion work items.
type IngestQueue interface {
	Enqueue(ctx context.Context, item ingestor.Item) error
}

// FetchQueue is the destination for pagination continuations — the same
// queue this Fetcher is itself a consumer of.
type FetchQueue interface {
	Enqueue(ctx context.Context, item Request) error
}

// Config configures a Fetcher.
type Config struct {
	Coordination coordination.Coordination
	Upstream     *upstream.Client
	Store        store.Store
	IngestQueue  IngestQueue
	FetchQueue   FetchQueue

	// MaxGames is the page size requested per streaming call (spec default
	// 1000).
	MaxGames int
	// LockWait bounds one lock-acquisition attempt (spec default 10s).
	LockWait time.Duration
	// LockTTL is the lease lifetime, a safety net against a crashed holder
	// (spec default 300s).
	LockTTL time.Duration
	// LockRetryBackoff is the delay between lock-acquisition attempts
	// (spec default 10s).
	LockRetryBackoff time.Duration
	// LockRetryMax bounds the number of lock-acquisition attempts (spec
	// default 5).
	LockRetryMax int

	Logger *slog.Logger
}

// Fetcher consumes fetch Requests.
type Fetcher struct {
	coord       coordination.Coordination
	upstream    *upstream.Client
	store       store.Store
	ingestQueue IngestQueue
	fetchQueue  FetchQueue

	maxGames         int
	lockWait         time.Duration
	lockTTL          time.Duration
	lockRetryBackoff time.Duration
	lockRetryMax     int

	logger *slog.Logger
}

// New creates a Fetcher, filling in spec defaults for zero-valued fields.
func New(cfg Config) *Fetcher {
	if cfg.MaxGames <= 0 {
		cfg.MaxGames = 1000
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 300 * time.Second
	}
	if cfg.LockRetryBackoff <= 0 {
		cfg.LockRetryBackoff = 10 * time.Second
	}
	if cfg.LockRetryMax <= 0 {
		cfg.LockRetryMax = 5
	}
	return &Fetcher{
		coord:            cfg.Coordination,
		upstream:         cfg.Upstream,
		store:            cfg.Store,
		ingestQueue:      cfg.IngestQueue,
		fetchQueue:       cfg.FetchQueue,
		maxGames:         cfg.MaxGames,
		lockWait:         cfg.LockWait,
		lockTTL:          cfg.LockTTL,
		lockRetryBackoff: cfg.LockRetryBackoff,
		lockRetryMax:     cfg.LockRetryMax,
		logger:           logging.Default(cfg.Logger).With("component", "fetcher"),
	}
}

// Handle performs exactly one fetch work item (see package doc).
func (f *Fetcher) Handle(ctx context.Context, req Request) error {
	lock, err := f.acquireLockWithRetry(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.Release(context.Background()); relErr != nil {
			f.logger.Warn("lock release failed", "error", relErr)
		}
	}()

	since := req.Since
	if since == 0 {
		if last, lerr := f.store.LastMoveTime(ctx, req.PlayerID); lerr == nil && last > 0 {
			since = last
		} else if lerr != nil {
			f.logger.Warn("failed to read last move cursor, fetching from epoch", "player_id", req.PlayerID, "error", lerr)
		}
	}

	result, err := f.upstream.Stream(ctx, upstream.StreamParams{
		PlayerID: req.PlayerID,
		Since:    since,
		Max:      f.maxGames,
	}, func(g upstream.Game) {
		if qerr := f.ingestQueue.Enqueue(ctx, ingestor.Item{Game: g, Depth: req.Depth}); qerr != nil {
			f.logger.Warn("failed to enqueue ingestion item", "game_id", g.ID, "player_id", req.PlayerID, "error", qerr)
		}
	})
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			f.logger.Info("player not found upstream, not retrying", "player_id", req.PlayerID)
			return nil
		}
		return fmt.Errorf("stream player %s: %w", req.PlayerID, err)
	}

	if result.HitMax && result.MaxLastMove > 0 {
		next := Request{PlayerID: req.PlayerID, Since: result.MaxLastMove + 1, Depth: req.Depth}
		if qerr := f.fetchQueue.Enqueue(ctx, next); qerr != nil {
			f.logger.Warn("failed to enqueue pagination continuation", "player_id", req.PlayerID, "error", qerr)
		}
	}
	return nil
}

// acquireLockWithRetry acquires the upstream lock, retrying on a bounded
// per-attempt wait timeout up to lockRetryMax times (spec §4.2).
func (f *Fetcher) acquireLockWithRetry(ctx context.Context) (coordination.Lock, error) {
	var lastErr error
	for attempt := 1; attempt <= f.lockRetryMax; attempt++ {
		lock, err := f.coord.AcquireLock(ctx, lockName, f.lockWait, f.lockTTL)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, coordination.ErrLockTimeout) {
			return nil, fmt.Errorf("acquire upstream lock: %w", err)
		}
		lastErr = err
		f.logger.Warn("upstream lock not acquired, retrying", "attempt", attempt)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.lockRetryBackoff):
		}
	}
	return nil, fmt.Errorf("acquire upstream lock after %d attempts: %w", f.lockRetryMax, lastErr)
}
