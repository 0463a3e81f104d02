// Package analysisscheduler runs the periodic tick that enqueues analyzer
// tasks for games missing at least one currently-registered plugin's
// results (spec §4.4), deduplicating in-flight tasks via the Coordination
// Service. Grounded on the teacher's retention-sweep job shape (list
// candidates from a backing store, iterate with a per-item guard, stop at
// a budget), generalized from "delete expired chunks" to "enqueue games
// lacking plugin results."
package analysisscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chesscrawler/internal/coordination"
	"chesscrawler/internal/logging"
	"chesscrawler/internal/plugin"
	"chesscrawler/internal/store"
)

// AnalyzeQueue is the destination for per-game analyzer work items.
type AnalyzeQueue interface {
	Enqueue(ctx context.Context, gameID string) error
}

// Config configures a Scheduler.
type Config struct {
	Store        store.Store
	Coordination coordination.Coordination
	Registry     *plugin.Registry
	AnalyzeQueue AnalyzeQueue

	// CandidateLimit bounds how many candidate game IDs are requested per
	// tick (spec default 1000).
	CandidateLimit int
	// EnqueueTarget bounds how many analyzer tasks are enqueued per tick
	// (spec default 100).
	EnqueueTarget int
	// DedupTTL is the lifetime of the analysis_pending dedup key (spec
	// default 3600s).
	DedupTTL time.Duration

	Logger *slog.Logger
}

// Scheduler runs the analysis-candidate sweep on each Tick.
type Scheduler struct {
	store          store.Store
	coord          coordination.Coordination
	registry       *plugin.Registry
	analyzeQueue   AnalyzeQueue
	candidateLimit int
	enqueueTarget  int
	dedupTTL       time.Duration
	logger         *slog.Logger
}

// New creates a Scheduler, filling in spec defaults for zero-valued
// fields.
func New(cfg Config) *Scheduler {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 1000
	}
	if cfg.EnqueueTarget <= 0 {
		cfg.EnqueueTarget = 100
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 3600 * time.Second
	}
	return &Scheduler{
		store:          cfg.Store,
		coord:          cfg.Coordination,
		registry:       cfg.Registry,
		analyzeQueue:   cfg.AnalyzeQueue,
		candidateLimit: cfg.CandidateLimit,
		enqueueTarget:  cfg.EnqueueTarget,
		dedupTTL:       cfg.DedupTTL,
		logger:         logging.Default(cfg.Logger).With("component", "analysis_scheduler"),
	}
}

// Tick enqueues at most EnqueueTarget analyzer tasks, never enqueuing two
// tasks for the same game within the dedup TTL window. It never returns an
// error; failures are logged.
func (s *Scheduler) Tick(ctx context.Context) {
	names := s.registry.Names()
	if len(names) == 0 {
		return
	}

	candidates, err := s.store.GamesNeedingAnalysis(ctx, names, s.candidateLimit)
	if err != nil {
		s.logger.Warn("failed to list analysis candidates", "error", err)
		return
	}

	enqueued := 0
	for _, gameID := range candidates {
		if enqueued >= s.enqueueTarget {
			break
		}
		ok, err := s.coord.SetIfAbsent(ctx, dedupKey(gameID), "1", s.dedupTTL)
		if err != nil {
			s.logger.Warn("dedup key check failed", "game_id", gameID, "error", err)
			continue
		}
		if !ok {
			continue // already pending
		}
		if err := s.analyzeQueue.Enqueue(ctx, gameID); err != nil {
			s.logger.Warn("failed to enqueue analyzer task", "game_id", gameID, "error", err)
			continue
		}
		enqueued++
	}
	s.logger.Info("analysis sweep complete", "candidates", len(candidates), "enqueued", enqueued)
}

func dedupKey(gameID string) string {
	return fmt.Sprintf("analysis_pending:%s", gameID)
}
