// Package config loads the process configuration from environment
// variables once at startup. It is a plain struct, constructed once in
// main() and passed down to components by value or pointer — there is no
// global settings object and no hot reload.
package config

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the complete, resolved configuration for a crawler process.
// Unknown environment variables are ignored; recognized ones are listed
// below with their defaults.
type Config struct {
	// UpstreamToken authenticates requests to the upstream game provider.
	UpstreamToken string
	// UpstreamUsername is the seed player's handle (depth 0).
	UpstreamUsername string
	// StoreBaseURL is the base URL of the Store API.
	StoreBaseURL string
	// CoordinationURL is the base URL of the Coordination Service.
	CoordinationURL string

	// OrchestratorInterval is how often the ingestion orchestrator ticks.
	OrchestratorInterval time.Duration
	// AnalysisInterval is how often the analysis scheduler ticks.
	AnalysisInterval time.Duration

	// FetchMaxGames is the upstream page size (spec: max, <=1000).
	FetchMaxGames int
	// FetchLockWait bounds how long the fetcher waits to acquire the
	// upstream lock before retrying the task.
	FetchLockWait time.Duration
	// FetchLockTTL is the lease duration on the upstream lock.
	FetchLockTTL time.Duration
	// FetchRetryBackoff is the fixed delay between fetch retries.
	FetchRetryBackoff time.Duration
	// FetchRetryMax is the maximum number of retry attempts.
	FetchRetryMax int

	// AnalysisCandidateLimit bounds how many game IDs the scheduler asks
	// the Store for per tick.
	AnalysisCandidateLimit int
	// AnalysisEnqueueTarget bounds how many analyzer tasks are enqueued
	// per tick.
	AnalysisEnqueueTarget int
	// AnalysisDedupTTL is the TTL on the analysis-pending dedup key.
	AnalysisDedupTTL time.Duration

	// IngestWorkers is the worker-pool size for the ingest queue.
	IngestWorkers int
	// AnalyzeWorkers is the worker-pool size for the analyze queue.
	AnalyzeWorkers int

	// StoreSQLitePath is the filesystem path for the embedded store
	// database, used by cmd/storeserver.
	StoreSQLitePath string
	// StockfishPath is the path to the UCI engine binary used by
	// engine-requiring analysis plugins.
	StockfishPath string
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset. It never fails on a missing variable; it only fails if a
// numeric/duration variable is set but unparsable.
func FromEnv() (Config, error) {
	cfg := Config{
		UpstreamToken:    os.Getenv("UPSTREAM_TOKEN"),
		UpstreamUsername: os.Getenv("UPSTREAM_USERNAME"),
		StoreBaseURL:      cmp.Or(os.Getenv("STORE_BASE_URL"), "http://localhost:8090"),
		CoordinationURL:   cmp.Or(os.Getenv("COORDINATION_URL"), "http://localhost:8091"),
		StoreSQLitePath:   cmp.Or(os.Getenv("STORE_SQLITE_PATH"), "chesscrawler.db"),
		StockfishPath:     cmp.Or(os.Getenv("STOCKFISH_PATH"), "stockfish"),
	}

	var err error
	if cfg.OrchestratorInterval, err = durationEnv("ORCHESTRATOR_INTERVAL", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AnalysisInterval, err = durationEnv("ANALYSIS_INTERVAL", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FetchMaxGames, err = intEnv("FETCH_MAX_GAMES", 1000); err != nil {
		return Config{}, err
	}
	if cfg.FetchLockWait, err = durationEnv("FETCH_LOCK_WAIT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FetchLockTTL, err = durationEnv("FETCH_LOCK_TTL", 300*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FetchRetryBackoff, err = durationEnv("FETCH_RETRY_BACKOFF", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FetchRetryMax, err = intEnv("FETCH_RETRY_MAX", 5); err != nil {
		return Config{}, err
	}
	if cfg.AnalysisCandidateLimit, err = intEnv("ANALYSIS_CANDIDATE_LIMIT", 1000); err != nil {
		return Config{}, err
	}
	if cfg.AnalysisEnqueueTarget, err = intEnv("ANALYSIS_ENQUEUE_TARGET", 100); err != nil {
		return Config{}, err
	}
	if cfg.AnalysisDedupTTL, err = durationEnv("ANALYSIS_DEDUP_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IngestWorkers, err = intEnv("INGEST_WORKERS", 8); err != nil {
		return Config{}, err
	}
	if cfg.AnalyzeWorkers, err = intEnv("ANALYZE_WORKERS", 8); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}
