// Command crawler runs the crawling pipeline: orchestrator, fetcher,
// ingestor, analysis scheduler, and analyzer, each a worker pool over a
// named queue (spec.md §4/§5) hosted in a single process, the way the
// teacher's own cmd/gastrolog hosts every subsystem in one binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"chesscrawler/internal/analysisscheduler"
	"chesscrawler/internal/analyzer"
	"chesscrawler/internal/config"
	"chesscrawler/internal/coordination"
	"chesscrawler/internal/coordination/coordclient"
	"chesscrawler/internal/coordination/memcoord"
	"chesscrawler/internal/engine"
	"chesscrawler/internal/fetcher"
	"chesscrawler/internal/ingestor"
	"chesscrawler/internal/logging"
	"chesscrawler/internal/orchestrator"
	"chesscrawler/internal/plugin"
	"chesscrawler/internal/plugin/builtin"
	"chesscrawler/internal/queue"
	"chesscrawler/internal/scheduler"
	"chesscrawler/internal/store/storeclient"
	"chesscrawler/internal/upstream"

	"github.com/spf13/cobra"
)

// upstreamBaseURL is the Lichess-shaped game export API spec.md models its
// wire shape on. Not configurable: spec.md §6 lists the recognized
// environment variables exhaustively and this is not among them.
const upstreamBaseURL = "https://lichess.org"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "crawler",
		Short: "Crawl and analyze chess games",
		RunE: func(cmd *cobra.Command, args []string) error {
			coordinationMode, _ := cmd.Flags().GetString("coordination-mode")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, coordinationMode)
		},
	}
	rootCmd.PersistentFlags().String("coordination-mode", "memory", "coordination backend: memory or http")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, coordinationMode string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	coord, err := buildCoordination(coordinationMode, cfg)
	if err != nil {
		return err
	}

	storeClient := storeclient.New(cfg.StoreBaseURL, &http.Client{})
	upstreamClient := upstream.New(upstream.Config{
		BaseURL:      upstreamBaseURL,
		Token:        cfg.UpstreamToken,
		RetryBackoff: cfg.FetchRetryBackoff,
		RetryMax:     cfg.FetchRetryMax,
		Logger:       logger,
	})

	registry := buildPluginRegistry()

	ingestQueue := queue.New(queue.Config[ingestor.Item]{
		Name: "ingest", Workers: cfg.IngestWorkers, Capacity: 256, Logger: logger,
		Handler: ingestor.New(ingestor.Config{Store: storeClient, Logger: logger}).Handle,
	})

	var fetch *fetcher.Fetcher
	fetchQueue := queue.New(queue.Config[fetcher.Request]{
		Name: "fetch", Workers: 1, Capacity: 64, Logger: logger,
		Handler: func(ctx context.Context, req fetcher.Request) error {
			return fetch.Handle(ctx, req)
		},
	})
	fetch = fetcher.New(fetcher.Config{
		Coordination:     coord,
		Upstream:         upstreamClient,
		Store:            storeClient,
		IngestQueue:      ingestQueue,
		FetchQueue:       fetchQueue,
		MaxGames:         cfg.FetchMaxGames,
		LockWait:         cfg.FetchLockWait,
		LockTTL:          cfg.FetchLockTTL,
		LockRetryBackoff: cfg.FetchRetryBackoff,
		LockRetryMax:     cfg.FetchRetryMax,
		Logger:           logger,
	})

	analyze := analyzer.New(analyzer.Config{
		Store:        storeClient,
		Coordination: coord,
		Registry:     registry,
		EngineLauncher: func(ctx context.Context) (engine.Engine, error) {
			return engine.Launch(ctx, cfg.StockfishPath)
		},
		Logger: logger,
	})
	analyzeQueue := queue.New(queue.Config[string]{
		Name: "analyze", Workers: cfg.AnalyzeWorkers, Capacity: 256, Logger: logger,
		Handler: analyze.Handle,
	})

	orch := orchestrator.New(orchestrator.Config{
		Store: storeClient, FetchQueue: fetchQueue, SeedPlayerID: cfg.UpstreamUsername, Logger: logger,
	})
	analysisSched := analysisscheduler.New(analysisscheduler.Config{
		Store: storeClient, Coordination: coord, Registry: registry, AnalyzeQueue: analyzeQueue,
		CandidateLimit: cfg.AnalysisCandidateLimit,
		EnqueueTarget:  cfg.AnalysisEnqueueTarget,
		DedupTTL:       cfg.AnalysisDedupTTL,
		Logger:         logger,
	})

	sched, err := scheduler.New(logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := sched.Every("orchestrator", cfg.OrchestratorInterval, orch.Tick); err != nil {
		return fmt.Errorf("register orchestrator tick: %w", err)
	}
	if err := sched.Every("analysis_scheduler", cfg.AnalysisInterval, analysisSched.Tick); err != nil {
		return fmt.Errorf("register analysis scheduler tick: %w", err)
	}

	fetchQueue.Start(ctx)
	ingestQueue.Start(ctx)
	analyzeQueue.Start(ctx)

	logger.Info("crawler started",
		"orchestrator_interval", cfg.OrchestratorInterval,
		"analysis_interval", cfg.AnalysisInterval,
		"ingest_workers", cfg.IngestWorkers,
		"analyze_workers", cfg.AnalyzeWorkers)

	<-ctx.Done()

	logger.Info("shutting down")
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	fetchQueue.Stop()
	ingestQueue.Stop()
	analyzeQueue.Stop()
	logger.Info("shutdown complete")
	return nil
}

func buildCoordination(mode string, cfg config.Config) (coordination.Coordination, error) {
	switch mode {
	case "memory":
		return memcoord.New(), nil
	case "http":
		return coordclient.New(cfg.CoordinationURL, &http.Client{}), nil
	default:
		return nil, fmt.Errorf("unknown coordination mode %q", mode)
	}
}

func buildPluginRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	r.RegisterPure(builtin.MoveCount{})
	r.RegisterPure(builtin.Castling{})
	r.RegisterPure(builtin.TimeStats{})
	r.RegisterEngine(builtin.LargestSwing{SearchDepth: 12})
	return r
}
