// Package analyzer runs registered plugins against one game and merges
// their results into its metrics (spec §4.5). Pure plugins run directly;
// engine-requiring plugins get a per-task engine process launched and
// released on every exit path. A plugin panic is recovered, logged, and
// does not stop the remaining plugins, extending spec §4.5's "analyze may
// throw; the analyzer logs and continues" to Go's panic/recover idiom.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"chesscrawler/internal/coordination"
	"chesscrawler/internal/engine"
	"chesscrawler/internal/logging"
	"chesscrawler/internal/plugin"
	"chesscrawler/internal/sanvalidate"
	"chesscrawler/internal/store"
)

// EngineLauncher starts a fresh engine process for one analyzer task. The
// caller (Handle) closes it on every exit path.
type EngineLauncher func(ctx context.Context) (engine.Engine, error)

// Config configures an Analyzer.
type Config struct {
	Store          store.Store
	Coordination   coordination.Coordination
	Registry       *plugin.Registry
	EngineLauncher EngineLauncher
	Logger         *slog.Logger
}

// Analyzer consumes per-game analysis work items (a bare game ID).
type Analyzer struct {
	store          store.Store
	coord          coordination.Coordination
	registry       *plugin.Registry
	engineLauncher EngineLauncher
	logger         *slog.Logger
}

// New creates an Analyzer.
func New(cfg Config) *Analyzer {
	return &Analyzer{
		store:          cfg.Store,
		coord:          cfg.Coordination,
		registry:       cfg.Registry,
		engineLauncher: cfg.EngineLauncher,
		logger:         logging.Default(cfg.Logger).With("component", "analyzer"),
	}
}

func dedupKey(gameID string) string {
	return fmt.Sprintf("analysis_pending:%s", gameID)
}

// Handle runs every registered plugin missing from gameID's current
// metrics, merges any new results, and clears the dedup key regardless of
// outcome (spec §4.5 step 6).
func (a *Analyzer) Handle(ctx context.Context, gameID string) error {
	defer func() {
		if err := a.coord.Clear(ctx, dedupKey(gameID)); err != nil {
			a.logger.Warn("failed to clear analysis dedup key", "game_id", gameID, "error", err)
		}
	}()

	existing := map[string]any{}
	if m, err := a.store.ReadMetrics(ctx, gameID); err == nil {
		existing = m.Metrics
	} else if !errors.Is(err, store.ErrNotFound) {
		a.logger.Warn("failed to read existing metrics", "game_id", gameID, "error", err)
		return err
	}

	pgn, err := a.store.ReadPGN(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		a.logger.Warn("failed to read pgn", "game_id", gameID, "error", err)
		return err
	}

	g, err := parseGame(gameID, pgn)
	if err != nil {
		a.logger.Warn("failed to parse pgn, skipping", "game_id", gameID, "error", err)
		return nil
	}

	results := map[string]any{}
	for _, p := range a.registry.PureList() {
		if _, done := existing[p.Name()]; done {
			continue
		}
		res, err := runPure(ctx, p, g)
		if err != nil {
			a.logger.Warn("pure plugin failed", "plugin", p.Name(), "game_id", gameID, "error", err)
			continue
		}
		results[p.Name()] = res
	}

	pending := make([]plugin.EngineUser, 0)
	for _, p := range a.registry.EngineUsers() {
		if _, done := existing[p.Name()]; !done {
			pending = append(pending, p)
		}
	}
	if len(pending) > 0 {
		a.runEnginePlugins(ctx, gameID, g, pending, results)
	}

	if len(results) == 0 {
		return nil
	}
	if err := a.store.MergeMetrics(ctx, gameID, results); err != nil {
		a.logger.Warn("failed to merge metrics", "game_id", gameID, "error", err)
		return err
	}
	return nil
}

func (a *Analyzer) runEnginePlugins(ctx context.Context, gameID string, g plugin.Game, pending []plugin.EngineUser, results map[string]any) {
	if a.engineLauncher == nil {
		a.logger.Warn("no engine launcher configured, skipping engine plugins", "game_id", gameID)
		return
	}
	eng, err := a.engineLauncher(ctx)
	if err != nil {
		a.logger.Warn("failed to launch engine, skipping engine plugins", "game_id", gameID, "error", err)
		return
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			a.logger.Warn("engine close failed", "game_id", gameID, "error", cerr)
		}
	}()

	for _, p := range pending {
		res, err := runEngine(ctx, p, g, eng)
		if err != nil {
			a.logger.Warn("engine plugin failed", "plugin", p.Name(), "game_id", gameID, "error", err)
			continue
		}
		results[p.Name()] = res
	}
}

func runPure(ctx context.Context, p plugin.Pure, g plugin.Game) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Analyze(ctx, g)
}

func runEngine(ctx context.Context, p plugin.EngineUser, g plugin.Game, eng engine.Engine) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Analyze(ctx, g, eng)
}

var headerRe = regexp.MustCompile(`^\[(\w+)\s+"([^"]*)"\]$`)
var moveNumberRe = regexp.MustCompile(`^\d+\.+$`)

var resultTokens = map[string]bool{
	"1-0":     true,
	"0-1":     true,
	"1/2-1/2": true,
	"*":       true,
}

// parseGame extracts the move list and ambient clock/variant tags from a
// stored PGN blob. Full chess-rules PGN parsing is out of scope (spec.md
// §1 Non-goals); this reads only the header tags and movetext needed by
// the registered plugins, reusing sanvalidate's SAN-shape check rather
// than a second hand-rolled validator.
func parseGame(gameID, pgn string) (plugin.Game, error) {
	headers := parseHeaders(pgn)
	g := plugin.Game{GameID: gameID, Variant: headers["Variant"]}

	if tc, ok := headers["TimeControl"]; ok {
		if initial, increment, ok := parseTimeControl(tc); ok {
			g.ClockInitial = &initial
			g.ClockIncrement = &increment
			g.ClockTotalTime = &initial
		}
	}

	movetext := extractMovetext(pgn)
	if movetext == "" {
		return g, nil
	}
	moves, err := sanvalidate.Split(movetext)
	if err != nil {
		return plugin.Game{}, fmt.Errorf("parse movetext: %w", err)
	}
	g.Moves = moves
	return g, nil
}

func parseHeaders(pgn string) map[string]string {
	headers := map[string]string{}
	for _, line := range strings.Split(pgn, "\n") {
		line = strings.TrimSpace(line)
		if m := headerRe.FindStringSubmatch(line); m != nil {
			headers[m[1]] = m[2]
		}
	}
	return headers
}

func extractMovetext(pgn string) string {
	var moveLines []string
	for _, line := range strings.Split(pgn, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		moveLines = append(moveLines, line)
	}
	raw := strings.Join(moveLines, " ")

	var kept []string
	for _, f := range strings.Fields(raw) {
		if resultTokens[f] || moveNumberRe.MatchString(f) {
			continue
		}
		if idx := strings.LastIndex(f, "."); idx >= 0 && moveNumberRe.MatchString(f[:idx+1]) {
			f = f[idx+1:]
		}
		if f == "" {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func parseTimeControl(tc string) (initial, increment int, ok bool) {
	parts := strings.SplitN(tc, "+", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	i, err1 := strconv.Atoi(parts[0])
	inc, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return i, inc, true
}
