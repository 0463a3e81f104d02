package builtin

import (
	"context"

	"chesscrawler/internal/plugin"
)

// TimeStats reports a clock-derived summary: average seconds per move per
// side. This implementation has no per-move timing (GameMove carries no
// clock data, see spec §3), so it always falls back to the game's clock
// fields, estimating average time per move as total time divided by the
// side's move count, with the increment gained back each move added to the
// total.
type TimeStats struct{}

var _ plugin.Pure = TimeStats{}

func (TimeStats) Name() string    { return "time_stats" }
func (TimeStats) Version() string { return "1" }

func (TimeStats) Analyze(ctx context.Context, g plugin.Game) (map[string]any, error) {
	if g.ClockTotalTime == nil {
		return map[string]any{"available": false}, nil
	}

	whitePlies, blackPlies := sideCounts(len(g.Moves))

	increment := 0
	if g.ClockIncrement != nil {
		increment = *g.ClockIncrement
	}

	return map[string]any{
		"available":             true,
		"avg_seconds_per_move_white": avgSeconds(*g.ClockTotalTime, increment, whitePlies),
		"avg_seconds_per_move_black": avgSeconds(*g.ClockTotalTime, increment, blackPlies),
	}, nil
}

func sideCounts(plies int) (white, black int) {
	white = (plies + 1) / 2
	black = plies / 2
	return
}

func avgSeconds(totalTime, increment, plies int) float64 {
	if plies == 0 {
		return 0
	}
	budget := totalTime + increment*plies
	return float64(budget) / float64(plies)
}
