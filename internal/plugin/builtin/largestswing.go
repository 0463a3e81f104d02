package builtin

import (
	"context"
	"fmt"

	"chesscrawler/internal/engine"
	"chesscrawler/internal/plugin"
)

// LargestSwing finds the largest single-move evaluation swing (centipawns)
// across the game and the ply it occurred at, using an externally managed
// engine process. Since full position tracking (applying SAN to a board to
// derive FEN at each ply) is out of scope, this evaluates from the game's
// starting position forward using the engine's own move application via
// the "moves" field of a UCI position command, rather than resolving FEN
// per ply itself.
type LargestSwing struct {
	// SearchDepth is the fixed depth requested per ply. Kept small — this
	// plugin runs once per candidate game, not interactively.
	SearchDepth int
}

var _ plugin.EngineUser = LargestSwing{}

func (LargestSwing) Name() string    { return "largest_swing" }
func (LargestSwing) Version() string { return "1" }

func (p LargestSwing) Analyze(ctx context.Context, g plugin.Game, eng engine.Engine) (map[string]any, error) {
	if len(g.Moves) == 0 {
		return map[string]any{"swing_cp": 0, "ply": 0}, nil
	}

	depth := p.SearchDepth
	if depth <= 0 {
		depth = 10
	}

	var (
		prevScore    int
		haveScore    bool
		maxSwing     int
		maxSwingPly  int
	)

	for ply := 1; ply <= len(g.Moves); ply++ {
		position := fmt.Sprintf("startpos moves %s", joinUpTo(g.Moves, ply))
		score, err := eng.Evaluate(ctx, position, depth)
		if err != nil {
			return nil, fmt.Errorf("evaluate ply %d: %w", ply, err)
		}

		if haveScore {
			swing := score - prevScore
			if swing < 0 {
				swing = -swing
			}
			if swing > maxSwing {
				maxSwing = swing
				maxSwingPly = ply
			}
		}
		prevScore = score
		haveScore = true
	}

	return map[string]any{
		"swing_cp": maxSwing,
		"ply":      maxSwingPly,
	}, nil
}

func joinUpTo(moves []string, n int) string {
	out := ""
	for i := 0; i < n && i < len(moves); i++ {
		if i > 0 {
			out += " "
		}
		out += moves[i]
	}
	return out
}
