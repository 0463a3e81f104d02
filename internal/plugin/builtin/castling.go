package builtin

import (
	"context"

	"chesscrawler/internal/plugin"
)

// Castling reports each side's castling side, if any.
type Castling struct{}

var _ plugin.Pure = Castling{}

func (Castling) Name() string    { return "castling" }
func (Castling) Version() string { return "1" }

func (Castling) Analyze(ctx context.Context, g plugin.Game) (map[string]any, error) {
	return map[string]any{
		"white": castlingSide(g.Moves, 0),
		"black": castlingSide(g.Moves, 1),
	}, nil
}

// castlingSide scans plies belonging to one side (even index = white, odd =
// black) for the first castling move.
func castlingSide(moves []string, parity int) string {
	for i, m := range moves {
		if i%2 != parity {
			continue
		}
		switch m {
		case "O-O", "O-O+", "O-O#":
			return "kingside"
		case "O-O-O", "O-O-O+", "O-O-O#":
			return "queenside"
		}
	}
	return "none"
}
