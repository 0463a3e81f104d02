package builtin

import (
	"context"

	"chesscrawler/internal/plugin"
)

// MoveCount reports total ply count and move-pair count.
type MoveCount struct{}

var _ plugin.Pure = MoveCount{}

func (MoveCount) Name() string    { return "move_count" }
func (MoveCount) Version() string { return "1" }

func (MoveCount) Analyze(ctx context.Context, g plugin.Game) (map[string]any, error) {
	plies := len(g.Moves)
	return map[string]any{
		"plies": plies,
		"pairs": (plies + 1) / 2,
	}, nil
}
