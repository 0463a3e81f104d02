// Package ingestor upserts one game's full subgraph per work item (spec
// §4.3): the game row, its two players, their game associations, and its
// move list. Idempotent under replay. Grounded on the teacher's
// step-by-step Store-call sequencing style (small helpers, each wrapping
// one Store call with context).
package ingestor

import (
	"context"
	"log/slog"
	"time"

	"chesscrawler/internal/logging"
	"chesscrawler/internal/sanvalidate"
	"chesscrawler/internal/store"
	"chesscrawler/internal/upstream"
)

// Item is one ingestion work item: a raw upstream game object plus the
// fetch depth it was found at; its two players are upserted at Depth + 1.
type Item struct {
	Game  upstream.Game
	Depth int
}

// Config configures an Ingestor.
type Config struct {
	Store  store.Store
	Logger *slog.Logger
}

// Ingestor consumes ingestion Items.
type Ingestor struct {
	store  store.Store
	logger *slog.Logger
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	return &Ingestor{
		store:  cfg.Store,
		logger: logging.Default(cfg.Logger).With("component", "ingestor"),
	}
}

// Handle upserts the full subgraph for one game (see package doc). Any
// step's error is logged with game_id and ends the task without retry; the
// next fetch cycle re-attempts, and every step here is idempotent.
func (in *Ingestor) Handle(ctx context.Context, item Item) error {
	g := item.Game

	gameRow := store.Game{
		GameID:         g.ID,
		Rated:          g.Rated,
		Variant:        g.Variant,
		Speed:          g.Speed,
		Perf:           g.Perf,
		CreatedAt:      time.UnixMilli(g.CreatedAt),
		LastMoveAt:     time.UnixMilli(g.LastMoveAt),
		Status:         g.Status,
		Source:         "upstream",
		Winner:         winnerOf(g.Winner),
		PGN:            g.PGN,
		ClockInitial:   clockField(g.Clock, func(c upstream.Clock) int { return c.Initial }),
		ClockIncrement: clockField(g.Clock, func(c upstream.Clock) int { return c.Increment }),
		ClockTotalTime: clockField(g.Clock, func(c upstream.Clock) int { return c.TotalTime }),
	}
	if _, err := in.store.UpsertGame(ctx, gameRow); err != nil {
		in.logger.Warn("upsert game failed", "game_id", g.ID, "error", err)
		return err
	}

	depth := item.Depth + 1
	white := extractPlayer(g.Players.White, store.White, depth)
	black := extractPlayer(g.Players.Black, store.Black, depth)

	if _, err := in.store.UpsertPlayer(ctx, white); err != nil {
		in.logger.Warn("upsert white player failed", "game_id", g.ID, "player_id", white.PlayerID, "error", err)
		return err
	}
	if _, err := in.store.UpsertPlayer(ctx, black); err != nil {
		in.logger.Warn("upsert black player failed", "game_id", g.ID, "player_id", black.PlayerID, "error", err)
		return err
	}

	links := []store.GamePlayer{
		{GameID: g.ID, PlayerID: white.PlayerID, Color: store.White, Rating: g.Players.White.Rating, RatingDiff: derefInt(g.Players.White.RatingDiff)},
		{GameID: g.ID, PlayerID: black.PlayerID, Color: store.Black, Rating: g.Players.Black.Rating, RatingDiff: derefInt(g.Players.Black.RatingDiff)},
	}
	if err := in.store.LinkPlayersToGameBatch(ctx, links); err != nil {
		in.logger.Warn("link players to game failed", "game_id", g.ID, "error", err)
		return err
	}

	tokens, err := sanvalidate.Split(g.Moves)
	if err != nil {
		in.logger.Warn("unparseable move list, committing game without moves", "game_id", g.ID, "error", err)
		return nil
	}
	if len(tokens) == 0 {
		return nil
	}
	moves := make([]store.GameMove, len(tokens))
	for i, san := range tokens {
		moves[i] = store.GameMove{GameID: g.ID, MoveNumber: i + 1, MoveSAN: san}
	}
	if err := in.store.InsertMoves(ctx, g.ID, moves); err != nil {
		in.logger.Warn("insert moves failed", "game_id", g.ID, "error", err)
		return err
	}
	return nil
}

func clockField(c *upstream.Clock, get func(upstream.Clock) int) *int {
	if c == nil {
		return nil
	}
	v := get(*c)
	return &v
}

func winnerOf(w *string) store.Winner {
	if w == nil {
		return store.WinnerNone
	}
	switch *w {
	case "white":
		return store.WinnerWhite
	case "black":
		return store.WinnerBlack
	default:
		return store.WinnerNone
	}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func extractPlayer(side upstream.PlayerSide, color store.Color, depth int) store.Player {
	if side.User == nil {
		return store.Player{
			PlayerID: "anonymous_" + string(color),
			Name:     anonymousName(color),
			Depth:    depth,
		}
	}
	return store.Player{
		PlayerID: side.User.ID,
		Name:     side.User.Name,
		Flair:    side.Flair,
		Depth:    depth,
	}
}

func anonymousName(color store.Color) string {
	if color == store.White {
		return "Anonymous White"
	}
	return "Anonymous Black"
}
