// Package sqlite is an embedded SQL implementation of store.Store, backed
// by modernc.org/sqlite (pure Go, no cgo) with schema migrations loaded
// from an embedded filesystem — the same storage pattern this codebase
// already uses for its config store.
//
// Upserts use ON CONFLICT ... DO UPDATE directly, matching spec's
// "conflict on X -> update" language. The claim operation relies on
// SQLite's single-writer semantics (see DESIGN.md) instead of Postgres's
// FOR UPDATE SKIP LOCKED to give the same at-most-one-claimant guarantee.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chesscrawler/internal/store"
)

const timeFormat = time.RFC3339Nano

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) a SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows only one writer at a time; capping the pool at one
	// connection makes that serialization explicit and is what lets the
	// claim operation below rely on it for correctness.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func timePtrToString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeFormat), Valid: true}
}

func stringToTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// UpsertGame implements store.Store.
func (s *Store) UpsertGame(ctx context.Context, g store.Game) (store.Game, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (
			game_id, rated, variant, speed, perf, created_at, last_move_at,
			status, source, winner, pgn, clock_initial, clock_increment, clock_total_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			rated = excluded.rated,
			variant = excluded.variant,
			speed = excluded.speed,
			perf = excluded.perf,
			created_at = excluded.created_at,
			last_move_at = excluded.last_move_at,
			status = excluded.status,
			source = excluded.source,
			winner = excluded.winner,
			pgn = excluded.pgn,
			clock_initial = excluded.clock_initial,
			clock_increment = excluded.clock_increment,
			clock_total_time = excluded.clock_total_time
	`,
		g.GameID, g.Rated, g.Variant, g.Speed, g.Perf,
		g.CreatedAt.Format(timeFormat), g.LastMoveAt.Format(timeFormat),
		g.Status, cmpOr(g.Source, "lichess"), string(g.Winner), nullStr(g.PGN),
		nullInt(g.ClockInitial), nullInt(g.ClockIncrement), nullInt(g.ClockTotalTime),
	)
	if err != nil {
		return store.Game{}, fmt.Errorf("upsert game %s: %w", g.GameID, err)
	}
	return g, nil
}

func cmpOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// UpsertGameBatch implements store.Store.
func (s *Store) UpsertGameBatch(ctx context.Context, games []store.Game) ([]store.Game, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin game batch: %w", err)
	}
	defer tx.Rollback()

	txStore := &Store{db: s.db}
	out := make([]store.Game, 0, len(games))
	for _, g := range games {
		got, err := txStore.upsertGameTx(ctx, tx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, got)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit game batch: %w", err)
	}
	return out, nil
}

func (s *Store) upsertGameTx(ctx context.Context, tx *sql.Tx, g store.Game) (store.Game, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO games (
			game_id, rated, variant, speed, perf, created_at, last_move_at,
			status, source, winner, pgn, clock_initial, clock_increment, clock_total_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			rated = excluded.rated, variant = excluded.variant, speed = excluded.speed,
			perf = excluded.perf, created_at = excluded.created_at,
			last_move_at = excluded.last_move_at, status = excluded.status,
			source = excluded.source, winner = excluded.winner, pgn = excluded.pgn,
			clock_initial = excluded.clock_initial, clock_increment = excluded.clock_increment,
			clock_total_time = excluded.clock_total_time
	`,
		g.GameID, g.Rated, g.Variant, g.Speed, g.Perf,
		g.CreatedAt.Format(timeFormat), g.LastMoveAt.Format(timeFormat),
		g.Status, cmpOr(g.Source, "lichess"), string(g.Winner), nullStr(g.PGN),
		nullInt(g.ClockInitial), nullInt(g.ClockIncrement), nullInt(g.ClockTotalTime),
	)
	if err != nil {
		return store.Game{}, fmt.Errorf("upsert game %s: %w", g.GameID, err)
	}
	return g, nil
}

// UpsertPlayer implements store.Store. LastFetchedAt is intentionally never
// written by this path.
func (s *Store) UpsertPlayer(ctx context.Context, p store.Player) (store.Player, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (player_id, name, flair, depth, last_fetched_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT (player_id) DO UPDATE SET
			name = excluded.name,
			flair = excluded.flair,
			depth = excluded.depth
	`, p.PlayerID, p.Name, nullStr(p.Flair), p.Depth)
	if err != nil {
		return store.Player{}, fmt.Errorf("upsert player %s: %w", p.PlayerID, err)
	}
	return s.GetPlayer(ctx, p.PlayerID)
}

// UpsertPlayerBatch implements store.Store.
func (s *Store) UpsertPlayerBatch(ctx context.Context, players []store.Player) ([]store.Player, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin player batch: %w", err)
	}
	defer tx.Rollback()

	out := make([]store.Player, 0, len(players))
	for _, p := range players {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO players (player_id, name, flair, depth, last_fetched_at)
			VALUES (?, ?, ?, ?, NULL)
			ON CONFLICT (player_id) DO UPDATE SET
				name = excluded.name, flair = excluded.flair, depth = excluded.depth
		`, p.PlayerID, p.Name, nullStr(p.Flair), p.Depth); err != nil {
			return nil, fmt.Errorf("upsert player %s: %w", p.PlayerID, err)
		}
		out = append(out, p)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit player batch: %w", err)
	}

	// Re-read to reflect any pre-existing last_fetched_at values.
	for i := range out {
		got, err := s.GetPlayer(ctx, out[i].PlayerID)
		if err != nil {
			return nil, err
		}
		out[i] = got
	}
	return out, nil
}

// LinkPlayerToGame implements store.Store.
func (s *Store) LinkPlayerToGame(ctx context.Context, gp store.GamePlayer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_players (game_id, player_id, color, rating, rating_diff)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (game_id, player_id) DO NOTHING
	`, gp.GameID, gp.PlayerID, string(gp.Color), gp.Rating, gp.RatingDiff)
	if err != nil {
		return fmt.Errorf("link player %s to game %s: %w", gp.PlayerID, gp.GameID, err)
	}
	return nil
}

// LinkPlayersToGameBatch implements store.Store.
func (s *Store) LinkPlayersToGameBatch(ctx context.Context, gps []store.GamePlayer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin link batch: %w", err)
	}
	defer tx.Rollback()

	for _, gp := range gps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_players (game_id, player_id, color, rating, rating_diff)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (game_id, player_id) DO NOTHING
		`, gp.GameID, gp.PlayerID, string(gp.Color), gp.Rating, gp.RatingDiff); err != nil {
			return fmt.Errorf("link player %s to game %s: %w", gp.PlayerID, gp.GameID, err)
		}
	}
	return tx.Commit()
}

// InsertMoves implements store.Store.
func (s *Store) InsertMoves(ctx context.Context, gameID string, moves []store.GameMove) error {
	if len(moves) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO game_moves (game_id, move_number, move_san) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare move insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range moves {
		if _, err := stmt.ExecContext(ctx, gameID, m.MoveNumber, m.MoveSAN); err != nil {
			return fmt.Errorf("insert move %d for game %s: %w", m.MoveNumber, gameID, err)
		}
	}
	return tx.Commit()
}

// LastMoveTime implements store.Store.
func (s *Store) LastMoveTime(ctx context.Context, playerID string) (int64, error) {
	var query string
	var args []any
	if playerID == "" {
		query = `SELECT MAX(last_move_at) FROM games`
	} else {
		query = `
			SELECT MAX(g.last_move_at) FROM games g
			JOIN game_players gp ON gp.game_id = g.game_id
			WHERE gp.player_id = ?
		`
		args = []any{playerID}
	}

	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ts); err != nil {
		return 0, fmt.Errorf("query last move time: %w", err)
	}
	if !ts.Valid {
		return 0, nil
	}
	t, err := time.Parse(timeFormat, ts.String)
	if err != nil {
		return 0, fmt.Errorf("parse last move time %q: %w", ts.String, err)
	}
	return t.UnixMilli(), nil
}

// ClaimNextPlayer implements store.Store. It relies on SQLite's
// single-writer serialization (the connection pool is capped at one open
// connection, see Open) to give the same at-most-one-claimant guarantee
// Postgres gets from FOR UPDATE SKIP LOCKED: only one write transaction
// ever executes at a time, so the SELECT-then-UPDATE pair below is
// effectively atomic with respect to other callers.
func (s *Store) ClaimNextPlayer(ctx context.Context, now time.Time) (store.ClaimedPlayer, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return store.ClaimedPlayer{}, fmt.Errorf("acquire claim connection: %w", err)
	}
	defer conn.Close()

	// BEGIN IMMEDIATE takes the write lock up front instead of on first
	// write, avoiding the upgrade deadlock a plain BEGIN risks under
	// concurrent readers-then-writers. database/sql's Tx always issues a
	// plain BEGIN, so the transaction is driven by hand here.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return store.ClaimedPlayer{}, fmt.Errorf("acquire claim lock: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	cutoff := now.Add(-24 * time.Hour).Format(timeFormat)

	row := conn.QueryRowContext(ctx, `
		SELECT player_id, name, flair, depth, last_fetched_at
		FROM players
		WHERE depth <= 1 AND (last_fetched_at IS NULL OR last_fetched_at < ?)
		ORDER BY last_fetched_at IS NOT NULL, last_fetched_at ASC
		LIMIT 1
	`, cutoff)

	var (
		playerID, name string
		flair          sql.NullString
		depth          int
		lastFetchedAt  sql.NullString
	)
	if err := row.Scan(&playerID, &name, &flair, &depth, &lastFetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ClaimedPlayer{}, store.ErrNotFound
		}
		return store.ClaimedPlayer{}, fmt.Errorf("scan claim candidate: %w", err)
	}

	previous, err := stringToTimePtr(lastFetchedAt)
	if err != nil {
		return store.ClaimedPlayer{}, err
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE players SET last_fetched_at = ? WHERE player_id = ?
	`, now.Format(timeFormat), playerID); err != nil {
		return store.ClaimedPlayer{}, fmt.Errorf("advance last_fetched_at for %s: %w", playerID, err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return store.ClaimedPlayer{}, fmt.Errorf("commit claim: %w", err)
	}
	committed = true

	nowCopy := now
	return store.ClaimedPlayer{
		Player: store.Player{
			PlayerID:      playerID,
			Name:          name,
			Flair:         strPtr(flair),
			Depth:         depth,
			LastFetchedAt: &nowCopy,
		},
		PreviousFetchedAt: previous,
	}, nil
}

// GamesNeedingAnalysis implements store.Store. SQLite has no GIN "has all
// keys" test; this scans game_metrics using json_each to find games whose
// metrics object is missing at least one of pluginNames (a row in
// game_metrics is assumed created once any plugin ever writes to it, so a
// game_id entirely absent from game_metrics counts as missing every key).
func (s *Store) GamesNeedingAnalysis(ctx context.Context, pluginNames []string, limit int) ([]string, error) {
	if len(pluginNames) == 0 || limit <= 0 {
		return nil, nil
	}

	missing := make([]string, len(pluginNames))
	args := make([]any, 0, len(pluginNames)+1)
	for i, name := range pluginNames {
		missing[i] = `NOT EXISTS (
			SELECT 1 FROM json_each(COALESCE(gm.metrics, '{}')) je WHERE je.key = ?
		)`
		args = append(args, name)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT g.game_id
		FROM games g
		LEFT JOIN game_metrics gm ON gm.game_id = g.game_id
		WHERE %s
		ORDER BY g.last_move_at ASC
		LIMIT ?
	`, strings.Join(missing, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query games needing analysis: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MergeMetrics implements store.Store: new keys are added, duplicate keys
// overwritten, other keys retained. Each top-level key of patch is first
// removed with json_remove so that json_patch stores its value whole
// instead of merging nested objects; a key whose patch value is JSON null
// ends up removed rather than stored.
func (s *Store) MergeMetrics(ctx context.Context, gameID string, patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metrics patch for %s: %w", gameID, err)
	}

	paths := make([]string, 0, len(patch))
	args := []any{gameID, string(patchJSON)}
	for key := range patch {
		paths = append(paths, ", ?")
		args = append(args, fmt.Sprintf(`$."%s"`, key))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game_metrics (game_id, metrics) VALUES (?, ?)
		ON CONFLICT (game_id) DO UPDATE SET metrics = json_patch(json_remove(metrics`+strings.Join(paths, "")+`), excluded.metrics)
	`, args...)
	if err != nil {
		return fmt.Errorf("merge metrics for %s: %w", gameID, err)
	}
	return nil
}

// ReadMetrics implements store.Store.
func (s *Store) ReadMetrics(ctx context.Context, gameID string) (store.GameMetrics, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT metrics FROM game_metrics WHERE game_id = ?`, gameID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.GameMetrics{}, store.ErrNotFound
	}
	if err != nil {
		return store.GameMetrics{}, fmt.Errorf("read metrics for %s: %w", gameID, err)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return store.GameMetrics{}, fmt.Errorf("unmarshal metrics for %s: %w", gameID, err)
	}
	return store.GameMetrics{GameID: gameID, Metrics: m}, nil
}

// ReadPGN implements store.Store.
func (s *Store) ReadPGN(ctx context.Context, gameID string) (string, error) {
	var pgn sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT pgn FROM games WHERE game_id = ?`, gameID).Scan(&pgn)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read pgn for %s: %w", gameID, err)
	}
	if !pgn.Valid || pgn.String == "" {
		return "", store.ErrNotFound
	}
	return pgn.String, nil
}

// GetPlayer implements store.Store.
func (s *Store) GetPlayer(ctx context.Context, playerID string) (store.Player, error) {
	var (
		name          string
		flair         sql.NullString
		depth         int
		lastFetchedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, flair, depth, last_fetched_at FROM players WHERE player_id = ?
	`, playerID).Scan(&name, &flair, &depth, &lastFetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Player{}, store.ErrNotFound
	}
	if err != nil {
		return store.Player{}, fmt.Errorf("get player %s: %w", playerID, err)
	}

	lastFetched, err := stringToTimePtr(lastFetchedAt)
	if err != nil {
		return store.Player{}, err
	}

	return store.Player{
		PlayerID:      playerID,
		Name:          name,
		Flair:         strPtr(flair),
		Depth:         depth,
		LastFetchedAt: lastFetched,
	}, nil
}

// AdvanceFetched implements store.Store.
func (s *Store) AdvanceFetched(ctx context.Context, playerID string, now time.Time) (store.Player, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET last_fetched_at = ? WHERE player_id = ?
	`, now.Format(timeFormat), playerID)
	if err != nil {
		return store.Player{}, fmt.Errorf("advance fetched for %s: %w", playerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Player{}, fmt.Errorf("advance fetched rows affected for %s: %w", playerID, err)
	}
	if n == 0 {
		return store.Player{}, store.ErrNotFound
	}
	return s.GetPlayer(ctx, playerID)
}

// intPtr/timePtrToString are kept for symmetry with the nullable-field
// helpers above even though not every accessor currently uses them; they
// mirror the shape of the Game/Player structs' optional int/time fields.
var _ = intPtr
var _ = timePtrToString
