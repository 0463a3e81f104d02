package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"chesscrawler/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPragmas(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", journalMode)
	}

	var fk int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=1, got %d", fk)
	}
}

func TestSchema(t *testing.T) {
	s := newTestStore(t)

	tables := map[string]bool{}
	rows, err := s.db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		t.Fatalf("query tables: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		tables[name] = true
	}

	for _, want := range []string{"players", "games", "game_players", "game_moves", "game_metrics", "schema_migrations"} {
		if !tables[want] {
			t.Errorf("expected table %q, got tables: %v", want, tables)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.db.QueryRow("SELECT count(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration version, got %d", count)
	}
}

func TestUpsertPlayerNeverTouchesLastFetchedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "magnus", Name: "Magnus", Depth: 0}); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if _, err := s.ClaimNextPlayer(ctx, now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "magnus", Name: "Magnus Carlsen", Depth: 0})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if got.Name != "Magnus Carlsen" {
		t.Errorf("expected updated name, got %q", got.Name)
	}
	if got.LastFetchedAt == nil || !got.LastFetchedAt.Equal(now) {
		t.Errorf("expected last_fetched_at to survive upsert as %v, got %v", now, got.LastFetchedAt)
	}
}

func TestClaimNextPlayerExcludesDeepPlayers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "opponent-of-opponent", Depth: 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_, err := s.ClaimNextPlayer(ctx, time.Now().UTC())
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for depth>1 only players, got %v", err)
	}
}

func TestClaimNextPlayerOrdersByOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)

	if _, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "never-fetched", Depth: 0}); err != nil {
		t.Fatalf("upsert never-fetched: %v", err)
	}
	if _, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "stale", Depth: 0}); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}
	if _, err := s.AdvanceFetched(ctx, "stale", now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("prime stale: %v", err)
	}

	claimed, err := s.ClaimNextPlayer(ctx, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Player.PlayerID != "never-fetched" {
		t.Errorf("expected never-fetched player claimed first, got %q", claimed.Player.PlayerID)
	}
}

func TestClaimNextPlayerReturnsPreviousFetchedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "p1", Depth: 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	first := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)
	claim1, err := s.ClaimNextPlayer(ctx, first)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claim1.PreviousFetchedAt != nil {
		t.Errorf("expected nil previous fetched at on first claim, got %v", claim1.PreviousFetchedAt)
	}

	second := time.Now().UTC().Truncate(time.Millisecond)
	claim2, err := s.ClaimNextPlayer(ctx, second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claim2.PreviousFetchedAt == nil || !claim2.PreviousFetchedAt.Equal(first) {
		t.Errorf("expected previous fetched at %v, got %v", first, claim2.PreviousFetchedAt)
	}
}

func TestGamesNeedingAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g := store.Game{
		GameID: "g1", Rated: true, Variant: "standard", Speed: "blitz", Perf: "blitz",
		CreatedAt: time.Now().UTC(), LastMoveAt: time.Now().UTC(), Status: "mate",
	}
	if _, err := s.UpsertGame(ctx, g); err != nil {
		t.Fatalf("upsert game: %v", err)
	}

	ids, err := s.GamesNeedingAnalysis(ctx, []string{"move_count", "castling"}, 10)
	if err != nil {
		t.Fatalf("GamesNeedingAnalysis: %v", err)
	}
	if len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("expected [g1], got %v", ids)
	}

	if err := s.MergeMetrics(ctx, "g1", map[string]any{"move_count": 42}); err != nil {
		t.Fatalf("merge metrics: %v", err)
	}

	ids, err = s.GamesNeedingAnalysis(ctx, []string{"move_count", "castling"}, 10)
	if err != nil {
		t.Fatalf("GamesNeedingAnalysis after partial merge: %v", err)
	}
	if len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("expected g1 still missing castling, got %v", ids)
	}

	if err := s.MergeMetrics(ctx, "g1", map[string]any{"castling": true}); err != nil {
		t.Fatalf("merge metrics castling: %v", err)
	}

	ids, err = s.GamesNeedingAnalysis(ctx, []string{"move_count", "castling"}, 10)
	if err != nil {
		t.Fatalf("GamesNeedingAnalysis after full merge: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no games needing analysis, got %v", ids)
	}
}

func TestMergeMetricsPreservesExistingKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g := store.Game{
		GameID: "g2", Variant: "standard", Speed: "blitz", Perf: "blitz",
		CreatedAt: time.Now().UTC(), LastMoveAt: time.Now().UTC(), Status: "mate",
	}
	if _, err := s.UpsertGame(ctx, g); err != nil {
		t.Fatalf("upsert game: %v", err)
	}

	if err := s.MergeMetrics(ctx, "g2", map[string]any{"move_count": float64(10)}); err != nil {
		t.Fatalf("merge 1: %v", err)
	}
	if err := s.MergeMetrics(ctx, "g2", map[string]any{"castling": map[string]any{"white": true}}); err != nil {
		t.Fatalf("merge 2: %v", err)
	}

	m, err := s.ReadMetrics(ctx, "g2")
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if m.Metrics["move_count"] != float64(10) {
		t.Errorf("expected move_count to survive second merge, got %v", m.Metrics["move_count"])
	}
	if _, ok := m.Metrics["castling"]; !ok {
		t.Errorf("expected castling key present, got %v", m.Metrics)
	}
}

func TestLinkPlayerToGameIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g := store.Game{
		GameID: "g3", Variant: "standard", Speed: "blitz", Perf: "blitz",
		CreatedAt: time.Now().UTC(), LastMoveAt: time.Now().UTC(), Status: "mate",
	}
	if _, err := s.UpsertGame(ctx, g); err != nil {
		t.Fatalf("upsert game: %v", err)
	}
	if _, err := s.UpsertPlayer(ctx, store.Player{PlayerID: "p1"}); err != nil {
		t.Fatalf("upsert player: %v", err)
	}

	gp := store.GamePlayer{GameID: "g3", PlayerID: "p1", Color: store.White, Rating: 2000}
	if err := s.LinkPlayerToGame(ctx, gp); err != nil {
		t.Fatalf("first link: %v", err)
	}
	if err := s.LinkPlayerToGame(ctx, gp); err != nil {
		t.Fatalf("second link (idempotent): %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT count(*) FROM game_players WHERE game_id = ? AND player_id = ?", "g3", "p1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one game_players row, got %d", count)
	}
}

func TestReadPGNNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.ReadPGN(ctx, "missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseReleasesDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("re-open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("ping after re-open: %v", err)
	}
}
