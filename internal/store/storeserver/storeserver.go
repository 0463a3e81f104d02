// Package storeserver exposes a store.Store over the HTTP surface described
// in spec §6, using plain net/http and encoding/json — the same style the
// teacher's HTTP ingester uses for its own JSON-over-HTTP protocol, rather
// than a generated or framework server.
package storeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"chesscrawler/internal/logging"
	"chesscrawler/internal/sanvalidate"
	"chesscrawler/internal/store"
)

// Server serves the Store API surface over HTTP.
type Server struct {
	addr     string
	store    store.Store
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// Config holds HTTP store server configuration.
type Config struct {
	Addr   string
	Store  store.Store
	Logger *slog.Logger
}

// New creates a Server. It does not start listening until Run is called.
func New(cfg Config) *Server {
	return &Server{
		addr:   cfg.Addr,
		store:  cfg.Store,
		logger: logging.Default(cfg.Logger).With("component", "storeserver"),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /games/", s.handleUpsertGame)
	mux.HandleFunc("POST /games/batch", s.handleUpsertGameBatch)
	mux.HandleFunc("POST /games/{id}/players/", s.handleLinkPlayer)
	mux.HandleFunc("POST /games/players/batch", s.handleLinkPlayersBatch)
	mux.HandleFunc("POST /games/{id}/moves/", s.handleInsertMoves)
	mux.HandleFunc("GET /games/get_last_move_played_time", s.handleLastMoveTime)
	mux.HandleFunc("GET /games/get_last_move_played_time/{player}", s.handleLastMoveTime)
	mux.HandleFunc("GET /games/{id}/pgn", s.handleReadPGN)
	mux.HandleFunc("POST /games/{id}/metrics", s.handleMergeMetrics)
	mux.HandleFunc("GET /games/{id}/metrics", s.handleReadMetrics)
	mux.HandleFunc("POST /games/analysis/queue", s.handleAnalysisQueue)
	mux.HandleFunc("POST /players/", s.handleUpsertPlayer)
	mux.HandleFunc("POST /players/batch", s.handleUpsertPlayerBatch)
	mux.HandleFunc("GET /players/process/next", s.handleClaimNextPlayer)
	mux.HandleFunc("PUT /players/{id}/fetched", s.handleAdvanceFetched)
	mux.HandleFunc("GET /players/{id}", s.handleGetPlayer)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.logger.Info("store server starting", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("store server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error, status int) {
	s.logger.Warn("request failed", "error", err, "status", status)
	http.Error(w, err.Error(), status)
}

func (s *Server) statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleUpsertGame(w http.ResponseWriter, req *http.Request) {
	var g store.Game
	if err := json.NewDecoder(req.Body).Decode(&g); err != nil {
		s.writeErr(w, fmt.Errorf("decode game: %w", err), http.StatusBadRequest)
		return
	}
	got, err := s.store.UpsertGame(req.Context(), g)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleUpsertGameBatch(w http.ResponseWriter, req *http.Request) {
	var games []store.Game
	if err := json.NewDecoder(req.Body).Decode(&games); err != nil {
		s.writeErr(w, fmt.Errorf("decode games: %w", err), http.StatusBadRequest)
		return
	}
	got, err := s.store.UpsertGameBatch(req.Context(), games)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleLinkPlayer(w http.ResponseWriter, req *http.Request) {
	gameID := req.PathValue("id")
	var gp store.GamePlayer
	if err := json.NewDecoder(req.Body).Decode(&gp); err != nil {
		s.writeErr(w, fmt.Errorf("decode game player: %w", err), http.StatusBadRequest)
		return
	}
	gp.GameID = gameID
	if err := s.store.LinkPlayerToGame(req.Context(), gp); err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLinkPlayersBatch(w http.ResponseWriter, req *http.Request) {
	var gps []store.GamePlayer
	if err := json.NewDecoder(req.Body).Decode(&gps); err != nil {
		s.writeErr(w, fmt.Errorf("decode game players: %w", err), http.StatusBadRequest)
		return
	}
	if err := s.store.LinkPlayersToGameBatch(req.Context(), gps); err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type insertMovesRequest struct {
	Moves       string  `json:"moves"`
	Variant     string  `json:"variant,omitempty"`
	InitialFEN  *string `json:"initial_fen,omitempty"`
}

func (s *Server) handleInsertMoves(w http.ResponseWriter, req *http.Request) {
	gameID := req.PathValue("id")
	var body insertMovesRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeErr(w, fmt.Errorf("decode moves request: %w", err), http.StatusBadRequest)
		return
	}

	sans, err := sanvalidate.Split(body.Moves)
	if err != nil {
		// An unparseable move sequence is not an error at the game level:
		// commit zero moves and report success.
		s.logger.Warn("unparseable move sequence, committing without moves", "game_id", gameID, "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	moves := make([]store.GameMove, len(sans))
	for i, san := range sans {
		moves[i] = store.GameMove{GameID: gameID, MoveNumber: i + 1, MoveSAN: san}
	}

	if err := s.store.InsertMoves(req.Context(), gameID, moves); err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLastMoveTime(w http.ResponseWriter, req *http.Request) {
	player := req.PathValue("player")
	ts, err := s.store.LastMoveTime(req.Context(), player)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"last_move_played_time": ts})
}

func (s *Server) handleReadPGN(w http.ResponseWriter, req *http.Request) {
	gameID := req.PathValue("id")
	pgn, err := s.store.ReadPGN(req.Context(), gameID)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pgn": pgn})
}

func (s *Server) handleMergeMetrics(w http.ResponseWriter, req *http.Request) {
	gameID := req.PathValue("id")
	var patch map[string]any
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		s.writeErr(w, fmt.Errorf("decode metrics patch: %w", err), http.StatusBadRequest)
		return
	}
	if err := s.store.MergeMetrics(req.Context(), gameID, patch); err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadMetrics(w http.ResponseWriter, req *http.Request) {
	gameID := req.PathValue("id")
	m, err := s.store.ReadMetrics(req.Context(), gameID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, m.Metrics)
}

func (s *Server) handleAnalysisQueue(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			s.writeErr(w, fmt.Errorf("invalid limit: %w", err), http.StatusBadRequest)
			return
		}
	}

	var pluginNames []string
	if err := json.NewDecoder(req.Body).Decode(&pluginNames); err != nil {
		s.writeErr(w, fmt.Errorf("decode plugin names: %w", err), http.StatusBadRequest)
		return
	}

	ids, err := s.store.GamesNeedingAnalysis(req.Context(), pluginNames, limit)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleUpsertPlayer(w http.ResponseWriter, req *http.Request) {
	var p store.Player
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		s.writeErr(w, fmt.Errorf("decode player: %w", err), http.StatusBadRequest)
		return
	}
	got, err := s.store.UpsertPlayer(req.Context(), p)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleUpsertPlayerBatch(w http.ResponseWriter, req *http.Request) {
	var players []store.Player
	if err := json.NewDecoder(req.Body).Decode(&players); err != nil {
		s.writeErr(w, fmt.Errorf("decode players: %w", err), http.StatusBadRequest)
		return
	}
	got, err := s.store.UpsertPlayerBatch(req.Context(), players)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleClaimNextPlayer(w http.ResponseWriter, req *http.Request) {
	claimed, err := s.store.ClaimNextPlayer(req.Context(), time.Now())
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no eligible player", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, claimed)
}

func (s *Server) handleAdvanceFetched(w http.ResponseWriter, req *http.Request) {
	playerID := req.PathValue("id")
	p, err := s.store.AdvanceFetched(req.Context(), playerID, time.Now())
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	playerID := req.PathValue("id")
	p, err := s.store.GetPlayer(req.Context(), playerID)
	if err != nil {
		s.writeErr(w, err, s.statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
