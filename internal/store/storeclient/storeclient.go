// Package storeclient implements store.Store against the HTTP surface
// described in spec §6, over plain net/http and encoding/json — mirroring
// coordclient's stdlib-only JSON-over-HTTP client style rather than a
// generated client.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chesscrawler/internal/store"
)

// Client is an HTTP-backed store.Store.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ store.Store = (*Client)(nil)

// New creates a Client against baseURL (e.g. "http://store:8090").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp, store.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("store: unexpected status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// UpsertGame implements store.Store.
func (c *Client) UpsertGame(ctx context.Context, g store.Game) (store.Game, error) {
	var out store.Game
	_, err := c.do(ctx, http.MethodPost, "/games/", g, &out)
	return out, err
}

// UpsertGameBatch implements store.Store.
func (c *Client) UpsertGameBatch(ctx context.Context, games []store.Game) ([]store.Game, error) {
	var out []store.Game
	_, err := c.do(ctx, http.MethodPost, "/games/batch", games, &out)
	return out, err
}

// UpsertPlayer implements store.Store.
func (c *Client) UpsertPlayer(ctx context.Context, p store.Player) (store.Player, error) {
	var out store.Player
	_, err := c.do(ctx, http.MethodPost, "/players/", p, &out)
	return out, err
}

// UpsertPlayerBatch implements store.Store.
func (c *Client) UpsertPlayerBatch(ctx context.Context, players []store.Player) ([]store.Player, error) {
	var out []store.Player
	_, err := c.do(ctx, http.MethodPost, "/players/batch", players, &out)
	return out, err
}

// LinkPlayerToGame implements store.Store.
func (c *Client) LinkPlayerToGame(ctx context.Context, gp store.GamePlayer) error {
	_, err := c.do(ctx, http.MethodPost, "/games/"+url.PathEscape(gp.GameID)+"/players/", gp, nil)
	return err
}

// LinkPlayersToGameBatch implements store.Store.
func (c *Client) LinkPlayersToGameBatch(ctx context.Context, gps []store.GamePlayer) error {
	_, err := c.do(ctx, http.MethodPost, "/games/players/batch", gps, nil)
	return err
}

type insertMovesRequest struct {
	Moves string `json:"moves"`
}

// InsertMoves implements store.Store. The server parses and re-splits the
// SAN string rather than accepting the pre-split []GameMove, matching the
// upstream wire contract (spec §6): the client reassembles a single SAN
// string from the move slice it was given.
func (c *Client) InsertMoves(ctx context.Context, gameID string, moves []store.GameMove) error {
	sans := make([]string, len(moves))
	for i, m := range moves {
		sans[i] = m.MoveSAN
	}
	body := insertMovesRequest{Moves: joinSpace(sans)}
	_, err := c.do(ctx, http.MethodPost, "/games/"+url.PathEscape(gameID)+"/moves/", body, nil)
	return err
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

type lastMoveTimeResponse struct {
	LastMovePlayedTime int64 `json:"last_move_played_time"`
}

// LastMoveTime implements store.Store.
func (c *Client) LastMoveTime(ctx context.Context, playerID string) (int64, error) {
	path := "/games/get_last_move_played_time"
	if playerID != "" {
		path += "/" + url.PathEscape(playerID)
	}
	var out lastMoveTimeResponse
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.LastMovePlayedTime, err
}

// ClaimNextPlayer implements store.Store. The now parameter is ignored on
// the wire: the store server stamps its own clock at claim time.
func (c *Client) ClaimNextPlayer(ctx context.Context, now time.Time) (store.ClaimedPlayer, error) {
	var out store.ClaimedPlayer
	_, err := c.do(ctx, http.MethodGet, "/players/process/next", nil, &out)
	return out, err
}

// GamesNeedingAnalysis implements store.Store.
func (c *Client) GamesNeedingAnalysis(ctx context.Context, pluginNames []string, limit int) ([]string, error) {
	path := "/games/analysis/queue?limit=" + strconv.Itoa(limit)
	var out []string
	_, err := c.do(ctx, http.MethodPost, path, pluginNames, &out)
	return out, err
}

// MergeMetrics implements store.Store.
func (c *Client) MergeMetrics(ctx context.Context, gameID string, patch map[string]any) error {
	_, err := c.do(ctx, http.MethodPost, "/games/"+url.PathEscape(gameID)+"/metrics", patch, nil)
	return err
}

// ReadMetrics implements store.Store.
func (c *Client) ReadMetrics(ctx context.Context, gameID string) (store.GameMetrics, error) {
	var raw map[string]any
	_, err := c.do(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID)+"/metrics", nil, &raw)
	if err != nil {
		return store.GameMetrics{}, err
	}
	if raw == nil {
		return store.GameMetrics{}, store.ErrNotFound
	}
	return store.GameMetrics{GameID: gameID, Metrics: raw}, nil
}

type pgnResponse struct {
	PGN string `json:"pgn"`
}

// ReadPGN implements store.Store.
func (c *Client) ReadPGN(ctx context.Context, gameID string) (string, error) {
	var out pgnResponse
	_, err := c.do(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID)+"/pgn", nil, &out)
	return out.PGN, err
}

// GetPlayer implements store.Store.
func (c *Client) GetPlayer(ctx context.Context, playerID string) (store.Player, error) {
	var out store.Player
	_, err := c.do(ctx, http.MethodGet, "/players/"+url.PathEscape(playerID), nil, &out)
	return out, err
}

// AdvanceFetched implements store.Store.
func (c *Client) AdvanceFetched(ctx context.Context, playerID string, now time.Time) (store.Player, error) {
	var out store.Player
	_, err := c.do(ctx, http.MethodPut, "/players/"+url.PathEscape(playerID)+"/fetched", nil, &out)
	return out, err
}
