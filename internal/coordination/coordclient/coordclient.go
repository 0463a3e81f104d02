// Package coordclient implements coordination.Coordination against an
// external coordination service over plain JSON-over-HTTP, following the
// same stdlib net/http + encoding/json style this codebase uses for its
// own HTTP ingester rather than pulling in a generated or framework client.
package coordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chesscrawler/internal/coordination"
)

// Client is an HTTP-backed Coordination implementation.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ coordination.Coordination = (*Client)(nil)

// New creates a Client against baseURL (e.g. "http://coordination:8091").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type acquireRequest struct {
	Name string `json:"name"`
	WaitMS int  `json:"wait_ms"`
	TTLMS  int  `json:"ttl_ms"`
}

type acquireResponse struct {
	Token string `json:"token"`
}

type clientLock struct {
	c     *Client
	name  string
	token string
}

// AcquireLock implements coordination.Coordination.
func (c *Client) AcquireLock(ctx context.Context, name string, wait, ttl time.Duration) (coordination.Lock, error) {
	body, err := json.Marshal(acquireRequest{
		Name:   name,
		WaitMS: int(wait.Milliseconds()),
		TTLMS:  int(ttl.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal acquire request: %w", err)
	}

	resp, err := c.post(ctx, "/locks/acquire", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out acquireResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode acquire response: %w", err)
		}
		return &clientLock{c: c, name: name, token: out.Token}, nil
	case http.StatusRequestTimeout, http.StatusConflict:
		return nil, coordination.ErrLockTimeout
	default:
		return nil, fmt.Errorf("coordination service: unexpected status %d", resp.StatusCode)
	}
}

func (l *clientLock) Release(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"name": l.name, "token": l.token})
	if err != nil {
		return fmt.Errorf("marshal release request: %w", err)
	}
	resp, err := l.c.post(ctx, "/locks/release", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("coordination service: release status %d", resp.StatusCode)
	}
	return nil
}

type setRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTLMS int    `json:"ttl_ms"`
}

// SetIfAbsent implements coordination.Coordination.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	body, err := json.Marshal(setRequest{Key: key, Value: value, TTLMS: int(ttl.Milliseconds())})
	if err != nil {
		return false, fmt.Errorf("marshal set request: %w", err)
	}
	resp, err := c.post(ctx, "/keys/set-if-absent", body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("coordination service: unexpected status %d", resp.StatusCode)
	}
}

// Clear implements coordination.Coordination.
func (c *Client) Clear(ctx context.Context, key string) error {
	body, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return fmt.Errorf("marshal clear request: %w", err)
	}
	resp, err := c.post(ctx, "/keys/clear", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("coordination service: clear status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

