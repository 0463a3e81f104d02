// Package memcoord is an in-process Coordination implementation backed by
// a mutex-protected map with lazy TTL expiry. It is grounded on the same
// expiring-entry pattern used elsewhere in this codebase for peer state
// (compare-on-read against a recorded timestamp, no background sweeper
// required for correctness — though one is provided here to bound map
// growth under a long-running process).
//
// Use memcoord for tests and for single-process deployments where the
// fetch/ingest/analyze workers all run in the same binary. A multi-process
// deployment needs a shared backend (see coordclient) instead.
package memcoord

import (
	"context"
	"sync"
	"time"

	"chesscrawler/internal/coordination"
)

type lockEntry struct {
	holder  chan struct{}
	expires time.Time
}

type keyEntry struct {
	value   string
	expires time.Time
}

// Coordination is an in-process, single-binary Coordination backend.
type Coordination struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	keys  map[string]keyEntry
	now   func() time.Time
}

var _ coordination.Coordination = (*Coordination)(nil)

// New creates an empty in-process Coordination backend. It starts no
// goroutine: expired entries are ignored on read and are only removed when
// Sweep is called.
func New() *Coordination {
	return &Coordination{
		locks: make(map[string]*lockEntry),
		keys:  make(map[string]keyEntry),
		now:   time.Now,
	}
}

// Sweep removes expired locks and keys. Safe to call concurrently; intended
// to be invoked periodically by a caller-owned ticker, or on demand in
// tests.
func (c *Coordination) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for name, l := range c.locks {
		if now.After(l.expires) {
			delete(c.locks, name)
		}
	}
	for key, k := range c.keys {
		if now.After(k.expires) {
			delete(c.keys, key)
		}
	}
}

type memLock struct {
	c       *Coordination
	name    string
	holder  chan struct{}
	once    sync.Once
}

func (l *memLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.c.mu.Lock()
		defer l.c.mu.Unlock()
		if cur, ok := l.c.locks[l.name]; ok && cur.holder == l.holder {
			delete(l.c.locks, l.name)
		}
		close(l.holder)
	})
	return nil
}

// AcquireLock implements coordination.Coordination.
func (c *Coordination) AcquireLock(ctx context.Context, name string, wait, ttl time.Duration) (coordination.Lock, error) {
	deadline := c.now().Add(wait)
	for {
		if lk, ok := c.tryAcquire(name, ttl); ok {
			return lk, nil
		}
		if c.now().After(deadline) {
			return nil, coordination.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Coordination) tryAcquire(name string, ttl time.Duration) (coordination.Lock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cur, ok := c.locks[name]; ok && now.Before(cur.expires) {
		return nil, false
	}

	holder := make(chan struct{})
	c.locks[name] = &lockEntry{holder: holder, expires: now.Add(ttl)}
	return &memLock{c: c, name: name, holder: holder}, true
}

// SetIfAbsent implements coordination.Coordination.
func (c *Coordination) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cur, ok := c.keys[key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	c.keys[key] = keyEntry{value: value, expires: now.Add(ttl)}
	return true, nil
}

// Clear implements coordination.Coordination.
func (c *Coordination) Clear(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}
