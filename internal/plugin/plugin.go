// Package plugin defines the two analyzer plugin shapes (spec §4.5) and a
// registry for them, built in the register-before-start style the teacher
// uses for its own chunk/index/ingester managers.
package plugin

import (
	"context"
	"sync"

	"chesscrawler/internal/engine"
)

// Game is the in-memory parsed game a plugin analyzes.
type Game struct {
	GameID         string
	Moves          []string
	Variant        string
	ClockInitial   *int
	ClockIncrement *int
	ClockTotalTime *int
}

// Pure is a plugin whose analysis depends only on the game record.
type Pure interface {
	Name() string
	Version() string
	Analyze(ctx context.Context, g Game) (map[string]any, error)
}

// EngineUser is a plugin that additionally drives an externally managed
// analysis engine process, launched per task and released on all exit
// paths by the caller.
type EngineUser interface {
	Name() string
	Version() string
	Analyze(ctx context.Context, g Game, eng engine.Engine) (map[string]any, error)
}

// Registry holds the active set of registered plugins, keyed by name.
// Names are unique across both pure and engine-requiring plugins.
type Registry struct {
	mu      sync.RWMutex
	pure    map[string]Pure
	engines map[string]EngineUser
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pure:    make(map[string]Pure),
		engines: make(map[string]EngineUser),
	}
}

// RegisterPure adds a pure plugin. Must be called before the analysis
// scheduler starts reading Names().
func (r *Registry) RegisterPure(p Pure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pure[p.Name()] = p
}

// RegisterEngine adds an engine-requiring plugin.
func (r *Registry) RegisterEngine(p EngineUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[p.Name()] = p
}

// Names returns every registered plugin name, pure and engine-requiring
// alike. Used by the analysis scheduler to test "missing at least one
// plugin key".
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pure)+len(r.engines))
	for name := range r.pure {
		names = append(names, name)
	}
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}

// Pure returns the pure plugin registered under name, or nil.
func (r *Registry) Pure(name string) Pure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pure[name]
}

// EngineUsers returns every registered engine-requiring plugin.
func (r *Registry) EngineUsers() []EngineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EngineUser, 0, len(r.engines))
	for _, p := range r.engines {
		out = append(out, p)
	}
	return out
}

// PureList returns every registered pure plugin.
func (r *Registry) PureList() []Pure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pure, 0, len(r.pure))
	for _, p := range r.pure {
		out = append(out, p)
	}
	return out
}
