package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wasm-arena/internal/domain"
)

// Registry holds the games loaded into this process, keyed by id.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*LoadedGame
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*LoadedGame)}
}

// Add registers g. An id already present is rejected.
func (r *Registry) Add(g *LoadedGame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.games[g.ID]; exists {
		return fmt.Errorf("%w: game %s", domain.ErrDuplicate, g.ID)
	}
	r.games[g.ID] = g
	return nil
}

// Get returns the game with id.
func (r *Registry) Get(id string) (*LoadedGame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	return g, nil
}

// List returns every loaded game, oldest first.
func (r *Registry) List() []*LoadedGame {
	r.mu.RLock()
	out := make([]*LoadedGame, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LoadedAt.Equal(out[j].LoadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LoadedAt.Before(out[j].LoadedAt)
	})
	return out
}

// Remove unregisters and returns the game with id.
func (r *Registry) Remove(id string) (*LoadedGame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	delete(r.games, id)
	return g, nil
}

// SpawnEngine starts a fresh engine for game id. The caller closes it.
func (r *Registry) SpawnEngine(ctx context.Context, id string) (domain.GameEngine, error) {
	g, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	eng, err := g.Spawn(ctx)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// Len returns the number of loaded games.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// findDigest returns a loaded game with the given module digest.
func (r *Registry) findDigest(digest string) (*LoadedGame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.games {
		if g.Digest == digest {
			return g, true
		}
	}
	return nil, false
}
