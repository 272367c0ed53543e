package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/plugin/wasm"
	"wasm-arena/internal/plugin/wasm/wasmtest"
)

// memStore is an in-memory domain.GameStore.
type memStore struct {
	mu      sync.Mutex
	games   map[string]domain.StoredGame
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{games: make(map[string]domain.StoredGame)}
}

func (s *memStore) Save(_ context.Context, g domain.StoredGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.games[g.ID] = g
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.StoredGame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	return &g, nil
}

func (s *memStore) List(context.Context) ([]domain.StoredGame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StoredGame, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	delete(s.games, id)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

var errDiskFull = errors.New("disk full")

// recordingBus records published events.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

// newLoader builds a loader on a fresh runtime serving game to test modules.
// A nil store disables persistence.
func newLoader(t *testing.T, game wasmtest.Game, store domain.GameStore) (*Loader, *recordingBus) {
	t.Helper()
	ctx := context.Background()

	bus := &recordingBus{}
	rt, err := wasm.NewRuntime(ctx, wasm.DefaultRuntimeConfig(), logger.Discard(), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	_, err = wasmtest.Install(ctx, rt.Inner(), game)
	require.NoError(t, err)

	return NewLoader(rt, NewRegistry(), store, bus, logger.Discard()), bus
}

func tttMeta() domain.GameMetadata {
	return domain.GameMetadata{Name: "Tic-Tac-Toe", MinPlayers: 2, MaxPlayers: 2, Difficulty: "easy"}
}

type blankRender struct{ wasmtest.TicTacToe }

func (blankRender) Render(string) string { return "" }

type stubbornGame struct{ wasmtest.TicTacToe }

// ApplyMove echoes the state, which the engine treats as a rejection.
func (stubbornGame) ApplyMove(state, _ string) string { return state }
