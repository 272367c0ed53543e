package wasm

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/plugin/wasm/wasmtest"
)

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

func (b *recordingBus) ofType(typ domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRuntime(t *testing.T, cfg RuntimeConfig, log *slog.Logger, bus domain.EventBus) *Runtime {
	t.Helper()
	if log == nil {
		log = logger.Discard()
	}
	rt, err := NewRuntime(context.Background(), cfg, log, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

type fixture struct {
	rt     *Runtime
	host   *wasmtest.Host
	inst   *Instance
	engine *Engine
}

func newFixture(t *testing.T, game wasmtest.Game, opts wasmtest.Options, meta domain.GameMetadata) *fixture {
	t.Helper()
	return newFixtureWith(t, DefaultRuntimeConfig(), game, opts, meta)
}

func newFixtureWith(t *testing.T, cfg RuntimeConfig, game wasmtest.Game, opts wasmtest.Options, meta domain.GameMetadata) *fixture {
	t.Helper()
	ctx := context.Background()

	rt := newRuntime(t, cfg, nil, nil)
	host, err := wasmtest.Install(ctx, rt.Inner(), game)
	require.NoError(t, err)

	compiled, err := rt.Compile(ctx, wasmtest.Module(opts))
	require.NoError(t, err)
	inst, err := rt.Instantiate(ctx, compiled, "game")
	require.NoError(t, err)

	eng, err := NewEngine(ctx, inst, meta, logger.Discard())
	require.NoError(t, err)
	return &fixture{rt: rt, host: host, inst: inst, engine: eng}
}

func shortTimeout() RuntimeConfig {
	cfg := DefaultRuntimeConfig()
	cfg.CallTimeout = 100 * time.Millisecond
	return cfg
}

// scriptedGame wraps TicTacToe and lets a test override single replies.
type scriptedGame struct {
	wasmtest.TicTacToe
	apply   func(state, move string) string
	winner  string
	moves   string
	over    *bool
	current string
}

func (g scriptedGame) ApplyMove(state, move string) string {
	if g.apply != nil {
		return g.apply(state, move)
	}
	return g.TicTacToe.ApplyMove(state, move)
}

func (g scriptedGame) Winner(state string) string {
	if g.winner != "" {
		return g.winner
	}
	return g.TicTacToe.Winner(state)
}

func (g scriptedGame) ValidMoves(state string) string {
	if g.moves != "" {
		return g.moves
	}
	return g.TicTacToe.ValidMoves(state)
}

func (g scriptedGame) IsGameOver(state string) bool {
	if g.over != nil {
		return *g.over
	}
	return g.TicTacToe.IsGameOver(state)
}

func (g scriptedGame) CurrentPlayer(state string) string {
	if g.current != "" {
		return g.current
	}
	return g.TicTacToe.CurrentPlayer(state)
}
