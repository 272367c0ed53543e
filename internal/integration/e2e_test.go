//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/adapter/llm"
	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/plugin/wasm"
	"wasm-arena/internal/plugin/wasm/wasmtest"
	"wasm-arena/internal/usecase/eventbus"
	"wasm-arena/internal/usecase/match"
)

// playLLMMatch pits the provider against itself on tic-tac-toe and
// returns the result.
func playLLMMatch(t *testing.T, ctx context.Context, pc config.ProviderConfig) *match.Result {
	t.Helper()
	log := logger.Discard()

	bus := eventbus.New(log)
	t.Cleanup(bus.Close)

	rt, err := wasm.NewRuntime(ctx, wasm.DefaultRuntimeConfig(), log, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	_, err = wasmtest.Install(ctx, rt.Inner(), wasmtest.TicTacToe{})
	require.NoError(t, err)

	registry := plugin.NewRegistry()
	loader := plugin.NewLoader(rt, registry, nil, bus, log)
	g, err := loader.LoadFromBytes(ctx, wasmtest.Module(wasmtest.Options{Allocator: true, Notation: 1}),
		domain.GameMetadata{Name: "Tic-Tac-Toe", Description: "Place three marks in a row. Moves are row,col from 0,0 to 2,2."})
	require.NoError(t, err)

	provider, err := llm.NewProvider(pc, log)
	require.NoError(t, err)
	providers := llm.NewRegistry()
	require.NoError(t, providers.Register(provider))
	providers.SetDefault(pc.Name)

	cfg := config.Defaults()
	svc := match.NewService(match.ServiceDeps{
		Games: registry, Providers: providers, Bus: bus, Logger: log,
		Match: cfg.Match, Agent: cfg.Agent,
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	sum, err := svc.Create(ctx, g.ID, []match.PlayerSpec{{Kind: domain.AgentLLM}, {Kind: domain.AgentLLM}})
	require.NoError(t, err)

	res, err := svc.Wait(ctx, sum.ID)
	require.NotNil(t, res)
	t.Logf("%s: status=%s outcome=%s winner=%s moves=%d err=%v",
		pc.Name, res.Status, res.Outcome, res.Winner, res.MoveCount, err)
	return res
}

func assertPlayed(t *testing.T, res *match.Result) {
	t.Helper()
	if res.Status == match.StatusErrored {
		// A reply naming no legal move ends the match.
		assert.Equal(t, domain.CodeInvalidMove, res.ErrorCode, res.Error)
		return
	}
	assert.Equal(t, match.StatusGameOver, res.Status)
	assert.GreaterOrEqual(t, res.MoveCount, 5)
	assert.LessOrEqual(t, res.MoveCount, 9)
}

func TestE2E_OpenAIPlaysTicTacToe(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.OpenAIKey, "OPENAI")

	ctx := NewTestContext(t, cfg.TestTimeout)
	res := playLLMMatch(t, ctx, config.ProviderConfig{
		Name: "openai", Type: "openai", APIKey: cfg.OpenAIKey, Model: "gpt-4o-mini",
		ConnTimeout: 10 * time.Second, RespTimeout: time.Minute,
	})
	assertPlayed(t, res)
}

func TestE2E_AnthropicPlaysTicTacToe(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.AnthropicKey, "ANTHROPIC")

	ctx := NewTestContext(t, cfg.TestTimeout)
	res := playLLMMatch(t, ctx, config.ProviderConfig{
		Name: "anthropic", Type: "anthropic", APIKey: cfg.AnthropicKey, Model: "claude-3-5-haiku-latest",
		ConnTimeout: 10 * time.Second, RespTimeout: time.Minute,
	})
	assertPlayed(t, res)
}

func TestE2E_GeminiPlaysTicTacToe(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.GeminiKey, "GEMINI")

	ctx := NewTestContext(t, cfg.TestTimeout)
	res := playLLMMatch(t, ctx, config.ProviderConfig{
		Name: "gemini", Type: "gemini", APIKey: cfg.GeminiKey, Model: "gemini-2.0-flash",
		ConnTimeout: 10 * time.Second, RespTimeout: time.Minute,
	})
	assertPlayed(t, res)
}

func TestE2E_OllamaPlaysTicTacToe(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	if cfg.OllamaURL == "" {
		t.Skip("Skipping Ollama integration test: OLLAMA_URL not set")
	}

	ctx := NewTestContext(t, cfg.TestTimeout)
	res := playLLMMatch(t, ctx, config.ProviderConfig{
		Name: "ollama", Type: "ollama", BaseURL: cfg.OllamaURL, Model: "llama3.2",
		ConnTimeout: 10 * time.Second, RespTimeout: 2 * time.Minute,
	})
	assertPlayed(t, res)
}
