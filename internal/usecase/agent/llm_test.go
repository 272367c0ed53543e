package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/usecase/eventbus"
	"wasm-arena/internal/usecase/gametest"
)

// scriptedProvider replies with the next canned answer and records requests.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	block   bool
	reqs    []domain.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	block, err := p.block, p.err
	var reply string
	if len(p.replies) > 0 {
		reply, p.replies = p.replies[0], p.replies[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{
		Model:   "scripted-1",
		Message: domain.Message{Role: domain.RoleAssistant, Content: reply},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}, nil
}

func (p *scriptedProvider) requests() []domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatRequest(nil), p.reqs...)
}

func startedAgent(t *testing.T, p domain.LLMProvider, eng domain.GameEngine, cfg LLMConfig, bus domain.EventBus) *LLMAgent {
	t.Helper()
	a := NewLLMAgent("llm-1", "Model", LLMAgentDeps{Provider: p, Config: cfg, Bus: bus})
	a.OnGameStart(context.Background(), domain.MatchStart{
		MatchID: "m1", Player: domain.PlayerOne, Engine: eng, Info: eng.Info(),
	})
	return a
}

func initial(t *testing.T, eng domain.GameEngine) *domain.GameState {
	t.Helper()
	s, err := eng.InitialState(context.Background())
	require.NoError(t, err)
	return s
}

func TestLLMAgent_ParsesSubstringReply(t *testing.T) {
	eng := &gametest.Engine{Moves: []string{"e2e4", "d2d4"}}
	p := &scriptedProvider{replies: []string{"I'll play e2e4 to open the center"}}
	a := startedAgent(t, p, eng, LLMConfig{MaxTokens: 32, Temperature: 0.1}, nil)

	move, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	require.NoError(t, err)
	assert.Equal(t, "e2e4", move.Data)
	assert.Equal(t, domain.PlayerOne, move.Player)

	reqs := p.requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, domain.RoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[1].Content, "e2e4, d2d4")
	assert.Equal(t, 32, reqs[0].MaxTokens)

	stats := a.Stats()
	assert.Equal(t, 1, stats.Moves)
	assert.Equal(t, 12, stats.Usage.TotalTokens)
	assert.Equal(t, domain.AgentLLM, a.Kind())
}

func TestLLMAgent_InvalidReplyFailsFast(t *testing.T) {
	eng := &gametest.Engine{Moves: []string{"e2e4", "d2d4"}}
	p := &scriptedProvider{replies: []string{"h7h8", "e2e4"}}
	a := startedAgent(t, p, eng, LLMConfig{}, nil)

	_, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	require.ErrorIs(t, err, domain.ErrInvalidMove)

	var ime *domain.InvalidMoveError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, "h7h8", ime.Move)
	assert.Equal(t, domain.PlayerOne, ime.Player)

	assert.Len(t, p.requests(), 1, "a rejected move is never retried")
	assert.Equal(t, 1, eng.Calls("ValidateMove"))
	assert.Equal(t, 0, a.Stats().Moves)
}

func TestLLMAgent_EmptyReply(t *testing.T) {
	eng := &gametest.Engine{}
	a := startedAgent(t, &scriptedProvider{replies: []string{"  "}}, eng, LLMConfig{}, nil)
	_, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	assert.ErrorIs(t, err, domain.ErrInvalidMove)
}

func TestLLMAgent_StructuredReplies(t *testing.T) {
	eng := &gametest.Engine{Moves: []string{"0,0", "1,1"}}
	p := &scriptedProvider{replies: []string{"```json\n{\"move\": \"1,1\"}\n```", "I pick 0,0"}}
	a := startedAgent(t, p, eng, LLMConfig{StructuredReplies: true}, nil)

	move, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	require.NoError(t, err)
	assert.Equal(t, "1,1", move.Data)
	assert.Contains(t, p.requests()[0].Messages[0].Content, `{"move": "<move>"}`)

	// Unstructured replies still parse as text.
	move, err = a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	require.NoError(t, err)
	assert.Equal(t, "0,0", move.Data)
}

func TestLLMAgent_ProviderErrorPassesThrough(t *testing.T) {
	eng := &gametest.Engine{}
	p := &scriptedProvider{err: domain.ErrRateLimit}
	a := startedAgent(t, p, eng, LLMConfig{}, nil)

	_, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.NotErrorIs(t, err, domain.ErrInvalidMove)
	assert.Equal(t, domain.CodeRateLimit, domain.ErrorCodeOf(err))
}

func TestLLMAgent_Timeout(t *testing.T) {
	eng := &gametest.Engine{}
	p := &scriptedProvider{block: true}
	a := startedAgent(t, p, eng, LLMConfig{Timeout: 20 * time.Millisecond}, nil)

	_, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	assert.ErrorIs(t, err, domain.ErrAgentTimeout)
}

func TestLLMAgent_CancelAndReset(t *testing.T) {
	eng := &gametest.Engine{}
	p := &scriptedProvider{block: true}
	a := startedAgent(t, p, eng, LLMConfig{}, nil)
	state := initial(t, eng)

	done := make(chan error, 1)
	go func() {
		_, err := a.GetMove(context.Background(), state, domain.PlayerOne)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(p.requests()) == 1 }, time.Second, time.Millisecond)
	a.Cancel()
	assert.ErrorIs(t, <-done, domain.ErrAgentCancelled)

	_, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	assert.ErrorIs(t, err, domain.ErrAgentCancelled)
	assert.Len(t, p.requests(), 1, "a cancelled agent makes no further calls")

	a.Reset()
	p.mu.Lock()
	p.block = false
	p.replies = []string{"b"}
	p.mu.Unlock()
	move, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	require.NoError(t, err)
	assert.Equal(t, "b", move.Data)
}

func TestLLMAgent_NotStarted(t *testing.T) {
	a := NewLLMAgent("llm-1", "Model", LLMAgentDeps{Provider: &scriptedProvider{}})
	_, err := a.GetMove(context.Background(), &domain.GameState{}, domain.PlayerOne)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLLMAgent_PublishesCallEvents(t *testing.T) {
	bus := eventbus.New(slog.New(slog.DiscardHandler))
	defer bus.Close()

	var mu sync.Mutex
	var types []domain.EventType
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	eng := &gametest.Engine{}
	a := startedAgent(t, &scriptedProvider{replies: []string{"a"}}, eng, LLMConfig{}, bus)
	_, err := a.GetMove(context.Background(), initial(t, eng), domain.PlayerOne)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []domain.EventType{domain.EventLLMCallStarted, domain.EventLLMCallCompleted}, types)
}

func TestLLMAgent_SystemPromptCachedPerMatch(t *testing.T) {
	eng := &gametest.Engine{Meta: domain.GameMetadata{
		Name: "Chess",
		AIPrompts: &domain.AIPrompts{
			SystemPrompt:   "You are a grandmaster.",
			RulesPrompt:    "Standard rules.",
			StrategicHints: []string{"control the center"},
			MoveExamples:   []string{"e2e4"},
		},
	}}
	a := startedAgent(t, &scriptedProvider{}, eng, LLMConfig{}, nil)

	first := a.SystemPrompt(domain.PlayerOne)
	assert.Contains(t, first, "You are a grandmaster.")
	assert.Contains(t, first, "Standard rules.")
	assert.Contains(t, first, "- control the center")
	assert.Contains(t, first, "Example moves: e2e4")
	assert.Equal(t, first, a.SystemPrompt(domain.PlayerTwo), "prompt is built once per match")

	a.OnGameStart(context.Background(), domain.MatchStart{MatchID: "m2", Player: domain.PlayerTwo, Engine: eng, Info: eng.Info()})
	assert.Contains(t, a.SystemPrompt(domain.PlayerTwo), "player_two")
}

func TestBuildTurnPrompt(t *testing.T) {
	history := []domain.Move{domain.NewMove(domain.PlayerOne, "0,0"), domain.NewMove(domain.PlayerTwo, "1,1")}
	got := buildTurnPrompt("X . .\n. O .\n. . .", []string{"0,1", "2,2"}, history, domain.PlayerOne)
	assert.Contains(t, got, "X . .")
	assert.Contains(t, got, "- player_one: 0,0")
	assert.Contains(t, got, "- player_two: 1,1")
	assert.Contains(t, got, "Valid moves: 0,1, 2,2")
}

func TestBuildSystemPrompt_Default(t *testing.T) {
	got := buildSystemPrompt(domain.GameInfo{Name: "Tic-Tac-Toe", Description: "three in a row"}, domain.PlayerTwo, false)
	assert.Contains(t, got, "You are playing Tic-Tac-Toe as player_two.")
	assert.Contains(t, got, "three in a row")
	assert.NotContains(t, got, "JSON")
}
