package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/tracer"
)

// Defaults applied to a zero LLMConfig.
const (
	DefaultLLMTimeout    = 60 * time.Second
	DefaultHistoryLength = 10
)

// LLMConfig holds the per-agent call settings.
type LLMConfig struct {
	Timeout           time.Duration
	HistoryLength     int
	MaxTokens         int
	Temperature       float64
	Model             string // empty uses the provider's model
	StructuredReplies bool
}

// LLMConfigFrom converts the agent section of the application config.
func LLMConfigFrom(cfg config.AgentConfig) LLMConfig {
	return LLMConfig{
		Timeout:           cfg.LLMTimeout,
		HistoryLength:     cfg.HistoryLength,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		StructuredReplies: cfg.StructuredReplies,
	}
}

// LLMAgentDeps holds injected dependencies for an LLM agent.
type LLMAgentDeps struct {
	Provider domain.LLMProvider
	Config   LLMConfig
	Bus      domain.EventBus // optional, nil = no events
	Logger   *slog.Logger
}

var _ domain.Agent = (*LLMAgent)(nil)

// LLMAgent asks a language model for each move and parses the reply back
// onto the valid-move list. A reply that names no valid move fails the turn;
// the agent never retries it.
type LLMAgent struct {
	id   string
	name string
	deps LLMAgentDeps

	mu           sync.Mutex
	matchID      string
	engine       domain.GameEngine
	info         domain.GameInfo
	player       domain.Player
	systemPrompt string // built on first use, reset per match
	cancelled    bool
	cancelCall   context.CancelFunc
	stats        domain.AgentStats
}

// NewLLMAgent creates an LLM-backed agent.
func NewLLMAgent(id, name string, deps LLMAgentDeps) *LLMAgent {
	if deps.Config.Timeout <= 0 {
		deps.Config.Timeout = DefaultLLMTimeout
	}
	if deps.Config.HistoryLength <= 0 {
		deps.Config.HistoryLength = DefaultHistoryLength
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &LLMAgent{id: id, name: name, deps: deps}
}

func (a *LLMAgent) ID() string             { return a.id }
func (a *LLMAgent) Name() string           { return a.name }
func (a *LLMAgent) Kind() domain.AgentKind { return domain.AgentLLM }

// OnGameStart binds the agent to the match's engine and drops the cached
// system prompt and counters of any previous match.
func (a *LLMAgent) OnGameStart(_ context.Context, start domain.MatchStart) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.matchID = start.MatchID
	a.engine = start.Engine
	a.info = start.Info
	a.player = start.Player
	a.systemPrompt = ""
	a.stats = domain.AgentStats{}
}

func (a *LLMAgent) OnOpponentMove(_ context.Context, move domain.Move) {
	a.deps.Logger.Debug("opponent moved", "agent", a.id, "move", move.Notation())
}

func (a *LLMAgent) OnGameEnd(_ context.Context, verdict domain.Verdict) {
	a.mu.Lock()
	matchID := a.matchID
	a.mu.Unlock()
	a.deps.Logger.Info("llm agent finished", "agent", a.id, "match_id", matchID, "verdict", verdict)
}

// Cancel aborts the in-flight call. Later GetMove calls fail with
// ErrAgentCancelled until Reset.
func (a *LLMAgent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = true
	if a.cancelCall != nil {
		a.cancelCall()
	}
}

// Reset clears the cancellation flag.
func (a *LLMAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = false
}

// Stats implements domain.StatsReporter.
func (a *LLMAgent) Stats() domain.AgentStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// SystemPrompt returns the cached system prompt, building it on first use.
func (a *LLMAgent) SystemPrompt(player domain.Player) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.systemPrompt == "" {
		a.systemPrompt = buildSystemPrompt(a.info, player, a.deps.Config.StructuredReplies)
	}
	return a.systemPrompt
}

// GetMove implements domain.Agent.
func (a *LLMAgent) GetMove(ctx context.Context, state *domain.GameState, player domain.Player) (domain.Move, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.get_move",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", a.id),
			tracer.StringAttr("player", string(player)),
		),
	)
	defer span.End()

	move, err := a.getMove(ctx, state, player)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Move{}, err
	}
	a.mu.Lock()
	a.stats.Moves++
	a.mu.Unlock()
	tracer.SetOK(span)
	return move, nil
}

func (a *LLMAgent) getMove(ctx context.Context, state *domain.GameState, player domain.Player) (domain.Move, error) {
	a.mu.Lock()
	engine, matchID, cancelled := a.engine, a.matchID, a.cancelled
	a.mu.Unlock()

	if cancelled {
		return domain.Move{}, domain.ErrAgentCancelled
	}
	if engine == nil {
		return domain.Move{}, fmt.Errorf("%w: agent %s was not started with a game", domain.ErrInvalidInput, a.id)
	}

	valid, err := engine.ValidMoves(ctx, state, player)
	if err != nil {
		return domain.Move{}, domain.WrapOp("LLMAgent.ValidMoves", err)
	}
	board, err := engine.BoardDisplay(ctx, state)
	if err != nil {
		return domain.Move{}, domain.WrapOp("LLMAgent.BoardDisplay", err)
	}

	req := domain.ChatRequest{
		Model: a.deps.Config.Model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: a.SystemPrompt(player)},
			{Role: domain.RoleUser, Content: buildTurnPrompt(board, valid, state.RecentMoves(a.deps.Config.HistoryLength), player)},
		},
		MaxTokens:   a.deps.Config.MaxTokens,
		Temperature: a.deps.Config.Temperature,
	}

	reply, err := a.call(ctx, matchID, player, req)
	if err != nil {
		return domain.Move{}, err
	}

	candidate := reply
	if a.deps.Config.StructuredReplies {
		if m, ok := parseStructuredReply(reply); ok {
			candidate = m
		} else {
			a.deps.Logger.Warn("reply is not a structured move, falling back to text parsing",
				"agent", a.id, "match_id", matchID)
		}
	}

	if m, ok := parseMove(candidate, valid); ok {
		a.deps.Logger.Debug("parsed move", "agent", a.id, "match_id", matchID, "move", m)
		return domain.NewMove(player, m), nil
	}

	// Nothing matched. The engine gets the final word so the rejection
	// carries its reason, and the turn fails.
	raw := strings.TrimSpace(candidate)
	if raw == "" {
		return domain.Move{}, &domain.InvalidMoveError{Move: raw, Player: player, Reason: "empty reply"}
	}
	move := domain.NewMove(player, raw)
	ok, err := engine.ValidateMove(ctx, state, move)
	if err != nil {
		return domain.Move{}, domain.WrapOp("LLMAgent.ValidateMove", err)
	}
	if !ok {
		return domain.Move{}, &domain.InvalidMoveError{Move: raw, Player: player, Reason: "reply does not name a valid move"}
	}
	return move, nil
}

// call runs one bounded chat exchange and returns the reply text.
func (a *LLMAgent) call(ctx context.Context, matchID string, player domain.Player, req domain.ChatRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.deps.Config.Timeout)
	defer cancel()

	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return "", domain.ErrAgentCancelled
	}
	a.cancelCall = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cancelCall = nil
		a.mu.Unlock()
	}()

	payload := domain.LLMCallPayload{Agent: a.id, Provider: a.deps.Provider.Name(), Player: player, Model: req.Model}
	a.publish(ctx, domain.EventLLMCallStarted, matchID, payload)

	start := time.Now()
	resp, err := a.deps.Provider.Chat(callCtx, req)
	payload.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		err = a.classifyCallError(ctx, callCtx, err)
		payload.Error = err.Error()
		a.publish(ctx, domain.EventLLMCallCompleted, matchID, payload)
		a.deps.Logger.Warn("llm call failed", "agent", a.id, "match_id", matchID, "error", err)
		return "", err
	}

	a.mu.Lock()
	a.stats.Usage.Add(resp.Usage)
	a.mu.Unlock()

	payload.Model = resp.Model
	payload.Usage = resp.Usage
	a.publish(ctx, domain.EventLLMCallCompleted, matchID, payload)
	a.deps.Logger.Debug("llm reply", "agent", a.id, "match_id", matchID, "tokens", resp.Usage.TotalTokens)

	return resp.Message.Content, nil
}

// classifyCallError separates our own timeout and cancellation from
// provider failures, which pass through with their kind intact.
func (a *LLMAgent) classifyCallError(parent, callCtx context.Context, err error) error {
	a.mu.Lock()
	cancelled := a.cancelled
	a.mu.Unlock()

	switch {
	case cancelled:
		return domain.ErrAgentCancelled
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: no reply from %s within %s: %w", domain.ErrAgentTimeout, a.deps.Provider.Name(), a.deps.Config.Timeout, err)
	}
	return domain.WrapOp("LLMAgent.Chat", err)
}

func (a *LLMAgent) publish(ctx context.Context, typ domain.EventType, matchID string, payload any) {
	if a.deps.Bus == nil {
		return
	}
	a.deps.Bus.Publish(ctx, domain.NewEvent(typ, matchID, payload))
}
