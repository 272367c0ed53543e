package domain

import "context"

// AgentKind tags how an agent produces moves.
type AgentKind string

const (
	AgentHuman AgentKind = "human"
	AgentLLM   AgentKind = "llm"
)

// Agent produces moves for one side of a match.
type Agent interface {
	ID() string
	Name() string
	Kind() AgentKind
	// GetMove blocks until the agent has chosen a move for player.
	GetMove(ctx context.Context, state *GameState, player Player) (Move, error)
	// OnGameStart is called once, before the agent's first move request.
	OnGameStart(ctx context.Context, start MatchStart)
	// OnOpponentMove is called after the other side's move was applied.
	OnOpponentMove(ctx context.Context, move Move)
	// OnGameEnd is called once when the game finishes normally.
	OnGameEnd(ctx context.Context, verdict Verdict)
	// Cancel aborts any in-flight move request. Reset re-arms the agent.
	Cancel()
	Reset()
}

// MatchStart is handed to each agent's start-of-game hook.
type MatchStart struct {
	MatchID string
	Player  Player
	Engine  GameEngine
	Info    GameInfo
}

// AgentStats reports agent-side counters for a finished match.
type AgentStats struct {
	Moves int   `json:"moves"`
	Usage Usage `json:"usage"`
}

// StatsReporter is implemented by agents that track usage.
type StatsReporter interface {
	Stats() AgentStats
}
