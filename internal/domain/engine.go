package domain

import "context"

// GameEngine is the uniform contract every game implementation is driven through.
// Every method is synchronous from the caller's view.
type GameEngine interface {
	// InitialState returns a fresh state for a new match.
	InitialState(ctx context.Context) (*GameState, error)
	// ValidMoves returns the legal move strings for player in state.
	// The list is always queried fresh from the game.
	ValidMoves(ctx context.Context, state *GameState, player Player) ([]string, error)
	// ApplyMove returns the state produced by move. A rejected move is an error,
	// never the unchanged input state.
	ApplyMove(ctx context.Context, state *GameState, move Move) (*GameState, error)
	// IsGameOver reports whether state is terminal.
	IsGameOver(ctx context.Context, state *GameState) (bool, error)
	// Winner returns the outcome of state and, for ResultWin, the winning player.
	Winner(ctx context.Context, state *GameState) (Result, Player, error)
	// CurrentPlayer returns the side to move in state.
	CurrentPlayer(ctx context.Context, state *GameState) (Player, error)
	// BoardDisplay returns a human-readable rendering of state.
	BoardDisplay(ctx context.Context, state *GameState) (string, error)
	// ValidateMove reports whether move is in the current valid-move list
	// for move.Player.
	ValidateMove(ctx context.Context, state *GameState, move Move) (bool, error)
	// MoveNotation returns a display form of move; falls back to Move.Notation.
	MoveNotation(ctx context.Context, state *GameState, move Move) string
	// Transcript returns the game's own summary of state, if it provides one.
	Transcript(ctx context.Context, state *GameState) (string, bool)
	// Info describes the game.
	Info() GameInfo
	// Close releases the engine's resources.
	Close(ctx context.Context) error
}

// GameInfo is the descriptive view of an engine.
type GameInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Metadata    GameMetadata `json:"metadata"`
}
