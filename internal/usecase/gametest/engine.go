// Package gametest provides an in-memory domain.GameEngine for driving
// agents and matches in tests without a WebAssembly runtime.
package gametest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"wasm-arena/internal/domain"
)

// Engine is a counting game: the board is the number of moves played, the
// same move list is offered every turn, and the game ends after EndAfter
// moves with the configured outcome.
type Engine struct {
	Moves    []string      // offered every turn; defaults to a, b, c
	EndAfter int           // 0 never ends
	Result   domain.Result // outcome once ended; defaults to draw
	WinnerIs domain.Player
	Name     string
	Meta     domain.GameMetadata

	mu     sync.Mutex
	calls  map[string]int
	closed bool
}

var _ domain.GameEngine = (*Engine)(nil)

func (e *Engine) count(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[name]++
}

// Calls returns how often method name was invoked.
func (e *Engine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) moves() []string {
	if len(e.Moves) == 0 {
		return []string{"a", "b", "c"}
	}
	return e.Moves
}

func played(state *domain.GameState) int {
	n, _ := strconv.Atoi(state.Board)
	return n
}

func (e *Engine) over(n int) bool { return e.EndAfter > 0 && n >= e.EndAfter }

func (e *Engine) InitialState(context.Context) (*domain.GameState, error) {
	e.count("InitialState")
	return &domain.GameState{Board: "0", CurrentPlayer: domain.PlayerOne, Moves: []domain.Move{}, Result: domain.ResultOngoing}, nil
}

func (e *Engine) ValidMoves(_ context.Context, state *domain.GameState, player domain.Player) ([]string, error) {
	e.count("ValidMoves")
	n := played(state)
	if e.over(n) || (player != "" && player != domain.Players[n%2]) {
		return []string{}, nil
	}
	return slices.Clone(e.moves()), nil
}

func (e *Engine) ApplyMove(ctx context.Context, state *domain.GameState, move domain.Move) (*domain.GameState, error) {
	e.count("ApplyMove")
	n := played(state)
	current := domain.Players[n%2]
	if move.Player == "" {
		move.Player = current
	}
	if move.Player != current {
		return nil, &domain.InvalidMoveError{Move: move.Notation(), Player: move.Player, Reason: "not this player's turn"}
	}
	if e.over(n) || !slices.Contains(e.moves(), move.Notation()) {
		return nil, &domain.InvalidMoveError{Move: move.Notation(), Player: move.Player, Reason: "not a valid move"}
	}

	next := state.Next(strconv.Itoa(n+1), move)
	next.CurrentPlayer = domain.Players[(n+1)%2]
	if e.over(n + 1) {
		next.Result, next.Winner, _ = e.Winner(ctx, next)
	}
	return next, nil
}

func (e *Engine) IsGameOver(_ context.Context, state *domain.GameState) (bool, error) {
	e.count("IsGameOver")
	return e.over(played(state)), nil
}

func (e *Engine) Winner(_ context.Context, state *domain.GameState) (domain.Result, domain.Player, error) {
	if !e.over(played(state)) {
		return domain.ResultOngoing, "", nil
	}
	if e.Result == domain.ResultWin {
		return domain.ResultWin, e.WinnerIs, nil
	}
	return domain.ResultDraw, "", nil
}

func (e *Engine) CurrentPlayer(_ context.Context, state *domain.GameState) (domain.Player, error) {
	return domain.Players[played(state)%2], nil
}

func (e *Engine) BoardDisplay(_ context.Context, state *domain.GameState) (string, error) {
	return fmt.Sprintf("moves played: %s", state.Board), nil
}

func (e *Engine) ValidateMove(ctx context.Context, state *domain.GameState, move domain.Move) (bool, error) {
	e.count("ValidateMove")
	valid, err := e.ValidMoves(ctx, state, move.Player)
	if err != nil {
		return false, err
	}
	_, ok := domain.MatchMove(valid, move.Notation())
	return ok, nil
}

func (e *Engine) MoveNotation(_ context.Context, _ *domain.GameState, move domain.Move) string {
	return move.Notation()
}

func (e *Engine) Transcript(context.Context, *domain.GameState) (string, bool) { return "", false }

func (e *Engine) Info() domain.GameInfo {
	name := e.Name
	if name == "" {
		name = "Counting Game"
	}
	meta := e.Meta
	if meta.Name == "" {
		meta.Name = name
	}
	return domain.GameInfo{Name: name, Metadata: meta}
}

func (e *Engine) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
