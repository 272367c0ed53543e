package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"wasm-arena/internal/domain"
	"wasm-arena/pkg/gamesdk"
)

// Engine drives one module instance behind domain.GameEngine. The module is
// stateless per call, so every query hands it the state string explicitly.
// Calls are serialized; one Engine must not be shared by two matches.
type Engine struct {
	inst   *Instance
	mem    *Memory
	info   domain.GameInfo
	labels [2]string
	logger *slog.Logger

	hasCurrentPlayer bool
	hasTranscript    bool
	notationArity    int

	mu      sync.Mutex
	current string
}

var _ domain.GameEngine = (*Engine)(nil)

// NewEngine wraps inst. Name and description fall back to the module's own
// get_game_name and get_game_description when metadata leaves them empty.
func NewEngine(ctx context.Context, inst *Instance, meta domain.GameMetadata, logger *slog.Logger) (*Engine, error) {
	mod := inst.Module()
	e := &Engine{
		inst:             inst,
		mem:              inst.Memory(),
		labels:           [2]string{gamesdk.LabelPlayerOne, gamesdk.LabelPlayerTwo},
		logger:           logger.With("module", inst.Name()),
		hasCurrentPlayer: mod.ExportedFunction(gamesdk.ExportCurrentPlayer) != nil,
		hasTranscript:    mod.ExportedFunction(gamesdk.ExportTranscript) != nil,
	}
	if fn := mod.ExportedFunction(gamesdk.ExportMoveNotation); fn != nil {
		e.notationArity = len(fn.Definition().ParamTypes())
	}

	if len(meta.PlayerLabels) == 2 {
		a, b := strings.TrimSpace(meta.PlayerLabels[0]), strings.TrimSpace(meta.PlayerLabels[1])
		if a == "" || b == "" || a == b {
			return nil, fmt.Errorf("%w: player labels must be two distinct non-empty strings", domain.ErrInvalidInput)
		}
		e.labels = [2]string{a, b}
	}

	info := domain.GameInfo{Name: meta.Name, Description: meta.Description, Metadata: meta}
	if info.Name == "" && mod.ExportedFunction(gamesdk.ExportGameName) != nil {
		name, err := e.mem.CallString(ctx, gamesdk.ExportGameName)
		if err != nil {
			return nil, err
		}
		info.Name = name
	}
	if info.Description == "" && mod.ExportedFunction(gamesdk.ExportGameDescription) != nil {
		desc, err := e.mem.CallString(ctx, gamesdk.ExportGameDescription)
		if err != nil {
			return nil, err
		}
		info.Description = desc
	}
	e.info = info
	return e, nil
}

// Info implements domain.GameEngine.
func (e *Engine) Info() domain.GameInfo { return e.info }

// Current returns the last state string the module produced.
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// InitialState implements domain.GameEngine.
func (e *Engine) InitialState(ctx context.Context) (*domain.GameState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	board, err := e.mem.CallString(ctx, gamesdk.ExportInitialState)
	if err != nil {
		return nil, err
	}
	if board == "" {
		return nil, domain.NewIntegrationError("Engine.InitialState", "module returned an empty state")
	}

	state := &domain.GameState{
		Board:    board,
		Moves:    []domain.Move{},
		Result:   domain.ResultOngoing,
		Metadata: map[string]string{domain.MetaEngine: e.inst.Name()},
	}
	if state.CurrentPlayer, err = e.currentPlayer(ctx, board, 0); err != nil {
		return nil, err
	}
	e.current = board
	return state, nil
}

// ValidMoves implements domain.GameEngine. A player who is not to move has
// no valid moves.
func (e *Engine) ValidMoves(ctx context.Context, state *domain.GameState, player domain.Player) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validMoves(ctx, state, player)
}

func (e *Engine) validMoves(ctx context.Context, state *domain.GameState, player domain.Player) ([]string, error) {
	if player != "" {
		current, err := e.stateCurrentPlayer(ctx, state)
		if err != nil {
			return nil, err
		}
		if player != current {
			return []string{}, nil
		}
	}

	raw, err := e.mem.CallString(ctx, gamesdk.ExportValidMoves, state.Board)
	if err != nil {
		return nil, err
	}
	return parseMoveList(raw)
}

// parseMoveList accepts a JSON array of strings or a comma-separated list.
func parseMoveList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(raw, "[") {
		var moves []string
		if err := json.Unmarshal([]byte(raw), &moves); err != nil {
			return nil, domain.NewIntegrationError("Engine.ValidMoves", fmt.Sprintf("malformed move list %q: %v", truncate(raw, 80), err))
		}
		if moves == nil {
			moves = []string{}
		}
		return moves, nil
	}

	parts := strings.Split(raw, ",")
	moves := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			moves = append(moves, p)
		}
	}
	return moves, nil
}

// ApplyMove implements domain.GameEngine.
func (e *Engine) ApplyMove(ctx context.Context, state *domain.GameState, move domain.Move) (*domain.GameState, error) {
	if err := move.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.stateCurrentPlayer(ctx, state)
	if err != nil {
		return nil, err
	}
	notation := move.Notation()
	if move.Player == "" {
		move.Player = current
	}
	if move.Player != current {
		return nil, &domain.InvalidMoveError{Move: notation, Player: move.Player, Reason: "not this player's turn"}
	}

	reply, err := e.mem.CallString(ctx, gamesdk.ExportApplyMove, state.Board, notation)
	if err != nil {
		return nil, err
	}
	if reply == "" {
		return nil, domain.NewIntegrationError("Engine.ApplyMove", "module returned an empty state")
	}
	if reason, rejected := rejection(reply, state.Board); rejected {
		return nil, &domain.InvalidMoveError{Move: notation, Player: move.Player, Reason: reason}
	}

	next := state.Next(reply, move)
	if next.CurrentPlayer, err = e.currentPlayer(ctx, reply, len(next.Moves)); err != nil {
		return nil, err
	}
	if next.Result, next.Winner, err = e.outcome(ctx, reply); err != nil {
		return nil, err
	}
	e.current = reply
	return next, nil
}

// rejection reports whether an apply_move reply rejects the move.
func rejection(reply, submitted string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if len(trimmed) >= len(gamesdk.ErrorPrefix) && strings.EqualFold(trimmed[:len(gamesdk.ErrorPrefix)], gamesdk.ErrorPrefix) {
		return strings.TrimSpace(trimmed[len(gamesdk.ErrorPrefix):]), true
	}
	if strings.HasPrefix(trimmed, "{") {
		var v struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(trimmed), &v) == nil && v.Error != "" {
			return v.Error, true
		}
	}
	if reply == submitted {
		return "module returned the state unchanged", true
	}
	return "", false
}

// IsGameOver implements domain.GameEngine.
func (e *Engine) IsGameOver(ctx context.Context, state *domain.GameState) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isGameOver(ctx, state.Board)
}

func (e *Engine) isGameOver(ctx context.Context, board string) (bool, error) {
	v, err := e.mem.CallI32(ctx, gamesdk.ExportIsGameOver, board)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, domain.NewIntegrationError("Engine.IsGameOver", fmt.Sprintf("is_game_over returned %d, want 0 or 1", v))
}

// Winner implements domain.GameEngine. A finished game whose module names
// no winner is a draw.
func (e *Engine) Winner(ctx context.Context, state *domain.GameState) (domain.Result, domain.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome(ctx, state.Board)
}

func (e *Engine) winner(ctx context.Context, board string) (domain.Result, domain.Player, error) {
	label, err := e.mem.CallString(ctx, gamesdk.ExportWinner, board)
	if err != nil {
		return "", "", err
	}
	switch label = strings.TrimSpace(label); label {
	case gamesdk.WinnerNone:
		return domain.ResultOngoing, "", nil
	case gamesdk.WinnerDraw:
		return domain.ResultDraw, "", nil
	}
	p, err := e.fromLabel("Engine.Winner", label)
	if err != nil {
		return "", "", err
	}
	return domain.ResultWin, p, nil
}

// outcome combines get_winner and is_game_over. A finished game without a
// winner label is a draw.
func (e *Engine) outcome(ctx context.Context, board string) (domain.Result, domain.Player, error) {
	result, winner, err := e.winner(ctx, board)
	if err != nil {
		return "", "", err
	}
	if result != domain.ResultOngoing {
		return result, winner, nil
	}
	over, err := e.isGameOver(ctx, board)
	if err != nil {
		return "", "", err
	}
	if over {
		return domain.ResultDraw, "", nil
	}
	return domain.ResultOngoing, "", nil
}

// CurrentPlayer implements domain.GameEngine.
func (e *Engine) CurrentPlayer(ctx context.Context, state *domain.GameState) (domain.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPlayer(ctx, state.Board, len(state.Moves))
}

func (e *Engine) stateCurrentPlayer(ctx context.Context, state *domain.GameState) (domain.Player, error) {
	if state.CurrentPlayer.Valid() {
		return state.CurrentPlayer, nil
	}
	return e.currentPlayer(ctx, state.Board, len(state.Moves))
}

// currentPlayer asks get_current_player, then a current_player field of a
// JSON state, then falls back to move parity.
func (e *Engine) currentPlayer(ctx context.Context, board string, moves int) (domain.Player, error) {
	if e.hasCurrentPlayer {
		label, err := e.mem.CallString(ctx, gamesdk.ExportCurrentPlayer, board)
		if err != nil {
			return "", err
		}
		return e.fromLabel("Engine.CurrentPlayer", strings.TrimSpace(label))
	}
	if label, ok := stateField(board, "current_player", "currentPlayer"); ok {
		return e.fromLabel("Engine.CurrentPlayer", label)
	}
	return domain.Players[moves%2], nil
}

func stateField(board string, keys ...string) (string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(board), "{") {
		return "", false
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal([]byte(board), &fields) != nil {
		return "", false
	}
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// fromLabel maps a module label to a canonical player. Anything else is an
// integration error, never a default.
func (e *Engine) fromLabel(op, label string) (domain.Player, error) {
	switch label {
	case e.labels[0]:
		return domain.PlayerOne, nil
	case e.labels[1]:
		return domain.PlayerTwo, nil
	}
	return "", domain.NewIntegrationError(op, fmt.Sprintf("unknown player label %q", label))
}

// Label maps a canonical player back to the module's label.
func (e *Engine) Label(p domain.Player) (string, error) {
	if i := p.Index(); i >= 0 {
		return e.labels[i], nil
	}
	return "", fmt.Errorf("%w: unknown player %q", domain.ErrInvalidInput, p)
}

// BoardDisplay implements domain.GameEngine.
func (e *Engine) BoardDisplay(ctx context.Context, state *domain.GameState) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := e.mem.CallString(ctx, gamesdk.ExportRender, state.Board)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", domain.NewIntegrationError("Engine.BoardDisplay", "render returned an empty string")
	}
	return out, nil
}

// ValidateMove implements domain.GameEngine. The valid-move list is queried
// fresh for the acting player on every call.
func (e *Engine) ValidateMove(ctx context.Context, state *domain.GameState, move domain.Move) (bool, error) {
	if move.Validate() != nil {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	player := move.Player
	if player == "" {
		var err error
		if player, err = e.stateCurrentPlayer(ctx, state); err != nil {
			return false, err
		}
	}
	valid, err := e.validMoves(ctx, state, player)
	if err != nil {
		return false, err
	}
	_, ok := domain.MatchMove(valid, move.Notation())
	return ok, nil
}

// MoveNotation implements domain.GameEngine.
func (e *Engine) MoveNotation(ctx context.Context, state *domain.GameState, move domain.Move) string {
	fallback := move.Notation()
	if e.notationArity != 1 && e.notationArity != 2 {
		return fallback
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := []string{fallback}
	if e.notationArity == 2 {
		args = []string{state.Board, fallback}
	}
	out, err := e.mem.CallString(ctx, gamesdk.ExportMoveNotation, args...)
	if err != nil || strings.TrimSpace(out) == "" {
		e.logger.Debug("move notation unavailable", "move", fallback, "error", err)
		return fallback
	}
	return strings.TrimSpace(out)
}

// Transcript implements domain.GameEngine.
func (e *Engine) Transcript(ctx context.Context, state *domain.GameState) (string, bool) {
	if !e.hasTranscript {
		return "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := e.mem.CallString(ctx, gamesdk.ExportTranscript, state.Board)
	if err != nil {
		e.logger.Warn("log_transcript failed", "error", err)
		return "", false
	}
	return out, out != ""
}

// Close implements domain.GameEngine.
func (e *Engine) Close(ctx context.Context) error {
	return e.inst.Close(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
