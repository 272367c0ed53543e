package wasm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/plugin/wasm/wasmtest"
)

func play(t *testing.T, eng *Engine, moves ...string) *domain.GameState {
	t.Helper()
	ctx := context.Background()
	state, err := eng.InitialState(ctx)
	require.NoError(t, err)
	for _, m := range moves {
		state, err = eng.ApplyMove(ctx, state, domain.NewMove(state.CurrentPlayer, m))
		require.NoError(t, err, m)
	}
	return state
}

func TestEngine_FirstMoveRemovesCell(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{Name: "ttt"})
	ctx := context.Background()

	state, err := f.engine.InitialState(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PlayerOne, state.CurrentPlayer)
	assert.Equal(t, domain.ResultOngoing, state.Result)
	assert.Empty(t, state.Moves)

	moves, err := f.engine.ValidMoves(ctx, state, domain.PlayerOne)
	require.NoError(t, err)
	require.Len(t, moves, 9)
	assert.Equal(t, "0,0", moves[0])

	next, err := f.engine.ApplyMove(ctx, state, domain.NewMove(domain.PlayerOne, "0,0"))
	require.NoError(t, err)
	assert.Len(t, next.Moves, 1)
	assert.Empty(t, state.Moves, "input state must not change")
	assert.Equal(t, domain.PlayerTwo, next.CurrentPlayer)

	moves, err = f.engine.ValidMoves(ctx, next, domain.PlayerTwo)
	require.NoError(t, err)
	assert.Len(t, moves, 8)
	assert.NotContains(t, moves, "0,0")

	assert.Equal(t, f.inst.Name(), state.Metadata[domain.MetaEngine])
	assert.Equal(t, state.Metadata, next.Metadata)

	board, err := f.engine.BoardDisplay(ctx, next)
	require.NoError(t, err)
	assert.Contains(t, board, "X")
	assert.Equal(t, next.Board, f.engine.Current())
}

func TestEngine_NoLeaksOverFullGame(t *testing.T) {
	for _, opts := range []wasmtest.Options{
		{Allocator: true},
		{Allocator: true, FreeWithSize: true},
	} {
		f := newFixture(t, wasmtest.TicTacToe{}, opts, domain.GameMetadata{})
		ctx := context.Background()

		state := play(t, f.engine, "0,0", "1,0", "0,1", "1,1", "0,2")
		_, err := f.engine.ValidMoves(ctx, state, state.CurrentPlayer)
		require.NoError(t, err)
		_, err = f.engine.BoardDisplay(ctx, state)
		require.NoError(t, err)
		_, err = f.engine.IsGameOver(ctx, state)
		require.NoError(t, err)

		stats := f.host.Stats()
		assert.Zero(t, stats.Live, "every guest allocation must be freed")
		assert.Zero(t, stats.BadFrees)
		assert.Positive(t, stats.Frees)
	}
}

func TestEngine_FallbackAllocatorPlaysAGame(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{}, domain.GameMetadata{})
	state := play(t, f.engine, "0,0", "1,0", "0,1")
	assert.Len(t, state.Moves, 3)
	assert.Positive(t, f.inst.Memory().Stats().FallbackPages)
}

func TestEngine_WinAfterFiveMoves(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	ctx := context.Background()

	state := play(t, f.engine, "0,0", "1,0", "0,1", "1,1", "0,2")
	assert.Equal(t, domain.ResultWin, state.Result)
	assert.Equal(t, domain.PlayerOne, state.Winner)

	over, err := f.engine.IsGameOver(ctx, state)
	require.NoError(t, err)
	assert.True(t, over)

	res, winner, err := f.engine.Winner(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultWin, res)
	assert.Equal(t, domain.PlayerOne, winner)

	moves, err := f.engine.ValidMoves(ctx, state, state.CurrentPlayer)
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestEngine_DrawWhenBoardFills(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	// X O X / X O O / O X X
	state := play(t, f.engine, "0,0", "0,1", "0,2", "1,1", "1,0", "1,2", "2,1", "2,0", "2,2")
	assert.Equal(t, domain.ResultDraw, state.Result)
	assert.Empty(t, state.Winner)
}

func TestEngine_FinishedWithoutWinnerIsDraw(t *testing.T) {
	over := true
	f := newFixture(t, scriptedGame{over: &over}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state := play(t, f.engine, "1,1")

	result, winner, err := f.engine.Winner(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultDraw, result)
	assert.Empty(t, winner)
	assert.Equal(t, state.Result, result)
}

func TestEngine_WinnerOngoingBeforeEnd(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state := play(t, f.engine, "1,1")

	result, winner, err := f.engine.Winner(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultOngoing, result)
	assert.Empty(t, winner)
}

func TestEngine_FallbackAllocatorPacksStrings(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.MaxMemoryPages = 4
	f := newFixtureWith(t, cfg, wasmtest.TicTacToe{}, wasmtest.Options{MemoryPages: 2}, domain.GameMetadata{})
	ctx := context.Background()

	state, err := f.engine.InitialState(ctx)
	require.NoError(t, err)
	for _, m := range []string{"0,0", "0,1", "0,2", "1,1", "1,0", "1,2", "2,1", "2,0", "2,2"} {
		_, err = f.engine.ValidMoves(ctx, state, state.CurrentPlayer)
		require.NoError(t, err)
		_, err = f.engine.BoardDisplay(ctx, state)
		require.NoError(t, err)
		state, err = f.engine.ApplyMove(ctx, state, domain.NewMove(state.CurrentPlayer, m))
		require.NoError(t, err, m)
	}
	assert.Equal(t, domain.ResultDraw, state.Result)
	assert.LessOrEqual(t, f.inst.Memory().Stats().FallbackPages, uint32(2))
}

func TestEngine_RejectsMoves(t *testing.T) {
	tests := []struct {
		name   string
		game   wasmtest.Game
		move   string
		reason string
	}{
		{"unchanged state", wasmtest.TicTacToe{}, "0,0", "unchanged"},
		{"error prefix", scriptedGame{apply: func(string, string) string { return "ERROR: cell taken" }}, "1,1", "cell taken"},
		{"json error", scriptedGame{apply: func(string, string) string { return `{"error":"bad move"}` }}, "1,1", "bad move"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.game, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
			ctx := context.Background()

			state := play(t, f.engine)
			if tt.name == "unchanged state" {
				state = play(t, f.engine, "0,0")
			}
			_, err := f.engine.ApplyMove(ctx, state, domain.NewMove(state.CurrentPlayer, tt.move))
			require.Error(t, err)

			var ime *domain.InvalidMoveError
			require.ErrorAs(t, err, &ime)
			assert.Equal(t, tt.move, ime.Move)
			assert.Equal(t, state.CurrentPlayer, ime.Player)
			assert.Contains(t, ime.Reason, tt.reason)
			assert.Zero(t, f.host.Stats().Live)
		})
	}
}

func TestEngine_RejectsWrongPlayer(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state := play(t, f.engine)

	_, err := f.engine.ApplyMove(context.Background(), state, domain.NewMove(domain.PlayerTwo, "0,0"))
	assert.ErrorIs(t, err, domain.ErrInvalidMove)
	assert.Zero(t, f.host.Calls("apply_move"))
}

func TestEngine_EmptyApplyReplyIsIntegrationError(t *testing.T) {
	f := newFixture(t, scriptedGame{apply: func(string, string) string { return "" }}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state := play(t, f.engine)

	_, err := f.engine.ApplyMove(context.Background(), state, domain.NewMove(domain.PlayerOne, "0,0"))
	assert.ErrorIs(t, err, domain.ErrIntegration)
}

func TestEngine_ValidMovesOtherPlayerEmpty(t *testing.T) {
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state := play(t, f.engine)

	moves, err := f.engine.ValidMoves(context.Background(), state, domain.PlayerTwo)
	require.NoError(t, err)
	assert.Empty(t, moves)
	assert.NotNil(t, moves)
}

func TestEngine_MoveListFormats(t *testing.T) {
	tests := []struct {
		raw     string
		want    []string
		wantErr bool
	}{
		{raw: `["e2e4","d2d4"]`, want: []string{"e2e4", "d2d4"}},
		{raw: "e2e4, d2d4,,", want: []string{"e2e4", "d2d4"}},
		{raw: "[]", want: []string{}},
		{raw: "   ", want: []string{}},
		{raw: `["e2e4", 5]`, wantErr: true},
		{raw: `[broken`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			f := newFixture(t, scriptedGame{moves: tt.raw}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
			state := play(t, f.engine)

			moves, err := f.engine.ValidMoves(context.Background(), state, domain.PlayerOne)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrIntegration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, moves)
		})
	}
}

func TestEngine_ValidateMove(t *testing.T) {
	f := newFixture(t, scriptedGame{moves: `["e2e4","d2d4"]`}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	ctx := context.Background()
	state := play(t, f.engine)

	ok, err := f.engine.ValidateMove(ctx, state, domain.NewMove(domain.PlayerOne, "e2e4"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.ValidateMove(ctx, state, domain.NewMove(domain.PlayerOne, "E2E4"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.ValidateMove(ctx, state, domain.NewMove(domain.PlayerOne, "e7e5"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.ValidateMove(ctx, state, domain.NewMove(domain.PlayerTwo, "e2e4"))
	require.NoError(t, err)
	assert.False(t, ok, "not player two's turn")

	before := f.host.Calls("get_valid_moves")
	_, _ = f.engine.ValidateMove(ctx, state, domain.NewMove(domain.PlayerOne, "d2d4"))
	assert.Equal(t, before+1, f.host.Calls("get_valid_moves"), "valid moves are queried fresh")
}

func TestEngine_UnknownLabelsAreIntegrationErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("current player export", func(t *testing.T) {
		rt := newRuntime(t, DefaultRuntimeConfig(), nil, nil)
		_, err := wasmtest.Install(ctx, rt.Inner(), scriptedGame{current: "white"})
		require.NoError(t, err)
		compiled, err := rt.Compile(ctx, wasmtest.Module(wasmtest.Options{Allocator: true, CurrentPlayer: true}))
		require.NoError(t, err)
		inst, err := rt.Instantiate(ctx, compiled, "game")
		require.NoError(t, err)
		eng, err := NewEngine(ctx, inst, domain.GameMetadata{}, logger.Discard())
		require.NoError(t, err)

		_, err = eng.InitialState(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrIntegration)
		assert.Contains(t, err.Error(), "white")
	})

	t.Run("winner", func(t *testing.T) {
		f := newFixture(t, scriptedGame{winner: "nobody"}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
		state := play(t, f.engine)
		_, _, err := f.engine.Winner(ctx, state)
		assert.ErrorIs(t, err, domain.ErrIntegration)
	})
}

func TestEngine_CustomLabels(t *testing.T) {
	game := scriptedGame{current: "white"}
	meta := domain.GameMetadata{PlayerLabels: []string{"white", "black"}}
	f := newFixture(t, game, wasmtest.Options{Allocator: true, CurrentPlayer: true}, meta)

	state, err := f.engine.InitialState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PlayerOne, state.CurrentPlayer)

	label, err := f.engine.Label(domain.PlayerTwo)
	require.NoError(t, err)
	assert.Equal(t, "black", label)
}

func TestEngine_CurrentPlayerResolution(t *testing.T) {
	ctx := context.Background()

	// parity fallback when the state is not JSON and there is no export
	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state := &domain.GameState{Board: "start", Moves: []domain.Move{domain.NewMove(domain.PlayerOne, "x")}}
	p, err := f.engine.CurrentPlayer(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, domain.PlayerTwo, p)

	// JSON field
	state.Board = `{"currentPlayer":"player1"}`
	p, err = f.engine.CurrentPlayer(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, domain.PlayerOne, p)
}

func TestEngine_NotationTranscriptAndInfo(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true, Describe: true, Transcript: true, Notation: 1}, domain.GameMetadata{})
	info := f.engine.Info()
	assert.Equal(t, "Tic-Tac-Toe", info.Name)
	assert.Equal(t, "Classic 3x3 tic-tac-toe game", info.Description)

	state := play(t, f.engine, "1,2")
	assert.Equal(t, "c2", f.engine.MoveNotation(ctx, state, state.Moves[0]))

	transcript, ok := f.engine.Transcript(ctx, state)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(transcript, "=== TIC-TAC-TOE GAME TRANSCRIPT ==="))
	assert.Contains(t, transcript, "Move count: 1")

	// two-parameter form
	f2 := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true, Notation: 2}, domain.GameMetadata{Name: "custom"})
	assert.Equal(t, "custom", f2.engine.Info().Name)
	state = play(t, f2.engine, "0,0")
	assert.Equal(t, "a1", f2.engine.MoveNotation(ctx, state, state.Moves[0]))
	assert.Equal(t, 1, f2.host.Calls("get_move_notation_state"))

	// no export: the move's own notation
	f3 := newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true}, domain.GameMetadata{})
	state = play(t, f3.engine, "2,2")
	assert.Equal(t, "2,2", f3.engine.MoveNotation(ctx, state, state.Moves[0]))
	_, ok = f3.engine.Transcript(ctx, state)
	assert.False(t, ok)
}

func TestEngine_TimeoutAndTrap(t *testing.T) {
	ctx := context.Background()

	f := newFixtureWith(t, shortTimeout(), wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true, HangOn: "render"}, domain.GameMetadata{})
	state := play(t, f.engine)
	_, err := f.engine.BoardDisplay(ctx, state)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIntegration)
	assert.Equal(t, domain.CodeWASMTimeout, domain.ErrorCodeOf(err))

	f = newFixture(t, wasmtest.TicTacToe{}, wasmtest.Options{Allocator: true, TrapOn: "is_game_over"}, domain.GameMetadata{})
	state = play(t, f.engine)
	_, err = f.engine.IsGameOver(ctx, state)
	require.Error(t, err)
	assert.Equal(t, domain.CodeIntegration, domain.ErrorCodeOf(err))
}

func TestEngine_InvalidPlayerLabels(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, DefaultRuntimeConfig(), nil, nil)
	_, err := wasmtest.Install(ctx, rt.Inner(), wasmtest.TicTacToe{})
	require.NoError(t, err)
	compiled, err := rt.Compile(ctx, wasmtest.Module(wasmtest.Options{}))
	require.NoError(t, err)
	inst, err := rt.Instantiate(ctx, compiled, "game")
	require.NoError(t, err)

	_, err = NewEngine(ctx, inst, domain.GameMetadata{PlayerLabels: []string{"x", "x"}}, logger.Discard())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
