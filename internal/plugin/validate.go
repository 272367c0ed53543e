package plugin

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/plugin/wasm"
	"wasm-arena/pkg/gamesdk"
)

// wasmMagic is the binary module preamble.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// optionalExports are checked only when present. An export may accept more
// than one shape.
var optionalExports = []struct {
	name string
	sigs []gamesdk.Signature
}{
	{gamesdk.ExportCurrentPlayer, []gamesdk.Signature{{Params: 1, Results: 1}}},
	{gamesdk.ExportGameName, []gamesdk.Signature{{Params: 0, Results: 1}}},
	{gamesdk.ExportGameDescription, []gamesdk.Signature{{Params: 0, Results: 1}}},
	{gamesdk.ExportMoveNotation, []gamesdk.Signature{{Params: 1, Results: 1}, {Params: 2, Results: 1}}},
	{gamesdk.ExportTranscript, []gamesdk.Signature{{Params: 1, Results: 1}}},
	{gamesdk.ExportMalloc, []gamesdk.Signature{{Params: 1, Results: 1}}},
	{gamesdk.ExportFree, []gamesdk.Signature{{Params: 1, Results: 0}, {Params: 2, Results: 0}}},
	{gamesdk.ExportInitialize, []gamesdk.Signature{{Params: 0, Results: 0}}},
}

// compileChecked runs the structural checks and returns the compiled module
// when the byte stream compiles. Export problems are added to verr; the
// caller owns the compiled module even when verr has problems.
func compileChecked(ctx context.Context, rt *wasm.Runtime, raw []byte, verr *domain.ValidationError) wazero.CompiledModule {
	if len(raw) < len(wasmMagic) || !bytes.Equal(raw[:len(wasmMagic)], wasmMagic) {
		verr.Add("missing WebAssembly magic header")
		return nil
	}

	compiled, err := rt.Compile(ctx, raw)
	if err != nil {
		verr.Add("%v", err)
		return nil
	}

	if _, ok := compiled.ExportedMemories()[gamesdk.ExportMemory]; !ok {
		verr.Add("missing exported memory %q", gamesdk.ExportMemory)
	}

	funcs := compiled.ExportedFunctions()
	for _, req := range gamesdk.Required {
		def, ok := funcs[req.Name]
		if !ok {
			verr.Add("missing required export %q", req.Name)
			continue
		}
		checkSignature(verr, req.Name, def, req.Sig)
	}
	for _, opt := range optionalExports {
		if def, ok := funcs[opt.name]; ok {
			checkSignature(verr, opt.name, def, opt.sigs...)
		}
	}
	return compiled
}

func checkSignature(verr *domain.ValidationError, name string, def api.FunctionDefinition, want ...gamesdk.Signature) {
	params, results := def.ParamTypes(), def.ResultTypes()
	if allI32(params) && allI32(results) {
		for _, sig := range want {
			if len(params) == sig.Params && len(results) == sig.Results {
				return
			}
		}
	}

	shapes := make([]string, len(want))
	for i, sig := range want {
		shapes[i] = fmt.Sprintf("%d i32 params and %d i32 results", sig.Params, sig.Results)
	}
	verr.Add("export %q has signature (%s) -> (%s), want %s",
		name, typeNames(params), typeNames(results), strings.Join(shapes, " or "))
}

func allI32(types []api.ValueType) bool {
	for _, t := range types {
		if t != api.ValueTypeI32 {
			return false
		}
	}
	return true
}

func typeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// smokeTest drives a fresh engine through one opening turn. Every failure
// is reported as a validation problem so a broken module is never registered.
func smokeTest(ctx context.Context, eng domain.GameEngine, verr *domain.ValidationError) {
	state, err := eng.InitialState(ctx)
	if err != nil {
		verr.Add("smoke test: initial state: %v", err)
		return
	}

	player, err := eng.CurrentPlayer(ctx, state)
	if err != nil {
		verr.Add("smoke test: current player: %v", err)
		return
	}

	moves, err := eng.ValidMoves(ctx, state, player)
	if err != nil {
		verr.Add("smoke test: valid moves: %v", err)
		return
	}

	board, err := eng.BoardDisplay(ctx, state)
	if err != nil {
		verr.Add("smoke test: render: %v", err)
		return
	}
	if strings.TrimSpace(board) == "" {
		verr.Add("smoke test: render returned an empty board")
		return
	}

	over, err := eng.IsGameOver(ctx, state)
	if err != nil {
		verr.Add("smoke test: game over check: %v", err)
		return
	}
	if over || len(moves) == 0 {
		return
	}

	next, err := eng.ApplyMove(ctx, state, domain.NewMove(player, moves[0]))
	if err != nil {
		verr.Add("smoke test: apply first move %q: %v", moves[0], err)
		return
	}
	if next.Board == "" {
		verr.Add("smoke test: apply first move %q returned an empty state", moves[0])
	}
}
