package wasmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasm-arena/pkg/gamesdk"
)

const (
	pageSize  = 65536
	heapStart = 1024
	heapAlign = 8
)

// Game is the Go side of a generated module. Every method takes and returns
// the strings the module would exchange over its memory.
type Game interface {
	InitialState() string
	ValidMoves(state string) string
	ApplyMove(state, move string) string
	IsGameOver(state string) bool
	Winner(state string) string
	Render(state string) string
}

// CurrentPlayerGame backs get_current_player.
type CurrentPlayerGame interface {
	CurrentPlayer(state string) string
}

// DescribedGame backs get_game_name and get_game_description.
type DescribedGame interface {
	Name() string
	Description() string
}

// NotatedGame backs get_move_notation.
type NotatedGame interface {
	Notation(state, move string) string
}

// TranscriptGame backs log_transcript.
type TranscriptGame interface {
	Transcript(state string) string
}

// Stats summarizes heap traffic across every instance served by a Host.
type Stats struct {
	Allocs   int
	Frees    int
	BadFrees int
	Live     int
}

// Host serves the "wasmtest" import namespace for one runtime.
type Host struct {
	game Game

	mu    sync.Mutex
	heaps map[string]*heap
	calls map[string]int
	stats Stats
}

// Install instantiates the "wasmtest" host module on rt, backed by game.
func Install(ctx context.Context, rt wazero.Runtime, game Game) (*Host, error) {
	h := &Host{
		game:  game,
		heaps: make(map[string]*heap),
		calls: make(map[string]int),
	}

	b := rt.NewHostModuleBuilder(ImportModule)
	h.export(b, gamesdk.ExportInitialState, 0, func(_ []uint64) string {
		return h.game.InitialState()
	})
	h.stateFunc(b, gamesdk.ExportValidMoves, h.game.ValidMoves)
	h.stateFunc(b, gamesdk.ExportWinner, h.game.Winner)
	h.stateFunc(b, gamesdk.ExportRender, h.game.Render)
	h.stateFunc(b, gamesdk.ExportCurrentPlayer, func(s string) string {
		if g, ok := h.game.(CurrentPlayerGame); ok {
			return g.CurrentPlayer(s)
		}
		return ""
	})
	h.stateFunc(b, gamesdk.ExportTranscript, func(s string) string {
		if g, ok := h.game.(TranscriptGame); ok {
			return g.Transcript(s)
		}
		return ""
	})
	h.stateFunc(b, gamesdk.ExportMoveNotation, func(m string) string {
		return h.notation("", m)
	})
	h.export(b, gamesdk.ExportGameName, 0, func([]uint64) string {
		if g, ok := h.game.(DescribedGame); ok {
			return g.Name()
		}
		return ""
	})
	h.export(b, gamesdk.ExportGameDescription, 0, func([]uint64) string {
		if g, ok := h.game.(DescribedGame); ok {
			return g.Description()
		}
		return ""
	})

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(gamesdk.ExportApplyMove)
			state := readString(mod, api.DecodeU32(stack[0]))
			move := readString(mod, api.DecodeU32(stack[1]))
			stack[0] = api.EncodeU32(h.writeString(mod, h.game.ApplyMove(state, move)))
		}), i32s(2), i32s(1)).
		Export(gamesdk.ExportApplyMove)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(importNotationState)
			state := readString(mod, api.DecodeU32(stack[0]))
			move := readString(mod, api.DecodeU32(stack[1]))
			stack[0] = api.EncodeU32(h.writeString(mod, h.notation(state, move)))
		}), i32s(2), i32s(1)).
		Export(importNotationState)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(gamesdk.ExportIsGameOver)
			state := readString(mod, api.DecodeU32(stack[0]))
			var over uint32
			if h.game.IsGameOver(state) {
				over = 1
			}
			stack[0] = api.EncodeU32(over)
		}), i32s(1), i32s(1)).
		Export(gamesdk.ExportIsGameOver)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(gamesdk.ExportMalloc)
			stack[0] = api.EncodeU32(h.alloc(mod, api.DecodeU32(stack[0])))
		}), i32s(1), i32s(1)).
		Export(gamesdk.ExportMalloc)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(gamesdk.ExportFree)
			h.free(mod, api.DecodeU32(stack[0]), 0, false)
		}), i32s(1), nil).
		Export(gamesdk.ExportFree)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(importFreeSized)
			h.free(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), true)
		}), i32s(2), nil).
		Export(importFreeSized)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(importInitialize)
		}), nil, nil).
		Export(importInitialize)

	if _, err := b.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiate %s host module: %w", ImportModule, err)
	}
	return h, nil
}

// Stats returns the heap counters so far.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Calls reports how many times the named host function ran.
func (h *Host) Calls(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

// Initialized reports how many times a module ran its _initialize export.
func (h *Host) Initialized() int {
	return h.Calls(importInitialize)
}

func (h *Host) export(b wazero.HostModuleBuilder, name string, params int, fn func(stack []uint64) string) {
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(name)
			stack[0] = api.EncodeU32(h.writeString(mod, fn(stack)))
		}), i32s(params), i32s(1)).
		Export(name)
}

func (h *Host) stateFunc(b wazero.HostModuleBuilder, name string, fn func(string) string) {
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.count(name)
			arg := readString(mod, api.DecodeU32(stack[0]))
			stack[0] = api.EncodeU32(h.writeString(mod, fn(arg)))
		}), i32s(1), i32s(1)).
		Export(name)
}

func (h *Host) notation(state, move string) string {
	if g, ok := h.game.(NotatedGame); ok {
		return g.Notation(state, move)
	}
	return move
}

func (h *Host) count(name string) {
	h.mu.Lock()
	h.calls[name]++
	h.mu.Unlock()
}

// heap is a bump allocator over one instance's memory. It only ever writes
// into the initial region or into pages it grew itself, so it never collides
// with a host that appends to the tail of memory on its own.
type heap struct {
	next uint32
	end  uint32
	live map[uint32]uint32
}

func (h *Host) heapFor(mod api.Module) *heap {
	hp, ok := h.heaps[mod.Name()]
	if !ok {
		hp = &heap{next: heapStart, end: mod.Memory().Size(), live: make(map[uint32]uint32)}
		h.heaps[mod.Name()] = hp
	}
	return hp
}

func (h *Host) alloc(mod api.Module, size uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size == 0 {
		size = 1
	}
	hp := h.heapFor(mod)
	if hp.next+size > hp.end {
		pages := (size + pageSize - 1) / pageSize
		prev, ok := mod.Memory().Grow(pages)
		if !ok {
			panic(fmt.Sprintf("wasmtest: cannot grow memory by %d pages", pages))
		}
		hp.next = prev * pageSize
		hp.end = (prev + pages) * pageSize
	}

	ptr := hp.next
	hp.next = (hp.next + size + heapAlign - 1) &^ (heapAlign - 1)
	hp.live[ptr] = size
	h.stats.Allocs++
	h.stats.Live++
	return ptr
}

func (h *Host) free(mod api.Module, ptr, size uint32, sized bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hp := h.heapFor(mod)
	got, ok := hp.live[ptr]
	if !ok || (sized && got != size) {
		h.stats.BadFrees++
		return
	}
	delete(hp.live, ptr)
	h.stats.Frees++
	h.stats.Live--
}

func (h *Host) writeString(mod api.Module, s string) uint32 {
	buf := append([]byte(s), 0)
	ptr := h.alloc(mod, uint32(len(buf)))
	if !mod.Memory().Write(ptr, buf) {
		panic(fmt.Sprintf("wasmtest: write %d bytes at %d out of range", len(buf), ptr))
	}
	return ptr
}

func readString(mod api.Module, ptr uint32) string {
	mem := mod.Memory()
	var out []byte
	for off := ptr; ; off++ {
		b, ok := mem.ReadByte(off)
		if !ok {
			panic(fmt.Sprintf("wasmtest: unterminated string at %d", ptr))
		}
		if b == 0 {
			return string(out)
		}
		out = append(out, b)
	}
}

func i32s(n int) []api.ValueType {
	if n == 0 {
		return nil
	}
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI32
	}
	return out
}
