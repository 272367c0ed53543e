package wasmtest

import (
	"slices"

	"wasm-arena/pkg/gamesdk"
)

// ImportModule is the host namespace test modules forward their calls to.
const ImportModule = "wasmtest"

// Import names that differ from the matching export.
const (
	importFreeSized     = "free_sized"
	importInitialize    = "initialize"
	importNotationState = "get_move_notation_state"
)

const (
	opI32Const    = 0x41
	opLoop        = 0x03
	opBr          = 0x0c
	opUnreachable = 0x00
	blockEmpty    = 0x40
)

// Options shape the exports of a generated game module.
type Options struct {
	// Allocator exports malloc and free.
	Allocator bool
	// FreeWithSize exports free(ptr, size) instead of free(ptr).
	FreeWithSize bool
	// CurrentPlayer exports get_current_player.
	CurrentPlayer bool
	// Describe exports get_game_name and get_game_description.
	Describe bool
	// Transcript exports log_transcript.
	Transcript bool
	// Notation exports get_move_notation with 1 or 2 params. Zero omits it.
	Notation int
	// Initialize exports a reactor _initialize.
	Initialize bool

	// Omit drops the named exports.
	Omit []string
	// NoMemory leaves the module without a memory section.
	NoMemory bool
	// WrongSignature redeclares the named export with a mismatched signature.
	WrongSignature string
	// HangOn makes the named export spin forever.
	HangOn string
	// TrapOn makes the named export hit unreachable.
	TrapOn string

	// MemoryPages is the initial memory size. Defaults to 2.
	MemoryPages uint32
}

type export struct {
	name     string
	hostName string
	params   int
	results  int
}

// Module returns a binary game module shaped by opts.
func Module(opts Options) []byte {
	exports := []export{
		{name: gamesdk.ExportInitialState, params: 0, results: 1},
		{name: gamesdk.ExportValidMoves, params: 1, results: 1},
		{name: gamesdk.ExportApplyMove, params: 2, results: 1},
		{name: gamesdk.ExportIsGameOver, params: 1, results: 1},
		{name: gamesdk.ExportWinner, params: 1, results: 1},
		{name: gamesdk.ExportRender, params: 1, results: 1},
	}
	if opts.CurrentPlayer {
		exports = append(exports, export{name: gamesdk.ExportCurrentPlayer, params: 1, results: 1})
	}
	if opts.Describe {
		exports = append(exports,
			export{name: gamesdk.ExportGameName, params: 0, results: 1},
			export{name: gamesdk.ExportGameDescription, params: 0, results: 1},
		)
	}
	if opts.Transcript {
		exports = append(exports, export{name: gamesdk.ExportTranscript, params: 1, results: 1})
	}
	switch opts.Notation {
	case 1:
		exports = append(exports, export{name: gamesdk.ExportMoveNotation, params: 1, results: 1})
	case 2:
		exports = append(exports, export{name: gamesdk.ExportMoveNotation, hostName: importNotationState, params: 2, results: 1})
	}
	if opts.Allocator {
		exports = append(exports, export{name: gamesdk.ExportMalloc, params: 1, results: 1})
		if opts.FreeWithSize {
			exports = append(exports, export{name: gamesdk.ExportFree, hostName: importFreeSized, params: 2})
		} else {
			exports = append(exports, export{name: gamesdk.ExportFree, params: 1})
		}
	}
	if opts.Initialize {
		exports = append(exports, export{name: gamesdk.ExportInitialize, hostName: importInitialize})
	}

	exports = slices.DeleteFunc(exports, func(e export) bool {
		return slices.Contains(opts.Omit, e.name)
	})

	m := &module{memMin: opts.MemoryPages, noMem: opts.NoMemory}
	if m.memMin == 0 {
		m.memMin = 2
	}

	// Imports precede defined functions in the index space, so add them first.
	importIdx := make(map[string]int)
	for _, e := range exports {
		if e.name == opts.HangOn || e.name == opts.TrapOn || e.name == opts.WrongSignature {
			continue
		}
		name := e.hostName
		if name == "" {
			name = e.name
		}
		importIdx[e.name] = m.addImport(ImportModule, name, e.params, e.results)
	}

	for _, e := range exports {
		var idx uint32
		switch e.name {
		case opts.HangOn:
			idx = m.addFunc(e.params, e.results, hangBody())
		case opts.TrapOn:
			idx = m.addFunc(e.params, e.results, []byte{opUnreachable})
		case opts.WrongSignature:
			params := e.params + 1
			if e.params > 0 {
				params = 0
			}
			idx = m.addFunc(params, 1, []byte{opI32Const, 0x00})
		default:
			idx = m.addForwarder(importIdx[e.name], e.params, e.results)
		}
		m.addExport(e.name, extFunc, idx)
	}

	if !opts.NoMemory && !slices.Contains(opts.Omit, gamesdk.ExportMemory) {
		m.addExport(gamesdk.ExportMemory, extMemory, 0)
	}
	return m.encode()
}

func hangBody() []byte {
	// loop br 0 end unreachable
	return []byte{opLoop, blockEmpty, opBr, 0x00, opEnd, opUnreachable}
}

// LogModule imports the arena log host function and re-exports it as "say".
func LogModule() []byte {
	m := &module{memMin: 1}
	idx := m.addImport(gamesdk.HostModule, "log", 3, 0)
	m.addExport("say", extFunc, m.addForwarder(idx, 3, 0))
	m.addExport(gamesdk.ExportMemory, extMemory, 0)
	return m.encode()
}

// StderrModule imports WASI fd_write and re-exports it as "write".
func StderrModule() []byte {
	m := &module{memMin: 1}
	idx := m.addImport("wasi_snapshot_preview1", "fd_write", 4, 1)
	m.addExport("write", extFunc, m.addForwarder(idx, 4, 1))
	m.addExport(gamesdk.ExportMemory, extMemory, 0)
	return m.encode()
}
