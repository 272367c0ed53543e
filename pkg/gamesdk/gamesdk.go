// Package gamesdk documents the calling convention a game module must follow
// to be hosted by wasm-arena, and exports the names the host checks for.
//
// A game module is a WebAssembly binary (wasm32-unknown-unknown or wasm32-wasi,
// built as a reactor) that exports a linear memory and the functions below.
// Every string crossing the boundary is UTF-8 followed by a NUL byte and is
// passed as an i32 pointer into the module's memory.
//
// # Required Exports
//
//   - memory
//   - get_initial_state() -> ptr
//   - get_valid_moves(state ptr) -> ptr          JSON array of strings, or comma-separated
//   - apply_move(state ptr, move ptr) -> ptr     the next state
//   - is_game_over(state ptr) -> i32             0 or 1
//   - get_winner(state ptr) -> ptr               "player1", "player2", "draw" or ""
//   - render(state ptr) -> ptr                   human-readable board, never empty
//
// # Optional Exports
//
//   - malloc(size i32) -> ptr, free(ptr) or free(ptr, size)
//     When malloc is missing the host appends strings in freshly grown pages
//     that are never reclaimed. Only use that for short games.
//     When free is exported the host also frees every returned string, so
//     returned pointers must come from malloc.
//   - get_current_player(state ptr) -> ptr       a player label
//   - get_game_name() -> ptr, get_game_description() -> ptr
//   - get_move_notation(move ptr) -> ptr, or get_move_notation(state ptr, move ptr) -> ptr
//   - log_transcript(state ptr) -> ptr
//   - _initialize()                              reactor constructor, called once
//
// # Rejecting a Move
//
// apply_move signals an illegal move by returning a string that starts with
// "error:" or a JSON object with an "error" field. Returning the input state
// unchanged is also treated as a rejection.
//
// # Host Functions (arena module)
//
//   - log(level i32, ptr i32, len i32)
//     Levels: 0=debug, 1=info, 2=warn, 3=error.
//
// Anything written to WASI stdout or stderr is captured line by line into the
// host log.
package gamesdk

// Export names of the calling surface.
const (
	ExportMemory = "memory"

	ExportInitialState = "get_initial_state"
	ExportValidMoves   = "get_valid_moves"
	ExportApplyMove    = "apply_move"
	ExportIsGameOver   = "is_game_over"
	ExportWinner       = "get_winner"
	ExportRender       = "render"

	ExportCurrentPlayer   = "get_current_player"
	ExportGameName        = "get_game_name"
	ExportGameDescription = "get_game_description"
	ExportMoveNotation    = "get_move_notation"
	ExportTranscript      = "log_transcript"

	ExportMalloc     = "malloc"
	ExportFree       = "free"
	ExportInitialize = "_initialize"
)

// Signature describes an export's i32 parameter and result counts.
type Signature struct {
	Params  int
	Results int
}

// Required lists every mandatory function export and its signature.
var Required = []struct {
	Name string
	Sig  Signature
}{
	{ExportInitialState, Signature{0, 1}},
	{ExportValidMoves, Signature{1, 1}},
	{ExportApplyMove, Signature{2, 1}},
	{ExportIsGameOver, Signature{1, 1}},
	{ExportWinner, Signature{1, 1}},
	{ExportRender, Signature{1, 1}},
}

// Default player labels, first side first.
const (
	LabelPlayerOne = "player1"
	LabelPlayerTwo = "player2"
)

// Winner strings returned by get_winner besides a player label.
const (
	WinnerDraw = "draw"
	WinnerNone = ""
)

// ErrorPrefix marks a rejected move in an apply_move reply.
const ErrorPrefix = "error:"

// HostModule is the import namespace of host functions.
const HostModule = "arena"

// LogLevel constants for the host log function.
const (
	LogDebug int32 = 0
	LogInfo  int32 = 1
	LogWarn  int32 = 2
	LogError int32 = 3
)
