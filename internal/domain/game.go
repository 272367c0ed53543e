package domain

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Player is one of the two canonical sides of a match.
type Player string

const (
	PlayerOne Player = "player_one"
	PlayerTwo Player = "player_two"
)

// Players lists both sides in seating order.
var Players = [2]Player{PlayerOne, PlayerTwo}

// Valid reports whether p is one of the two canonical identities.
func (p Player) Valid() bool { return p == PlayerOne || p == PlayerTwo }

// Opponent returns the other side. Panics on an invalid player.
func (p Player) Opponent() Player {
	switch p {
	case PlayerOne:
		return PlayerTwo
	case PlayerTwo:
		return PlayerOne
	}
	panic(fmt.Sprintf("domain: opponent of invalid player %q", string(p)))
}

// Index returns 0 for PlayerOne and 1 for PlayerTwo, -1 otherwise.
func (p Player) Index() int {
	switch p {
	case PlayerOne:
		return 0
	case PlayerTwo:
		return 1
	}
	return -1
}

// ParsePlayer accepts the canonical names plus short forms such as "player1" or "p2".
func ParsePlayer(s string) (Player, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(PlayerOne), "player1", "1", "p1", "one":
		return PlayerOne, nil
	case string(PlayerTwo), "player2", "2", "p2", "two":
		return PlayerTwo, nil
	}
	return "", fmt.Errorf("%w: unknown player %q", ErrInvalidInput, s)
}

// Result is the outcome status of a game state.
type Result string

const (
	ResultOngoing Result = "ongoing"
	ResultWin     Result = "win"
	ResultDraw    Result = "draw"
)

// Verdict is a result relative to one agent.
type Verdict string

const (
	VerdictWin  Verdict = "win"
	VerdictLoss Verdict = "loss"
	VerdictDraw Verdict = "draw"
)

// VerdictFor returns the verdict for player given the final outcome.
func VerdictFor(player Player, result Result, winner Player) Verdict {
	if result != ResultWin {
		return VerdictDraw
	}
	if winner == player {
		return VerdictWin
	}
	return VerdictLoss
}

// Position is a row/column board coordinate.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Move is a single play. Exactly one of Position or Data is set.
type Move struct {
	Player    Player    `json:"player"`
	Timestamp time.Time `json:"timestamp"`
	Position  *Position `json:"position,omitempty"`
	Data      string    `json:"data,omitempty"`
}

// NewMove builds a data-payload move stamped with the current time.
func NewMove(player Player, data string) Move {
	return Move{Player: player, Timestamp: time.Now(), Data: data}
}

// Validate checks that exactly one payload representation is present.
func (m Move) Validate() error {
	switch {
	case m.Position == nil && m.Data == "":
		return fmt.Errorf("%w: move has no payload", ErrInvalidInput)
	case m.Position != nil && m.Data != "":
		return fmt.Errorf("%w: move has both position and data", ErrInvalidInput)
	}
	return nil
}

// Notation returns the string handed to the foreign module.
func (m Move) Notation() string {
	if m.Position != nil {
		return strconv.Itoa(m.Position.Row) + "," + strconv.Itoa(m.Position.Col)
	}
	return m.Data
}

// GameState.Metadata keys set by the host.
const (
	MetaEngine  = "engine"   // instance name of the module serving the game
	MetaGameID  = "game_id"  // registry id, empty for ad-hoc modules
	MetaMatchID = "match_id" // match the state belongs to
)

// GameState is an immutable snapshot of a game. Board is opaque to the host.
type GameState struct {
	Board         string            `json:"board"`
	CurrentPlayer Player            `json:"current_player"`
	Moves         []Move            `json:"moves"`
	Result        Result            `json:"result"`
	Winner        Player            `json:"winner,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// WithMetadata returns a copy of s with key set to value.
func (s *GameState) WithMetadata(key, value string) *GameState {
	next := *s
	next.Metadata = maps.Clone(s.Metadata)
	if next.Metadata == nil {
		next.Metadata = make(map[string]string)
	}
	next.Metadata[key] = value
	return &next
}

// Next returns a new state with move appended. The receiver is left untouched.
func (s *GameState) Next(board string, move Move) *GameState {
	moves := make([]Move, len(s.Moves), len(s.Moves)+1)
	copy(moves, s.Moves)
	return &GameState{
		Board:    board,
		Moves:    append(moves, move),
		Result:   ResultOngoing,
		Metadata: maps.Clone(s.Metadata),
	}
}

// LastMove returns the most recent move, if any.
func (s *GameState) LastMove() (Move, bool) {
	if len(s.Moves) == 0 {
		return Move{}, false
	}
	return s.Moves[len(s.Moves)-1], true
}

// RecentMoves returns up to n most recent moves in play order.
func (s *GameState) RecentMoves(n int) []Move {
	if n <= 0 || n >= len(s.Moves) {
		return s.Moves
	}
	return s.Moves[len(s.Moves)-n:]
}

// MatchMove looks s up in valid, first exactly and then ignoring case, and
// returns the spelling used by valid.
func MatchMove(valid []string, s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, v := range valid {
		if v == s {
			return v, true
		}
	}
	for _, v := range valid {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}
