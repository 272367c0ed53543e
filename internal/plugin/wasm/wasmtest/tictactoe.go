package wasmtest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"wasm-arena/pkg/gamesdk"
)

// TicTacToe is a 3x3 game following the reference module's behavior: the
// state is JSON, moves are "row,col", and an illegal move returns the state
// unchanged.
type TicTacToe struct{}

var _ Game = TicTacToe{}

type tttState struct {
	Board         [3][3]int `json:"board"`
	CurrentPlayer string    `json:"current_player"`
	MoveCount     int       `json:"move_count"`
	Winner        string    `json:"winner"`
}

func decodeTTT(s string) tttState {
	var st tttState
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return tttState{CurrentPlayer: gamesdk.LabelPlayerOne}
	}
	return st
}

func (st tttState) encode() string {
	b, _ := json.Marshal(st)
	return string(b)
}

func (TicTacToe) InitialState() string {
	return tttState{CurrentPlayer: gamesdk.LabelPlayerOne}.encode()
}

func (TicTacToe) ValidMoves(state string) string {
	st := decodeTTT(state)
	moves := []string{}
	if st.Winner == "" {
		moves = st.empty()
	}
	b, _ := json.Marshal(moves)
	return string(b)
}

func (TicTacToe) ApplyMove(state, move string) string {
	st := decodeTTT(state)
	row, col, ok := parseCell(move)
	if !ok || st.Board[row][col] != 0 || st.Winner != "" {
		return st.encode()
	}

	mark := 2
	next := gamesdk.LabelPlayerOne
	if st.CurrentPlayer == gamesdk.LabelPlayerOne {
		mark = 1
		next = gamesdk.LabelPlayerTwo
	}
	st.Board[row][col] = mark
	st.MoveCount++
	st.Winner = st.checkWinner()
	st.CurrentPlayer = next
	return st.encode()
}

func (TicTacToe) IsGameOver(state string) bool {
	return decodeTTT(state).Winner != ""
}

func (TicTacToe) Winner(state string) string {
	return decodeTTT(state).Winner
}

func (TicTacToe) Render(state string) string {
	st := decodeTTT(state)
	var sb strings.Builder
	sb.WriteString("  0   1   2\n")
	for row := 0; row < 3; row++ {
		fmt.Fprintf(&sb, "%d ", row)
		for col := 0; col < 3; col++ {
			fmt.Fprintf(&sb, " %s ", cellMark(st.Board[row][col], " "))
			if col < 2 {
				sb.WriteByte('|')
			}
		}
		fmt.Fprintf(&sb, " %d\n", row)
		if row < 2 {
			sb.WriteString("  ---|---|---\n")
		}
	}
	sb.WriteString("  0   1   2\n")
	return sb.String()
}

func (TicTacToe) CurrentPlayer(state string) string {
	if decodeTTT(state).MoveCount%2 == 0 {
		return gamesdk.LabelPlayerOne
	}
	return gamesdk.LabelPlayerTwo
}

func (TicTacToe) Name() string        { return "Tic-Tac-Toe" }
func (TicTacToe) Description() string { return "Classic 3x3 tic-tac-toe game" }

// Notation renders "row,col" as a column letter and row number, e.g. "a1".
func (TicTacToe) Notation(_, move string) string {
	row, col, ok := parseCell(move)
	if !ok {
		return move
	}
	return fmt.Sprintf("%c%d", 'a'+col, row+1)
}

func (TicTacToe) Transcript(state string) string {
	st := decodeTTT(state)
	winner := st.Winner
	if winner == "" {
		winner = "None"
	}

	var sb strings.Builder
	sb.WriteString("=== TIC-TAC-TOE GAME TRANSCRIPT ===\n")
	fmt.Fprintf(&sb, "Move count: %d\n", st.MoveCount)
	fmt.Fprintf(&sb, "Current player: %s\n", st.CurrentPlayer)
	fmt.Fprintf(&sb, "Winner: %s\n", winner)
	sb.WriteString("Board state:\n")
	for row := 0; row < 3; row++ {
		sb.WriteString("  ")
		for col := 0; col < 3; col++ {
			sb.WriteString(cellMark(st.Board[row][col], ".") + " ")
		}
		sb.WriteString("\n")
	}
	empty := st.empty()
	fmt.Fprintf(&sb, "Valid moves (%d): %s\n", len(empty), strings.Join(empty, " "))
	return sb.String()
}

func (st tttState) empty() []string {
	var out []string
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			if st.Board[row][col] == 0 {
				out = append(out, fmt.Sprintf("%d,%d", row, col))
			}
		}
	}
	return out
}

func (st tttState) checkWinner() string {
	b := st.Board
	lines := [8][3][2]int{
		{{0, 0}, {0, 1}, {0, 2}}, {{1, 0}, {1, 1}, {1, 2}}, {{2, 0}, {2, 1}, {2, 2}},
		{{0, 0}, {1, 0}, {2, 0}}, {{0, 1}, {1, 1}, {2, 1}}, {{0, 2}, {1, 2}, {2, 2}},
		{{0, 0}, {1, 1}, {2, 2}}, {{0, 2}, {1, 1}, {2, 0}},
	}
	for _, l := range lines {
		v := b[l[0][0]][l[0][1]]
		if v != 0 && v == b[l[1][0]][l[1][1]] && v == b[l[2][0]][l[2][1]] {
			if v == 1 {
				return gamesdk.LabelPlayerOne
			}
			return gamesdk.LabelPlayerTwo
		}
	}
	if len(st.empty()) == 0 {
		return gamesdk.WinnerDraw
	}
	return gamesdk.WinnerNone
}

func parseCell(move string) (int, int, bool) {
	r, c, ok := strings.Cut(move, ",")
	if !ok {
		return 0, 0, false
	}
	row, err1 := strconv.Atoi(r)
	col, err2 := strconv.Atoi(c)
	if err1 != nil || err2 != nil || row < 0 || row > 2 || col < 0 || col > 2 {
		return 0, 0, false
	}
	return row, col, true
}

func cellMark(v int, blank string) string {
	switch v {
	case 1:
		return "X"
	case 2:
		return "O"
	default:
		return blank
	}
}
