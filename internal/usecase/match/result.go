package match

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"wasm-arena/internal/domain"
)

// Status is the controller's lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusGameOver   Status = "game_over"
	StatusErrored    Status = "errored"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool { return s == StatusGameOver || s == StatusErrored }

// AgentInfo identifies the agent seated for one side.
type AgentInfo struct {
	Player domain.Player    `json:"player"`
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Kind   domain.AgentKind `json:"kind"`
}

// Snapshot is the configuration a match was started with.
type Snapshot struct {
	MatchID            string      `json:"match_id"`
	GameID             string      `json:"game_id,omitempty"`
	Game               string      `json:"game"`
	Agents             []AgentInfo `json:"agents"`
	MaxTurns           int         `json:"max_turns,omitempty"`
	MaxInvalidAttempts int         `json:"max_invalid_attempts,omitempty"`
	StartedAt          time.Time   `json:"started_at"`
}

// Result is emitted once a match stops running.
type Result struct {
	MatchID    string                              `json:"match_id"`
	Snapshot   Snapshot                            `json:"snapshot"`
	FinalState *domain.GameState                   `json:"final_state,omitempty"`
	Status     Status                              `json:"status"`
	Outcome    domain.Result                       `json:"outcome"`
	Winner     domain.Player                       `json:"winner,omitempty"`
	Duration   time.Duration                       `json:"duration"`
	MoveCount  int                                 `json:"move_count"`
	Stats      map[domain.Player]domain.AgentStats `json:"stats,omitempty"`
	Transcript []TranscriptEntry                   `json:"transcript"`
	Error      string                              `json:"error,omitempty"`
	ErrorCode  domain.ErrorCode                    `json:"error_code,omitempty"`

	Err error `json:"-"`
}

// Verdict returns the outcome from player's point of view.
func (r *Result) Verdict(player domain.Player) domain.Verdict {
	return domain.VerdictFor(player, r.Outcome, r.Winner)
}

// TranscriptKind tags a transcript entry.
type TranscriptKind string

const (
	EntryStart   TranscriptKind = "start"
	EntryMove    TranscriptKind = "move"
	EntryInvalid TranscriptKind = "invalid"
	EntryEnd     TranscriptKind = "end"
	EntryError   TranscriptKind = "error"
	EntryGame    TranscriptKind = "game"
)

// TranscriptEntry is one line of a match transcript.
type TranscriptEntry struct {
	Time   time.Time      `json:"time"`
	Kind   TranscriptKind `json:"kind"`
	Player domain.Player  `json:"player,omitempty"`
	Text   string         `json:"text"`
}

func (e TranscriptEntry) String() string {
	ts := e.Time.Format("15:04:05.000")
	if e.Player != "" {
		return fmt.Sprintf("[%s] %s %s: %s", ts, e.Kind, e.Player, e.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, e.Kind, e.Text)
}

// Transcript is the ordered, human-readable log of a match. Safe for
// concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

// Add appends an entry stamped with the current time.
func (t *Transcript) Add(kind TranscriptKind, player domain.Player, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{
		Time:   time.Now(),
		Kind:   kind,
		Player: player,
		Text:   fmt.Sprintf(format, args...),
	})
}

// Entries returns a copy of the entries in order.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// String renders one entry per line.
func (t *Transcript) String() string {
	return RenderTranscript(t.Entries())
}

// RenderTranscript renders entries one per line.
func RenderTranscript(entries []TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
