// Package audit keeps an append-only JSONL trail of game and match events.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/tracer"
)

// Entry is one line of the trail.
type Entry struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      domain.EventType `json:"type"`
	MatchID   string           `json:"match_id,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// RetentionPolicy controls how long entries are kept.
type RetentionPolicy struct {
	MaxAge  time.Duration // 0 = no limit
	MaxSize int64         // bytes; 0 = no limit
}

// recorded lists the event types worth keeping. Turn prompts, guest output
// and LLM call chatter are left to the logs.
var recorded = map[domain.EventType]bool{
	domain.EventGameLoaded:   true,
	domain.EventGameUnloaded: true,
	domain.EventMatchStarted: true,
	domain.EventMoveApplied:  true,
	domain.EventMoveInvalid:  true,
	domain.EventMatchEnded:   true,
	domain.EventMatchErrored: true,
}

// FileLogger appends entries to a file.
type FileLogger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	retention RetentionPolicy
	logger    *slog.Logger
}

// NewFileLogger opens path for appending, creating it with 0600 permissions.
func NewFileLogger(path string, retention RetentionPolicy, logger *slog.Logger) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLogger{file: f, path: path, retention: retention, logger: logger}, nil
}

// Attach records every auditable event published on bus. Returns the
// unsubscribe function.
func (a *FileLogger) Attach(bus domain.EventBus) func() {
	return bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		if !recorded[ev.Type] {
			return
		}
		if err := a.Record(ctx, ev); err != nil {
			a.logger.Warn("audit write failed", "type", ev.Type, "error", err)
		}
	})
}

// Record writes ev as a single JSON line.
func (a *FileLogger) Record(ctx context.Context, ev domain.Event) error {
	entry := Entry{Timestamp: ev.Timestamp, Type: ev.Type, MatchID: ev.MatchID, Payload: ev.Payload}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	a.mu.Lock()
	_, err = a.file.Write(append(data, '\n'))
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("audit."+string(ev.Type), trace.WithAttributes(
			tracer.StringAttr("audit.match_id", ev.MatchID),
		))
	}
	return nil
}

// Close closes the trail file.
func (a *FileLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// EnforceRetention rewrites the trail keeping only entries inside the
// policy. Oldest entries go first when the size limit is exceeded.
func (a *FileLogger) EnforceRetention(ctx context.Context) (removed int, err error) {
	policy := a.retention
	if policy.MaxAge <= 0 && policy.MaxSize <= 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if policy.MaxAge <= 0 {
		info, err := os.Stat(a.path)
		if err != nil {
			return 0, fmt.Errorf("stat audit log: %w", err)
		}
		if info.Size() <= policy.MaxSize {
			return 0, nil
		}
	}

	if err := a.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	// Whatever happens below, leave an open handle behind.
	defer func() {
		if a.file == nil {
			a.file, _ = os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		}
	}()
	a.file = nil

	kept, removed, err := a.filter(ctx, policy)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := a.path + ".tmp"
	if err := writeLines(tmpPath, kept); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename audit log: %w", err)
	}

	a.file, err = os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, fmt.Errorf("reopen audit log: %w", err)
	}
	return removed, nil
}

func (a *FileLogger) filter(ctx context.Context, policy RetentionPolicy) ([][]byte, int, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = time.Now().Add(-policy.MaxAge)
	}

	var (
		kept     [][]byte
		keptSize int64
		removed  int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !cutoff.IsZero() {
			var entry struct {
				Timestamp time.Time `json:"timestamp"`
			}
			if json.Unmarshal(line, &entry) == nil && entry.Timestamp.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, append([]byte(nil), line...))
		keptSize += int64(len(line)) + 1
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan audit log: %w", err)
	}

	if policy.MaxSize > 0 {
		for len(kept) > 0 && keptSize > policy.MaxSize {
			keptSize -= int64(len(kept[0])) + 1
			kept = kept[1:]
			removed++
		}
	}
	return kept, removed, nil
}

func writeLines(path string, lines [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create audit temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write audit temp file: %w", err)
	}
	return f.Close()
}

// ReadAll returns every entry in the trail at path, oldest first.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
