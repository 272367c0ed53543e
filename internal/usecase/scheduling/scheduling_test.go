package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"wasm-arena/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionGamesRescan, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(Task{Name: "rescan", Schedule: "50ms", Action: ActionGamesRescan}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	_ = s.Stop(context.Background())

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerActionErrorKeepsRunning(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionAuditRetention, func(ctx context.Context) error {
		count.Add(1)
		return errors.New("disk full")
	})
	if err := s.AddTask(Task{Name: "trim", Schedule: "30ms", Action: ActionAuditRetention}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	_ = s.Stop(context.Background())

	if c := count.Load(); c < 2 {
		t.Errorf("action fired %d times, expected repeated runs despite errors", c)
	}
}

func TestSchedulerStopCancelsContext(t *testing.T) {
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionGamesRescan, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	if err := s.AddTask(Task{Name: "slow", Schedule: "20ms", Action: ActionGamesRescan}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !cancelled.Load() {
		t.Error("running task was not cancelled")
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())
	err := s.AddTask(Task{Name: "unknown", Schedule: "100ms", Action: "does_not_exist"})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionGamesRescan, func(context.Context) error { return nil })
	err := s.AddTask(Task{Name: "bad", Schedule: "whenever", Action: ActionGamesRescan})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		next time.Time
	}{
		{"*/5 * * * *", now.Add(5 * time.Minute)},
		{"@hourly", now.Add(time.Hour)},
		{"30m", now.Add(30 * time.Minute)},
		{"10ms", now.Add(10 * time.Millisecond)},
	}
	for _, tt := range tests {
		sched, err := ParseSchedule(tt.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if got := sched.Next(now); !got.Equal(tt.next) {
			t.Errorf("ParseSchedule(%q).Next = %v, want %v", tt.in, got, tt.next)
		}
	}

	for _, bad := range []string{"", "not a schedule", "-5m"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", bad)
		}
	}
}

func TestTasksFrom(t *testing.T) {
	tasks := TasksFrom([]config.TaskConfig{
		{Name: "rescan", Schedule: "@every 1m", Action: "games_rescan"},
	})
	if len(tasks) != 1 || tasks[0].Action != ActionGamesRescan || tasks[0].Schedule != "@every 1m" {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}
