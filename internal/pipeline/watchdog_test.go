package pipeline

import (
	"context"
	"testing"
	"time"

	"curator/internal/logging"
)

func TestBudgetClamping(t *testing.T) {
	policy := BudgetPolicy{PerMediaSecond: 2, Floor: time.Minute, Ceiling: 10 * time.Minute}

	if got := policy.Budget(0); got != time.Minute {
		t.Fatalf("unknown duration should get floor, got %v", got)
	}
	if got := policy.Budget(10 * time.Second); got != time.Minute {
		t.Fatalf("short media should clamp to floor, got %v", got)
	}
	if got := policy.Budget(2 * time.Minute); got != 4*time.Minute {
		t.Fatalf("expected duration x factor, got %v", got)
	}
	if got := policy.Budget(2 * time.Hour); got != 10*time.Minute {
		t.Fatalf("long media should clamp to ceiling, got %v", got)
	}
}

func TestWatchdogSweepCancelsOverdue(t *testing.T) {
	wd := NewWatchdog(logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	release := wd.Register("task-1", "AF0001", "transcribe", time.Second, cancel)
	defer release()

	if n := wd.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh task should not be swept, cancelled %d", n)
	}
	if ctx.Err() != nil {
		t.Fatal("context cancelled prematurely")
	}

	if n := wd.Sweep(time.Now().Add(2 * time.Second)); n != 1 {
		t.Fatalf("expected one overdue cancellation, got %d", n)
	}
	if ctx.Err() == nil {
		t.Fatal("expected context cancelled after sweep")
	}
	if wd.InFlight() != 0 {
		t.Fatalf("swept task should be deregistered, %d in flight", wd.InFlight())
	}
}

func TestWatchdogReleaseRemovesTask(t *testing.T) {
	wd := NewWatchdog(logging.NewNop())
	_, cancel := context.WithCancel(context.Background())
	release := wd.Register("task-2", "AF0002", "caption", time.Second, cancel)
	if wd.InFlight() != 1 {
		t.Fatalf("expected one in-flight task")
	}
	release()
	if wd.InFlight() != 0 {
		t.Fatalf("expected zero in-flight tasks after release")
	}
	if n := wd.Sweep(time.Now().Add(time.Minute)); n != 0 {
		t.Fatalf("released task must not be swept, cancelled %d", n)
	}
}
