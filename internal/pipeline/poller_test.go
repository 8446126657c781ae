package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/testsupport"
)

func newTestPoller(t *testing.T, store catalog.Store, defs []Definition) *Poller {
	t.Helper()
	table, err := NewTable(catalog.AssetFootage, defs)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	cfg := Config{
		PollInterval:       10 * time.Millisecond,
		ErrorRetryInterval: 10 * time.Millisecond,
		MaxAttempts:        5,
		RetryBackoffBase:   time.Minute,
	}
	budget := BudgetPolicy{PerMediaSecond: 2, Floor: time.Minute, Ceiling: time.Hour}
	return NewPoller(store, logging.NewNop(), cfg, budget, NewWatchdog(logging.NewNop()), table)
}

func pendingRecord(key string) *catalog.Record {
	return &catalog.Record{
		BusinessKey: key,
		AssetType:   catalog.AssetFootage,
		State:       catalog.Progress(catalog.StagePendingImport),
	}
}

func TestRunOnceAdvancesRecord(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	var calls atomic.Int32
	defs := []Definition{{
		Name:    "fileinfo",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(_ context.Context, rec *catalog.Record) error {
			calls.Add(1)
			rec.SetField(catalog.FieldDurationSecs, "12.5")
			return nil
		}),
		Timeout:        time.Second,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	rec := store.RecordByKey("AF0001")
	if rec.State.String() != catalog.Progress(catalog.StageFileInfoExtracted).String() {
		t.Fatalf("expected advanced status, got %s", rec.State)
	}
	if rec.Field(catalog.FieldDurationSecs) != "12.5" {
		t.Fatal("expected handler field mutation persisted")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", calls.Load())
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	var calls atomic.Int32
	defs := []Definition{{
		Name:    "fileinfo",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(context.Context, *catalog.Record) error {
			calls.Add(1)
			return nil
		}),
		Timeout:        time.Second,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)

	for i := 0; i < 2; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}

	rec := store.RecordByKey("AF0001")
	if rec.State.Stage != catalog.StageFileInfoExtracted {
		t.Fatalf("record double-advanced or not advanced: %s", rec.State)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one handler call across two cycles, got %d", calls.Load())
	}
}

func TestSingleCycleVisibility(t *testing.T) {
	// A record advanced by an earlier stage must not be seen by a later
	// stage until the next cycle.
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	var secondStageCalls atomic.Int32
	defs := []Definition{
		{
			Name:           "fileinfo",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageFileInfoExtracted,
			Handler:        stage.Func(func(context.Context, *catalog.Record) error { return nil }),
			Timeout:        time.Second,
			MaxConcurrency: 1,
		},
		{
			Name:    "thumbnail",
			Trigger: catalog.StageFileInfoExtracted,
			Next:    catalog.StageThumbnailsGenerated,
			Handler: stage.Func(func(context.Context, *catalog.Record) error {
				secondStageCalls.Add(1)
				return nil
			}),
			Timeout:        time.Second,
			MaxConcurrency: 1,
		},
	}
	p := newTestPoller(t, store, defs)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if secondStageCalls.Load() != 0 {
		t.Fatal("second stage ran in the same cycle as the first")
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if secondStageCalls.Load() != 1 {
		t.Fatalf("expected second stage on next cycle, got %d calls", secondStageCalls.Load())
	}
}

func TestAtMostOneHandlerPerRecord(t *testing.T) {
	store := testsupport.NewMemoryStore()
	keys := []string{"AF0001", "AF0002", "AF0003", "AF0004", "AF0005"}
	for _, key := range keys {
		store.AddRecord(pendingRecord(key))
	}

	var mu sync.Mutex
	inFlight := make(map[string]bool)
	var overlaps atomic.Int32
	var peak atomic.Int32
	var current atomic.Int32

	defs := []Definition{{
		Name:    "slow",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(_ context.Context, rec *catalog.Record) error {
			mu.Lock()
			if inFlight[rec.BusinessKey] {
				overlaps.Add(1)
			}
			inFlight[rec.BusinessKey] = true
			mu.Unlock()

			n := current.Add(1)
			for {
				prev := peak.Load()
				if n <= prev || peak.CompareAndSwap(prev, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)

			mu.Lock()
			inFlight[rec.BusinessKey] = false
			mu.Unlock()
			return errors.New("keep record at trigger for the next cycle")
		}),
		Timeout:        time.Second,
		MaxConcurrency: 3,
	}}
	p := newTestPoller(t, store, defs)
	p.cfg.RetryBackoffBase = time.Nanosecond

	for i := 0; i < 3; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}

	if overlaps.Load() != 0 {
		t.Fatalf("detected %d overlapping handler invocations for the same record", overlaps.Load())
	}
	if peak.Load() > 3 {
		t.Fatalf("concurrency limit exceeded: peak %d", peak.Load())
	}
}

func TestTimeoutLeavesStatusAndFreesSlot(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	var running atomic.Int32
	defs := []Definition{{
		Name:    "hang",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(ctx context.Context, _ *catalog.Record) error {
			running.Add(1)
			defer running.Add(-1)
			select {
			case <-time.After(10 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
		Timeout:        100 * time.Millisecond,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)

	start := time.Now()
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not fire promptly, cycle took %v", elapsed)
	}

	rec := store.RecordByKey("AF0001")
	if rec.State.Stage != catalog.StagePendingImport {
		t.Fatalf("timed-out record must keep its trigger status, got %s", rec.State)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected one recorded attempt, got %d", rec.Attempts)
	}
	if !testsupport.WaitUntil(time.Second, func() bool { return running.Load() == 0 }) {
		t.Fatal("unit of work still running after timeout")
	}
	if p.watchdog.InFlight() != 0 {
		t.Fatalf("watchdog still tracking %d tasks", p.watchdog.InFlight())
	}
}

func TestTerminalFailureParksRecord(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	defs := []Definition{{
		Name:    "fileinfo",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(context.Context, *catalog.Record) error {
			return services.Wrap(services.ErrNotFound, "fileinfo", "stat", "source file missing", nil)
		}),
		Timeout:        time.Second,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	rec := store.RecordByKey("AF0001")
	if rec.State.Kind != catalog.StateAwaitingInput {
		t.Fatalf("expected parked record, got %s", rec.State)
	}
	if !strings.Contains(rec.DiagnosticNote, "source file missing") {
		t.Fatalf("expected diagnostic note, got %q", rec.DiagnosticNote)
	}
}

func TestRetryBudgetExhaustionParks(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	defs := []Definition{{
		Name:    "flaky",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(context.Context, *catalog.Record) error {
			return services.Wrap(services.ErrTransient, "flaky", "call", "rate limited", nil)
		}),
		Timeout:        time.Second,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)
	p.cfg.MaxAttempts = 2

	clock := time.Now()
	p.now = func() time.Time { return clock }

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	rec := store.RecordByKey("AF0001")
	if rec.Attempts != 1 || rec.State.Kind != catalog.StateProgress {
		t.Fatalf("expected first transient failure to retry, got attempts=%d state=%s", rec.Attempts, rec.State)
	}
	if rec.NextAttemptAt.IsZero() {
		t.Fatal("expected backoff window recorded")
	}

	// Inside the backoff window the record is skipped.
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := store.RecordByKey("AF0001").Attempts; got != 1 {
		t.Fatalf("backoff window not honored, attempts=%d", got)
	}

	clock = clock.Add(2 * time.Hour)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	rec = store.RecordByKey("AF0001")
	if rec.State.Kind != catalog.StateAwaitingInput {
		t.Fatalf("expected exhausted record parked, got %s", rec.State)
	}
	if !strings.Contains(rec.DiagnosticNote, "retry budget exhausted") {
		t.Fatalf("expected exhaustion note, got %q", rec.DiagnosticNote)
	}
}

func TestForceResumeBypassesBackoff(t *testing.T) {
	store := testsupport.NewMemoryStore()
	rec := pendingRecord("AF0001")
	rec.State = catalog.ForceResume(catalog.StagePendingImport)
	rec.NextAttemptAt = time.Now().Add(time.Hour)
	rec.Attempts = 3
	store.AddRecord(rec)

	defs := []Definition{{
		Name:           "fileinfo",
		Trigger:        catalog.StagePendingImport,
		Next:           catalog.StageFileInfoExtracted,
		Handler:        stage.Func(func(context.Context, *catalog.Record) error { return nil }),
		Timeout:        time.Second,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := store.RecordByKey("AF0001")
	if got.State.Stage != catalog.StageFileInfoExtracted || got.State.Kind != catalog.StateProgress {
		t.Fatalf("force-resumed record not advanced: %s", got.State)
	}
	if got.Attempts != 0 {
		t.Fatalf("expected attempt counter reset on success, got %d", got.Attempts)
	}
}

func TestStartStop(t *testing.T) {
	store := testsupport.NewMemoryStore()
	store.AddRecord(pendingRecord("AF0001"))

	done := make(chan struct{}, 1)
	defs := []Definition{{
		Name:    "fileinfo",
		Trigger: catalog.StagePendingImport,
		Next:    catalog.StageFileInfoExtracted,
		Handler: stage.Func(func(context.Context, *catalog.Record) error {
			select {
			case done <- struct{}{}:
			default:
			}
			return nil
		}),
		Timeout:        time.Second,
		MaxConcurrency: 1,
	}}
	p := newTestPoller(t, store, defs)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never dispatched")
	}
	p.Stop()
	p.Stop() // idempotent
}
