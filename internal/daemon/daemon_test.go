package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/pipeline"
	"curator/internal/stage"
	"curator/internal/testsupport"
)

type unhealthyHandler struct{}

func (unhealthyHandler) Execute(context.Context, *catalog.Record) error { return nil }

func (unhealthyHandler) HealthCheck(context.Context) stage.Health {
	return stage.Unhealthy("broken", "binary not found")
}

func newTestDaemon(t *testing.T, handler stage.Handler) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()
	store := testsupport.NewMemoryStore()

	table, err := pipeline.NewTable(catalog.AssetFootage, []pipeline.Definition{
		{
			Name:           "probe",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageFileInfoExtracted,
			Handler:        handler,
			Timeout:        time.Second,
			MaxConcurrency: 1,
		},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	watchdog := pipeline.NewWatchdog(logger)
	poller := pipeline.NewPoller(store, logger, pipeline.Config{
		PollInterval:       10 * time.Millisecond,
		ErrorRetryInterval: 10 * time.Millisecond,
	}, pipeline.BudgetPolicy{Floor: time.Second, Ceiling: time.Minute}, watchdog, table)

	d, err := New(cfg, logger, poller, nil, watchdog, []*pipeline.Table{table}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestStartStopLifecycle(t *testing.T) {
	d := newTestDaemon(t, stage.Func(func(context.Context, *catalog.Record) error { return nil }))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second Start on the same daemon to fail")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestPreflightFailureBlocksStartAndReleasesLock(t *testing.T) {
	d := newTestDaemon(t, unhealthyHandler{})

	err := d.Start(context.Background())
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	if !strings.Contains(err.Error(), "binary not found") {
		t.Fatalf("expected preflight detail in error, got %v", err)
	}

	// The lock must be released on a failed start so a fixed configuration
	// can start without manual cleanup.
	healthy := newTestDaemonSharingDir(t, d)
	if err := healthy.Start(context.Background()); err != nil {
		t.Fatalf("Start after failed preflight: %v", err)
	}
	healthy.Stop()
}

func TestSecondInstanceIsRefused(t *testing.T) {
	first := newTestDaemon(t, stage.Func(func(context.Context, *catalog.Record) error { return nil }))
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second := newTestDaemonSharingDir(t, first)
	err := second.Start(context.Background())
	if err == nil {
		second.Stop()
		t.Fatal("expected second instance to be refused")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// newTestDaemonSharingDir builds a daemon over the same data directory as
// prev, so the two contend for the same instance lock.
func newTestDaemonSharingDir(t *testing.T, prev *Daemon) *Daemon {
	t.Helper()

	logger := logging.NewNop()
	store := testsupport.NewMemoryStore()

	table, err := pipeline.NewTable(catalog.AssetFootage, []pipeline.Definition{
		{
			Name:           "probe",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageFileInfoExtracted,
			Handler:        stage.Func(func(context.Context, *catalog.Record) error { return nil }),
			Timeout:        time.Second,
			MaxConcurrency: 1,
		},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	watchdog := pipeline.NewWatchdog(logger)
	poller := pipeline.NewPoller(store, logger, pipeline.Config{
		PollInterval: 10 * time.Millisecond,
	}, pipeline.BudgetPolicy{Floor: time.Second, Ceiling: time.Minute}, watchdog, table)

	d, err := New(prev.cfg, logger, poller, nil, watchdog, []*pipeline.Table{table}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}
