package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/config"
	"curator/internal/jobqueue"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/pipeline"
)

// Daemon ties the poller, the queue runner, and the watchdog into one
// lifecycle, with flock-based locking so only one curator daemon runs per
// data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	poller   *pipeline.Poller
	runner   *jobqueue.Runner
	watchdog *pipeline.Watchdog
	tables   []*pipeline.Table
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon. runner may be nil when the durable queue mode is
// disabled; notifier may be nil when push notifications are not configured.
func New(cfg *config.Config, logger *slog.Logger, poller *pipeline.Poller, runner *jobqueue.Runner, watchdog *pipeline.Watchdog, tables []*pipeline.Table, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || logger == nil || poller == nil || watchdog == nil {
		return nil, errors.New("daemon requires config, logger, poller, and watchdog")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "curatord.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		poller:   poller,
		runner:   runner,
		watchdog: watchdog,
		tables:   tables,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, verifies every stage is healthy, and
// launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curator daemon instance is already running")
	}

	if err := d.preflight(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		interval := time.Duration(d.cfg.Workflow.WatchdogInterval) * time.Second
		d.watchdog.Run(runCtx, interval)
	}()

	if err := d.poller.Start(runCtx); err != nil {
		d.shutdown()
		return fmt.Errorf("start poller: %w", err)
	}
	if d.runner != nil {
		if err := d.runner.Start(runCtx); err != nil {
			d.poller.Stop()
			d.shutdown()
			return fmt.Errorf("start queue runner: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("curator daemon started", logging.String("lock", d.lockPath))
	if d.notifier != nil {
		if err := d.notifier.NotifyDaemonStarted(ctx); err != nil {
			d.logger.Warn("startup notification failed", logging.Error(err))
		}
	}
	return nil
}

// preflight aggregates stage health checks and refuses to start while any
// stage reports not ready. A daemon that starts with a broken stage would
// burn every matching record's retry budget on a known-bad dependency.
func (d *Daemon) preflight(ctx context.Context) error {
	var failures []string
	for _, table := range d.tables {
		for _, def := range table.Definitions() {
			health := def.Handler.HealthCheck(ctx)
			if health.Ready {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s/%s: %s", table.Asset, def.Name, health.Detail))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.poller.Stop()
	if d.runner != nil {
		d.runner.Stop()
	}
	d.shutdown()
	d.running.Store(false)
	d.logger.Info("curator daemon stopped")
	if d.notifier != nil {
		if err := d.notifier.NotifyDaemonStopped(context.Background()); err != nil {
			d.logger.Warn("shutdown notification failed", logging.Error(err))
		}
	}
}

func (d *Daemon) shutdown() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Running reports whether background services are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
