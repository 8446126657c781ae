// Command curatord is the curator daemon: it polls the external record
// store, advances records through their enrichment stages, and keeps the
// durable job queue draining until the process receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/enrich"
	"curator/internal/handlers"
	"curator/internal/jobqueue"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/pipeline"
	"curator/internal/reconcile"
	"curator/internal/recordstore"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "curatord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRecordStore(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "curatord.log")},
	})
	if err != nil {
		return err
	}
	if exists {
		logger.Info("configuration loaded", logging.String("path", resolvedPath))
	} else {
		logger.Warn("no configuration file found, using defaults", logging.String("searched", resolvedPath))
	}

	store := recordstore.New(cfg.RecordStore, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("failed to release record store session", logging.Error(err))
		}
	}()

	enricher, err := enrich.NewClient(cfg.Enricher, logger)
	if err != nil {
		return err
	}

	queue, err := jobqueue.Open(cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	defer queue.Close()

	notifier := notifications.NewService(cfg.Notifications)

	deps := handlers.Deps{
		Store:    store,
		Uploader: store,
		Enricher: enricher,
		Notifier: notifier,
		Media:    cfg.Media,
		Paths:    cfg.Paths,
		Logger:   logger,
	}

	barrier := reconcile.NewHandler(
		reconcile.New(store, logger, catalog.FrameReadyThreshold,
			silentParentProbe, resetFrameDispatcher(), cfg.Workflow.ChildRetryLimit),
		reconcile.HandlerConfig{
			Interval: seconds(cfg.Workflow.ReconcileInterval),
			Timeout:  seconds(cfg.Workflow.ReconcileTimeout),
		},
	)

	footage, err := handlers.FootageTable(deps, barrier)
	if err != nil {
		return err
	}
	stills, err := handlers.StillsTable(deps)
	if err != nil {
		return err
	}
	music, err := handlers.MusicTable(deps)
	if err != nil {
		return err
	}

	watchdog := pipeline.NewWatchdog(logger)
	budget := pipeline.BudgetPolicy{
		PerMediaSecond: cfg.Workflow.BudgetPerMediaSecond,
		Floor:          seconds(cfg.Workflow.BudgetFloorSeconds),
		Ceiling:        seconds(cfg.Workflow.BudgetCeilingSeconds),
	}

	// The footage pipeline runs through the durable queue so its long,
	// expensive stages survive restarts; stills and music stay on the
	// lighter in-process poller.
	poller := pipeline.NewPoller(store, logger, pipeline.Config{
		PollInterval:       seconds(cfg.Workflow.PollInterval),
		ErrorRetryInterval: seconds(cfg.Workflow.ErrorRetryInterval),
		MaxAttempts:        cfg.Workflow.MaxAttempts,
		RetryBackoffBase:   seconds(cfg.Workflow.RetryBackoffBase),
	}, budget, watchdog, stills, music)
	poller.SetNotifier(notifier)

	runner := jobqueue.NewRunner(store, queue, logger, jobqueue.RunnerConfig{
		WorkersPerQueue:   cfg.Queue.WorkersPerQueue,
		ClaimPollInterval: seconds(cfg.Queue.ClaimPollInterval),
		MaxAttempts:       cfg.Workflow.MaxAttempts,
		RetryBackoffBase:  seconds(cfg.Workflow.RetryBackoffBase),
	}, footage)
	runner.SetNotifier(notifier)

	d, err := daemon.New(cfg, logger, poller, runner, watchdog,
		[]*pipeline.Table{footage, stills, music}, notifier)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("curatord ready")

	<-ctx.Done()
	logger.Info("shutdown signal received")
	d.Stop()
	return nil
}

// silentParentProbe satisfies the fan-in barrier for silent footage: frames
// under a parent with no audio track will never grow transcripts, so every
// child is bulk-advanced to the ready sub-stage instead of being waited on.
func silentParentProbe(_ context.Context, parent *catalog.Record) (bool, error) {
	return parent.Field(catalog.FieldHasAudio) == "false", nil
}

// resetFrameDispatcher re-queues a stuck frame by resetting its sub-status to
// the start of the frame pipeline. Frames are processed by the external
// frame-enrichment service, which polls the record store for that sub-status;
// this daemon only reconciles the results.
func resetFrameDispatcher() reconcile.ChildDispatcher {
	return func(_ context.Context, frame *catalog.Frame) error {
		frame.State = catalog.Progress(catalog.FramePendingThumbnail)
		return nil
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
