package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/pipeline"
	"curator/internal/services"
)

// workerGrace is how long a worker waits, after cancelling a timed-out
// handler, for it to acknowledge cancellation before the worker moves on.
const workerGrace = 500 * time.Millisecond

// RunnerConfig controls driver and worker timing plus the bounded-retry
// policy applied to failing records.
type RunnerConfig struct {
	WorkersPerQueue   int
	ClaimPollInterval time.Duration
	DriveInterval     time.Duration
	StaleClaimAfter   time.Duration
	MaxAttempts       int
	RetryBackoffBase  time.Duration
}

// retryBackoffCap bounds the exponential backoff between attempts.
const retryBackoffCap = time.Hour

// Runner is the durable-queue execution mode: a driver sweep enqueues one job
// per eligible record, and per-stage worker pools claim jobs, run the stage
// handler, and chain exactly one successor job on success. A record never has
// two jobs in flight because enqueueing is guarded by business key and a
// successor is only enqueued after its predecessor's job is discarded.
type Runner struct {
	store    catalog.Store
	queue    *Store
	logger   *slog.Logger
	cfg      RunnerConfig
	tables   []*pipeline.Table
	notifier notifications.Service

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner constructs a queue runner over the given stage tables.
func NewRunner(store catalog.Store, queue *Store, logger *slog.Logger, cfg RunnerConfig, tables ...*pipeline.Table) *Runner {
	if cfg.WorkersPerQueue <= 0 {
		cfg.WorkersPerQueue = 1
	}
	if cfg.ClaimPollInterval <= 0 {
		cfg.ClaimPollInterval = time.Second
	}
	if cfg.DriveInterval <= 0 {
		cfg.DriveInterval = 15 * time.Second
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 30 * time.Second
	}
	return &Runner{
		store:  store,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, "jobqueue"),
		cfg:    cfg,
		tables: tables,
	}
}

// SetNotifier attaches a push notifier for parked records. Must be called
// before Start.
func (r *Runner) SetNotifier(n notifications.Service) {
	r.notifier = n
}

// Start launches the driver loop and the per-stage worker pools.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue runner already running")
	}
	if len(r.tables) == 0 {
		return errors.New("queue runner has no stage tables")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.driveLoop(runCtx)

	for _, table := range r.tables {
		for _, def := range table.Definitions() {
			for i := 0; i < r.cfg.WorkersPerQueue; i++ {
				r.wg.Add(1)
				go r.workLoop(runCtx, table, def)
			}
		}
	}
	return nil
}

// Stop terminates the driver and workers and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Runner) driveLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		if err := r.DriveOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("drive sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "drive_sweep_failed"),
				logging.String(logging.FieldErrorHint, "check record store connectivity"),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.DriveInterval):
		}
	}
}

// DriveOnce performs a single driver sweep: release stale claims, then
// enqueue a job for every record sitting at a trigger status with no job in
// flight. Enqueueing is idempotent per record, so repeated sweeps over the
// same record produce one job.
func (r *Runner) DriveOnce(ctx context.Context) error {
	if released, err := r.queue.ReleaseStaleClaims(ctx, time.Now().Add(-r.cfg.StaleClaimAfter)); err != nil {
		r.logger.Warn("stale claim release failed", logging.Error(err))
	} else if released > 0 {
		r.logger.Info("released stale claims", logging.Int64("count", released))
	}

	for _, table := range r.tables {
		for _, def := range table.Definitions() {
			if err := r.enqueueEligible(ctx, table, def); err != nil {
				return fmt.Errorf("enqueue eligible for %s: %w", def.Name, err)
			}
		}
	}
	return nil
}

func (r *Runner) enqueueEligible(ctx context.Context, table *pipeline.Table, def pipeline.Definition) error {
	for _, state := range []catalog.State{
		catalog.Progress(def.Trigger),
		catalog.ForceResume(def.Trigger),
	} {
		records, err := r.store.FindRecords(ctx, table.Asset, state)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if state.Kind != catalog.StateForceResume && !rec.RetryEligible(time.Now()) {
				continue
			}
			inserted, err := r.queue.EnqueueOnce(ctx, queueName(table.Asset, def), rec.BusinessKey)
			if err != nil {
				return err
			}
			if inserted {
				r.logger.Debug("enqueued job",
					logging.String(logging.FieldQueue, def.Name),
					logging.String(logging.FieldRecordKey, rec.BusinessKey),
				)
			}
		}
	}
	return nil
}

func (r *Runner) workLoop(ctx context.Context, table *pipeline.Table, def pipeline.Definition) {
	defer r.wg.Done()
	queue := queueName(table.Asset, def)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := r.queue.Claim(ctx, queue)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Error("claim failed",
					logging.Error(err),
					logging.String(logging.FieldQueue, def.Name),
				)
			}
			if !sleepCtx(ctx, r.cfg.ClaimPollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, r.cfg.ClaimPollInterval) {
				return
			}
			continue
		}

		r.processJob(ctx, table, def, job)
	}
}

// processJob runs one claimed job end to end. A job whose record no longer
// sits at the trigger status is stale (the record moved by other means) and
// is discarded without running the handler.
func (r *Runner) processJob(ctx context.Context, table *pipeline.Table, def pipeline.Definition, job *Job) {
	ctx = services.WithPipeline(ctx, string(table.Asset))
	ctx = services.WithStage(ctx, def.Name)
	ctx = services.WithRecordKey(ctx, job.BusinessKey)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldJobID, job.ID))

	rec, err := r.store.FindRecordByKey(ctx, table.Asset, job.BusinessKey)
	if err != nil {
		logger.Error("record lookup failed", logging.Error(err))
		r.finish(logger, r.queue.Fail(ctx, job, err))
		return
	}
	if rec == nil || !rec.State.TriggersStage(def.Trigger) {
		logger.Info("discarding stale job",
			logging.String(logging.FieldEventType, "job_stale"),
		)
		r.finish(logger, r.queue.Complete(ctx, job.ID))
		return
	}

	logger.Info("job started", logging.String(logging.FieldEventType, "job_start"))
	start := time.Now()

	execErr := r.runHandler(ctx, def, rec)
	if execErr != nil && errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
		// Shutdown mid-job: leave the claim in place, the stale-claim sweep
		// returns it to the queue after restart.
		logger.Debug("job interrupted by shutdown")
		return
	}

	if execErr != nil {
		r.recordFailure(ctx, logger, table, rec, execErr)
		r.finish(logger, r.queue.Fail(ctx, job, execErr))
		return
	}

	rec.State = catalog.Progress(def.Next)
	rec.Attempts = 0
	rec.NextAttemptAt = time.Time{}
	rec.DiagnosticNote = ""
	if err := r.store.UpdateRecord(ctx, rec); err != nil {
		// Advance did not land; dead-letter so an operator replays the job.
		r.finish(logger, r.queue.Fail(ctx, job, err))
		logger.Error("failed to persist job result", logging.Error(err))
		return
	}

	// Discard before chaining so the successor's guarded insert does not see
	// this job.
	if err := r.queue.Complete(ctx, job.ID); err != nil {
		logger.Error("failed to discard job", logging.Error(err))
		return
	}
	r.chainSuccessor(ctx, logger, table, def, rec)

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("next_status", rec.State.String()),
		logging.Duration("job_duration", time.Since(start)),
	)
}

// recordFailure applies the error taxonomy before the job is dead-lettered.
// Terminal failures park the record for an operator. Transient ones leave
// the status at the trigger and bump the persisted attempt counter with
// exponential backoff, so the next driver sweep re-enqueues the record once
// the window elapses, parking when the budget is exhausted.
func (r *Runner) recordFailure(ctx context.Context, logger *slog.Logger, table *pipeline.Table, rec *catalog.Record, execErr error) {
	note := services.Detail(execErr)

	switch services.Classify(execErr) {
	case services.DispositionPark:
		rec.Park(note)
	default:
		rec.Attempts++
		if rec.Attempts >= r.cfg.MaxAttempts {
			rec.Park(fmt.Sprintf("retry budget exhausted after %d attempts: %s", rec.Attempts, note))
		} else {
			rec.DiagnosticNote = note
			rec.NextAttemptAt = time.Now().Add(r.backoff(rec.Attempts))
		}
	}

	logger.Error("job failed",
		logging.Error(execErr),
		logging.String(logging.FieldEventType, "job_failure"),
		logging.Int("attempts", rec.Attempts),
		logging.String("resolved_status", rec.State.String()),
	)
	if err := r.store.UpdateRecord(ctx, rec); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
	}
	if r.notifier != nil && rec.State.Kind == catalog.StateAwaitingInput {
		if err := r.notifier.NotifyRecordParked(ctx, string(table.Asset), rec.BusinessKey, rec.DiagnosticNote); err != nil {
			logger.Warn("parked-record notification failed", logging.Error(err))
		}
	}
}

func (r *Runner) backoff(attempts int) time.Duration {
	delay := r.cfg.RetryBackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return delay
}

// chainSuccessor enqueues the one follow-on job, when the next status
// triggers another stage. A miss here is not fatal, the driver sweep finds
// the record at its new status and enqueues it.
func (r *Runner) chainSuccessor(ctx context.Context, logger *slog.Logger, table *pipeline.Table, def pipeline.Definition, rec *catalog.Record) {
	next, ok := table.ForTrigger(def.Next)
	if !ok {
		return
	}
	if _, err := r.queue.EnqueueOnce(ctx, queueName(table.Asset, next), rec.BusinessKey); err != nil {
		logger.Warn("failed to chain successor job",
			logging.Error(err),
			logging.String(logging.FieldQueue, next.Name),
		)
	}
}

func (r *Runner) runHandler(ctx context.Context, def pipeline.Definition, rec *catalog.Record) error {
	runCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- def.Handler.Execute(runCtx, rec)
	}()

	select {
	case err := <-errCh:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, def.Name, "execute", "job timeout exceeded", err)
		}
		return err
	case <-runCtx.Done():
		select {
		case err := <-errCh:
			if err == nil {
				return nil
			}
			return services.Wrap(services.ErrTimeout, def.Name, "execute", "job timeout exceeded", err)
		case <-time.After(workerGrace):
			return services.Wrap(services.ErrTimeout, def.Name, "execute",
				"job timeout exceeded and handler ignored cancellation", runCtx.Err())
		}
	}
}

func (r *Runner) finish(logger *slog.Logger, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("queue bookkeeping failed", logging.Error(err))
	}
}

func queueName(asset catalog.AssetType, def pipeline.Definition) string {
	return string(asset) + "/" + def.Name
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
