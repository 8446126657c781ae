package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/services"
)

// Config controls poller timing and the bounded-retry policy.
type Config struct {
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	MaxAttempts        int
	RetryBackoffBase   time.Duration
}

// handlerGrace is how long the dispatcher waits, after cancelling a timed-out
// unit of work, for the handler to acknowledge cancellation before the slot
// is reclaimed anyway.
const handlerGrace = 500 * time.Millisecond

// retryBackoffCap bounds the exponential backoff between attempts.
const retryBackoffCap = time.Hour

// Poller drives one or more stage tables against the record store: each
// cycle it finds eligible records per stage, dispatches up to the stage's
// concurrency limit, drains the batch, and moves on. Exclusivity is
// structural: a record appears in exactly one find result, and a batch is
// fully drained before the next find, so no two handler invocations for the
// same record ever overlap.
type Poller struct {
	store    catalog.Store
	logger   *slog.Logger
	cfg      Config
	budget   BudgetPolicy
	watchdog *Watchdog
	tables   []*Table
	notifier notifications.Service

	now func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller constructs a poller over the given stage tables.
func NewPoller(store catalog.Store, logger *slog.Logger, cfg Config, budget BudgetPolicy, watchdog *Watchdog, tables ...*Table) *Poller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 30 * time.Second
	}
	return &Poller{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "poller"),
		cfg:      cfg,
		budget:   budget,
		watchdog: watchdog,
		tables:   tables,
		now:      time.Now,
	}
}

// SetNotifier attaches a push notifier for parked records. Must be called
// before Start.
func (p *Poller) SetNotifier(n notifications.Service) {
	p.notifier = n
}

// Start begins background polling, one goroutine per asset-type pipeline.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("poller already running")
	}
	if len(p.tables) == 0 {
		return errors.New("poller has no stage tables")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(len(p.tables))
	for _, table := range p.tables {
		go p.runPipeline(runCtx, table)
	}
	return nil
}

// Stop terminates background polling and waits for in-flight batches to drain.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Poller) runPipeline(ctx context.Context, table *Table) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldPipeline, string(table.Asset)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.pollCycle(ctx, table); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poll cycle failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "poll_cycle_failed"),
				logging.String(logging.FieldErrorHint, "check record store connectivity"),
			)
			if !sleepCtx(ctx, p.cfg.ErrorRetryInterval) {
				return
			}
			continue
		}

		if !sleepCtx(ctx, p.cfg.PollInterval) {
			return
		}
	}
}

// RunOnce performs a single poll cycle across every table. Exposed for
// one-shot CLI runs and tests; no cursor is kept between cycles, so running
// it again with no external change is a no-op for already-advanced records.
func (p *Poller) RunOnce(ctx context.Context) error {
	for _, table := range p.tables {
		if err := p.pollCycle(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// pollCycle snapshots every stage's eligible records up front, then
// dispatches stage by stage in pipeline order, draining each batch before the
// next starts. Snapshotting first means a record advanced by an earlier stage
// in this cycle is only seen by the later stage on the next cycle, and a
// record appears in at most one batch per cycle.
func (p *Poller) pollCycle(ctx context.Context, table *Table) error {
	type stageBatch struct {
		def     Definition
		records []*catalog.Record
	}

	var batches []stageBatch
	for _, def := range table.Definitions() {
		records, err := p.findEligible(ctx, table, def)
		if err != nil {
			return fmt.Errorf("find records for %s: %w", def.Name, err)
		}
		if len(records) > 0 {
			batches = append(batches, stageBatch{def: def, records: records})
		}
	}

	for _, batch := range batches {
		p.dispatchStage(ctx, table, batch.def, batch.records)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// findEligible queries the trigger status plus force-resume overrides
// targeting it, then filters out records still inside their retry backoff.
func (p *Poller) findEligible(ctx context.Context, table *Table, def Definition) ([]*catalog.Record, error) {
	var records []*catalog.Record
	for _, state := range []catalog.State{
		catalog.Progress(def.Trigger),
		catalog.ForceResume(def.Trigger),
	} {
		found, err := p.store.FindRecords(ctx, table.Asset, state)
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}

	now := p.now()
	eligible := records[:0]
	for _, rec := range records {
		// Force resume bypasses the backoff window: the operator asked.
		if rec.State.Kind == catalog.StateForceResume || rec.RetryEligible(now) {
			eligible = append(eligible, rec)
		}
	}
	return eligible, nil
}

// dispatchStage runs the stage handler for each record, at most
// MaxConcurrency at a time, and blocks until the whole batch has drained.
func (p *Poller) dispatchStage(ctx context.Context, table *Table, def Definition, records []*catalog.Record) {
	sem := make(chan struct{}, def.MaxConcurrency)
	var wg sync.WaitGroup
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(rec *catalog.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processRecord(ctx, table, def, rec)
		}(rec)
	}
	wg.Wait()
}

func (p *Poller) processRecord(ctx context.Context, table *Table, def Definition, rec *catalog.Record) {
	requestID := uuid.NewString()
	ctx = services.WithPipeline(ctx, string(table.Asset))
	ctx = services.WithStage(ctx, def.Name)
	ctx = services.WithRecordKey(ctx, rec.BusinessKey)
	ctx = services.WithRequestID(ctx, requestID)
	logger := logging.WithContext(ctx, p.logger)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("trigger_status", rec.State.String()),
	)
	start := p.now()

	execErr := p.runHandler(ctx, def, rec, requestID)
	if execErr != nil && errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
		logger.Debug("stage interrupted by shutdown")
		return
	}

	if execErr != nil {
		p.recordFailure(ctx, logger, def, rec, execErr)
		return
	}

	rec.State = catalog.Progress(def.Next)
	rec.Attempts = 0
	rec.NextAttemptAt = time.Time{}
	rec.DiagnosticNote = ""
	if err := p.store.UpdateRecord(ctx, rec); err != nil {
		// The handler's work is done but the advance did not land; the next
		// cycle re-runs the stage, which handlers must tolerate.
		logger.Error("failed to persist stage result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_persist_failed"),
			logging.String(logging.FieldErrorHint, "check record store connectivity"),
		)
		return
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", rec.State.String()),
		logging.Duration("stage_duration", p.now().Sub(start)),
	)
}

// runHandler executes the stage handler under the stage timeout and the
// watchdog's duration-derived budget. On expiry the context is cancelled,
// killing any subprocess or API call the handler started, and the slot is
// reclaimed after a short grace period even if the handler misbehaves.
func (p *Poller) runHandler(ctx context.Context, def Definition, rec *catalog.Record, requestID string) error {
	runCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	if p.watchdog != nil {
		budget := p.budget.Budget(mediaDuration(rec))
		release := p.watchdog.Register(requestID, rec.BusinessKey, def.Name, budget, cancel)
		defer release()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- def.Handler.Execute(runCtx, rec)
	}()

	select {
	case err := <-errCh:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, def.Name, "execute", "stage timeout exceeded", err)
		}
		return err
	case <-runCtx.Done():
		select {
		case err := <-errCh:
			if err == nil {
				return nil
			}
			return services.Wrap(services.ErrTimeout, def.Name, "execute", "stage timeout exceeded", err)
		case <-time.After(handlerGrace):
			return services.Wrap(services.ErrTimeout, def.Name, "execute",
				"stage timeout exceeded and handler ignored cancellation", runCtx.Err())
		}
	}
}

// recordFailure applies the error taxonomy: terminal failures park the record
// for an operator; transient ones bump the persisted attempt counter with
// exponential backoff, parking once the budget is exhausted.
func (p *Poller) recordFailure(ctx context.Context, logger *slog.Logger, def Definition, rec *catalog.Record, execErr error) {
	note := services.Detail(execErr)

	switch services.Classify(execErr) {
	case services.DispositionPark:
		rec.Park(note)
	default:
		rec.Attempts++
		if rec.Attempts >= p.cfg.MaxAttempts {
			rec.Park(fmt.Sprintf("retry budget exhausted after %d attempts: %s", rec.Attempts, note))
		} else {
			rec.DiagnosticNote = note
			rec.NextAttemptAt = p.now().Add(p.backoff(rec.Attempts))
		}
	}

	logger.Error("stage failed",
		logging.Error(execErr),
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.Int("attempts", rec.Attempts),
		logging.String("resolved_status", rec.State.String()),
	)
	if p.notifier != nil && rec.State.Kind == catalog.StateAwaitingInput {
		if err := p.notifier.NotifyRecordParked(ctx, string(rec.AssetType), rec.BusinessKey, rec.DiagnosticNote); err != nil {
			logger.Warn("parked-record notification failed", logging.Error(err))
		}
	}
	if err := p.store.UpdateRecord(ctx, rec); err != nil {
		logger.Error("failed to persist stage failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_persist_failed"),
			logging.String(logging.FieldErrorHint, "check record store connectivity"),
		)
	}
}

func (p *Poller) backoff(attempts int) time.Duration {
	delay := p.cfg.RetryBackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return delay
}

func mediaDuration(rec *catalog.Record) time.Duration {
	raw := rec.Field(catalog.FieldDurationSecs)
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
