package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"curator/internal/logging"
)

// BudgetPolicy derives a per-task wall-clock budget from input
// characteristics: media duration times a per-unit constant, clamped to a
// floor and a ceiling.
type BudgetPolicy struct {
	PerMediaSecond float64
	Floor          time.Duration
	Ceiling        time.Duration
}

// Budget computes the allowed processing time for media of the given
// duration. A zero or unknown duration gets the floor.
func (p BudgetPolicy) Budget(mediaDuration time.Duration) time.Duration {
	if p.PerMediaSecond <= 0 {
		return p.Floor
	}
	budget := time.Duration(float64(mediaDuration) * p.PerMediaSecond)
	if budget < p.Floor {
		return p.Floor
	}
	if p.Ceiling > 0 && budget > p.Ceiling {
		return p.Ceiling
	}
	return budget
}

// task is one in-flight unit of work under watchdog supervision.
type task struct {
	id        string
	recordKey string
	stage     string
	started   time.Time
	budget    time.Duration
	cancel    context.CancelFunc
}

// Watchdog distinguishes "still working" from "will never finish": it tracks
// every dispatched unit of work against its budget and force-cancels overdue
// ones so their concurrency slot frees up. Cancellation reaches subprocesses
// and API calls through the task's context.
type Watchdog struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewWatchdog constructs a watchdog.
func NewWatchdog(logger *slog.Logger) *Watchdog {
	return &Watchdog{
		logger: logging.NewComponentLogger(logger, "watchdog"),
		tasks:  make(map[string]*task),
	}
}

// Register places a unit of work under supervision. The returned release
// function must be called when the work finishes, on every exit path.
func (w *Watchdog) Register(id, recordKey, stageName string, budget time.Duration, cancel context.CancelFunc) (release func()) {
	w.mu.Lock()
	w.tasks[id] = &task{
		id:        id,
		recordKey: recordKey,
		stage:     stageName,
		started:   time.Now(),
		budget:    budget,
		cancel:    cancel,
	}
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.tasks, id)
		w.mu.Unlock()
	}
}

// Sweep cancels every in-flight task whose elapsed time exceeds its budget
// and returns how many were cancelled.
func (w *Watchdog) Sweep(now time.Time) int {
	w.mu.Lock()
	var overdue []*task
	for _, t := range w.tasks {
		if t.budget > 0 && now.Sub(t.started) > t.budget {
			overdue = append(overdue, t)
			delete(w.tasks, t.id)
		}
	}
	w.mu.Unlock()

	for _, t := range overdue {
		w.logger.Warn("cancelling overdue unit of work",
			logging.String(logging.FieldRecordKey, t.recordKey),
			logging.String(logging.FieldStage, t.stage),
			logging.Duration("elapsed", now.Sub(t.started)),
			logging.Duration("budget", t.budget),
			logging.String(logging.FieldEventType, "watchdog_cancel"),
		)
		t.cancel()
	}
	return len(overdue)
}

// InFlight returns the number of supervised tasks.
func (w *Watchdog) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// Run sweeps on the given interval until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(time.Now())
		}
	}
}
