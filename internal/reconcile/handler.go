package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"curator/internal/catalog"
	"curator/internal/services"
	"curator/internal/stage"
)

// HandlerConfig controls the tight monitoring loop the barrier handler runs
// while waiting for children to finish.
type HandlerConfig struct {
	// Interval between barrier evaluations. Sub-minute; children finish on
	// their own cadence and the barrier only observes.
	Interval time.Duration
	// Timeout bounds the whole wait. Past it the parent is flagged stuck
	// instead of being polled forever.
	Timeout time.Duration
}

// Handler adapts the reconciler into a pipeline stage: it blocks at the
// fan-in checkpoint until every child is ready, then lets the dispatcher
// advance the parent.
type Handler struct {
	rec *Reconciler
	cfg HandlerConfig
}

// NewHandler wraps a reconciler as a stage handler.
func NewHandler(rec *Reconciler, cfg HandlerConfig) *Handler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Handler{rec: rec, cfg: cfg}
}

// Execute re-evaluates the barrier on a short interval until the children are
// ready or the reconcile window closes. A closed window is a transient
// failure: the record stays at the checkpoint and a later cycle resumes the
// wait.
func (h *Handler) Execute(ctx context.Context, parent *catalog.Record) error {
	deadline := time.NewTimer(h.cfg.Timeout)
	defer deadline.Stop()

	var last Outcome
	for {
		outcome, err := h.rec.Evaluate(ctx, parent)
		if err != nil {
			return err
		}
		if outcome.Ready {
			return nil
		}
		last = outcome

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return services.Wrap(services.ErrTransient, "reconcile", "monitor",
				fmt.Sprintf("children not ready within reconcile window (%d/%d ready)",
					last.ReadyCount, last.Total), nil)
		case <-time.After(h.cfg.Interval):
		}
	}
}

// HealthCheck verifies the barrier can reach the record store.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	_, err := h.rec.store.FindFrames(ctx, "health-probe")
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return stage.Unhealthy("reconcile", err.Error())
	}
	return stage.Healthy("reconcile")
}
