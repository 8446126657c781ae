package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
)

// BulkProbe is a cheap upstream check that can prove a child sub-stage is
// vacuously satisfied for every child at once, e.g. the source media has no
// audio stream so nothing will ever need transcription. A true result lets
// the barrier mark all children ready in one bulk pass.
type BulkProbe func(ctx context.Context, parent *catalog.Record) (bool, error)

// ChildDispatcher re-runs processing for one stuck child. Optional; without
// it stuck children simply wait for operator attention.
type ChildDispatcher func(ctx context.Context, frame *catalog.Frame) error

// Outcome is the result of one barrier evaluation.
type Outcome struct {
	Ready      bool
	Total      int
	ReadyCount int
}

// Reconciler is the fan-in barrier: it decides, for one parent record,
// whether every child frame is ready enough for the parent to advance.
type Reconciler struct {
	store      catalog.Store
	logger     *slog.Logger
	threshold  catalog.Stage
	probe      BulkProbe
	dispatch   ChildDispatcher
	retryLimit int
}

// New constructs a reconciler. probe and dispatch may be nil.
func New(store catalog.Store, logger *slog.Logger, threshold catalog.Stage, probe BulkProbe, dispatch ChildDispatcher, retryLimit int) *Reconciler {
	if retryLimit < 0 {
		retryLimit = 0
	}
	return &Reconciler{
		store:      store,
		logger:     logging.NewComponentLogger(logger, "reconcile"),
		threshold:  threshold,
		probe:      probe,
		dispatch:   dispatch,
		retryLimit: retryLimit,
	}
}

// Evaluate runs one pass of the barrier for the parent. Zero children is an
// error, never vacuous success: a parent at the checkpoint with no frames
// means upstream fan-out failed, and advancing it would hide that.
func (r *Reconciler) Evaluate(ctx context.Context, parent *catalog.Record) (Outcome, error) {
	frames, err := r.store.FindFrames(ctx, parent.BusinessKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("find frames for %s: %w", parent.BusinessKey, err)
	}
	if len(frames) == 0 {
		return Outcome{}, services.Wrap(services.ErrValidation, "reconcile", "evaluate",
			fmt.Sprintf("record %s has no child frames at the fan-in checkpoint", parent.BusinessKey), nil)
	}

	if r.probe != nil {
		vacuous, probeErr := r.probe(ctx, parent)
		if probeErr != nil {
			return Outcome{}, fmt.Errorf("bulk probe for %s: %w", parent.BusinessKey, probeErr)
		}
		if vacuous {
			if err := r.markAllReady(ctx, parent, frames); err != nil {
				return Outcome{}, err
			}
			return Outcome{Ready: true, Total: len(frames), ReadyCount: len(frames)}, nil
		}
	}

	outcome := Outcome{Total: len(frames)}
	for _, frame := range frames {
		if frame.Ready(r.threshold) {
			outcome.ReadyCount++
			continue
		}
		r.retryStuckChild(ctx, parent, frame)
	}
	outcome.Ready = outcome.ReadyCount == outcome.Total
	return outcome, nil
}

// markAllReady is the bulk short-circuit write path: every child jumps to the
// ready sub-status in one pass. End state matches running each child through
// the full per-item path.
func (r *Reconciler) markAllReady(ctx context.Context, parent *catalog.Record, frames []*catalog.Frame) error {
	logger := logging.WithContext(ctx, r.logger)
	for _, frame := range frames {
		if frame.Ready(r.threshold) {
			continue
		}
		frame.State = catalog.Progress(r.threshold)
		if err := r.store.UpdateFrame(ctx, frame); err != nil {
			return fmt.Errorf("bulk-advance frame %s: %w", frame.BusinessKey, err)
		}
	}
	logger.Info("bulk short-circuit satisfied child sub-stage",
		logging.String(logging.FieldRecordKey, parent.BusinessKey),
		logging.Int("frames", len(frames)),
	)
	return nil
}

// retryStuckChild re-dispatches a child whose status says an earlier step
// never finished and whose content fields are both empty, up to the bounded
// retry limit. Past the limit the child is left for an operator.
func (r *Reconciler) retryStuckChild(ctx context.Context, parent *catalog.Record, frame *catalog.Frame) {
	if r.dispatch == nil || !stuck(frame) {
		return
	}
	if frame.Attempts >= r.retryLimit {
		return
	}
	logger := logging.WithContext(ctx, r.logger)

	frame.Attempts++
	if err := r.store.UpdateFrame(ctx, frame); err != nil {
		logger.Warn("failed to persist child retry count",
			logging.Error(err),
			logging.String(logging.FieldRecordKey, frame.BusinessKey),
		)
		return
	}
	if err := r.dispatch(ctx, frame); err != nil {
		logger.Warn("stuck child re-dispatch failed",
			logging.Error(err),
			logging.String(logging.FieldRecordKey, frame.BusinessKey),
			logging.Int("attempts", frame.Attempts),
		)
		return
	}
	if err := r.store.UpdateFrame(ctx, frame); err != nil {
		logger.Warn("failed to persist re-dispatched child",
			logging.Error(err),
			logging.String(logging.FieldRecordKey, frame.BusinessKey),
		)
	}
}

// stuck reports a child whose status implies an incomplete step while both
// content fields are empty. A frame with content is merely behind on status
// and the ready predicate already tolerates that.
func stuck(frame *catalog.Frame) bool {
	return frame.Caption == "" && frame.Transcript == ""
}
