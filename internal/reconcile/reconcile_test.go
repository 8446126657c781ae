package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
	"curator/internal/testsupport"
)

func addParent(store *testsupport.MemoryStore, key string) *catalog.Record {
	store.AddRecord(&catalog.Record{
		BusinessKey: key,
		AssetType:   catalog.AssetFootage,
		State:       catalog.Progress(catalog.StageThumbnailsGenerated),
	})
	return store.RecordByKey(key)
}

func addFrame(store *testsupport.MemoryStore, parentKey, key string, state catalog.State, caption, transcript string) {
	store.AddFrame(&catalog.Frame{
		BusinessKey: key,
		ParentKey:   parentKey,
		State:       state,
		Caption:     caption,
		Transcript:  transcript,
	})
}

func TestEvaluateBlocksUntilLastChildReady(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0001")
	ready := catalog.Progress(catalog.FrameAudioTranscribed)
	addFrame(store, "AF0001", "AF0001-f1", ready, "", "")
	addFrame(store, "AF0001", "AF0001-f2", ready, "", "")
	addFrame(store, "AF0001", "AF0001-f3", catalog.Progress(catalog.FramePendingThumbnail), "", "")

	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, nil, 0)
	ctx := context.Background()

	outcome, err := rec.Evaluate(ctx, parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Ready {
		t.Fatalf("outcome = %+v, want blocked with one child not ready", outcome)
	}
	if outcome.ReadyCount != 2 || outcome.Total != 3 {
		t.Fatalf("outcome = %+v, want 2/3 ready", outcome)
	}

	// Flipping the last child's status unblocks the barrier.
	frame := store.FrameByKey("AF0001-f3")
	frame.State = ready
	if err := store.UpdateFrame(ctx, frame); err != nil {
		t.Fatalf("UpdateFrame() error = %v", err)
	}

	outcome, err = rec.Evaluate(ctx, parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want ready after last child flipped", outcome)
	}
}

func TestEvaluatePermissiveORAcceptsContentWithoutStatus(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0010")
	ready := catalog.Progress(catalog.FrameAudioTranscribed)
	addFrame(store, "AF0010", "AF0010-f1", ready, "", "")
	addFrame(store, "AF0010", "AF0010-f2", ready, "", "")
	addFrame(store, "AF0010", "AF0010-f3", catalog.Progress(catalog.FrameThumbnailComplete), "", "")

	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, nil, 0)
	ctx := context.Background()

	outcome, err := rec.Evaluate(ctx, parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Ready {
		t.Fatal("third child has neither status nor content, barrier must block")
	}

	// Content lands but the status update never does. The permissive
	// predicate treats content presence as sufficient.
	frame := store.FrameByKey("AF0010-f3")
	frame.Caption = "a red kite over the beach"
	frame.Transcript = "wind noise, distant laughter"
	if err := store.UpdateFrame(ctx, frame); err != nil {
		t.Fatalf("UpdateFrame() error = %v", err)
	}

	outcome, err = rec.Evaluate(ctx, parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want ready via content presence", outcome)
	}
}

func TestEvaluateZeroChildrenIsError(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0002")

	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, nil, 0)

	_, err := rec.Evaluate(context.Background(), parent)
	if err == nil {
		t.Fatal("zero children must be an error, not vacuous success")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want a validation (terminal) failure", err)
	}
}

func TestBulkShortCircuitMatchesPerItemEndState(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0003")
	addFrame(store, "AF0003", "AF0003-f1", catalog.Progress(catalog.FrameThumbnailComplete), "", "")
	addFrame(store, "AF0003", "AF0003-f2", catalog.Progress(catalog.FramePendingThumbnail), "", "")

	probe := func(context.Context, *catalog.Record) (bool, error) { return true, nil }
	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, probe, nil, 0)

	outcome, err := rec.Evaluate(context.Background(), parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !outcome.Ready || outcome.ReadyCount != 2 {
		t.Fatalf("outcome = %+v, want all children bulk-satisfied", outcome)
	}

	want := catalog.Progress(catalog.FrameAudioTranscribed)
	for _, key := range []string{"AF0003-f1", "AF0003-f2"} {
		if got := store.FrameByKey(key).State; got != want {
			t.Fatalf("frame %s state = %s, want %s", key, got, want)
		}
	}
}

func TestBulkProbeFalseFallsThroughToPerItemEvaluation(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0004")
	addFrame(store, "AF0004", "AF0004-f1", catalog.Progress(catalog.FramePendingThumbnail), "", "")

	probe := func(context.Context, *catalog.Record) (bool, error) { return false, nil }
	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, probe, nil, 0)

	outcome, err := rec.Evaluate(context.Background(), parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Ready {
		t.Fatal("probe returned false, barrier must evaluate children individually")
	}
}

func TestStuckChildRedispatchIsBounded(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0005")
	addFrame(store, "AF0005", "AF0005-f1", catalog.Progress(catalog.FramePendingThumbnail), "", "")

	var dispatched int
	dispatch := func(_ context.Context, frame *catalog.Frame) error {
		dispatched++
		return nil
	}
	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, dispatch, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := rec.Evaluate(ctx, parent); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
	}

	if dispatched != 2 {
		t.Fatalf("dispatched = %d, want re-dispatch capped at limit 2", dispatched)
	}
	if got := store.FrameByKey("AF0005-f1").Attempts; got != 2 {
		t.Fatalf("frame attempts = %d, want 2", got)
	}
}

func TestChildWithContentIsNotRedispatched(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0006")
	// Status lags but content is present: not stuck, the ready predicate
	// already covers it.
	addFrame(store, "AF0006", "AF0006-f1",
		catalog.Progress(catalog.FrameThumbnailComplete), "caption", "transcript")

	var dispatched int
	dispatch := func(context.Context, *catalog.Frame) error {
		dispatched++
		return nil
	}
	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, dispatch, 3)

	outcome, err := rec.Evaluate(context.Background(), parent)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !outcome.Ready {
		t.Fatalf("outcome = %+v, want ready via content", outcome)
	}
	if dispatched != 0 {
		t.Fatalf("dispatched = %d, want 0", dispatched)
	}
}

func TestHandlerWaitsForChildrenThenSucceeds(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0007")
	addFrame(store, "AF0007", "AF0007-f1", catalog.Progress(catalog.FramePendingThumbnail), "", "")

	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, nil, 0)
	handler := NewHandler(rec, HandlerConfig{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})

	go func() {
		time.Sleep(50 * time.Millisecond)
		frame := store.FrameByKey("AF0007-f1")
		frame.State = catalog.Progress(catalog.FrameAudioTranscribed)
		_ = store.UpdateFrame(context.Background(), frame)
	}()

	if err := handler.Execute(context.Background(), parent); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestHandlerFlagsStuckParentAfterWindow(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0008")
	addFrame(store, "AF0008", "AF0008-f1", catalog.Progress(catalog.FramePendingThumbnail), "", "")

	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, nil, 0)
	handler := NewHandler(rec, HandlerConfig{Interval: 10 * time.Millisecond, Timeout: 40 * time.Millisecond})

	err := handler.Execute(context.Background(), parent)
	if err == nil {
		t.Fatal("Execute() should fail once the reconcile window closes")
	}
	if services.Classify(err) != services.DispositionRetry {
		t.Fatalf("window close should be transient, got %v", err)
	}
}

func TestHandlerZeroChildrenFailsImmediately(t *testing.T) {
	store := testsupport.NewMemoryStore()
	parent := addParent(store, "AF0009")

	rec := New(store, logging.NewNop(), catalog.FrameReadyThreshold, nil, nil, 0)
	handler := NewHandler(rec, HandlerConfig{Interval: 10 * time.Millisecond, Timeout: time.Minute})

	start := time.Now()
	err := handler.Execute(context.Background(), parent)
	if err == nil {
		t.Fatal("Execute() should surface the zero-children error")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation failure", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("zero-children error should not wait for the reconcile window")
	}
}
