package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnqueueOnceIsIdempotentPerRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.EnqueueOnce(ctx, "footage/caption", "rec-1")
	if err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	if !inserted {
		t.Fatal("first enqueue should insert")
	}

	inserted, err = store.EnqueueOnce(ctx, "footage/caption", "rec-1")
	if err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	if inserted {
		t.Fatal("second enqueue for the same record should be a no-op")
	}

	// The guard spans queues: a record with a job in flight anywhere gets
	// nothing new.
	inserted, err = store.EnqueueOnce(ctx, "footage/transcribe", "rec-1")
	if err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	if inserted {
		t.Fatal("enqueue on a second queue for the same record should be a no-op")
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if len(counts) != 1 || counts[0].Pending != 1 {
		t.Fatalf("Counts() = %+v, want one queue with one pending job", counts)
	}
}

func TestClaimIsExclusiveAndFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"rec-a", "rec-b"} {
		if _, err := store.EnqueueOnce(ctx, "footage/caption", key); err != nil {
			t.Fatalf("EnqueueOnce(%s) error = %v", key, err)
		}
		// Distinct enqueue timestamps keep ordering deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	first, err := store.Claim(ctx, "footage/caption")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if first == nil || first.BusinessKey != "rec-a" {
		t.Fatalf("first claim = %+v, want rec-a", first)
	}
	if first.ClaimedAt == nil {
		t.Fatal("claimed job should carry a claim timestamp")
	}

	second, err := store.Claim(ctx, "footage/caption")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if second == nil || second.BusinessKey != "rec-b" {
		t.Fatalf("second claim = %+v, want rec-b", second)
	}

	empty, err := store.Claim(ctx, "footage/caption")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if empty != nil {
		t.Fatalf("claim on drained queue = %+v, want nil", empty)
	}
}

func TestCompleteDiscardsJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnqueueOnce(ctx, "footage/caption", "rec-1"); err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	job, err := store.Claim(ctx, "footage/caption")
	if err != nil || job == nil {
		t.Fatalf("Claim() = %+v, %v", job, err)
	}
	if err := store.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	// With the job gone, the record can be enqueued again.
	inserted, err := store.EnqueueOnce(ctx, "footage/transcribe", "rec-1")
	if err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	if !inserted {
		t.Fatal("record with no job in flight should be enqueueable")
	}
}

func TestFailMovesJobToDeadLetters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnqueueOnce(ctx, "footage/caption", "rec-1"); err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	job, err := store.Claim(ctx, "footage/caption")
	if err != nil || job == nil {
		t.Fatalf("Claim() = %+v, %v", job, err)
	}

	if err := store.Fail(ctx, job, errors.New("ffprobe exploded")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	letters, err := store.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("len(DeadLetters()) = %d, want 1", len(letters))
	}
	if letters[0].BusinessKey != "rec-1" || letters[0].Error != "ffprobe exploded" {
		t.Fatalf("dead letter = %+v", letters[0])
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("Counts() = %+v, want no live jobs", counts)
	}
}

func TestRequeueReturnsDeadLetterToItsQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnqueueOnce(ctx, "footage/caption", "rec-1"); err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	job, _ := store.Claim(ctx, "footage/caption")
	if err := store.Fail(ctx, job, errors.New("boom")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	letters, _ := store.DeadLetters(ctx)
	ok, err := store.Requeue(ctx, letters[0].ID)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if !ok {
		t.Fatal("Requeue() should succeed")
	}

	requeued, err := store.Claim(ctx, "footage/caption")
	if err != nil || requeued == nil {
		t.Fatalf("Claim() after requeue = %+v, %v", requeued, err)
	}
	if requeued.BusinessKey != "rec-1" {
		t.Fatalf("requeued job key = %q, want rec-1", requeued.BusinessKey)
	}

	letters, _ = store.DeadLetters(ctx)
	if len(letters) != 0 {
		t.Fatalf("registry should be empty after requeue, got %d entries", len(letters))
	}
}

func TestRequeueUnknownIDIsNoOp(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.Requeue(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if ok {
		t.Fatal("Requeue() of unknown id should report false")
	}
}

func TestClearDeadLetters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"rec-a", "rec-b"} {
		if _, err := store.EnqueueOnce(ctx, "footage/caption", key); err != nil {
			t.Fatalf("EnqueueOnce() error = %v", err)
		}
		job, _ := store.Claim(ctx, "footage/caption")
		if err := store.Fail(ctx, job, errors.New("boom")); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
	}

	removed, err := store.ClearDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ClearDeadLetters() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("ClearDeadLetters() = %d, want 2", removed)
	}
}

func TestReleaseStaleClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnqueueOnce(ctx, "footage/caption", "rec-1"); err != nil {
		t.Fatalf("EnqueueOnce() error = %v", err)
	}
	if job, _ := store.Claim(ctx, "footage/caption"); job == nil {
		t.Fatal("expected a claimable job")
	}

	// A cutoff in the past releases nothing.
	released, err := store.ReleaseStaleClaims(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReleaseStaleClaims() error = %v", err)
	}
	if released != 0 {
		t.Fatalf("released = %d, want 0", released)
	}

	// A cutoff in the future releases the in-flight claim.
	released, err = store.ReleaseStaleClaims(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReleaseStaleClaims() error = %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	job, err := store.Claim(ctx, "footage/caption")
	if err != nil || job == nil {
		t.Fatalf("released job should be claimable again, got %+v, %v", job, err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("rewrite schema version: %v", err)
	}
	_ = store.Close()

	if _, err := Open(dir); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("Open() error = %v, want ErrSchemaMismatch", err)
	}
}
