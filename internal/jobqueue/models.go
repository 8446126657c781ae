package jobqueue

import "time"

// Job is one durable unit of pipeline work for a record: created by the
// driver, claimed by exactly one worker, and on success followed by exactly
// one successor on the next stage's queue.
type Job struct {
	ID          string
	Queue       string
	BusinessKey string
	EnqueuedAt  time.Time
	ClaimedAt   *time.Time
}

// DeadLetter is a failed job held for operator inspection and replay. Jobs
// are never retried automatically by the queue itself; the next driver run
// re-discovers the record at its unchanged status.
type DeadLetter struct {
	ID          string
	Queue       string
	BusinessKey string
	Error       string
	EnqueuedAt  time.Time
	FailedAt    time.Time
}

// QueueCounts aggregates per-queue depth for health reporting.
type QueueCounts struct {
	Queue   string
	Pending int
	Claimed int
}
