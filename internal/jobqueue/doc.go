// Package jobqueue is the durable execution mode: a SQLite-backed FIFO job
// queue with a dead-letter registry, plus a runner that pairs a driver sweep
// (one job per eligible record) with per-stage worker pools that chain exactly
// one successor job on success. It is the restart-safe alternative to the
// in-memory poll-and-dispatch loop in internal/pipeline.
package jobqueue
