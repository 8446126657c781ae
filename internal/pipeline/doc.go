// Package pipeline is the orchestration core: the validated stage definition
// table, the polling dispatcher with bounded per-stage concurrency and
// first-class timeout cancellation, the bounded-retry policy, and the
// watchdog that force-cancels units of work exceeding their duration-derived
// budget.
//
// Correctness rests on two structural guarantees rather than locks: a record
// is only ever returned by one stage's find (its status matches exactly one
// trigger), and a stage's batch is fully drained before the next find runs.
// Together they give at-most-one-handler-per-record and idempotent re-polls.
package pipeline
