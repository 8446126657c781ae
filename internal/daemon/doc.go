// Package daemon owns the curator process lifecycle: single-instance
// locking, stage preflight, and coordinated start/stop of the poller,
// the durable queue runner, and the watchdog.
package daemon
