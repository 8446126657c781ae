// Package reconcile implements the fan-in barrier for child frame records: a
// parent only advances past its checkpoint once every frame belonging to it
// satisfies the readiness predicate. It includes the bulk short-circuit write
// path and bounded re-dispatch of individually stuck frames.
package reconcile
