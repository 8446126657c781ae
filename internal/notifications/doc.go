// Package notifications delivers pipeline events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Events cover
// the moments an operator cares about: a record finishing the pipeline,
// a record parking for manual attention, and daemon lifecycle.
package notifications
