// Package logs reads back the daemon's log file for the CLI: bounded
// "last N lines" reads and offset-based follow mode.
package logs
