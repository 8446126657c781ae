// Package logging wraps log/slog with the attribute helpers, field-name
// constants, and handlers used across curator. Loggers are constructed once
// at startup and passed down; components derive child loggers with
// NewComponentLogger and enrich them from context with WithContext.
package logging
