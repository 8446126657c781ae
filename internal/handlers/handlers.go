package handlers

import (
	"log/slog"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/enrich"
	"curator/internal/logging"
	"curator/internal/notifications"
)

// Deps carries the collaborators every stage handler draws from. The
// orchestration core owns timeouts and retries; handlers do one unit of work
// and honor ctx cancellation.
type Deps struct {
	Store    catalog.Store
	Uploader catalog.ContainerUploader
	Enricher enrich.Enricher
	Notifier notifications.Service
	Media    config.Media
	Paths    config.Paths
	Logger   *slog.Logger
}

func (d Deps) logger(component string) *slog.Logger {
	return logging.NewComponentLogger(d.Logger, component)
}
