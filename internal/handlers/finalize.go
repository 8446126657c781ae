package handlers

import (
	"context"
	"fmt"
	"strings"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
	"curator/internal/stage"
)

// Finalize is the completeness gate before a record reaches its terminal
// status: every field a finished catalog entry needs must be present. A miss
// here means an earlier stage silently lost a write, which is operator
// territory, not retry territory.
type Finalize struct {
	deps     Deps
	required []string
}

// NewFinalize constructs the gate with the field set the asset type requires.
func NewFinalize(deps Deps, required []string) *Finalize {
	return &Finalize{deps: deps, required: required}
}

func (h *Finalize) Execute(ctx context.Context, rec *catalog.Record) error {
	var missing []string
	for _, field := range h.required {
		if rec.Field(field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrValidation, "finalize", "verify",
			fmt.Sprintf("record is missing required fields: %s", strings.Join(missing, ", ")), nil)
	}

	if h.deps.Notifier != nil {
		if err := h.deps.Notifier.NotifyRecordComplete(ctx, string(rec.AssetType), rec.BusinessKey, rec.Field(catalog.FieldDescription)); err != nil {
			h.deps.logger("finalize").Warn("completion notification failed", logging.Error(err))
		}
	}
	return nil
}

func (h *Finalize) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("finalize")
}
