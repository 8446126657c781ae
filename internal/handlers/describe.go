package handlers

import (
	"context"

	"curator/internal/catalog"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// Describe synthesizes the final catalog description from the record's
// accumulated enrichment fields.
type Describe struct {
	deps Deps
}

func NewDescribe(deps Deps) *Describe {
	return &Describe{deps: deps}
}

func (h *Describe) Execute(ctx context.Context, rec *catalog.Record) error {
	fields := map[string]string{
		"caption":    rec.Field(catalog.FieldCaption),
		"transcript": rec.Field(catalog.FieldTranscript),
		"duration":   rec.Field(catalog.FieldDurationSecs),
	}

	description, err := h.deps.Enricher.Describe(ctx, fields)
	if err != nil {
		return err
	}
	description = textutil.NormalizeText(description)
	if description == "" {
		return services.Wrap(services.ErrTransient, "describe", "enrich", "enricher returned an empty description", nil)
	}

	rec.SetField(catalog.FieldDescription, description)
	return nil
}

func (h *Describe) HealthCheck(context.Context) stage.Health {
	if h.deps.Enricher == nil {
		return stage.Unhealthy("describe", "enricher not configured")
	}
	return stage.Healthy("describe")
}
