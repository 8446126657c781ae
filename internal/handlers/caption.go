package handlers

import (
	"context"

	"curator/internal/catalog"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// Caption asks the enricher to describe the record's thumbnail frame.
type Caption struct {
	deps Deps
}

func NewCaption(deps Deps) *Caption {
	return &Caption{deps: deps}
}

func (h *Caption) Execute(ctx context.Context, rec *catalog.Record) error {
	thumbnail := rec.Field(catalog.FieldThumbnailPath)
	if thumbnail == "" {
		return services.Wrap(services.ErrValidation, "caption", "enrich", "record has no thumbnail to caption", nil)
	}

	caption, err := h.deps.Enricher.Caption(ctx, thumbnail)
	if err != nil {
		return err
	}
	caption = textutil.NormalizeText(caption)
	if caption == "" {
		return services.Wrap(services.ErrTransient, "caption", "enrich", "enricher returned an empty caption", nil)
	}

	rec.SetField(catalog.FieldCaption, caption)
	return nil
}

func (h *Caption) HealthCheck(context.Context) stage.Health {
	if h.deps.Enricher == nil {
		return stage.Unhealthy("caption", "enricher not configured")
	}
	return stage.Healthy("caption")
}
