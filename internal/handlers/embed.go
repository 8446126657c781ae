package handlers

import (
	"context"

	"curator/internal/catalog"
	"curator/internal/enrich"
	"curator/internal/services"
	"curator/internal/stage"
)

// Fusion weights. Captions describe what the asset shows and carry more
// retrieval signal than transcripts, which are often ambient audio.
const (
	captionWeight    = 0.6
	transcriptWeight = 0.4
)

// Embed fuses the record's text enrichments into one embedding. For asset
// types with child frames it first holds the record at the fan-in barrier
// until every frame is ready, so the fused embedding never predates the
// frames it summarizes.
type Embed struct {
	deps    Deps
	barrier stage.Handler
}

// NewEmbed constructs the embedding stage. barrier may be nil for asset
// types without child frames.
func NewEmbed(deps Deps, barrier stage.Handler) *Embed {
	return &Embed{deps: deps, barrier: barrier}
}

func (h *Embed) Execute(ctx context.Context, rec *catalog.Record) error {
	if h.barrier != nil {
		if err := h.barrier.Execute(ctx, rec); err != nil {
			return err
		}
	}

	caption := rec.Field(catalog.FieldCaption)
	transcript := rec.Field(catalog.FieldTranscript)
	if caption == "" && transcript == "" {
		return services.Wrap(services.ErrValidation, "embed", "fuse", "record has no text to embed", nil)
	}

	var inputs []enrich.WeightedVector
	if caption != "" {
		vector, err := h.deps.Enricher.Embed(ctx, caption)
		if err != nil {
			return err
		}
		inputs = append(inputs, enrich.WeightedVector{Vector: vector, Weight: captionWeight})
	}
	if transcript != "" {
		vector, err := h.deps.Enricher.Embed(ctx, transcript)
		if err != nil {
			return err
		}
		inputs = append(inputs, enrich.WeightedVector{Vector: vector, Weight: transcriptWeight})
	}

	fused, err := enrich.FuseEmbeddings(inputs)
	if err != nil {
		return services.Wrap(services.ErrValidation, "embed", "fuse", "embedding fusion failed", err)
	}
	encoded, err := enrich.EncodeVector(fused)
	if err != nil {
		return services.Wrap(services.ErrValidation, "embed", "fuse", "embedding serialization failed", err)
	}

	rec.SetField(catalog.FieldEmbedding, encoded)
	return nil
}

func (h *Embed) HealthCheck(ctx context.Context) stage.Health {
	if h.deps.Enricher == nil {
		return stage.Unhealthy("embed", "enricher not configured")
	}
	if h.barrier != nil {
		if health := h.barrier.HealthCheck(ctx); !health.Ready {
			return stage.Unhealthy("embed", health.Detail)
		}
	}
	return stage.Healthy("embed")
}
