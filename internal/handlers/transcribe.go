package handlers

import (
	"context"
	"os"
	"path/filepath"

	"curator/internal/catalog"
	"curator/internal/media"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// Transcribe extracts the audio track and transcribes it. Records the probe
// stage marked as silent skip extraction entirely and advance with an empty
// transcript; the end state matches running the full path on silent media.
type Transcribe struct {
	deps Deps
}

func NewTranscribe(deps Deps) *Transcribe {
	return &Transcribe{deps: deps}
}

func (h *Transcribe) Execute(ctx context.Context, rec *catalog.Record) error {
	if rec.Field(catalog.FieldHasAudio) != "true" {
		rec.SetField(catalog.FieldTranscript, "")
		return nil
	}

	source := rec.Field(catalog.FieldFilePath)
	if source == "" {
		return services.Wrap(services.ErrValidation, "transcribe", "extract", "record has no file path", nil)
	}

	wav := filepath.Join(h.deps.Paths.WorkDir, textutil.SanitizeToken(rec.BusinessKey)+"_audio.wav")
	defer os.Remove(wav)

	if err := media.ExtractAudio(ctx, h.deps.Media.FFmpegBin, source, wav); err != nil {
		return services.Wrap(services.ErrExternalTool, "transcribe", "extract", "ffmpeg failed", err)
	}

	transcript, err := h.deps.Enricher.Transcribe(ctx, wav)
	if err != nil {
		return err
	}

	rec.SetField(catalog.FieldTranscript, textutil.NormalizeText(transcript))
	return nil
}

func (h *Transcribe) HealthCheck(context.Context) stage.Health {
	if h.deps.Enricher == nil {
		return stage.Unhealthy("transcribe", "enricher not configured")
	}
	return stage.Healthy("transcribe")
}
