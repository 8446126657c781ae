package handlers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"curator/internal/catalog"
	"curator/internal/media"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// Thumbnail extracts a representative frame at the midpoint of the media and
// uploads it as the record's thumbnail container. The extracted file also
// stays in the work directory for the caption stage.
type Thumbnail struct {
	deps Deps
}

func NewThumbnail(deps Deps) *Thumbnail {
	return &Thumbnail{deps: deps}
}

func (h *Thumbnail) Execute(ctx context.Context, rec *catalog.Record) error {
	source := rec.Field(catalog.FieldFilePath)
	if source == "" {
		return services.Wrap(services.ErrValidation, "thumbnail", "extract", "record has no file path", nil)
	}

	offset := 0.0
	if raw := rec.Field(catalog.FieldDurationSecs); raw != "" {
		if duration, err := strconv.ParseFloat(raw, 64); err == nil && duration > 0 {
			offset = duration / 2
		}
	}

	dest := filepath.Join(h.deps.Paths.WorkDir, textutil.SanitizeToken(rec.BusinessKey)+"_thumb.jpg")
	if err := media.ExtractThumbnail(ctx, h.deps.Media.FFmpegBin, source, offset, dest); err != nil {
		return services.Wrap(services.ErrExternalTool, "thumbnail", "extract", "ffmpeg failed", err)
	}

	if h.deps.Uploader != nil {
		if err := h.deps.Uploader.UploadContainer(ctx, rec.ID, "thumbnail", dest); err != nil {
			// Re-running the stage regenerates the file, so discard it before
			// surfacing the failure.
			_ = os.Remove(dest)
			return err
		}
	}

	rec.SetField(catalog.FieldThumbnailPath, dest)
	return nil
}

func (h *Thumbnail) HealthCheck(context.Context) stage.Health {
	binary := h.deps.Media.FFmpegBin
	if binary == "" {
		binary = "ffmpeg"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy("thumbnail", fmt.Sprintf("%s not found in PATH", binary))
	}
	if err := os.MkdirAll(h.deps.Paths.WorkDir, 0o755); err != nil {
		return stage.Unhealthy("thumbnail", fmt.Sprintf("work directory unavailable: %v", err))
	}
	return stage.Healthy("thumbnail")
}
