package handlers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"curator/internal/catalog"
	"curator/internal/media"
	"curator/internal/services"
	"curator/internal/stage"
)

// FileInfo probes the source media and records duration and audio presence.
// Both drive later scheduling: duration feeds the watchdog budget, audio
// presence feeds the transcription bulk short-circuit.
type FileInfo struct {
	deps Deps
}

func NewFileInfo(deps Deps) *FileInfo {
	return &FileInfo{deps: deps}
}

func (h *FileInfo) Execute(ctx context.Context, rec *catalog.Record) error {
	path := rec.Field(catalog.FieldFilePath)
	if path == "" {
		return services.Wrap(services.ErrValidation, "fileinfo", "probe", "record has no file path", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrValidation, "fileinfo", "probe",
			fmt.Sprintf("source file %s missing", path), err)
	}

	result, err := media.Probe(ctx, h.deps.Media.FFprobeBin, path)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "fileinfo", "probe", "ffprobe failed", err)
	}
	if result.DurationSeconds() <= 0 {
		return services.Wrap(services.ErrValidation, "fileinfo", "probe",
			fmt.Sprintf("source file %s has no measurable duration", path), nil)
	}

	rec.SetField(catalog.FieldDurationSecs, strconv.FormatFloat(result.DurationSeconds(), 'f', 3, 64))
	rec.SetField(catalog.FieldHasAudio, strconv.FormatBool(result.HasAudio()))
	return nil
}

func (h *FileInfo) HealthCheck(context.Context) stage.Health {
	binary := h.deps.Media.FFprobeBin
	if binary == "" {
		binary = "ffprobe"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy("fileinfo", fmt.Sprintf("%s not found in PATH", binary))
	}
	return stage.Healthy("fileinfo")
}
