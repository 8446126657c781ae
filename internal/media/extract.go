package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExtractThumbnail grabs a single frame at the given offset into a JPEG at
// dest. The partial output file is removed on any failure path.
func ExtractThumbnail(ctx context.Context, ffmpegBinary, source string, offsetSec float64, dest string) error {
	if offsetSec < 0 {
		return fmt.Errorf("extract thumbnail: invalid offset %f", offsetSec)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", offsetSec),
		"-i", source,
		"-frames:v", "1",
		"-q:v", "2",
		dest,
	}
	cmd := exec.CommandContext(ctx, resolveBinary(ffmpegBinary, "ffmpeg"), args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("ffmpeg thumbnail: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// ExtractAudio extracts the full audio stream into a mono 16kHz WAV at dest,
// the format the transcription backend expects. The partial output file is
// removed on any failure path.
func ExtractAudio(ctx context.Context, ffmpegBinary, source, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := exec.CommandContext(ctx, resolveBinary(ffmpegBinary, "ffmpeg"), args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func resolveBinary(configured, fallback string) string {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return trimmed
	}
	return fallback
}
