package enrich

import "context"

// Enricher is the opaque AI capability the stage handlers call. Rate limits
// and provider-side retries live behind this interface; the orchestrator
// still applies its own outer timeout through the context.
type Enricher interface {
	// Caption describes one image.
	Caption(ctx context.Context, imagePath string) (string, error)
	// Transcribe converts an audio file to text.
	Transcribe(ctx context.Context, audioPath string) (string, error)
	// Embed maps text to a vector.
	Embed(ctx context.Context, text string) ([]float64, error)
	// Describe synthesizes a human-readable description from the record's
	// accumulated enrichment fields.
	Describe(ctx context.Context, fields map[string]string) (string, error)
}
