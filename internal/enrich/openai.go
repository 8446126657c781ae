package enrich

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

// Client adapts the OpenAI-compatible API to the Enricher contract.
type Client struct {
	api    *openai.Client
	cfg    config.Enricher
	logger *slog.Logger
}

// NewClient constructs an enrichment client from configuration.
func NewClient(cfg config.Enricher, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "enrich", "init", "enricher api key not set", nil)
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.TimeoutSeconds > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "enrich"),
	}, nil
}

// Caption describes one image via the vision chat endpoint.
func (c *Client) Caption(ctx context.Context, imagePath string) (string, error) {
	encoded, mime, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.CaptionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this video frame in one factual sentence. Name visible subjects, setting, and action. No preamble.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s", mime, encoded),
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "enrich", "caption", "caption request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", services.Wrap(services.ErrTransient, "enrich", "caption", "caption response carried no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcribe converts an audio file to text via the transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return "", services.Wrap(services.ErrValidation, "enrich", "transcribe",
			fmt.Sprintf("audio source %s unreadable", audioPath), err)
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.WhisperModel,
		FilePath: audioPath,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "enrich", "transcribe", "transcription request failed", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Embed maps text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, services.Wrap(services.ErrValidation, "enrich", "embed", "cannot embed empty text", nil)
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "enrich", "embed", "embedding request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, services.Wrap(services.ErrTransient, "enrich", "embed", "embedding response carried no data", nil)
	}

	vector := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float64(v)
	}
	return vector, nil
}

// Describe synthesizes a descriptive paragraph from accumulated enrichment
// fields. Field order is stabilized so the same record always produces the
// same prompt.
func (c *Client) Describe(ctx context.Context, fields map[string]string) (string, error) {
	names := make([]string, 0, len(fields))
	for name, value := range fields {
		if strings.TrimSpace(value) != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", services.Wrap(services.ErrValidation, "enrich", "describe", "no enrichment fields to describe", nil)
	}
	sort.Strings(names)

	var prompt strings.Builder
	prompt.WriteString("Write a two-sentence catalog description of this media asset from its extracted metadata.\n\n")
	for _, name := range names {
		fmt.Fprintf(&prompt, "%s: %s\n", name, fields[name])
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.DescribeModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You write terse, factual catalog descriptions. No marketing language.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt.String(),
			},
		},
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "enrich", "describe", "description request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", services.Wrap(services.ErrTransient, "enrich", "describe", "description response carried no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func encodeImage(path string) (encoded, mime string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, "enrich", "caption",
			fmt.Sprintf("image source %s unreadable", path), err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".webp":
		mime = "image/webp"
	default:
		mime = "image/jpeg"
	}
	return base64.StdEncoding.EncodeToString(data), mime, nil
}
