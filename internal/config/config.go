package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	WorkDir string `toml:"work_dir"`
}

// RecordStore contains connection settings for the external Data API.
type RecordStore struct {
	BaseURL        string `toml:"base_url"`
	Database       string `toml:"database"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	RequestTimeout int    `toml:"request_timeout"`
	PageSize       int    `toml:"page_size"`
}

// Enricher contains connection settings for the AI enrichment API.
type Enricher struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	CaptionModel   string `toml:"caption_model"`
	WhisperModel   string `toml:"whisper_model"`
	EmbeddingModel string `toml:"embedding_model"`
	DescribeModel  string `toml:"describe_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Media contains configuration for ffmpeg/ffprobe invocation.
type Media struct {
	FFmpegBin      string `toml:"ffmpeg_bin"`
	FFprobeBin     string `toml:"ffprobe_bin"`
	ProbeTimeout   int    `toml:"probe_timeout"`
	ExtractTimeout int    `toml:"extract_timeout"`
}

// Workflow contains poller timing, retry policy, and watchdog budgets.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxAttempts        int `toml:"max_attempts"`
	RetryBackoffBase   int `toml:"retry_backoff_base"`

	WatchdogInterval     int     `toml:"watchdog_interval"`
	BudgetFloorSeconds   int     `toml:"budget_floor_seconds"`
	BudgetCeilingSeconds int     `toml:"budget_ceiling_seconds"`
	BudgetPerMediaSecond float64 `toml:"budget_per_media_second"`

	ReconcileInterval int `toml:"reconcile_interval"`
	ReconcileTimeout  int `toml:"reconcile_timeout"`
	ChildRetryLimit   int `toml:"child_retry_limit"`
}

// Queue contains configuration for the durable job queue variant.
type Queue struct {
	WorkersPerQueue   int `toml:"workers_per_queue"`
	ClaimPollInterval int `toml:"claim_poll_interval"`
}

// Notifications contains push notification settings. An empty topic
// disables notifications entirely.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	NtfyRequestTimeout int    `toml:"ntfy_request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curator. It is constructed
// once at startup and passed explicitly to every component; nothing reads
// ambient global state.
type Config struct {
	Paths         Paths         `toml:"paths"`
	RecordStore   RecordStore   `toml:"record_store"`
	Enricher      Enricher      `toml:"enricher"`
	Media         Media         `toml:"media"`
	Workflow      Workflow      `toml:"workflow"`
	Queue         Queue         `toml:"queue"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.Paths.DataDir, &c.Paths.LogDir, &c.Paths.WorkDir} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.RecordStore.BaseURL = strings.TrimRight(strings.TrimSpace(c.RecordStore.BaseURL), "/")
	return nil
}

// EnsureDirectories creates the configured directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
