package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"curator/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
	if cfg.Workflow.PollInterval != config.Default().Workflow.PollInterval {
		t.Fatal("expected default poll interval")
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[record_store]
base_url = "https://records.example.com/"
database = "MediaCatalog"
username = "svc"
password = "secret"

[workflow]
poll_interval = 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Workflow.PollInterval != 3 {
		t.Fatalf("expected poll_interval override, got %d", cfg.Workflow.PollInterval)
	}
	if strings.HasSuffix(cfg.RecordStore.BaseURL, "/") {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.RecordStore.BaseURL)
	}
	if err := cfg.ValidateRecordStore(); err != nil {
		t.Fatalf("record store settings should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.PollInterval = 0
	cfg.Logging.Format = "yaml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"poll_interval", "logging.format"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error, got %v", fragment, err)
		}
	}
}

func TestValidateRecordStoreRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateRecordStore(); err == nil {
		t.Fatal("expected error with empty record store settings")
	}
}
