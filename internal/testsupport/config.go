package testsupport

import (
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.RecordStore.BaseURL = "http://127.0.0.1:0"
	cfg.RecordStore.Database = "TestCatalog"
	cfg.RecordStore.Username = "test"
	cfg.RecordStore.Password = "test"

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}
