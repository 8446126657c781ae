package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if c.RecordStore.PageSize <= 0 {
		problems = append(problems, "record_store.page_size must be positive")
	}
	if c.RecordStore.RequestTimeout <= 0 {
		problems = append(problems, "record_store.request_timeout must be positive")
	}
	if c.Workflow.PollInterval <= 0 {
		problems = append(problems, "workflow.poll_interval must be positive")
	}
	if c.Workflow.MaxAttempts <= 0 {
		problems = append(problems, "workflow.max_attempts must be positive")
	}
	if c.Workflow.BudgetFloorSeconds > c.Workflow.BudgetCeilingSeconds {
		problems = append(problems, "workflow.budget_floor_seconds must not exceed budget_ceiling_seconds")
	}
	if c.Workflow.BudgetPerMediaSecond <= 0 {
		problems = append(problems, "workflow.budget_per_media_second must be positive")
	}
	if c.Queue.WorkersPerQueue <= 0 {
		problems = append(problems, "queue.workers_per_queue must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// ValidateRecordStore checks the settings required to reach the Data API.
// Kept separate so commands that never touch the store can run without
// credentials configured.
func (c *Config) ValidateRecordStore() error {
	var problems []string
	if strings.TrimSpace(c.RecordStore.BaseURL) == "" {
		problems = append(problems, "record_store.base_url must be set")
	}
	if strings.TrimSpace(c.RecordStore.Database) == "" {
		problems = append(problems, "record_store.database must be set")
	}
	if strings.TrimSpace(c.RecordStore.Username) == "" {
		problems = append(problems, "record_store.username must be set")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
