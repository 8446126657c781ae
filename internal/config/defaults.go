package config

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/curator",
			LogDir:  "~/.local/share/curator/logs",
			WorkDir: "~/.cache/curator/work",
		},
		RecordStore: RecordStore{
			RequestTimeout: 30,
			PageSize:       100,
		},
		Enricher: Enricher{
			CaptionModel:   "gpt-4o-mini",
			WhisperModel:   "whisper-1",
			EmbeddingModel: "text-embedding-3-small",
			DescribeModel:  "gpt-4o-mini",
			TimeoutSeconds: 120,
		},
		Media: Media{
			FFmpegBin:      "ffmpeg",
			FFprobeBin:     "ffprobe",
			ProbeTimeout:   30,
			ExtractTimeout: 300,
		},
		Workflow: Workflow{
			PollInterval:       15,
			ErrorRetryInterval: 10,
			MaxAttempts:        5,
			RetryBackoffBase:   30,

			WatchdogInterval:     15,
			BudgetFloorSeconds:   60,
			BudgetCeilingSeconds: 1800,
			BudgetPerMediaSecond: 2.0,

			ReconcileInterval: 20,
			ReconcileTimeout:  3600,
			ChildRetryLimit:   3,
		},
		Queue: Queue{
			WorkersPerQueue:   2,
			ClaimPollInterval: 2,
		},
		Notifications: Notifications{
			NtfyRequestTimeout: 10,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
