package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the default configuration: one agent per pipeline
// role, all on the claude CLI, with the standard quality gate.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
			"openai": {
				Type:      "openai",
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
				Stream:    true,
			},
		},
		Agents: map[string]AgentConfig{
			"researcher": {
				Provider:     "claude",
				SystemPrompt: "You are a technical researcher. Extract the facts a writer needs.",
			},
			"writer": {
				Provider:     "claude",
				SystemPrompt: "You are a technical blog writer. Write clear, accurate markdown.",
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You are a strict technical editor. Score drafts honestly.",
			},
		},
		Pipeline: PipelineConfig{
			PublishThreshold: 80,
			MaxRewrites:      3,
			ProgressTTL:      Duration(time.Hour),
			Concurrency:      4,
			DiscoveryTimeout: Duration(15 * time.Second),
			MCPServerTimeout: Duration(10 * time.Second),
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  Duration(2 * time.Second),
			MaxDelay:   Duration(30 * time.Second),
		},
		Acquisition: AcquisitionConfig{
			Timeout:      Duration(30 * time.Second),
			UserAgent:    "BlogAgent/1.0 (Content Fetcher)",
			MaxURLBytes:  5 << 20,
			MaxFileBytes: 50 << 20,
			MaxChars:     50000,
			Concurrency:  4,
		},
		Safety: SafetyConfig{
			Enabled:       true,
			RedactPII:     true,
			LogViolations: true,
		},
		Tracing: TracingConfig{
			Exporter:     "otlp",
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1,
			ServiceName:  "blogflow",
		},
		Storage: StorageConfig{
			Path: filepath.Join(".blogflow", "blogflow.db"),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
