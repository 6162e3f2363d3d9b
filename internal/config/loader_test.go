package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalFile      string // file name, decides the format
		global          string
		projectFile     string
		project         string
		expectProviders int
		expectAgents    int
		checkAgent      string
		expectProvider  string
		expectModel     string
		expectThreshold int
		expectRewrites  int
	}{
		{
			name:            "No config files - returns defaults",
			expectProviders: 2,
			expectAgents:    3,
			expectThreshold: 80,
			expectRewrites:  3,
		},
		{
			name:            "Global only - adds provider and overrides writer",
			globalFile:      "global.json",
			global:          `{"providers": {"local": {"type": "openai", "base_url": "http://localhost:11434/v1"}}, "agents": {"writer": {"provider": "local", "model": "llama3"}}}`,
			expectProviders: 3,
			expectAgents:    3,
			checkAgent:      "writer",
			expectProvider:  "local",
			expectModel:     "llama3",
			expectThreshold: 80,
			expectRewrites:  3,
		},
		{
			name:            "Project only - partial pipeline section keeps other fields",
			projectFile:     "project.json",
			project:         `{"pipeline": {"publish_threshold": 70}}`,
			expectProviders: 2,
			expectAgents:    3,
			expectThreshold: 70,
			expectRewrites:  3,
		},
		{
			name:            "Project overrides global - project wins",
			globalFile:      "global.json",
			global:          `{"agents": {"reviewer": {"provider": "claude", "model": "model-x"}}, "pipeline": {"max_rewrites": 5}}`,
			projectFile:     "project.json",
			project:         `{"agents": {"reviewer": {"provider": "openai", "model": "model-y"}}, "pipeline": {"max_rewrites": 1}}`,
			expectProviders: 2,
			expectAgents:    3,
			checkAgent:      "reviewer",
			expectProvider:  "openai",
			expectModel:     "model-y",
			expectThreshold: 80,
			expectRewrites:  1,
		},
		{
			name:        "YAML project file",
			projectFile: "config.yaml",
			project: `
pipeline:
  publish_threshold: 85
  progress_ttl: 30m
agents:
  researcher:
    provider: openai
    model: gpt-4.1
`,
			expectProviders: 2,
			expectAgents:    3,
			checkAgent:      "researcher",
			expectProvider:  "openai",
			expectModel:     "gpt-4.1",
			expectThreshold: 85,
			expectRewrites:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalFile != "" {
				globalPath = writeFile(t, tmpDir, tt.globalFile, tt.global)
			}
			projectPath := ""
			if tt.projectFile != "" {
				projectPath = writeFile(t, tmpDir, tt.projectFile, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Providers); got != tt.expectProviders {
				t.Errorf("providers count = %d, want %d", got, tt.expectProviders)
			}
			if got := len(cfg.Agents); got != tt.expectAgents {
				t.Errorf("agents count = %d, want %d", got, tt.expectAgents)
			}
			if cfg.Pipeline.PublishThreshold != tt.expectThreshold {
				t.Errorf("threshold = %d, want %d", cfg.Pipeline.PublishThreshold, tt.expectThreshold)
			}
			if cfg.Pipeline.MaxRewrites != tt.expectRewrites {
				t.Errorf("max rewrites = %d, want %d", cfg.Pipeline.MaxRewrites, tt.expectRewrites)
			}
			if cfg.Pipeline.Concurrency != 4 {
				t.Errorf("concurrency = %d, want default 4", cfg.Pipeline.Concurrency)
			}

			if tt.checkAgent != "" {
				agent, exists := cfg.Agents[tt.checkAgent]
				if !exists {
					t.Fatalf("expected agent %q not found", tt.checkAgent)
				}
				if agent.Provider != tt.expectProvider {
					t.Errorf("agent %q provider = %q, want %q", tt.checkAgent, agent.Provider, tt.expectProvider)
				}
				if agent.Model != tt.expectModel {
					t.Errorf("agent %q model = %q, want %q", tt.checkAgent, agent.Model, tt.expectModel)
				}
			}
		})
	}
}

func TestLoad_YAMLDuration(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "config.yml", "pipeline:\n  progress_ttl: 30m\nretry:\n  base_delay: 5\n  max_delay: 1m\n")

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.ProgressTTL.Std() != 30*time.Minute {
		t.Errorf("progress ttl = %s, want 30m", cfg.Pipeline.ProgressTTL)
	}
	if cfg.Retry.BaseDelay.Std() != 5*time.Second {
		t.Errorf("numeric base delay should be seconds, got %s", cfg.Retry.BaseDelay)
	}
}

func TestLoad_MalformedFiles(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"malformed JSON", "global.json", "{invalid json"},
		{"malformed YAML", "global.yaml", "pipeline: [unclosed"},
		{"bad duration", "global.json", `{"retry": {"base_delay": "soon"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.body)
			_, err := Load(path, "")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), "loading global config") {
				t.Errorf("expected error to name the config, got %v", err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), "project.json",
		`{"pipeline": {"publish_threshold": 120, "max_rewrites": -1}, "agents": {"writer": {"provider": "nope"}}}`)

	_, err := Load("", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"publish_threshold", "max_rewrites", `unknown provider "nope"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	// Load with non-existent paths should not error
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	// Should return defaults
	if len(cfg.Providers) != 2 {
		t.Errorf("providers count = %d, want 2", len(cfg.Providers))
	}
	if len(cfg.Agents) != 3 {
		t.Errorf("agents count = %d, want 3", len(cfg.Agents))
	}
}

func TestValidate_MissingRole(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.Agents, "reviewer")
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `agent "reviewer" is not configured`) {
		t.Errorf("expected missing reviewer error, got %v", err)
	}
}

func TestConversions(t *testing.T) {
	t.Setenv("BLOGFLOW_TEST_KEY", "secret")

	cfg := DefaultConfig()
	cfg.Providers["openai"] = ProviderConfig{Type: "openai", BaseURL: "http://x/v1", APIKeyEnv: "BLOGFLOW_TEST_KEY"}
	cfg.Agents["reviewer"] = AgentConfig{Provider: "openai", Model: "m", Tools: []string{"search"}}

	backends := cfg.BackendConfigs()
	if len(backends) != 3 {
		t.Fatalf("expected one backend per role, got %d", len(backends))
	}
	r := backends["reviewer"]
	if r.Type != "openai" || r.APIKey != "secret" || r.Model != "m" || len(r.Tools) != 1 {
		t.Errorf("unexpected reviewer backend: %+v", r)
	}
	if backends["writer"].Command != "claude" {
		t.Errorf("expected writer on claude, got %+v", backends["writer"])
	}

	pc := cfg.PipelineConfig()
	if pc.PublishThreshold != 80 || pc.ProgressTTL != time.Hour || pc.Retry.BaseDelay != 2*time.Second {
		t.Errorf("unexpected pipeline config: %+v", pc)
	}
	if ac := cfg.AcquisitionConfig(); ac.MaxChars != 50000 || ac.Timeout != 30*time.Second {
		t.Errorf("unexpected acquisition config: %+v", ac)
	}
	if sc := cfg.SafetyConfig(); !sc.Enabled || !sc.RedactPII {
		t.Errorf("unexpected safety config: %+v", sc)
	}
}

func TestLoad_MCPServersAndTracing(t *testing.T) {
	path := writeFile(t, t.TempDir(), "project.yaml", `
mcp_servers:
  docs:
    command: mcp-docs
    args: ["--root", "/srv/docs"]
    env: {DOCS_TOKEN: abc, A: b}
  search:
    transport: sse
    url: http://localhost:9000/sse
  retired:
    transport: http
    url: http://localhost:9001/mcp
    disabled: true
agents:
  researcher:
    provider: claude
    mcp_servers: [docs, search, retired]
pipeline:
  mcp_server_timeout: 3s
tracing:
  enabled: true
  exporter: zipkin
  sample_rate: 0.5
`)
	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MCPServerTimeout.Std() != 3*time.Second {
		t.Errorf("mcp server timeout = %s, want 3s", cfg.Pipeline.MCPServerTimeout)
	}

	servers := cfg.BackendConfigs()["researcher"].MCPServers
	if len(servers) != 2 {
		t.Fatalf("expected disabled server dropped, got %+v", servers)
	}
	docs := servers[0]
	if docs.Name != "docs" || docs.Command != "mcp-docs" || len(docs.Args) != 2 {
		t.Errorf("unexpected docs server: %+v", docs)
	}
	if len(docs.Env) != 2 || docs.Env[0] != "A=b" || docs.Env[1] != "DOCS_TOKEN=abc" {
		t.Errorf("expected sorted env pairs, got %v", docs.Env)
	}
	if servers[1].Transport != "sse" || servers[1].URL != "http://localhost:9000/sse" {
		t.Errorf("unexpected search server: %+v", servers[1])
	}

	tc := cfg.TracingConfig()
	if !tc.Enabled || tc.Exporter != "zipkin" || tc.SampleRate != 0.5 {
		t.Errorf("unexpected tracing config: %+v", tc)
	}
}

func TestValidate_MCPServersAndTracing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MCPServers = map[string]MCPServerConfig{
		"nowhere": {},
		"remote":  {Transport: "sse"},
		"odd":     {Transport: "carrier-pigeon", URL: "x"},
	}
	agent := cfg.Agents["writer"]
	agent.MCPServers = []string{"ghost"}
	cfg.Agents["writer"] = agent
	cfg.Pipeline.MCPServerTimeout = 0
	cfg.Tracing = TracingConfig{Enabled: true, Exporter: "jaeger", SampleRate: 2}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown MCP server "ghost"`,
		`mcp server "nowhere": command or url is required`,
		`mcp server "remote": url is required`,
		`unknown transport "carrier-pigeon"`,
		"mcp_server_timeout",
		"tracing.exporter",
		"tracing.sample_rate",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
