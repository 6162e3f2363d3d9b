package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Agents["writer"] = AgentConfig{Provider: "openai", Model: "test-model"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file contains valid JSON
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	// Durations are written as strings
	if !strings.Contains(string(data), `"progress_ttl": "1h0m0s"`) {
		t.Errorf("expected human readable duration, got:\n%s", data)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	// Nested path that doesn't exist yet
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.Providers["claude"] = ProviderConfig{Command: "claude", Type: "claude", Args: []string{"--verbose"}}
			cfg.Agents["researcher"] = AgentConfig{
				Provider:     "claude",
				Model:        "opus-4",
				SystemPrompt: "You research.",
				Tools:        []string{"WebSearch", "WebFetch"},
			}
			cfg.Pipeline.PublishThreshold = 75
			cfg.Retry.MaxDelay = Duration(45 * time.Second)
			cfg.Safety.SevereKeywords = []string{"forbidden"}

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := Load(path, "")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if args := loaded.Providers["claude"].Args; len(args) != 1 || args[0] != "--verbose" {
				t.Errorf("provider args mismatch: got %v", args)
			}
			if loaded.Agents["researcher"].Model != "opus-4" || len(loaded.Agents["researcher"].Tools) != 2 {
				t.Errorf("researcher mismatch: got %+v", loaded.Agents["researcher"])
			}
			if loaded.Pipeline.PublishThreshold != 75 {
				t.Errorf("threshold mismatch: got %d", loaded.Pipeline.PublishThreshold)
			}
			if loaded.Retry.MaxDelay.Std() != 45*time.Second {
				t.Errorf("max delay mismatch: got %s", loaded.Retry.MaxDelay)
			}
			if len(loaded.Safety.SevereKeywords) != 1 {
				t.Errorf("severe keywords mismatch: got %v", loaded.Safety.SevereKeywords)
			}
		})
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := DefaultConfig()
	first.Server.Addr = ":1111"
	if err := Save(first, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := DefaultConfig()
	second.Server.Addr = ":2222"
	if err := Save(second, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Addr != ":2222" {
		t.Errorf("Expected ':2222', got '%s'", loaded.Server.Addr)
	}
}

func TestSaveProject(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg := DefaultConfig()
	cfg.Pipeline.MaxRewrites = 2
	if err := SaveProject(cfg); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	path := filepath.Join(dir, DirName, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s: %v", path, err)
	}
	if got := ProjectPath(); got != filepath.Join(DirName, "config.json") {
		t.Errorf("ProjectPath = %q", got)
	}
}
