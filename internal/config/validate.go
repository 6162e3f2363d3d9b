package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aristath/blogflow/internal/stage"
)

// Roles are the agents every pipeline run needs.
var Roles = []string{stage.RoleResearcher, stage.RoleWriter, stage.RoleReviewer}

var backendTypes = map[string]bool{"claude": true, "openai": true}

// Validate checks ranges and cross references. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := c.Providers[name]
		if !backendTypes[p.Type] {
			add("provider %q: unknown type %q", name, p.Type)
		}
		if p.Type == "openai" && p.BaseURL == "" {
			add("provider %q: base_url is required", name)
		}
	}

	for _, role := range Roles {
		agent, ok := c.Agents[role]
		if !ok {
			add("agent %q is not configured", role)
			continue
		}
		if _, ok := c.Providers[agent.Provider]; !ok {
			add("agent %q: unknown provider %q", role, agent.Provider)
		}
		for _, name := range agent.MCPServers {
			if _, ok := c.MCPServers[name]; !ok {
				add("agent %q: unknown MCP server %q", role, name)
			}
		}
	}

	servers := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	for _, name := range servers {
		s := c.MCPServers[name]
		switch s.Transport {
		case "", "stdio":
			if s.Command == "" && s.URL == "" {
				add("mcp server %q: command or url is required", name)
			}
		case "sse", "http":
			if s.URL == "" {
				add("mcp server %q: url is required", name)
			}
		default:
			add("mcp server %q: unknown transport %q", name, s.Transport)
		}
	}

	p := c.Pipeline
	if p.PublishThreshold < 0 || p.PublishThreshold > 100 {
		add("pipeline.publish_threshold must be between 0 and 100, got %d", p.PublishThreshold)
	}
	if p.MaxRewrites < 0 {
		add("pipeline.max_rewrites must not be negative, got %d", p.MaxRewrites)
	}
	if p.ProgressTTL <= 0 {
		add("pipeline.progress_ttl must be positive")
	}
	if p.Concurrency < 1 {
		add("pipeline.concurrency must be at least 1, got %d", p.Concurrency)
	}
	if p.DiscoveryTimeout <= 0 {
		add("pipeline.discovery_timeout must be positive")
	}
	if p.MCPServerTimeout <= 0 {
		add("pipeline.mcp_server_timeout must be positive")
	}

	r := c.Retry
	if r.MaxRetries < 0 {
		add("retry.max_retries must not be negative, got %d", r.MaxRetries)
	}
	if r.BaseDelay <= 0 {
		add("retry.base_delay must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		add("retry.max_delay must be at least retry.base_delay")
	}

	a := c.Acquisition
	if a.Timeout <= 0 || a.MaxURLBytes <= 0 || a.MaxFileBytes <= 0 || a.MaxChars <= 0 {
		add("acquisition limits must be positive")
	}

	if t := c.Tracing; t.Enabled {
		if t.Exporter != "otlp" && t.Exporter != "zipkin" {
			add("tracing.exporter must be otlp or zipkin, got %q", t.Exporter)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			add("tracing.sample_rate must be between 0 and 1, got %v", t.SampleRate)
		}
	}

	if c.Storage.Path == "" {
		add("storage.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
