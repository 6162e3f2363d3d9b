package config

import (
	"os"
	"sort"

	"github.com/aristath/blogflow/internal/acquisition"
	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/pipeline"
	"github.com/aristath/blogflow/internal/safety"
	"github.com/aristath/blogflow/internal/stage"
	"github.com/aristath/blogflow/internal/tracing"
)

// BackendConfigs resolves every agent against its provider, keyed by role.
// API keys are read from the environment here and never stored.
func (c *Config) BackendConfigs() map[string]backend.Config {
	out := make(map[string]backend.Config, len(c.Agents))
	for role, agent := range c.Agents {
		p := c.Providers[agent.Provider]
		bc := backend.Config{
			Type:         p.Type,
			Command:      p.Command,
			Args:         p.Args,
			Model:        agent.Model,
			SystemPrompt: agent.SystemPrompt,
			BaseURL:      p.BaseURL,
			Stream:       p.Stream,
			Tools:        agent.Tools,
		}
		for _, name := range agent.MCPServers {
			s, ok := c.MCPServers[name]
			if !ok || s.Disabled {
				continue
			}
			bc.MCPServers = append(bc.MCPServers, backend.MCPServer{
				Name:      name,
				Transport: s.Transport,
				Command:   s.Command,
				Args:      s.Args,
				Env:       envList(s.Env),
				URL:       s.URL,
			})
		}
		if p.APIKeyEnv != "" {
			bc.APIKey = os.Getenv(p.APIKeyEnv)
		}
		out[role] = bc
	}
	return out
}

// PipelineConfig returns the orchestrator policy.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		PublishThreshold: c.Pipeline.PublishThreshold,
		MaxRewrites:      c.Pipeline.MaxRewrites,
		ProgressTTL:      c.Pipeline.ProgressTTL.Std(),
		Concurrency:      c.Pipeline.Concurrency,
		Retry: stage.RetryConfig{
			MaxRetries: c.Retry.MaxRetries,
			BaseDelay:  c.Retry.BaseDelay.Std(),
			MaxDelay:   c.Retry.MaxDelay.Std(),
		},
	}
}

// AcquisitionConfig returns the reference fetching limits.
func (c *Config) AcquisitionConfig() acquisition.Config {
	a := c.Acquisition
	return acquisition.Config{
		Timeout:      a.Timeout.Std(),
		UserAgent:    a.UserAgent,
		MaxURLBytes:  a.MaxURLBytes,
		MaxFileBytes: a.MaxFileBytes,
		MaxChars:     a.MaxChars,
		Concurrency:  a.Concurrency,
	}
}

// SafetyConfig returns the interceptor selection for safety.Build.
func (c *Config) SafetyConfig() safety.Config {
	s := c.Safety
	return safety.Config{
		Enabled:           s.Enabled,
		RedactPII:         s.RedactPII,
		ForbiddenKeywords: s.ForbiddenKeywords,
		SevereKeywords:    s.SevereKeywords,
		LogViolations:     s.LogViolations,
	}
}

// envList turns an environment map into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// TracingConfig returns the span exporter settings.
func (c *Config) TracingConfig() tracing.Config {
	t := c.Tracing
	return tracing.Config{
		Enabled:        t.Enabled,
		Exporter:       t.Exporter,
		OTLPEndpoint:   t.OTLPEndpoint,
		ZipkinEndpoint: t.ZipkinEndpoint,
		SampleRate:     t.SampleRate,
		ServiceName:    t.ServiceName,
	}
}
