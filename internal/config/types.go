package config

// ProviderConfig defines a transport layer (CLI command or HTTP endpoint).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command   string   `json:"command,omitempty" yaml:"command,omitempty"`         // CLI binary name for "claude"
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`               // Default args appended to every invocation
	Type      string   `json:"type" yaml:"type"`                                   // Backend type matching backend.Config.Type: "claude", "openai"
	BaseURL   string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // Chat-completions endpoint for "openai"
	APIKeyEnv string   `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"` // Environment variable holding the API key
	Stream    bool     `json:"stream,omitempty" yaml:"stream,omitempty"`           // Stream responses when the backend supports it
}

// AgentConfig binds a pipeline role to a provider and model.
type AgentConfig struct {
	Provider     string   `json:"provider" yaml:"provider"`                               // Key into Providers map
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`                 // Model override
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Role-specific system prompt
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`                 // Allowed tools for this role
	MCPServers   []string `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`     // Keys into the MCPServers map
}

// MCPServerConfig locates a tool server. Stdio servers are started from
// Command; sse and http servers are reached at URL.
type MCPServerConfig struct {
	Transport string            `json:"transport,omitempty" yaml:"transport,omitempty"` // "stdio", "sse" or "http"
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Disabled  bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// PipelineConfig controls the quality gate and run scheduling.
type PipelineConfig struct {
	PublishThreshold int      `json:"publish_threshold" yaml:"publish_threshold"`
	MaxRewrites      int      `json:"max_rewrites" yaml:"max_rewrites"`
	ProgressTTL      Duration `json:"progress_ttl" yaml:"progress_ttl"`
	Concurrency      int      `json:"concurrency" yaml:"concurrency"`
	DiscoveryTimeout Duration `json:"discovery_timeout" yaml:"discovery_timeout"`
	MCPServerTimeout Duration `json:"mcp_server_timeout" yaml:"mcp_server_timeout"`
}

// RetryConfig controls retries of transient stage failures.
type RetryConfig struct {
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
	BaseDelay  Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay   Duration `json:"max_delay" yaml:"max_delay"`
}

// AcquisitionConfig bounds reference fetching.
type AcquisitionConfig struct {
	Timeout      Duration `json:"timeout" yaml:"timeout"`
	UserAgent    string   `json:"user_agent" yaml:"user_agent"`
	MaxURLBytes  int64    `json:"max_url_bytes" yaml:"max_url_bytes"`
	MaxFileBytes int64    `json:"max_file_bytes" yaml:"max_file_bytes"`
	MaxChars     int      `json:"max_chars" yaml:"max_chars"`
	Concurrency  int      `json:"concurrency" yaml:"concurrency"`
}

// SafetyConfig selects the content-safety interceptors.
type SafetyConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	RedactPII         bool     `json:"redact_pii" yaml:"redact_pii"`
	ForbiddenKeywords []string `json:"forbidden_keywords,omitempty" yaml:"forbidden_keywords,omitempty"`
	SevereKeywords    []string `json:"severe_keywords,omitempty" yaml:"severe_keywords,omitempty"`
	LogViolations     bool     `json:"log_violations" yaml:"log_violations"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Exporter       string  `json:"exporter,omitempty" yaml:"exporter,omitempty"` // "otlp" or "zipkin"
	OTLPEndpoint   string  `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty"`
	ZipkinEndpoint string  `json:"zipkin_endpoint,omitempty" yaml:"zipkin_endpoint,omitempty"`
	SampleRate     float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	ServiceName    string  `json:"service_name,omitempty" yaml:"service_name,omitempty"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Agents      map[string]AgentConfig    `json:"agents" yaml:"agents"`
	MCPServers  map[string]MCPServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
	Pipeline    PipelineConfig            `json:"pipeline" yaml:"pipeline"`
	Retry       RetryConfig               `json:"retry" yaml:"retry"`
	Acquisition AcquisitionConfig         `json:"acquisition" yaml:"acquisition"`
	Safety      SafetyConfig              `json:"safety" yaml:"safety"`
	Tracing     TracingConfig             `json:"tracing" yaml:"tracing"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Server      ServerConfig              `json:"server" yaml:"server"`
}
