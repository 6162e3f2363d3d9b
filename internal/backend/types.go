package backend

import "errors"

// Message is one generation request.
type Message struct {
	Content string
	Role    string   // "user" or "system"
	System  string   // Per-call system prompt, overrides Config.SystemPrompt
	Tools   []string // Tools the capability may use for this call
}

// Response is the capability's reply.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string // "claude" or "openai"
	Command      string // CLI binary for subprocess backends, defaults to the type name
	Args         []string
	WorkDir      string
	SessionID    string
	Model        string
	SystemPrompt string
	BaseURL      string // HTTP endpoint for "openai" backends
	APIKey       string
	Stream       bool
	Tools        []string    // Tools advertised to the capability
	MCPServers   []MCPServer // Tool servers queried during discovery
}

var (
	// ErrUnavailable marks a failure the caller may retry: network errors,
	// timeouts, 5xx responses and crashed subprocesses.
	ErrUnavailable = errors.New("generation backend unavailable")

	// ErrRateLimited marks a throttled request.
	ErrRateLimited = errors.New("generation backend rate limited")

	// ErrCapabilityUnavailable marks a tool that could not be discovered in
	// time. The run proceeds without it.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrPoolClosed is returned when leasing from a pool that is not open.
	ErrPoolClosed = errors.New("backend pool is not open")
)
