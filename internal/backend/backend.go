package backend

import (
	"context"
	"fmt"
)

// Backend is the generation capability behind a pipeline stage: it turns a
// prompt into text.
type Backend interface {
	// Send sends a message to the backend and returns the response.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases anything the backend holds.
	Close() error

	// SessionID returns the current session identifier.
	SessionID() string
}

// Streamer is implemented by backends that can deliver output incrementally.
// onChunk is called from the calling goroutine, in order.
type Streamer interface {
	Stream(ctx context.Context, msg Message, onChunk func(string)) (Response, error)
}

// New creates a new backend based on the provided configuration.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeAdapter(cfg, pm)
	case "openai":
		return NewOpenAIAdapter(cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
