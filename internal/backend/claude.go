package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ClaudeAdapter runs the Claude CLI once per call. Stages are independent
// requests, so every call starts a fresh conversation tagged with the
// adapter's session ID.
type ClaudeAdapter struct {
	sessionID    string
	command      string
	extraArgs    []string
	workDir      string
	model        string
	systemPrompt string
	procMgr      *ProcessManager
}

// claudeResponse is the JSON document printed by `claude -p --output-format json`.
// Older CLI versions nest text blocks under result.content; newer ones
// print result as a plain string.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates a Claude CLI backend. A session ID is generated
// when cfg.SessionID is empty. The ProcessManager is optional.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	return &ClaudeAdapter{
		sessionID:    sessionID,
		command:      command,
		extraArgs:    cfg.Args,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Send runs the CLI and returns its text. Process failures are reported as
// ErrUnavailable so the retry policy treats them as transient; an
// unreadable reply is not.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(msg)...)
	cmd.Dir = a.workDir

	stdout, stderr, err := runCaptured(ctx, cmd, a.procMgr)
	if err != nil {
		if ctx.Err() != nil {
			return Response{Error: err.Error()}, err
		}
		return Response{Error: fmt.Sprintf("claude command failed: %v", err)}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(stderr)),
		}, err
	}

	return resp, nil
}

// Close is a no-op: each call owns its subprocess.
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAdapter) buildArgs(msg Message) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}
	args = append(args, a.extraArgs...)

	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	system := a.systemPrompt
	if msg.System != "" {
		system = msg.System
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}

	if len(msg.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(msg.Tools, ","))
	}

	return args
}

// parseClaudeResponse extracts the text from the CLI's JSON output.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	if len(cr.Result) > 0 {
		var text string
		if err := json.Unmarshal(cr.Result, &text); err == nil {
			content = text
		} else {
			var cc claudeContent
			if err := json.Unmarshal(cr.Result, &cc); err != nil {
				return Response{}, fmt.Errorf("unexpected result shape: %w", err)
			}
			for _, item := range cc.Content {
				if item.Type == "text" {
					content += item.Text
				}
			}
		}
	}

	if cr.IsError {
		return Response{SessionID: cr.SessionID, Error: content}, fmt.Errorf("%w: claude reported an error: %s", ErrUnavailable, content)
	}

	return Response{
		Content:   content,
		SessionID: cr.SessionID,
	}, nil
}
