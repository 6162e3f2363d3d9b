package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAIAdapter talks to an OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	sessionID    string
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	stream       bool
	client       *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
	} `json:"choices"`
}

// NewOpenAIAdapter creates an HTTP backend. BaseURL and Model are required.
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai backend requires a base URL")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai backend requires a model")
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &OpenAIAdapter{
		sessionID:    sessionID,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		stream:       cfg.Stream,
		client:       &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// Send performs a single non-streaming completion.
func (a *OpenAIAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	if a.stream {
		return a.Stream(ctx, msg, func(string) {})
	}

	resp, err := a.do(ctx, msg, false)
	if err != nil {
		return Response{Error: err.Error()}, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Response{Error: err.Error()}, fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(cr.Choices) == 0 {
		return Response{Error: "no choices"}, fmt.Errorf("completion returned no choices")
	}

	return Response{Content: cr.Choices[0].Message.Content, SessionID: a.sessionID}, nil
}

// Stream performs a streaming completion, forwarding each content delta to
// onChunk as it arrives.
func (a *OpenAIAdapter) Stream(ctx context.Context, msg Message, onChunk func(string)) (Response, error) {
	resp, err := a.do(ctx, msg, true)
	if err != nil {
		return Response{Error: err.Error()}, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var cr chatResponse
		if err := json.Unmarshal([]byte(payload), &cr); err != nil {
			continue
		}
		for _, c := range cr.Choices {
			if c.Delta.Content != "" {
				content.WriteString(c.Delta.Content)
				onChunk(c.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return Response{Error: err.Error()}, ctx.Err()
		}
		return Response{Error: err.Error()}, fmt.Errorf("%w: stream interrupted: %v", ErrUnavailable, err)
	}

	return Response{Content: content.String(), SessionID: a.sessionID}, nil
}

// do sends the request and maps transport and status failures onto the
// backend error sentinels.
func (a *OpenAIAdapter) do(ctx context.Context, msg Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(a.buildRequest(msg, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: status %d: %s", ErrRateLimited, resp.StatusCode, detail)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
		default:
			return nil, fmt.Errorf("completion request rejected: status %d: %s", resp.StatusCode, detail)
		}
	}

	return resp, nil
}

func (a *OpenAIAdapter) buildRequest(msg Message, stream bool) chatRequest {
	system := a.systemPrompt
	if msg.System != "" {
		system = msg.System
	}

	var msgs []chatMessage
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	role := msg.Role
	if role == "" {
		role = "user"
	}
	msgs = append(msgs, chatMessage{Role: role, Content: msg.Content})

	return chatRequest{Model: a.model, Messages: msgs, Stream: stream}
}

// Close releases idle HTTP connections.
func (a *OpenAIAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// SessionID returns the current session identifier.
func (a *OpenAIAdapter) SessionID() string {
	return a.sessionID
}
