package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// newToolServer starts an SSE MCP server offering the named tools.
func newToolServer(t *testing.T, tools ...string) MCPServer {
	t.Helper()
	s := server.NewMCPServer("fixture", "1.0.0")
	for _, name := range tools {
		s.AddTool(mcp.NewTool(name), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("ok"), nil
		})
	}
	ts := server.NewTestServer(s)
	t.Cleanup(ts.Close)
	return MCPServer{Name: "fast", Transport: TransportSSE, URL: ts.URL + "/sse"}
}

// newHungServer accepts connections and never answers.
func newHungServer(t *testing.T) MCPServer {
	t.Helper()
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })
	return MCPServer{Name: "slow", Transport: TransportSSE, URL: ts.URL + "/sse"}
}

// TestMCPDiscoverer_OmitsSlowServer verifies a server that never answers is
// left out after the per-server timeout while the other server's tools and
// the static tools are still returned.
func TestMCPDiscoverer_OmitsSlowServer(t *testing.T) {
	cfg := Config{
		Tools:      []string{"WebSearch"},
		MCPServers: []MCPServer{newHungServer(t), newToolServer(t, "lookup_docs", "fetch_page")},
	}
	discover := NewMCPDiscoverer(300 * time.Millisecond)

	start := time.Now()
	tools, err := discover(context.Background(), "researcher", cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Slow server was not abandoned, took %s", elapsed)
	}

	slices.Sort(tools)
	want := []string{"WebSearch", "fetch_page", "lookup_docs"}
	if !slices.Equal(tools, want) {
		t.Errorf("Expected %v, got %v", want, tools)
	}
}

// TestMCPDiscoverer_NoServerAnswered verifies discovery fails only when no
// server answered and there is nothing static to fall back on.
func TestMCPDiscoverer_NoServerAnswered(t *testing.T) {
	discover := NewMCPDiscoverer(200 * time.Millisecond)
	missing := MCPServer{Name: "missing", Command: "/nonexistent/mcp-server"}

	if _, err := discover(context.Background(), "writer", Config{MCPServers: []MCPServer{missing}}); err == nil {
		t.Error("Expected error when no server answered")
	}

	tools, err := discover(context.Background(), "writer", Config{Tools: []string{"Read"}, MCPServers: []MCPServer{missing}})
	if err != nil {
		t.Fatalf("Expected static tools to be enough, got %v", err)
	}
	if !slices.Equal(tools, []string{"Read"}) {
		t.Errorf("Expected static tools only, got %v", tools)
	}
}

// TestMCPDiscoverer_SlowServerTimeout verifies the per-server timeout is
// reported as an unavailable capability.
func TestMCPDiscoverer_SlowServerTimeout(t *testing.T) {
	_, err := listWithTimeout(context.Background(), newHungServer(t), 100*time.Millisecond)
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Errorf("Expected ErrCapabilityUnavailable, got %v", err)
	}
}

func TestMCPServer_Transport(t *testing.T) {
	tests := []struct {
		srv  MCPServer
		want string
	}{
		{MCPServer{Command: "mcp-docs"}, TransportStdio},
		{MCPServer{URL: "http://localhost:9000/mcp"}, TransportHTTP},
		{MCPServer{Transport: TransportSSE, URL: "http://localhost:9000/sse"}, TransportSSE},
	}
	for _, tt := range tests {
		if got := tt.srv.transport(); got != tt.want {
			t.Errorf("transport(%+v) = %q, want %q", tt.srv, got, tt.want)
		}
	}
}

// TestPool_MCPDiscoveryThroughLease verifies a lease exposes the tools of
// the servers that answered and the run can use the backend regardless.
func TestPool_MCPDiscoveryThroughLease(t *testing.T) {
	configs := map[string]Config{
		"researcher": {
			Type:       "claude",
			Tools:      []string{"WebSearch"},
			MCPServers: []MCPServer{newHungServer(t), newToolServer(t, "lookup_docs")},
		},
	}
	factory := func(role string, cfg Config) (Backend, error) { return &stubBackend{id: cfg.SessionID}, nil }
	p := NewPool(configs, nil,
		WithFactory(factory),
		WithDiscoverer(NewMCPDiscoverer(300*time.Millisecond)),
		WithDiscoveryTimeout(5*time.Second),
	)
	t.Cleanup(func() { p.Close() })

	ctx := context.Background()
	if err := p.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l, err := p.Lease(ctx, "task-1")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if _, err := l.Backend(ctx, "researcher"); err != nil {
		t.Fatalf("Backend failed: %v", err)
	}

	tools := slices.Sorted(slices.Values(l.Tools("researcher")))
	if !slices.Equal(tools, []string{"WebSearch", "lookup_docs"}) {
		t.Errorf("Expected static and fast-server tools, got %v", tools)
	}
}
