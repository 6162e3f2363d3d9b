package backend

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// DefaultMCPServerTimeout bounds tool listing on a single MCP server.
const DefaultMCPServerTimeout = 10 * time.Second

// MCPServer is one tool server an agent may use.
type MCPServer struct {
	Name      string
	Transport string // "stdio" (default when Command is set), "sse" or "http"
	Command   string
	Args      []string
	Env       []string // KEY=VALUE pairs for stdio servers
	URL       string
}

func (s MCPServer) transport() string {
	if s.Transport != "" {
		return s.Transport
	}
	if s.Command != "" {
		return TransportStdio
	}
	return TransportHTTP
}

// NewMCPDiscoverer returns a Discoverer that lists the tools of every MCP
// server configured for a role, concurrently. A server that fails or takes
// longer than serverTimeout is left out and the others still count. The
// configured static tools are always included.
func NewMCPDiscoverer(serverTimeout time.Duration) Discoverer {
	if serverTimeout <= 0 {
		serverTimeout = DefaultMCPServerTimeout
	}
	return func(ctx context.Context, role string, cfg Config) ([]string, error) {
		tools := append([]string(nil), cfg.Tools...)
		if len(cfg.MCPServers) == 0 {
			return tools, nil
		}

		found := make([][]string, len(cfg.MCPServers))
		failed := make([]error, len(cfg.MCPServers))
		var g errgroup.Group
		for i, srv := range cfg.MCPServers {
			g.Go(func() error {
				found[i], failed[i] = listWithTimeout(ctx, srv, serverTimeout)
				return nil
			})
		}
		_ = g.Wait()

		ok := 0
		for i, srv := range cfg.MCPServers {
			if failed[i] != nil {
				log.Printf("WARNING: %s: MCP server %s skipped: %v", role, srv.Name, failed[i])
				continue
			}
			ok++
			tools = append(tools, found[i]...)
			log.Printf("%s: %d tools from MCP server %s", role, len(found[i]), srv.Name)
		}
		if ok == 0 && len(tools) == 0 {
			return nil, fmt.Errorf("no MCP server of %s answered", role)
		}
		return tools, nil
	}
}

// listWithTimeout abandons a server that does not answer within timeout,
// even if its client ignores cancellation.
func listWithTimeout(ctx context.Context, srv MCPServer, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		tools []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tools, err := listMCPTools(ctx, srv)
		done <- result{tools, err}
	}()

	select {
	case r := <-done:
		return r.tools, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: listing tools timed out after %s", ErrCapabilityUnavailable, timeout)
	}
}

// listMCPTools connects to srv, performs the MCP handshake and returns the
// names of the tools it offers.
func listMCPTools(ctx context.Context, srv MCPServer) ([]string, error) {
	var (
		c   *client.Client
		err error
	)
	switch srv.transport() {
	case TransportStdio:
		c, err = client.NewStdioMCPClient(srv.Command, srv.Env, srv.Args...)
	case TransportSSE:
		c, err = client.NewSSEMCPClient(srv.URL)
		if err == nil {
			err = c.Start(ctx)
		}
	case TransportHTTP:
		c, err = client.NewStreamableHttpClient(srv.URL)
		if err == nil {
			err = c.Start(ctx)
		}
	default:
		return nil, fmt.Errorf("unknown MCP transport %q", srv.Transport)
	}
	if c != nil {
		defer func() { _ = c.Close() }()
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", srv.Name, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "blogflow", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", srv.Name, err)
	}

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools of %s: %w", srv.Name, err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}
