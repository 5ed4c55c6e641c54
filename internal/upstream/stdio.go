package upstream

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/settings"
)

// stdioAdapter launches the server as a child process over stdio.
// Grounded on the teacher's internal/broker/upstream.MCPServer, which
// builds a client.Client once per config and owns its lifecycle; here the
// child process is the resource owned and torn down on Close.
type stdioAdapter struct {
	cfg     *settings.ServerConfig
	install settings.InstallConfig

	mu     sync.Mutex
	c      *client.Client
	onLost func(error)
}

func newStdioAdapter(cfg *settings.ServerConfig) *stdioAdapter {
	return &stdioAdapter{cfg: cfg}
}

// withInstall lets the supervisor pass the hub's install config down without
// widening ServerConfig itself (spec section 5).
func (a *stdioAdapter) withInstall(install settings.InstallConfig) *stdioAdapter {
	a.install = install
	return a
}

func (a *stdioAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.Command == "" {
		return invalidConfigErr(a.cfg.Name, "stdio server requires command")
	}

	env := buildCommandEnv(a.cfg, a.install)
	args := expandArgs(a.cfg.Args)

	c, err := client.NewStdioMCPClient(a.cfg.Command, env, args...)
	if err != nil {
		return connectErr(a.cfg.Name, err)
	}

	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		_ = c.Close()
		return connectErr(a.cfg.Name, err)
	}

	c.OnConnectionLost(func(err error) {
		a.mu.Lock()
		cb := a.onLost
		a.mu.Unlock()
		if cb != nil {
			cb(err)
		}
	})

	a.c = c
	return nil
}

func (a *stdioAdapter) ListTools(ctx context.Context) ([]ToolDecl, error) {
	a.mu.Lock()
	c := a.c
	a.mu.Unlock()
	if c == nil {
		return nil, connectErr(a.cfg.Name, errNotConnected)
	}

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, listToolsErr(a.cfg.Name, err)
	}
	return toolDeclsFrom(res.Tools), nil
}

func (a *stdioAdapter) CallTool(ctx context.Context, localName string, args map[string]any) (*CallResult, error) {
	a.mu.Lock()
	c := a.c
	a.mu.Unlock()
	if c == nil {
		return nil, callErr(a.cfg.Name, localName, errNotConnected)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = localName
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, callErr(a.cfg.Name, localName, err)
	}
	return &CallResult{Content: res.Content, IsError: res.IsError}, nil
}

func (a *stdioAdapter) Ping(ctx context.Context) error {
	a.mu.Lock()
	c := a.c
	a.mu.Unlock()
	if c == nil {
		return connectErr(a.cfg.Name, errNotConnected)
	}
	return c.Ping(ctx)
}

func (a *stdioAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c == nil {
		return nil
	}
	err := a.c.Close()
	a.c = nil
	return err
}

// SupportsKeepAlive is false: a stdio child process's liveness is tracked
// via process exit, not periodic pings (spec section 4.4).
func (a *stdioAdapter) SupportsKeepAlive() bool { return false }

// SupportsReconnect is false: stdio servers are not eligible for the
// reconnect-on-40x path, which is specific to streamable-HTTP (spec section 4.4).
func (a *stdioAdapter) SupportsReconnect() bool { return false }

func (a *stdioAdapter) OnToolsChanged(func()) {
	// mark3labs/mcp-go does not currently surface tools/list_changed for
	// stdio transports distinctly from other notifications; the supervisor
	// re-lists this variant's tools only after a 40x reconnect or while its
	// stored tool list is empty.
}

func (a *stdioAdapter) OnConnectionLost(cb func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLost = cb
}
