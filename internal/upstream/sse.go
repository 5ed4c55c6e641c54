package upstream

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/settings"
)

// sseAdapter connects to a long-lived Server-Sent-Events upstream and sends
// periodic keep-alive pings on the configured interval, as the teacher's
// config.MCPServer.KeepAliveInterval implies (spec section 3/4.4).
type sseAdapter struct {
	cfg *settings.ServerConfig

	mu       sync.Mutex
	c        *client.Client
	onLost   func(error)
	onTools  func()
}

func newSSEAdapter(cfg *settings.ServerConfig) *sseAdapter {
	return &sseAdapter{cfg: cfg}
}

func (a *sseAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.URL == "" {
		return invalidConfigErr(a.cfg.Name, "sse server requires url")
	}

	var opts []transport.ClientOption
	if len(a.cfg.Headers) > 0 {
		opts = append(opts, transport.WithHeaders(resolveHeaders(a.cfg.Headers)))
	}

	c, err := client.NewSSEMCPClient(a.cfg.URL, opts...)
	if err != nil {
		return connectErr(a.cfg.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return connectErr(a.cfg.Name, err)
	}
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		_ = c.Close()
		return connectErr(a.cfg.Name, err)
	}

	c.OnNotification(func(n mcp.JSONRPCNotification) {
		if n.Method != "notifications/tools/list_changed" {
			return
		}
		a.mu.Lock()
		cb := a.onTools
		a.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
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

func (a *sseAdapter) ListTools(ctx context.Context) ([]ToolDecl, error) {
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

func (a *sseAdapter) CallTool(ctx context.Context, localName string, args map[string]any) (*CallResult, error) {
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

func (a *sseAdapter) Ping(ctx context.Context) error {
	a.mu.Lock()
	c := a.c
	a.mu.Unlock()
	if c == nil {
		return connectErr(a.cfg.Name, errNotConnected)
	}
	return c.Ping(ctx)
}

func (a *sseAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c == nil {
		return nil
	}
	err := a.c.Close()
	a.c = nil
	return err
}

func (a *sseAdapter) SupportsKeepAlive() bool { return true }

// SupportsReconnect is false: the reconnect-on-40x path is specific to
// streamable-HTTP upstreams (spec section 4.4). A dropped SSE connection is
// reported through OnConnectionLost, which the supervisor records as the
// reconnecting state; the adapter is not rebuilt on that signal.
func (a *sseAdapter) SupportsReconnect() bool { return false }

func (a *sseAdapter) OnToolsChanged(cb func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTools = cb
}

func (a *sseAdapter) OnConnectionLost(cb func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLost = cb
}
