package upstream

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/settings"
)

// streamableHTTPAdapter is the only variant eligible for the
// reconnect-on-40x retry path (spec section 4.4). Grounded directly on the
// teacher's internal/broker/upstream.MCPServer, which builds its
// client.Client exclusively via client.NewStreamableHttpClient.
type streamableHTTPAdapter struct {
	cfg *settings.ServerConfig

	mu      sync.Mutex
	c       *client.Client
	onLost  func(error)
	onTools func()
}

func newStreamableHTTPAdapter(cfg *settings.ServerConfig) *streamableHTTPAdapter {
	return &streamableHTTPAdapter{cfg: cfg}
}

func (a *streamableHTTPAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.URL == "" {
		return invalidConfigErr(a.cfg.Name, "streamable-http server requires url")
	}

	var opts []transport.StreamableHTTPCOption
	if len(a.cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(resolveHeaders(a.cfg.Headers)))
	}

	c, err := client.NewStreamableHttpClient(a.cfg.URL, opts...)
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

func (a *streamableHTTPAdapter) ListTools(ctx context.Context) ([]ToolDecl, error) {
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

func (a *streamableHTTPAdapter) CallTool(ctx context.Context, localName string, args map[string]any) (*CallResult, error) {
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
		he := callErr(a.cfg.Name, localName, err)
		if status, ok := httpStatusOf(err); ok {
			he = he.WithStatus(status)
		}
		return nil, he
	}
	return &CallResult{Content: res.Content, IsError: res.IsError}, nil
}

func (a *streamableHTTPAdapter) Ping(ctx context.Context) error {
	a.mu.Lock()
	c := a.c
	a.mu.Unlock()
	if c == nil {
		return connectErr(a.cfg.Name, errNotConnected)
	}
	return c.Ping(ctx)
}

func (a *streamableHTTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c == nil {
		return nil
	}
	err := a.c.Close()
	a.c = nil
	return err
}

func (a *streamableHTTPAdapter) SupportsKeepAlive() bool { return true }
func (a *streamableHTTPAdapter) SupportsReconnect() bool { return true }

func (a *streamableHTTPAdapter) OnToolsChanged(cb func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTools = cb
}

func (a *streamableHTTPAdapter) OnConnectionLost(cb func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLost = cb
}

// httpStatusOf extracts the HTTP status from a transport-level error, when
// the underlying transport reports one, so huberrors.Is40x can later detect
// the reconnect-eligible class. transport.StreamableHTTPError carries the
// status in the teacher's streamable-HTTP client usage.
func httpStatusOf(err error) (int, bool) {
	for err != nil {
		if se, ok := err.(*transport.StreamableHTTPError); ok {
			return se.StatusCode, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}
