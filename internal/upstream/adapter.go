// Package upstream provides a uniform adapter over the four upstream MCP
// transport variants (stdio, sse, streamable-http, openapi). Grounded on
// github.com/kagenti/mcp-gateway's internal/broker/upstream.MCPServer,
// which already wraps a mark3labs/mcp-go client.Client plus its config and
// connection lifecycle for the streamable-HTTP case; this package
// generalizes that wrapper into a tagged-variant interface covering all
// four transports named in spec section 3/4.3.
package upstream

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/settings"
)

// ToolDecl is one tool as declared by an upstream, before namespacing or
// overlay (spec section 4.3).
type ToolDecl struct {
	LocalName   string
	Description string
	InputSchema map[string]any
}

// CallResult carries a tool invocation's content blocks verbatim, or an
// error result, exactly as the upstream returned it (spec section 4.3/7).
type CallResult struct {
	Content []mcp.Content
	IsError bool
}

// Adapter is the uniform contract every upstream transport variant
// implements (spec section 4.3). The reconnect path in the supervisor
// rebuilds a fresh Adapter from ServerConfig rather than mutating an
// existing one (spec section 9, "Polymorphism over transport variants").
type Adapter interface {
	// Connect completes transport setup and protocol handshake.
	Connect(ctx context.Context) error
	// ListTools returns the upstream's current tool declarations.
	ListTools(ctx context.Context) ([]ToolDecl, error)
	// CallTool invokes a local tool by name and returns its result verbatim.
	CallTool(ctx context.Context, localName string, args map[string]any) (*CallResult, error)
	// Ping is used by the supervisor for keep-alive.
	Ping(ctx context.Context) error
	// Close is idempotent and releases all resources, including any child process.
	Close() error
	// SupportsKeepAlive reports whether the supervisor should schedule periodic pings.
	SupportsKeepAlive() bool
	// SupportsReconnect reports whether this variant is eligible for the
	// reconnect-on-40x path (spec section 4.4: streamable-http only).
	SupportsReconnect() bool
	// OnToolsChanged registers a callback invoked when the upstream sends a
	// tools/list_changed notification. No-op for variants that can't notify.
	OnToolsChanged(func())
	// OnConnectionLost registers a callback invoked when the live connection drops.
	OnConnectionLost(func(error))
}

// New builds the Adapter for a server's configured transport type. install
// carries the hub-wide package-index defaults injected into stdio upstreams.
func New(cfg *settings.ServerConfig, install settings.InstallConfig) (Adapter, error) {
	switch cfg.Type {
	case settings.ServerTypeStdio:
		return newStdioAdapter(cfg).withInstall(install), nil
	case settings.ServerTypeSSE:
		return newSSEAdapter(cfg), nil
	case settings.ServerTypeStreamableHTTP:
		return newStreamableHTTPAdapter(cfg), nil
	case settings.ServerTypeOpenAPI:
		return newOpenAPIAdapter(cfg)
	default:
		return nil, invalidConfigErr(cfg.Name, "unknown server type %q", cfg.Type)
	}
}
