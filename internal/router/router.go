// Package router implements the Session Router (C7): one underlying
// mark3labs/mcp-go MCP server instance per live group selector, each
// exposing the catalog's filtered tool list and dispatching calls through
// the supervisor. Grounded on the teacher's internal/tests/server2
// (server.NewMCPServer/AddTool/NewStreamableHTTPServer/NewSSEServer
// wiring) and internal/broker/upstream/manager.go's addToolsFunc/
// removeToolsFunc pattern, generalized from one gateway-wide server to one
// server per selector so each group/server view gets its own tool set
// (spec section 4.7).
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/huberrors"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/smart"
	"github.com/kagenti/mcp-hub/internal/supervisor"
	"github.com/kagenti/mcp-hub/internal/toolindex"
)

// SmartSelector is the reserved group selector activating Smart Mode
// (spec section 4.8).
const SmartSelector = "$smart"

// Router owns one mcp-go server instance per distinct selector that has
// been requested, and keeps each one's tool set in sync with the catalog.
type Router struct {
	hubName  string
	store    *settings.Store
	registry *groups.Registry
	cat      *catalog.Catalog
	sup      *supervisor.Supervisor
	index    toolindex.Index
	logger   *slog.Logger

	mu       sync.Mutex
	selector map[string]*groupServer

	sessMu      sync.Mutex
	sessToGroup map[string]*groupServer
}

type groupServer struct {
	selector   string
	mcpServer  *server.MCPServer
	registered map[string]bool // fully-qualified tool name -> present
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer
}

// New creates a Router. hubName prefixes each per-selector server's
// display name (spec section 4.7: "<hubName>", "<hubName>_<g>", etc.).
func New(hubName string, store *settings.Store, registry *groups.Registry, cat *catalog.Catalog, sup *supervisor.Supervisor, index toolindex.Index, logger *slog.Logger) *Router {
	return &Router{
		hubName:     hubName,
		store:       store,
		registry:    registry,
		cat:         cat,
		sup:         sup,
		index:       index,
		logger:      logger.With("sub-component", "router"),
		selector:    map[string]*groupServer{},
		sessToGroup: map[string]*groupServer{},
	}
}

// ServerFor returns the live mcp-go server instance for a selector,
// building it on first use. An empty selector is the global route; "$smart"
// is Smart Mode (spec section 4.8); anything else is resolved through the
// group registry.
func (r *Router) ServerFor(ctx context.Context, selector string) (*server.MCPServer, error) {
	r.mu.Lock()
	gs, ok := r.selector[selector]
	r.mu.Unlock()
	if ok {
		return gs.mcpServer, nil
	}

	doc := r.store.Load()
	if selector != "" && selector != SmartSelector {
		if _, _, ok := r.registry.Resolve(doc, selector); !ok {
			return nil, huberrors.New(huberrors.KindNotFound, "unknown group or server selector "+selector, nil)
		}
	}
	if selector == "" && !doc.SystemConfig.Routing.EnableGlobalRoute {
		return nil, huberrors.New(huberrors.KindForbidden, "global route is disabled", nil)
	}

	gs = r.buildGroupServer(selector)
	r.mu.Lock()
	r.selector[selector] = gs
	r.mu.Unlock()

	r.refresh(ctx, selector)
	return gs.mcpServer, nil
}

func (r *Router) displayName(selector string) string {
	switch {
	case selector == "":
		return r.hubName
	case selector == SmartSelector:
		return r.hubName + "_smart"
	default:
		return r.hubName + "_" + selector
	}
}

// buildGroupServer wires session register/unregister hooks that bind a
// session id to this selector's groupServer, the way the teacher's
// internal/tests/server2.go logs connect/disconnect via the same hooks -
// here the binding lets the shared POST /messages endpoint (spec section
// 6) find the right per-selector SSE server for an in-flight session.
func (r *Router) buildGroupServer(selector string) *groupServer {
	gs := &groupServer{selector: selector, registered: map[string]bool{}}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess server.ClientSession) {
		r.bindSession(sess.SessionID(), gs)
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, sess server.ClientSession) {
		r.unbindSession(sess.SessionID())
	})

	gs.mcpServer = server.NewMCPServer(r.displayName(selector), "1.0.0",
		server.WithToolCapabilities(true), server.WithHooks(hooks))
	return gs
}

func (r *Router) bindSession(sessionID string, gs *groupServer) {
	r.sessMu.Lock()
	r.sessToGroup[sessionID] = gs
	r.sessMu.Unlock()
}

func (r *Router) unbindSession(sessionID string) {
	r.sessMu.Lock()
	delete(r.sessToGroup, sessionID)
	r.sessMu.Unlock()
}

func (r *Router) groupForSession(sessionID string) (*groupServer, bool) {
	r.sessMu.Lock()
	gs, ok := r.sessToGroup[sessionID]
	r.sessMu.Unlock()
	return gs, ok
}

// OnCatalogChanged is wired as the catalog's ChangedFunc: every live
// selector's tool set is recomputed and diffed against what mcp-go
// currently has registered, emitting tools/list_changed via AddTools/
// DeleteTools exactly where the set actually changed.
func (r *Router) OnCatalogChanged() {
	r.mu.Lock()
	selectors := make([]string, 0, len(r.selector))
	for sel := range r.selector {
		selectors = append(selectors, sel)
	}
	r.mu.Unlock()

	ctx := context.Background()
	for _, sel := range selectors {
		r.refresh(ctx, sel)
	}
}

func (r *Router) refresh(ctx context.Context, selector string) {
	r.mu.Lock()
	gs, ok := r.selector[selector]
	r.mu.Unlock()
	if !ok {
		return
	}

	if selector == SmartSelector {
		r.refreshSmart(gs)
		return
	}

	doc := r.store.Load()
	tools, err := r.cat.ListForGroup(doc, r.registry, selector, catalog.AllowAll)
	if err != nil {
		r.logger.Error("failed to refresh selector tool list", "selector", selector, "error", err)
		return
	}

	wanted := make(map[string]catalog.ToolInfo, len(tools))
	for _, t := range tools {
		wanted[t.Name] = t
	}

	var toAdd []server.ServerTool
	for name, t := range wanted {
		if !gs.registered[name] {
			toAdd = append(toAdd, r.toServerTool(t))
		}
	}
	var toRemove []string
	for name := range gs.registered {
		if _, ok := wanted[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}

	if len(toRemove) > 0 {
		gs.mcpServer.DeleteTools(toRemove...)
		for _, name := range toRemove {
			delete(gs.registered, name)
		}
	}
	if len(toAdd) > 0 {
		gs.mcpServer.AddTools(toAdd...)
		for _, st := range toAdd {
			gs.registered[st.Tool.Name] = true
		}
	}
}

// refreshSmart regenerates both smart-mode tool descriptions on every
// catalog change (spec section 4.8: "Both tool descriptions... MUST be
// regenerated whenever the catalog changes") by deleting whichever of them
// are already registered and re-adding the freshly described versions,
// mirroring the add/remove diff refresh does for ordinary selectors.
func (r *Router) refreshSmart(gs *groupServer) {
	doc := r.store.Load()
	tools := smart.Describe(doc, r.hubName)

	var toRemove []string
	for _, t := range tools {
		if gs.registered[t.Name] {
			toRemove = append(toRemove, t.Name)
		}
	}
	if len(toRemove) > 0 {
		gs.mcpServer.DeleteTools(toRemove...)
	}

	for _, t := range tools {
		gs.mcpServer.AddTool(t, r.smartHandler(t.Name))
		gs.registered[t.Name] = true
	}
}

func (r *Router) smartHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc := r.store.Load()
		switch name {
		case smart.SearchToolsName:
			return smart.HandleSearchTools(ctx, req, doc, r.registry, r.cat, r.index)
		case smart.CallToolName:
			return smart.HandleCallTool(ctx, req, doc, r.registry, r.cat, r.sup)
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown smart tool %q", name)), nil
		}
	}
}

func (r *Router) toServerTool(t catalog.ToolInfo) server.ServerTool {
	var tool mcp.Tool
	if t.InputSchema != nil {
		tool = mcp.NewToolWithRawSchema(t.Name, t.Description, mustMarshalSchema(t.InputSchema))
	} else {
		tool = mcp.NewTool(t.Name, mcp.WithDescription(t.Description))
	}
	serverName, localName := t.Origin, t.LocalName
	return server.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res, err := r.sup.CallTool(ctx, serverName, localName, req.GetArguments())
			return toCallToolResult(res, err)
		},
	}
}
