// Package catalog maintains the authoritative, filtered view of every
// upstream server's tools (spec section 4.5). New component: the teacher
// has no equivalent merged-catalog abstraction (its gateway exposes the
// union of all discovered tools with no group/viewer filtering), so the
// filtering pipeline here is built fresh from the spec while keeping the
// teacher's locking and snapshot-copy idioms
// (internal/broker/upstream/manager.go's toolsLock/GetManagedTools pattern).
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/huberrors"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

// ToolInfo is one fully-qualified, filtered tool as seen by a downstream
// client (spec section 3).
type ToolInfo struct {
	Name        string
	LocalName   string
	Description string
	InputSchema map[string]any
	Enabled     bool
	Origin      string
}

// ViewerScope is the external authorization collaborator that may drop
// entire servers from a viewer's visible catalog (spec section 4.5, stage
// 1). A nil ViewerScope allows everything.
type ViewerScope interface {
	AllowsServer(serverName string) bool
}

type allowAll struct{}

func (allowAll) AllowsServer(string) bool { return true }

// AllowAll is the default ViewerScope used when no external authorization
// collaborator is configured.
var AllowAll ViewerScope = allowAll{}

// IndexFunc is called with a server's current effective tool list whenever
// it changes, feeding the tool index (spec section 4.6).
type IndexFunc func(serverName string, tools []ToolInfo)

// ChangedFunc is called whenever the catalog's visible shape changes for
// any reason, so the router can broadcast tools/list_changed (spec
// section 4.7).
type ChangedFunc func()

// Catalog holds the raw (un-overlaid) tool declarations per server plus a
// reference to the latest settings snapshot, recomputing the effective,
// overlaid list on every change to either input.
type Catalog struct {
	onIndex   IndexFunc
	onChanged ChangedFunc

	mu  sync.RWMutex
	raw map[string][]upstream.ToolDecl
	doc *settings.Settings
}

// New creates an empty Catalog.
func New(onIndex IndexFunc, onChanged ChangedFunc) *Catalog {
	return &Catalog{
		onIndex:   onIndex,
		onChanged: onChanged,
		raw:       map[string][]upstream.ToolDecl{},
		doc:       &settings.Settings{MCPServers: map[string]*settings.ServerConfig{}},
	}
}

// SetChangedFunc wires the callback invoked whenever the catalog's visible
// shape changes, once the router exists to receive it - Catalog is
// constructed before Router (Router needs a *Catalog reference) so this
// can't be passed into New.
func (c *Catalog) SetChangedFunc(fn ChangedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChanged = fn
}

// UpdateServerTools stores a server's freshly (re)listed tools (an empty
// slice clears them). Wire this as the supervisor's ToolsChangedFunc, which
// fires only after a successful list: a server that becomes unreachable
// keeps its last listed tools here while its config stays enabled.
func (c *Catalog) UpdateServerTools(serverName string, tools []upstream.ToolDecl) {
	c.mu.Lock()
	c.raw[serverName] = tools
	doc := c.doc
	c.mu.Unlock()

	c.reindex(serverName, doc)
	c.notifyChanged()
}

// OnSettingsChange implements settings.Observer: description overlays and
// enable gates read from the settings document, so a settings-only edit
// (no upstream change) still needs a re-index and a tools-changed
// broadcast (spec section 4.6, "on any change to ... a tool's effective
// description").
func (c *Catalog) OnSettingsChange(_ context.Context, change settings.Change) {
	c.mu.Lock()
	c.doc = change.Settings
	servers := make([]string, 0, len(c.raw))
	for name := range c.raw {
		servers = append(servers, name)
	}
	doc := c.doc
	c.mu.Unlock()

	for _, name := range servers {
		c.reindex(name, doc)
	}
	c.notifyChanged()
}

func (c *Catalog) effectiveTools(serverName string, doc *settings.Settings) []ToolInfo {
	cfg := doc.MCPServers[serverName]
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	raw := c.raw[serverName]
	out := make([]ToolInfo, 0, len(raw))
	for _, decl := range raw {
		override := cfg.ToolOverride(decl.LocalName)
		if !override.IsEnabled() {
			continue
		}
		description := decl.Description
		if override != nil && override.Description != "" {
			description = override.Description
		}
		out = append(out, ToolInfo{
			Name:        serverName + "-" + decl.LocalName,
			LocalName:   decl.LocalName,
			Description: description,
			InputSchema: decl.InputSchema,
			Enabled:     true,
			Origin:      serverName,
		})
	}
	return out
}

func (c *Catalog) reindex(serverName string, doc *settings.Settings) {
	c.mu.RLock()
	effective := c.effectiveTools(serverName, doc)
	c.mu.RUnlock()
	if c.onIndex != nil {
		c.onIndex(serverName, effective)
	}
}

func (c *Catalog) notifyChanged() {
	c.mu.RLock()
	fn := c.onChanged
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// ListAll returns every enabled, viewer-visible tool across all servers with
// no group-selector allow-list applied, for Smart Mode (spec section 4.8),
// which filters to "the same enable/allow-list rules as the regular
// catalog" but is not itself a group selector.
func (c *Catalog) ListAll(doc *settings.Settings, viewer ViewerScope) []ToolInfo {
	if viewer == nil {
		viewer = AllowAll
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	serverOrder := make([]string, 0, len(doc.MCPServers))
	for name := range doc.MCPServers {
		serverOrder = append(serverOrder, name)
	}
	sort.Slice(serverOrder, func(i, j int) bool {
		ei, ej := isEnabled(doc, serverOrder[i]), isEnabled(doc, serverOrder[j])
		if ei != ej {
			return ei
		}
		return serverOrder[i] < serverOrder[j]
	})

	out := make([]ToolInfo, 0)
	for _, serverName := range serverOrder {
		if !viewer.AllowsServer(serverName) || !isEnabled(doc, serverName) {
			continue
		}
		out = append(out, c.effectiveTools(serverName, doc)...)
	}
	return out
}

// ListForGroup implements the six-stage filtering pipeline of spec section
// 4.5. registry resolves selector into the servers/tool-filters it names.
func (c *Catalog) ListForGroup(doc *settings.Settings, registry *groups.Registry, selector string, viewer ViewerScope) ([]ToolInfo, error) {
	if viewer == nil {
		viewer = AllowAll
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var allowList map[string]map[string]bool // stage 5: server -> set of allowed local tool names, nil means "all"
	var serverOrder []string

	if selector == "" {
		if !doc.SystemConfig.Routing.EnableGlobalRoute {
			return nil, huberrors.New(huberrors.KindForbidden, "global route is disabled and no group selector was given", nil)
		}
		for name := range doc.MCPServers {
			serverOrder = append(serverOrder, name)
		}
	} else {
		_, resolved, ok := registry.Resolve(doc, selector)
		if !ok {
			return nil, huberrors.New(huberrors.KindNotFound, "selector "+selector+" does not resolve to any server or group", nil)
		}
		allowList = map[string]map[string]bool{}
		for _, r := range resolved {
			serverOrder = append(serverOrder, r.ServerName)
			if r.AllTools {
				allowList[r.ServerName] = nil
				continue
			}
			set := make(map[string]bool, len(r.Tools))
			for _, t := range r.Tools {
				set[t] = true
			}
			allowList[r.ServerName] = set
		}
	}

	sort.Slice(serverOrder, func(i, j int) bool {
		ei, ej := isEnabled(doc, serverOrder[i]), isEnabled(doc, serverOrder[j])
		if ei != ej {
			return ei // enabled servers first
		}
		return serverOrder[i] < serverOrder[j]
	})

	out := make([]ToolInfo, 0)
	for _, serverName := range serverOrder {
		if !viewer.AllowsServer(serverName) {
			continue
		}
		if !isEnabled(doc, serverName) {
			continue
		}
		tools := c.effectiveTools(serverName, doc)

		if allowList != nil {
			allowed, hasEntry := allowList[serverName]
			if !hasEntry {
				continue
			}
			if allowed != nil {
				filtered := tools[:0:0]
				for _, t := range tools {
					if allowed[t.LocalName] {
						filtered = append(filtered, t)
					}
				}
				tools = filtered
			}
		}
		out = append(out, tools...)
	}
	return out, nil
}

func isEnabled(doc *settings.Settings, serverName string) bool {
	cfg, ok := doc.MCPServers[serverName]
	return ok && cfg.Enabled
}
