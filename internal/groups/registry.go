// Package groups resolves a downstream group selector into the ordered set
// of upstream servers (and per-server tool allow-lists) it names (spec
// section 4.2). New component: the teacher has no group concept; modeled
// after the teacher's VirtualServer (name + flat tool list) generalized to
// a set of per-server allow-lists, and corroborated by the pack's
// mcpproxy-go GroupConfig/ServerGroupAssignments shape.
package groups

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kagenti/mcp-hub/internal/settings"
)

// Resolved is one {server, tool-filter} pair produced by resolving a selector.
type Resolved struct {
	ServerName string
	AllTools   bool
	Tools      []string // only meaningful when AllTools is false
}

// Registry resolves group selectors against a settings snapshot.
// enableGroupNameRoute is mutable so a systemConfig change takes effect on
// the next resolve without rebuilding every collaborator that holds a
// *Registry (spec section 4.1: settings changes apply immediately).
type Registry struct {
	enableGroupNameRoute atomic.Bool
}

// New creates a Registry. enableGroupNameRoute mirrors
// systemConfig.routing.enableGroupNameRoute (spec section 4.2).
func New(enableGroupNameRoute bool) *Registry {
	r := &Registry{}
	r.enableGroupNameRoute.Store(enableGroupNameRoute)
	return r
}

// SetEnableGroupNameRoute updates the flag in place, wired as part of the
// hub's systemConfig change handling.
func (r *Registry) SetEnableGroupNameRoute(enabled bool) {
	r.enableGroupNameRoute.Store(enabled)
}

// Resolve turns a selector (the path segment after /sse/ or /mcp/) into the
// ordered list of servers it names, per the resolution order in spec
// section 4.2: by id (exact) -> by name (if enabled) -> treat selector as a
// single server name. Returns ok=false when the selector matches nothing.
func (r *Registry) Resolve(doc *settings.Settings, selector string) (group *settings.Group, resolved []Resolved, ok bool) {
	if selector == "" {
		return nil, nil, false
	}

	for _, g := range doc.Groups {
		if g.ID == selector {
			return g, refsToResolved(g.Servers), true
		}
	}

	if r.enableGroupNameRoute.Load() {
		for _, g := range doc.Groups {
			if g.Name == selector {
				return g, refsToResolved(g.Servers), true
			}
		}
	}

	if _, isServer := doc.MCPServers[selector]; isServer {
		return nil, []Resolved{{ServerName: selector, AllTools: true}}, true
	}

	return nil, nil, false
}

func refsToResolved(refs []settings.GroupServerRef) []Resolved {
	out := make([]Resolved, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Resolved{ServerName: ref.Name, AllTools: ref.AllTools, Tools: ref.Tools})
	}
	return out
}

// CreateGroup validates and appends a new group to the document, rejecting
// a duplicate name (spec section 4.2 "group name already exists on create").
func CreateGroup(doc *settings.Settings, name, description, owner string, servers []Resolved) (*settings.Group, error) {
	for _, g := range doc.Groups {
		if g.Name == name {
			return nil, fmt.Errorf("group %q already exists", name)
		}
	}
	g := &settings.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Owner:       owner,
		Servers:     resolvedToRefs(servers),
	}
	doc.Groups = append(doc.Groups, g)
	return g, nil
}

// UpdateGroup replaces the servers of an existing group by id, leaving the
// document unchanged on any validation failure (spec section 4.2).
func UpdateGroup(doc *settings.Settings, id string, servers []Resolved) error {
	for _, g := range doc.Groups {
		if g.ID == id {
			g.Servers = resolvedToRefs(servers)
			return nil
		}
	}
	return fmt.Errorf("group %q not found", id)
}

func resolvedToRefs(resolved []Resolved) []settings.GroupServerRef {
	out := make([]settings.GroupServerRef, 0, len(resolved))
	for _, r := range resolved {
		out = append(out, settings.GroupServerRef{Name: r.ServerName, AllTools: r.AllTools, Tools: r.Tools})
	}
	return out
}
