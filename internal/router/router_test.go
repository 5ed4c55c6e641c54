package router

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/smart"
	"github.com/kagenti/mcp-hub/internal/supervisor"
	"github.com/kagenti/mcp-hub/internal/toolindex"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter builds a Router whose store and catalog are both
// synchronously seeded with doc - Store.Mutate's observer fan-out runs
// each observer on its own goroutine, which would make assertions racy, so
// tests feed the catalog directly via OnSettingsChange instead of relying
// on that async notification path.
func newTestRouter(doc *settings.Settings) (*Router, *settings.Store) {
	store, _ := settings.New("", testLogger())
	_, _ = store.Mutate(context.Background(), nil, func(*settings.Settings) (*settings.Settings, error) {
		return doc, nil
	})

	cat := catalog.New(nil, nil)
	cat.OnSettingsChange(context.Background(), settings.Change{Settings: doc})

	sup := supervisor.New(testLogger(), cat.UpdateServerTools)
	registry := groups.New(doc.SystemConfig.Routing.EnableGroupNameRoute)
	idx := toolindex.NewIndex(settings.SmartRoutingConfig{})
	r := New("hub", store, registry, cat, sup, idx, testLogger())
	cat.SetChangedFunc(r.OnCatalogChanged)
	return r, store
}

func TestServerForRejectsGlobalRouteWhenDisabled(t *testing.T) {
	doc := &settings.Settings{
		MCPServers:   map[string]*settings.ServerConfig{},
		SystemConfig: settings.SystemConfig{Routing: settings.RoutingConfig{EnableGlobalRoute: false}},
	}
	r, _ := newTestRouter(doc)
	_, err := r.ServerFor(t.Context(), "")
	require.Error(t, err)
}

func TestServerForRejectsUnknownSelector(t *testing.T) {
	doc := &settings.Settings{
		MCPServers:   map[string]*settings.ServerConfig{},
		SystemConfig: settings.SystemConfig{Routing: settings.RoutingConfig{EnableGlobalRoute: true}},
	}
	r, _ := newTestRouter(doc)
	_, err := r.ServerFor(t.Context(), "nope")
	require.Error(t, err)
}

func TestServerForAllowsSmartSelectorRegardlessOfGlobalRoute(t *testing.T) {
	doc := &settings.Settings{
		MCPServers:   map[string]*settings.ServerConfig{},
		SystemConfig: settings.SystemConfig{Routing: settings.RoutingConfig{EnableGlobalRoute: false}},
	}
	r, _ := newTestRouter(doc)
	s, err := r.ServerFor(t.Context(), SmartSelector)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestRefreshSmartRegeneratesDescriptionsOnCatalogChange(t *testing.T) {
	doc := &settings.Settings{
		MCPServers: map[string]*settings.ServerConfig{
			"a": {Name: "a", Enabled: true},
		},
		SystemConfig: settings.SystemConfig{Routing: settings.RoutingConfig{EnableGlobalRoute: true}},
	}
	r, _ := newTestRouter(doc)
	_, err := r.ServerFor(t.Context(), SmartSelector)
	require.NoError(t, err)

	r.mu.Lock()
	gs := r.selector[SmartSelector]
	r.mu.Unlock()
	before := smart.Describe(doc, r.hubName)
	assert.True(t, gs.registered[before[0].Name])
	assert.NotContains(t, before[0].Description, "weather")

	doc.MCPServers["weather"] = &settings.ServerConfig{Name: "weather", Enabled: true}
	r.refreshSmart(gs)

	after := smart.Describe(doc, r.hubName)
	assert.Contains(t, after[0].Description, "weather")
	assert.True(t, gs.registered[after[0].Name])
}

func TestRefreshRegistersAndDeregistersTools(t *testing.T) {
	doc := &settings.Settings{
		MCPServers: map[string]*settings.ServerConfig{
			"a": {Name: "a", Enabled: true},
		},
		SystemConfig: settings.SystemConfig{Routing: settings.RoutingConfig{EnableGlobalRoute: true}},
	}
	r, _ := newTestRouter(doc)
	_, err := r.ServerFor(t.Context(), "")
	require.NoError(t, err)

	r.cat.UpdateServerTools("a", []upstream.ToolDecl{{LocalName: "t1", Description: "d"}})
	r.mu.Lock()
	gs := r.selector[""]
	r.mu.Unlock()
	assert.True(t, gs.registered["a-t1"])

	r.cat.UpdateServerTools("a", nil)
	r.mu.Lock()
	_, stillThere := gs.registered["a-t1"]
	r.mu.Unlock()
	assert.False(t, stillThere)
}
