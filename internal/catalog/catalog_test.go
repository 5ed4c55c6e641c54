package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

func docWithTwoServers() *settings.Settings {
	return &settings.Settings{
		MCPServers: map[string]*settings.ServerConfig{
			"alpha": {Name: "alpha", Enabled: true},
			"beta":  {Name: "beta", Enabled: false},
		},
		SystemConfig: settings.SystemConfig{Routing: settings.RoutingConfig{EnableGlobalRoute: true}},
	}
}

func TestListForGroupDropsDisabledServers(t *testing.T) {
	c := New(nil, nil)
	doc := docWithTwoServers()
	c.OnSettingsChange(t.Context(), settings.Change{Settings: doc})
	c.UpdateServerTools("alpha", []upstream.ToolDecl{{LocalName: "echo"}})
	c.UpdateServerTools("beta", []upstream.ToolDecl{{LocalName: "ping"}})

	tools, err := c.ListForGroup(doc, groups.New(false), "", AllowAll)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "alpha-echo", tools[0].Name)
}

func TestListForGroupRejectsEmptySelectorWhenGlobalRouteDisabled(t *testing.T) {
	c := New(nil, nil)
	doc := docWithTwoServers()
	doc.SystemConfig.Routing.EnableGlobalRoute = false
	c.OnSettingsChange(t.Context(), settings.Change{Settings: doc})

	_, err := c.ListForGroup(doc, groups.New(false), "", AllowAll)
	require.Error(t, err)
}

func TestListForGroupAppliesToolOverrides(t *testing.T) {
	c := New(nil, nil)
	doc := docWithTwoServers()
	disabled := false
	doc.MCPServers["alpha"].Tools = map[string]*settings.ToolOverride{
		"secret": {Enabled: &disabled},
		"echo":   {Description: "overridden description"},
	}
	c.OnSettingsChange(t.Context(), settings.Change{Settings: doc})
	c.UpdateServerTools("alpha", []upstream.ToolDecl{
		{LocalName: "echo", Description: "original"},
		{LocalName: "secret", Description: "hidden"},
	})

	tools, err := c.ListForGroup(doc, groups.New(false), "", AllowAll)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "overridden description", tools[0].Description)
}

func TestListForGroupHonoursGroupToolAllowList(t *testing.T) {
	c := New(nil, nil)
	doc := docWithTwoServers()
	doc.Groups = []*settings.Group{{
		ID:   "g1",
		Name: "g1",
		Servers: []settings.GroupServerRef{
			{Name: "alpha", Tools: []string{"echo"}},
		},
	}}
	c.OnSettingsChange(t.Context(), settings.Change{Settings: doc})
	c.UpdateServerTools("alpha", []upstream.ToolDecl{
		{LocalName: "echo"},
		{LocalName: "other"},
	})

	tools, err := c.ListForGroup(doc, groups.New(false), "g1", AllowAll)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "alpha-echo", tools[0].Name)
}
