package groups

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/settings"
)

func docWithGroup() *settings.Settings {
	return &settings.Settings{
		MCPServers: map[string]*settings.ServerConfig{
			"weather": {Name: "weather", Enabled: true},
		},
		Groups: []*settings.Group{
			{ID: "g1", Name: "team-a", Servers: []settings.GroupServerRef{{Name: "weather", AllTools: true}}},
		},
	}
}

func TestResolveByID(t *testing.T) {
	r := New(false)
	doc := docWithGroup()
	g, resolved, ok := r.Resolve(doc, "g1")
	require.True(t, ok)
	assert.Equal(t, "team-a", g.Name)
	assert.Equal(t, []Resolved{{ServerName: "weather", AllTools: true}}, resolved)
}

func TestResolveByNameRequiresFlag(t *testing.T) {
	r := New(false)
	doc := docWithGroup()
	_, _, ok := r.Resolve(doc, "team-a")
	assert.False(t, ok)

	r.SetEnableGroupNameRoute(true)
	_, _, ok = r.Resolve(doc, "team-a")
	assert.True(t, ok)
}

func TestResolveBareServerName(t *testing.T) {
	r := New(false)
	doc := docWithGroup()
	_, resolved, ok := r.Resolve(doc, "weather")
	require.True(t, ok)
	assert.Equal(t, []Resolved{{ServerName: "weather", AllTools: true}}, resolved)
}

func TestResolveUnknownSelector(t *testing.T) {
	r := New(false)
	doc := docWithGroup()
	_, _, ok := r.Resolve(doc, "nope")
	assert.False(t, ok)
}

func TestCreateGroupRejectsDuplicateName(t *testing.T) {
	doc := docWithGroup()
	_, err := CreateGroup(doc, "team-a", "", "", nil)
	assert.Error(t, err)

	g, err := CreateGroup(doc, "team-b", "desc", "owner", []Resolved{{ServerName: "weather", AllTools: true}})
	require.NoError(t, err)
	assert.Len(t, doc.Groups, 2)
	assert.Equal(t, "team-b", g.Name)
}

func TestUpdateGroupReplacesServers(t *testing.T) {
	doc := docWithGroup()
	err := UpdateGroup(doc, "g1", []Resolved{{ServerName: "weather", Tools: []string{"forecast"}}})
	require.NoError(t, err)
	assert.Equal(t, []settings.GroupServerRef{{Name: "weather", Tools: []string{"forecast"}}}, doc.Groups[0].Servers)
}

func TestUpdateGroupUnknownID(t *testing.T) {
	doc := docWithGroup()
	err := UpdateGroup(doc, "missing", nil)
	assert.Error(t, err)
}
