package smart

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/supervisor"
	"github.com/kagenti/mcp-hub/internal/toolindex"
)

func TestThresholdTable(t *testing.T) {
	assert.Equal(t, 0.40, threshold("give me the exact tool"))
	assert.Equal(t, 0.40, threshold("a query that is definitely longer than thirty characters"))
	assert.Equal(t, 0.20, threshold("short"))
	assert.Equal(t, 0.20, threshold("two words"))
	assert.Equal(t, 0.30, threshold("find a tool that reads files"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, minLimit, clampLimit(-5))
	assert.Equal(t, maxLimit, clampLimit(1000))
	assert.Equal(t, 42, clampLimit(42))
}

func TestDescribeEmbedsServerNames(t *testing.T) {
	doc := &settings.Settings{
		MCPServers: map[string]*settings.ServerConfig{
			"a": {Name: "a", Enabled: true},
			"b": {Name: "b", Enabled: false},
		},
	}
	tools := Describe(doc, "hub")
	require.Len(t, tools, 2)
	assert.Equal(t, SearchToolsName, tools[0].Name)
	assert.Contains(t, tools[0].Description, "a")
	assert.Equal(t, CallToolName, tools[1].Name)
}

type stubIndex struct {
	hits []toolindex.Entry
}

func (s stubIndex) IndexServer(context.Context, string, []catalog.ToolInfo) {}
func (s stubIndex) Search(context.Context, string, int, float64, map[string]bool) ([]toolindex.Entry, error) {
	return s.hits, nil
}

func TestHandleSearchToolsReturnsMetadata(t *testing.T) {
	doc := &settings.Settings{MCPServers: map[string]*settings.ServerConfig{}}
	cat := catalog.New(nil, nil)
	idx := stubIndex{hits: []toolindex.Entry{{ToolName: "A-a1", Description: "does a thing", Score: 0.5}}}

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"query": "find a1", "limit": float64(5)}

	res, err := HandleSearchTools(t.Context(), req, doc, (*groups.Registry)(nil), cat, idx)
	require.NoError(t, err)
	require.False(t, res.IsError)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &parsed))
	metadata := parsed["metadata"].(map[string]any)
	assert.Equal(t, "find a1", metadata["query"])
	assert.Equal(t, 0.20, metadata["threshold"])
}

func TestHandleCallToolReportsUnknownTool(t *testing.T) {
	doc := &settings.Settings{MCPServers: map[string]*settings.ServerConfig{}}
	cat := catalog.New(nil, nil)
	sup := supervisor.New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"toolName": "nope"}

	res, err := HandleCallTool(t.Context(), req, doc, (*groups.Registry)(nil), cat, sup)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
