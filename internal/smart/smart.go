// Package smart implements Smart Mode (C8): the fixed two-tool interface
// (search_tools, call_tool) exposed under the reserved "$smart" selector,
// backed by the tool index and dispatched through the supervisor (spec
// section 4.8). New component: the teacher has no search/dispatch
// meta-tool concept; the tool shapes follow mark3labs/mcp-go's
// mcp.NewTool builder the way the teacher's internal/tests/server2 uses it.
package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/supervisor"
	"github.com/kagenti/mcp-hub/internal/toolindex"
)

// Tool names of the fixed Smart Mode interface.
const (
	SearchToolsName = "search_tools"
	CallToolName    = "call_tool"
)

const (
	defaultLimit = 10
	minLimit     = 1
	maxLimit     = 100
)

// Describe returns the two Smart Mode tool declarations, regenerated from
// the current settings document every time the catalog changes so the
// embedded server-name list in search_tools' description stays current
// (spec section 4.8, "MUST be regenerated whenever the catalog changes").
func Describe(doc *settings.Settings, hubName string) []mcp.Tool {
	names := make([]string, 0, len(doc.MCPServers))
	for name, cfg := range doc.MCPServers {
		if cfg.Enabled {
			names = append(names, name)
		}
	}

	searchDescription := fmt.Sprintf(
		"Search %s's catalog of tools across all reachable servers (%s) by natural-language "+
			"description and return the best-matching tools. Use this before guessing a tool "+
			"name: describe what you want to accomplish, not a specific tool. Call call_tool "+
			"with the returned tool name and arguments to actually invoke it.",
		hubName, strings.Join(names, ", "),
	)

	return []mcp.Tool{
		mcp.NewTool(SearchToolsName,
			mcp.WithDescription(searchDescription),
			mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language description of the capability you need")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results, 1-100 (default 10)")),
		),
		mcp.NewTool(CallToolName,
			mcp.WithDescription("Invoke a tool previously returned by search_tools. toolName may be the "+
				"fully-qualified \"<server>-<local>\" name or just the local tool name if it is unambiguous."),
			mcp.WithString("toolName", mcp.Required(), mcp.Description("Tool name, as returned by search_tools")),
			mcp.WithObject("arguments", mcp.Description("Arguments to pass to the tool")),
		),
	}
}

// threshold implements the spec section 4.8 heuristic table verbatim.
func threshold(query string) float64 {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "specific") || strings.Contains(lower, "exact") || len(query) > 30:
		return 0.40
	case len(query) < 10 || wordCount(query) <= 2:
		return 0.20
	default:
		return 0.30
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// limitArg extracts the optional "limit" argument without assuming a
// specific numeric Go type, since JSON-decoded tool arguments may arrive as
// float64 or json.Number depending on the transport.
func limitArg(req mcp.CallToolRequest) int {
	v, ok := req.GetArguments()["limit"]
	if !ok {
		return defaultLimit
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultLimit
		}
		return int(i)
	default:
		return defaultLimit
	}
}

func clampLimit(limit int) int {
	if limit == 0 {
		return defaultLimit
	}
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// HandleSearchTools implements search_tools (spec section 4.8). registry is
// accepted for signature symmetry with the regular list-tools path but
// Smart Mode filters by the global enable/allow-list rules only, per spec
// section 4.8 ("the same enable/allow-list rules as the regular catalog");
// it is not itself bound to a group selector.
func HandleSearchTools(ctx context.Context, req mcp.CallToolRequest, doc *settings.Settings, _ *groups.Registry, cat *catalog.Catalog, index toolindex.Index) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := clampLimit(limitArg(req))
	th := threshold(query)

	visible := cat.ListAll(doc, catalog.AllowAll)
	scope := make(map[string]bool, len(doc.MCPServers))
	for _, t := range visible {
		scope[t.Origin] = true
	}

	hits, err := index.Search(ctx, query, limit, th, scope)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"name":        h.ToolName,
			"description": h.Description,
			"inputSchema": h.InputSchema,
			"score":       h.Score,
		})
	}

	doc2 := map[string]any{
		"tools": results,
		"metadata": map[string]any{
			"query":        query,
			"threshold":    th,
			"totalResults": len(results),
			"guidance": "Review each tool's description before calling it; if nothing here fits, " +
				"try rephrasing the query with more specific terminology.",
			"nextStep": "Call call_tool with the chosen tool's \"name\" field and the arguments it expects.",
		},
	}
	payload, err := json.Marshal(doc2)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// HandleCallTool implements call_tool (spec section 4.8): resolve the
// first matching visible tool, strip any server-name prefix, and dispatch
// through the supervisor exactly as the regular call-tool path does.
func HandleCallTool(ctx context.Context, req mcp.CallToolRequest, doc *settings.Settings, _ *groups.Registry, cat *catalog.Catalog, sup *supervisor.Supervisor) (*mcp.CallToolResult, error) {
	toolName, err := req.RequireString("toolName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args, _ := req.GetArguments()["arguments"].(map[string]any)

	visible := cat.ListAll(doc, catalog.AllowAll)

	for _, t := range visible {
		if t.Name == toolName || t.LocalName == toolName {
			res, callErr := sup.CallTool(ctx, t.Origin, t.LocalName, args)
			if callErr != nil {
				return mcp.NewToolResultError(callErr.Error()), nil
			}
			return &mcp.CallToolResult{Content: res.Content, IsError: res.IsError}, nil
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("no visible tool matches %q", toolName)), nil
}
