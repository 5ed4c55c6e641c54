package upstream

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/credentials"
)

var errNotConnected = errors.New("adapter not connected")

func toolDeclsFrom(tools []mcp.Tool) []ToolDecl {
	out := make([]ToolDecl, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolDecl{
			LocalName:   t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return out
}

// schemaToMap flattens a tool's typed input schema into the bare
// map[string]any the catalog and tool index work with, so callers never
// need to import mcp's schema types.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// resolveHeaders resolves any "secret:<name>" indirections in a server's
// configured headers before they're sent on the wire (spec section 3,
// sse/streamable-http "headers").
func resolveHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved, err := credentials.Resolve(v)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = resolved
	}
	return out
}
