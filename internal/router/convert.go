package router

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/upstream"
)

// mustMarshalSchema re-serializes an already-decoded schema map back into
// the raw JSON mcp.Tool carries, since ToolInfo works in map[string]any
// form while mcp.Tool expects the wire representation.
func mustMarshalSchema(schema map[string]any) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return raw
}

// toCallToolResult converts a supervisor dispatch outcome into the
// mcp-go result shape. A HubError is surfaced as an isError result rather
// than a transport-level failure, matching the teacher's handler style of
// returning (*mcp.CallToolResult, nil) for tool-level failures.
func toCallToolResult(res *upstream.CallResult, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res == nil {
		return mcp.NewToolResultText(""), nil
	}
	return &mcp.CallToolResult{Content: res.Content, IsError: res.IsError}, nil
}
