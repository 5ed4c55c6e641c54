// Package testutil provides an in-process fixture MCP upstream server for
// integration tests, grounded on the teacher's
// internal/tests/server2/server2.go (its hello_world/time/headers/slow tool
// set, trimmed to echo, time and slow). No test in this repository imports it.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewFixtureServer builds a small MCP server exposing echo, time, and slow
// tools, the same shape the teacher's server2.go uses for its own
// integration tests.
func NewFixtureServer(name string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo back the given message"),
		mcp.WithString("message", mcp.Required(), mcp.Description("message to echo")),
	), echoHandler)

	s.AddTool(mcp.NewTool("time",
		mcp.WithDescription("Get the current time"),
	), timeHandler)

	s.AddTool(mcp.NewTool("slow",
		mcp.WithDescription("Delay for N seconds, reporting progress"),
		mcp.WithString("seconds", mcp.Required(), mcp.Description("number of seconds to wait")),
	), slowHandler)

	return s
}

func echoHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(msg), nil
}

func timeHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().String()), nil
}

func slowHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds, err := req.RequireInt("seconds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var progressToken mcp.ProgressToken
	if req.Params.Meta != nil {
		progressToken = req.Params.Meta.ProgressToken
	}
	srv := server.ServerFromContext(ctx)

	start := time.Now()
	for {
		waited := int(time.Since(start).Seconds())
		if waited >= seconds {
			break
		}
		if progressToken != nil {
			_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
				"progress":      waited,
				"progressToken": progressToken,
				"message":       fmt.Sprintf("waited %d seconds...", waited),
			})
		}
		time.Sleep(100 * time.Millisecond)
	}
	return mcp.NewToolResultText(fmt.Sprintf("waited %d seconds", seconds)), nil
}
