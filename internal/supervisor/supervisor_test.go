package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/huberrors"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

// fakeReconnectAdapter simulates a streamable-http upstream whose first call
// fails with a 4xx and whose reconnect succeeds, so callTool's
// reconnect-on-40x path (spec section 4.4) can be exercised without a real
// transport.
type fakeReconnectAdapter struct {
	connects      int
	calls         int
	listToolCalls int
	toolsAfter    []upstream.ToolDecl
}

func (f *fakeReconnectAdapter) Connect(context.Context) error {
	f.connects++
	return nil
}

func (f *fakeReconnectAdapter) ListTools(context.Context) ([]upstream.ToolDecl, error) {
	f.listToolCalls++
	return f.toolsAfter, nil
}

func (f *fakeReconnectAdapter) CallTool(context.Context, string, map[string]any) (*upstream.CallResult, error) {
	f.calls++
	if f.calls == 1 {
		return nil, huberrors.New(huberrors.KindCallFailed, "expired session", nil).WithStatus(401)
	}
	return &upstream.CallResult{}, nil
}

func (f *fakeReconnectAdapter) Ping(context.Context) error                { return nil }
func (f *fakeReconnectAdapter) Close() error                              { return nil }
func (f *fakeReconnectAdapter) SupportsKeepAlive() bool                   { return true }
func (f *fakeReconnectAdapter) SupportsReconnect() bool                   { return true }
func (f *fakeReconnectAdapter) OnToolsChanged(func())                     {}
func (f *fakeReconnectAdapter) OnConnectionLost(func(error))              {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeepAliveIntervalDefaultsPerType(t *testing.T) {
	assert.Equal(t, 60*time.Second, keepAliveInterval(&settings.ServerConfig{Type: settings.ServerTypeSSE}))
	assert.Equal(t, 5*time.Minute, keepAliveInterval(&settings.ServerConfig{Type: settings.ServerTypeStdio}))
	assert.Equal(t, 5*time.Minute, keepAliveInterval(&settings.ServerConfig{Type: settings.ServerTypeOpenAPI}))
}

func TestReconcileSkipsDisabledServers(t *testing.T) {
	var changedServer string
	sup := New(testLogger(), func(name string, tools []upstream.ToolDecl) { changedServer = name })
	doc := &settings.Settings{MCPServers: map[string]*settings.ServerConfig{
		"disabled-one": {Name: "disabled-one", Type: settings.ServerTypeStdio, Enabled: false},
	}}
	sup.Reconcile(context.Background(), doc)

	statuses := sup.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, StateDisabled, statuses[0].State)
	assert.Empty(t, changedServer)

	sup.Stop()
}

func TestCallToolReportsNotFoundForUnknownServer(t *testing.T) {
	sup := New(testLogger(), nil)
	_, err := sup.CallTool(context.Background(), "missing", "tool", nil)
	require.Error(t, err)
}

// TestCallToolReconnectsAndRefreshesToolsOn40x covers spec section 4.4's
// reconnect sequence (Testable Property 4 / scenario S5): a 4xx call failure
// against a reconnect-capable upstream triggers exactly one reconnect, a
// re-list of tools before the retry, and the retried call succeeding.
func TestCallToolReconnectsAndRefreshesToolsOn40x(t *testing.T) {
	var changedServer string
	var changedTools []upstream.ToolDecl
	cfg := &settings.ServerConfig{Name: "weather", Type: settings.ServerTypeStreamableHTTP}
	sv := newSupervised(cfg, settings.InstallConfig{}, testLogger(), func(name string, tools []upstream.ToolDecl) {
		changedServer = name
		changedTools = tools
	})

	fake := &fakeReconnectAdapter{toolsAfter: []upstream.ToolDecl{{LocalName: "forecast"}}}
	sv.newAdapter = func(*settings.ServerConfig, settings.InstallConfig) (upstream.Adapter, error) {
		return fake, nil
	}
	sv.adapter = fake
	sv.tools = []upstream.ToolDecl{{LocalName: "stale"}}

	res, err := sv.callTool(context.Background(), "forecast", nil)
	require.NoError(t, err)
	assert.NotNil(t, res)

	assert.Equal(t, 2, fake.calls, "expected exactly one retry after reconnect")
	assert.Equal(t, 1, fake.connects, "expected exactly one reconnect")
	assert.Equal(t, 1, fake.listToolCalls, "expected tools to be re-listed after reconnect")
	assert.Equal(t, []upstream.ToolDecl{{LocalName: "forecast"}}, sv.tools)
	assert.Equal(t, "weather", changedServer)
	assert.Equal(t, []upstream.ToolDecl{{LocalName: "forecast"}}, changedTools)
}
