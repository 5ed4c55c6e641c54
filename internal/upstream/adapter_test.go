package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/settings"
)

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(&settings.ServerConfig{Name: "weird", Type: "carrier-pigeon"}, settings.InstallConfig{})
	require.Error(t, err)
}

func TestNewStdioRequiresCommand(t *testing.T) {
	a, err := New(&settings.ServerConfig{Name: "s1", Type: settings.ServerTypeStdio}, settings.InstallConfig{})
	require.NoError(t, err)
	err = a.Connect(t.Context())
	require.Error(t, err)
}

func TestNewSSERequiresURL(t *testing.T) {
	a, err := New(&settings.ServerConfig{Name: "s2", Type: settings.ServerTypeSSE}, settings.InstallConfig{})
	require.NoError(t, err)
	err = a.Connect(t.Context())
	require.Error(t, err)
}

func TestStreamableHTTPSupportsReconnectOnly(t *testing.T) {
	httpAdapter, err := New(&settings.ServerConfig{Name: "s3", Type: settings.ServerTypeStreamableHTTP, URL: "http://example.invalid"}, settings.InstallConfig{})
	require.NoError(t, err)
	assert.True(t, httpAdapter.SupportsReconnect())

	sseAdapter, err := New(&settings.ServerConfig{Name: "s4", Type: settings.ServerTypeSSE, URL: "http://example.invalid"}, settings.InstallConfig{})
	require.NoError(t, err)
	assert.False(t, sseAdapter.SupportsReconnect())

	stdioAdapter, err := New(&settings.ServerConfig{Name: "s5", Type: settings.ServerTypeStdio, Command: "true"}, settings.InstallConfig{})
	require.NoError(t, err)
	assert.False(t, stdioAdapter.SupportsReconnect())
}

func TestOpenAPIRequiresSchemaOrURL(t *testing.T) {
	_, err := New(&settings.ServerConfig{Name: "s6", Type: settings.ServerTypeOpenAPI}, settings.InstallConfig{})
	require.Error(t, err)
}

func TestBuildCommandEnvInjectsPythonIndex(t *testing.T) {
	cfg := &settings.ServerConfig{Name: "py", Command: "uvx", Env: map[string]string{"FOO": "bar"}}
	env := buildCommandEnv(cfg, settings.InstallConfig{PythonIndexURL: "https://pypi.example/simple"})
	assert.Contains(t, env, "FOO=bar")
	assert.Contains(t, env, "UV_DEFAULT_INDEX=https://pypi.example/simple")
}

func TestBuildCommandEnvInjectsNPMRegistry(t *testing.T) {
	cfg := &settings.ServerConfig{Name: "js", Command: "npx"}
	env := buildCommandEnv(cfg, settings.InstallConfig{NPMRegistry: "https://registry.example"})
	assert.Contains(t, env, "npm_config_registry=https://registry.example")
}
