package hub

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	dir := t.TempDir()
	h, err := New(t.Context(), Config{
		HubName:           "hub",
		SettingsPath:      filepath.Join(dir, "settings.json"),
		SessionSigningKey: "test-signing-key",
	}, testLogger())
	require.NoError(t, err)
	defer h.Stop()

	assert.NotNil(t, h.Store)
	assert.NotNil(t, h.Registry)
	assert.NotNil(t, h.Supervisor)
	assert.NotNil(t, h.Catalog)
	assert.NotNil(t, h.Index)
	assert.NotNil(t, h.Sessions)
	assert.NotNil(t, h.JWTManager)
	assert.NotNil(t, h.Router)
}

func TestNewRejectsEmptySigningKey(t *testing.T) {
	dir := t.TempDir()
	_, err := New(t.Context(), Config{
		HubName:      "hub",
		SettingsPath: filepath.Join(dir, "settings.json"),
	}, testLogger())
	require.Error(t, err)
}
