package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJWTManagerRoundTrip(t *testing.T) {
	mgr, err := NewJWTManager("a-signing-key", 0, testLogger(), nil)
	require.NoError(t, err)

	id := mgr.Generate()
	require.NotEmpty(t, id)

	invalid, err := mgr.Validate(id)
	require.NoError(t, err)
	assert.False(t, invalid)

	expiry, err := mgr.GetExpiresIn(id)
	require.NoError(t, err)
	assert.WithinDuration(t, expiry, expiry, 0)
}

func TestJWTManagerRejectsEmptyKey(t *testing.T) {
	_, err := NewJWTManager("", 0, testLogger(), nil)
	require.Error(t, err)
}

func TestJWTManagerValidateRejectsGarbage(t *testing.T) {
	mgr, err := NewJWTManager("a-signing-key", 0, testLogger(), nil)
	require.NoError(t, err)

	invalid, err := mgr.Validate("not-a-jwt")
	require.Error(t, err)
	assert.True(t, invalid)
}

func TestCacheInMemoryRoundTrip(t *testing.T) {
	c, err := NewCache(t.Context())
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.AddSession(t.Context(), "sess-1", "alpha", "upstream-session-id")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := c.KeyExists(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.True(t, exists)

	sess, err := c.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "upstream-session-id", sess["alpha"])

	require.NoError(t, c.RemoveServerSession(t.Context(), "sess-1", "alpha"))
	sess, err = c.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.NotContains(t, sess, "alpha")
}
