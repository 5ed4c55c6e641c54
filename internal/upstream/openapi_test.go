package upstream

import (
	"crypto/md5" //nolint:gosec // test-side digest verification, mirrors RFC 7616
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/settings"
)

func newTestOpenAPIAdapter(t *testing.T, baseURL string, sec *settings.OpenAPISecurity) *openAPIAdapter {
	t.Helper()
	return &openAPIAdapter{
		cfg: &settings.ServerConfig{
			Name: "weather",
			OpenAPI: &settings.OpenAPIConfig{
				URL:      baseURL,
				Security: sec,
			},
		},
		client: &http.Client{},
		doc:    &openAPIDoc{},
		ops: map[string]*openAPIOperation{
			"ping": {localName: "ping", method: http.MethodGet, path: "/ping"},
		},
	}
}

// digestTestServer implements a minimal RFC 7616 server side: reject every
// request with no Authorization header with a challenge, then validate the
// client's computed response using the same nc/cnonce it sent, the way a
// real upstream would.
func digestTestServer(t *testing.T, realm, nonce, username, password string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Digest realm="%s", nonce="%s", qop="auth"`, realm, nonce))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fields := digestFields(auth[len("Digest "):])
		ha1 := md5Hex(username + ":" + realm + ":" + password)
		ha2 := md5Hex(r.Method + ":" + fields["uri"])
		want := md5Hex(ha1 + ":" + nonce + ":" + fields["nc"] + ":" + fields["cnonce"] + ":" + fields["qop"] + ":" + ha2)
		if fields["response"] != want || fields["username"] != username {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // test-side digest verification
	return hex.EncodeToString(sum[:])
}

func TestCallToolDigestAuthRoundTrip(t *testing.T) {
	srv := digestTestServer(t, "weather-api", "abc123nonce", "operator", "hunter2")
	defer srv.Close()

	sec := &settings.OpenAPISecurity{Type: settings.OpenAPISecurityHTTP, Scheme: "digest", Credentials: "operator:hunter2"}
	a := newTestOpenAPIAdapter(t, srv.URL, sec)

	res, err := a.CallTool(t.Context(), "ping", nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestCallToolDigestAuthWrongCredentials(t *testing.T) {
	srv := digestTestServer(t, "weather-api", "abc123nonce", "operator", "hunter2")
	defer srv.Close()

	sec := &settings.OpenAPISecurity{Type: settings.OpenAPISecurityHTTP, Scheme: "digest", Credentials: "operator:wrong"}
	a := newTestOpenAPIAdapter(t, srv.URL, sec)

	res, err := a.CallTool(t.Context(), "ping", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
}

func TestCallToolRejectsUnsupportedHTTPScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sec := &settings.OpenAPISecurity{Type: settings.OpenAPISecurityHTTP, Scheme: "negotiate", Credentials: "a:b"}
	a := newTestOpenAPIAdapter(t, srv.URL, sec)

	_, err := a.CallTool(t.Context(), "ping", nil)
	require.Error(t, err)
}
