// Package credentials resolves indirect secret references in the settings
// document (e.g. an OpenAPI security token or sse/streamable-http header
// value) against mounted secret files, so the settings document itself never needs to
// carry raw credential material. Adapted from the teacher's
// pkg/credentials/credentials.go, generalized from a single Get(name)
// helper into a resolver that recognizes a "secret:<name>" value prefix
// for OpenAPISecurity values and sse/streamable-http headers; stdio env
// values are not resolved.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MountPath is the standard mount path for credential secret files,
// overridable via MCP_HUB_CREDENTIALS_MOUNT_PATH for local development.
var MountPath = defaultMountPath()

func defaultMountPath() string {
	if v := os.Getenv("MCP_HUB_CREDENTIALS_MOUNT_PATH"); v != "" {
		return v
	}
	return "/etc/mcp-hub-credentials"
}

const secretPrefix = "secret:"

// Get reads a named credential from a mounted secret file.
func Get(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	credPath := filepath.Join(MountPath, name)
	data, err := os.ReadFile(credPath) //nolint:gosec // reading operator-mounted secret files
	if err != nil {
		return "", fmt.Errorf("read credential %q: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Resolve returns value unchanged unless it has the form "secret:<name>",
// in which case it reads that credential from the mount path. Used
// wherever a settings field may hold either a literal value or an
// indirect secret reference (tokens, header values, api keys).
func Resolve(value string) (string, error) {
	if !strings.HasPrefix(value, secretPrefix) {
		return value, nil
	}
	return Get(strings.TrimPrefix(value, secretPrefix))
}
