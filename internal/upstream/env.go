package upstream

import (
	"fmt"
	"os"
	"strings"

	"github.com/kagenti/mcp-hub/internal/settings"
)

// expandEnv resolves ${VAR} references against the hub process environment
// for both command args and declared env values (spec section 4.3).
func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}

// buildCommandEnv assembles the child process environment for a stdio
// server: the declared env map (after ${VAR} expansion) plus, for uvx/npx
// style launchers, the package-index overrides from the install config so
// a single hub-wide mirror can be enforced without editing every server
// entry (spec section 5, package installer configuration).
func buildCommandEnv(cfg *settings.ServerConfig, install settings.InstallConfig) []string {
	env := make([]string, 0, len(cfg.Env)+2)
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, expandEnv(v)))
	}

	cmd := strings.ToLower(cfg.Command)
	switch {
	case strings.Contains(cmd, "uv") || strings.Contains(cmd, "python") || strings.Contains(cmd, "pip"):
		if install.PythonIndexURL != "" {
			env = append(env, "UV_DEFAULT_INDEX="+install.PythonIndexURL)
			env = append(env, "PIP_INDEX_URL="+install.PythonIndexURL)
		}
	case strings.Contains(cmd, "npx") || strings.Contains(cmd, "node") || strings.Contains(cmd, "npm"):
		if install.NPMRegistry != "" {
			env = append(env, "npm_config_registry="+install.NPMRegistry)
		}
	}
	return env
}

func expandArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expandEnv(a)
	}
	return out
}
