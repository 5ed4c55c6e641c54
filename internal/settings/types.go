// Package settings holds the hub's configuration document: upstream server
// definitions, groups, and system-wide routing/install/smart-routing
// knobs, plus the atomic load/mutate/subscribe store that operates over it.
package settings

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerType identifies the upstream transport variant.
type ServerType string

// Supported upstream transport variants (spec section 3).
const (
	ServerTypeStdio           ServerType = "stdio"
	ServerTypeSSE             ServerType = "sse"
	ServerTypeStreamableHTTP  ServerType = "streamable-http"
	ServerTypeOpenAPI         ServerType = "openapi"
	defaultSSEKeepAliveMillis            = 60_000
	defaultCallTimeoutMillis             = 60_000
)

// ToolOverride carries the per-tool enable gate and description overlay
// a server config may specify for one of its local tool names.
type ToolOverride struct {
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// IsEnabled defaults to true when unset, per spec's "enabled ?? true".
func (t *ToolOverride) IsEnabled() bool {
	if t == nil || t.Enabled == nil {
		return true
	}
	return *t.Enabled
}

// ServerOptions carries the per-call timeout knobs from spec section 3/5.
type ServerOptions struct {
	TimeoutMillis             int64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ResetTimeoutOnProgress    bool  `json:"resetTimeoutOnProgress,omitempty" yaml:"resetTimeoutOnProgress,omitempty"`
	MaxTotalTimeoutMillis     int64 `json:"maxTotalTimeout,omitempty" yaml:"maxTotalTimeout,omitempty"`
}

// Timeout returns the configured call timeout, defaulting to 60s per spec section 5.
func (o *ServerOptions) Timeout() time.Duration {
	if o == nil || o.TimeoutMillis <= 0 {
		return defaultCallTimeoutMillis * time.Millisecond
	}
	return time.Duration(o.TimeoutMillis) * time.Millisecond
}

// MaxTotalTimeout returns the absolute upper bound regardless of progress, or
// zero when unset (no extra cap beyond Timeout).
func (o *ServerOptions) MaxTotalTimeout() time.Duration {
	if o == nil || o.MaxTotalTimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(o.MaxTotalTimeoutMillis) * time.Millisecond
}

// ResetsOnProgress reports whether progress notifications should reset the
// call's timeout window.
func (o *ServerOptions) ResetsOnProgress() bool {
	return o != nil && o.ResetTimeoutOnProgress
}

// OpenAPISecurityType enumerates the security variants for an OpenAPI upstream.
type OpenAPISecurityType string

// Security variants for OpenAPI upstreams (spec section 3).
const (
	OpenAPISecurityNone           OpenAPISecurityType = "none"
	OpenAPISecurityAPIKey         OpenAPISecurityType = "apiKey"
	OpenAPISecurityHTTP           OpenAPISecurityType = "http"
	OpenAPISecurityOAuth2         OpenAPISecurityType = "oauth2"
	OpenAPISecurityOpenIDConnect  OpenAPISecurityType = "openIdConnect"
)

// OpenAPISecurity describes how an OpenAPI-derived tool call authenticates.
type OpenAPISecurity struct {
	Type        OpenAPISecurityType `json:"type"                  yaml:"type"`
	Name        string              `json:"name,omitempty"        yaml:"name,omitempty"`        // apiKey
	In          string              `json:"in,omitempty"          yaml:"in,omitempty"`          // apiKey: header|query|cookie
	Value       string              `json:"value,omitempty"       yaml:"value,omitempty"`       // apiKey
	Scheme      string              `json:"scheme,omitempty"      yaml:"scheme,omitempty"`      // http: basic|bearer|digest
	Credentials string              `json:"credentials,omitempty" yaml:"credentials,omitempty"` // http
	Token       string              `json:"token,omitempty"       yaml:"token,omitempty"`        // oauth2 / openIdConnect
	URL         string              `json:"url,omitempty"         yaml:"url,omitempty"`          // openIdConnect
}

// OpenAPIConfig describes an OpenAPI-backed upstream.
type OpenAPIConfig struct {
	URL      string           `json:"url,omitempty"    yaml:"url,omitempty"`
	Schema   string           `json:"schema,omitempty" yaml:"schema,omitempty"` // inline JSON schema document
	Version  string           `json:"version,omitempty" yaml:"version,omitempty"`
	Security *OpenAPISecurity `json:"security,omitempty" yaml:"security,omitempty"`
}

// ServerConfig is one configured upstream (spec section 3).
type ServerConfig struct {
	Name    string     `json:"name"              yaml:"name"`
	Type    ServerType `json:"type"              yaml:"type"`
	Enabled bool       `json:"enabled"           yaml:"enabled"`
	Owner   string     `json:"owner,omitempty"   yaml:"owner,omitempty"`

	// stdio
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty"    yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"     yaml:"env,omitempty"`

	// sse / streamable-http
	URL               string            `json:"url,omitempty"               yaml:"url,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"           yaml:"headers,omitempty"`
	KeepAliveInterval int64             `json:"keepAliveInterval,omitempty" yaml:"keepAliveInterval,omitempty"`

	// openapi
	OpenAPI *OpenAPIConfig `json:"openapi,omitempty" yaml:"openapi,omitempty"`

	Options *ServerOptions          `json:"options,omitempty" yaml:"options,omitempty"`
	Tools   map[string]*ToolOverride `json:"tools,omitempty"   yaml:"tools,omitempty"`
}

// KeepAlive returns the configured keep-alive interval, defaulting to 60s
// for SSE upstreams per spec section 3.
func (s *ServerConfig) KeepAlive() time.Duration {
	if s.KeepAliveInterval <= 0 {
		return defaultSSEKeepAliveMillis * time.Millisecond
	}
	return time.Duration(s.KeepAliveInterval) * time.Millisecond
}

// ToolOverride looks up the override for a local tool name, or nil.
func (s *ServerConfig) ToolOverride(localName string) *ToolOverride {
	if s.Tools == nil {
		return nil
	}
	return s.Tools[localName]
}

// GroupServerRef references one server's tool visibility within a group.
// Tools is either the literal string "all" or a list of local tool names;
// AllTools distinguishes the two after normalization (spec section 4.2).
type GroupServerRef struct {
	Name     string   `json:"name"            yaml:"name"`
	AllTools bool     `json:"-"               yaml:"-"`
	Tools    []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// UnmarshalJSON accepts either a bare server-name string or the full
// {name, tools} object, upgrading the former to tools:"all" per spec
// section 4.2's group-save normalization rule.
func (r *GroupServerRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		r.AllTools = true
		r.Tools = nil
		return nil
	}
	type alias struct {
		Name  string   `json:"name"`
		Tools []string `json:"tools"`
	}
	var raw struct {
		Name  string          `json:"name"`
		Tools json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Name = raw.Name
	if len(raw.Tools) == 0 {
		r.AllTools = true
		return nil
	}
	var toolsAll string
	if err := json.Unmarshal(raw.Tools, &toolsAll); err == nil && toolsAll == "all" {
		r.AllTools = true
		return nil
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.Tools = a.Tools
	r.AllTools = false
	return nil
}

// MarshalJSON always emits the normalized object form.
func (r GroupServerRef) MarshalJSON() ([]byte, error) {
	if r.AllTools {
		return json.Marshal(struct {
			Name  string `json:"name"`
			Tools string `json:"tools"`
		}{r.Name, "all"})
	}
	return json.Marshal(struct {
		Name  string   `json:"name"`
		Tools []string `json:"tools"`
	}{r.Name, r.Tools})
}

// Group is a named subset of servers, optionally narrowing visible tools
// per server (spec section 3).
type Group struct {
	ID          string           `json:"id"                    yaml:"id"`
	Name        string           `json:"name"                  yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Owner       string           `json:"owner,omitempty"       yaml:"owner,omitempty"`
	Servers     []GroupServerRef `json:"servers"               yaml:"servers"`
}

// RoutingConfig controls downstream route exposure and bearer auth.
type RoutingConfig struct {
	EnableGlobalRoute    bool   `json:"enableGlobalRoute"    yaml:"enableGlobalRoute"`
	EnableGroupNameRoute bool   `json:"enableGroupNameRoute" yaml:"enableGroupNameRoute"`
	EnableBearerAuth     bool   `json:"enableBearerAuth"     yaml:"enableBearerAuth"`
	BearerAuthKey        string `json:"bearerAuthKey,omitempty" yaml:"bearerAuthKey,omitempty"`
	SkipAuth             bool   `json:"skipAuth,omitempty"   yaml:"skipAuth,omitempty"`
}

// InstallConfig carries package-manager defaults injected into stdio upstreams.
type InstallConfig struct {
	PythonIndexURL string `json:"pythonIndexUrl,omitempty" yaml:"pythonIndexUrl,omitempty"`
	NPMRegistry    string `json:"npmRegistry,omitempty"    yaml:"npmRegistry,omitempty"`
	BaseURL        string `json:"baseUrl,omitempty"        yaml:"baseUrl,omitempty"`
}

// SmartRoutingConfig configures the embedding/vector-search backend behind Smart Mode.
type SmartRoutingConfig struct {
	Enabled              bool   `json:"enabled"                        yaml:"enabled"`
	DBURL                string `json:"dbUrl,omitempty"                yaml:"dbUrl,omitempty"`
	OpenAIAPIBaseURL     string `json:"openaiApiBaseUrl,omitempty"     yaml:"openaiApiBaseUrl,omitempty"`
	OpenAIAPIKey         string `json:"openaiApiKey,omitempty"         yaml:"openaiApiKey,omitempty"`
	OpenAIAPIEmbeddingModel string `json:"openaiApiEmbeddingModel,omitempty" yaml:"openaiApiEmbeddingModel,omitempty"`
}

// Validate enforces the required-field rule from spec section 6:
// dbUrl and openaiApiKey are required when smart routing is enabled.
func (s *SmartRoutingConfig) Validate() error {
	if s == nil || !s.Enabled {
		return nil
	}
	if s.DBURL == "" || s.OpenAIAPIKey == "" {
		return fmt.Errorf("smartRouting: dbUrl and openaiApiKey are required when enabled")
	}
	return nil
}

// MCPRouterConfig is an opaque pass-through block reserved for companion
// routing layers; the hub does not interpret it but preserves it across
// load/save round-trips.
type MCPRouterConfig map[string]any

// SystemConfig groups the hub-wide knobs (spec section 6).
type SystemConfig struct {
	Routing      RoutingConfig      `json:"routing"              yaml:"routing"`
	Install      InstallConfig      `json:"install,omitempty"    yaml:"install,omitempty"`
	SmartRouting SmartRoutingConfig `json:"smartRouting,omitempty" yaml:"smartRouting,omitempty"`
	MCPRouter    MCPRouterConfig    `json:"mcpRouter,omitempty"  yaml:"mcpRouter,omitempty"`
}

// User is an opaque record carried through the settings document; user
// management itself is an external collaborator (spec section 1).
type User struct {
	ID   string `json:"id"   yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Settings is the single JSON document the hub loads, mutates, and persists.
type Settings struct {
	MCPServers   map[string]*ServerConfig `json:"mcpServers" yaml:"mcpServers"`
	Groups       []*Group                 `json:"groups"     yaml:"groups"`
	Users        []*User                  `json:"users,omitempty" yaml:"users,omitempty"`
	SystemConfig SystemConfig             `json:"systemConfig" yaml:"systemConfig"`
}

// Clone returns a deep-enough copy for copy-on-write mutation: top-level
// maps/slices are copied, leaving only leaf struct values shared (they are
// always replaced wholesale on write, never mutated in place).
func (s *Settings) Clone() *Settings {
	if s == nil {
		return &Settings{MCPServers: map[string]*ServerConfig{}}
	}
	out := &Settings{
		SystemConfig: s.SystemConfig,
	}
	out.MCPServers = make(map[string]*ServerConfig, len(s.MCPServers))
	for k, v := range s.MCPServers {
		cp := *v
		out.MCPServers[k] = &cp
	}
	out.Groups = make([]*Group, len(s.Groups))
	for i, g := range s.Groups {
		cp := *g
		out.Groups[i] = &cp
	}
	out.Users = append([]*User{}, s.Users...)
	return out
}
