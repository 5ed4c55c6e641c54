package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/credentials"
	"github.com/kagenti/mcp-hub/internal/settings"
)

// openAPIAdapter synthesizes one MCP tool per operation of an OpenAPI
// document and executes tool calls as plain HTTP requests (spec section
// 4.3, "openapi servers have no running process or socket to supervise").
// New component: the teacher has no OpenAPI upstream variant; grounded on
// the pack's general pattern of deriving a typed schema from an OpenAPI
// document and on the teacher's credential-resolution style in
// pkg/credentials for the security-scheme handling below.
type openAPIAdapter struct {
	cfg    *settings.ServerConfig
	client *http.Client

	mu  sync.RWMutex
	ops map[string]*openAPIOperation // localName -> operation
	doc *openAPIDoc
}

type openAPIOperation struct {
	localName   string
	method      string
	path        string
	description string
	parameters  []openAPIParam
	inputSchema map[string]any
}

type openAPIParam struct {
	name     string
	in       string // path|query|header
	required bool
}

// openAPIDoc is the narrow subset of an OpenAPI 3 document the hub reads:
// enough to synthesize tools, not a general-purpose OpenAPI model.
type openAPIDoc struct {
	Servers []struct {
		URL string `json:"url"`
	} `json:"servers"`
	Paths map[string]map[string]struct {
		OperationID string `json:"operationId"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Parameters  []struct {
			Name     string `json:"name"`
			In       string `json:"in"`
			Required bool   `json:"required"`
			Schema   json.RawMessage `json:"schema"`
		} `json:"parameters"`
		RequestBody *struct {
			Content map[string]struct {
				Schema json.RawMessage `json:"schema"`
			} `json:"content"`
		} `json:"requestBody"`
	} `json:"paths"`
}

func newOpenAPIAdapter(cfg *settings.ServerConfig) (*openAPIAdapter, error) {
	if cfg.OpenAPI == nil || (cfg.OpenAPI.URL == "" && cfg.OpenAPI.Schema == "") {
		return nil, invalidConfigErr(cfg.Name, "openapi server requires openapi.url or openapi.schema")
	}
	return &openAPIAdapter{cfg: cfg, client: &http.Client{}}, nil
}

func (a *openAPIAdapter) Connect(ctx context.Context) error {
	raw, err := a.fetchSchema(ctx)
	if err != nil {
		return connectErr(a.cfg.Name, err)
	}

	var doc openAPIDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return connectErr(a.cfg.Name, fmt.Errorf("parse openapi schema: %w", err))
	}

	ops := map[string]*openAPIOperation{}
	for path, methods := range doc.Paths {
		for method, op := range methods {
			name := op.OperationID
			if name == "" {
				name = strings.ToLower(method) + strings.ReplaceAll(path, "/", "_")
			}
			props := map[string]any{}
			required := []string{}
			params := make([]openAPIParam, 0, len(op.Parameters))
			for _, p := range op.Parameters {
				params = append(params, openAPIParam{name: p.Name, in: p.In, required: p.Required})
				props[p.Name] = schemaOrDefault(p.Schema)
				if p.Required {
					required = append(required, p.Name)
				}
			}
			if op.RequestBody != nil {
				if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
					props["body"] = schemaOrDefault(jsonContent.Schema)
				}
			}
			ops[name] = &openAPIOperation{
				localName:   name,
				method:      strings.ToUpper(method),
				path:        path,
				description: firstNonEmpty(op.Description, op.Summary),
				parameters:  params,
				inputSchema: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			}
		}
	}

	a.mu.Lock()
	a.doc = &doc
	a.ops = ops
	a.mu.Unlock()
	return nil
}

func (a *openAPIAdapter) fetchSchema(ctx context.Context) ([]byte, error) {
	if a.cfg.OpenAPI.Schema != "" {
		return []byte(a.cfg.OpenAPI.Schema), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.OpenAPI.URL, nil)
	if err != nil {
		return nil, err
	}
	res, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch openapi schema: status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

func (a *openAPIAdapter) ListTools(ctx context.Context) ([]ToolDecl, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ops == nil {
		return nil, connectErr(a.cfg.Name, errNotConnected)
	}
	out := make([]ToolDecl, 0, len(a.ops))
	for _, op := range a.ops {
		out = append(out, ToolDecl{LocalName: op.localName, Description: op.description, InputSchema: op.inputSchema})
	}
	return out, nil
}

func (a *openAPIAdapter) CallTool(ctx context.Context, localName string, args map[string]any) (*CallResult, error) {
	a.mu.RLock()
	op, ok := a.ops[localName]
	a.mu.RUnlock()
	if !ok {
		return nil, callErr(a.cfg.Name, localName, fmt.Errorf("unknown operation"))
	}

	baseURL := a.cfg.OpenAPI.URL
	if len(a.doc.Servers) > 0 && a.doc.Servers[0].URL != "" {
		baseURL = a.doc.Servers[0].URL
	}

	path := op.path
	query := url.Values{}
	var body io.Reader
	for _, p := range op.parameters {
		v, present := args[p.name]
		if !present {
			continue
		}
		switch p.in {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.name+"}", fmt.Sprintf("%v", v))
		case "query":
			query.Set(p.name, fmt.Sprintf("%v", v))
		}
	}
	if raw, ok := args["body"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, callErr(a.cfg.Name, localName, err)
		}
		body = bytes.NewReader(encoded)
	}

	fullURL := strings.TrimRight(baseURL, "/") + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, op.method, fullURL, body)
	if err != nil {
		return nil, callErr(a.cfg.Name, localName, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, p := range op.parameters {
		if p.in != "header" {
			continue
		}
		if v, ok := args[p.name]; ok {
			req.Header.Set(p.name, fmt.Sprintf("%v", v))
		}
	}

	sec := a.cfg.OpenAPI.Security
	var res *http.Response
	if sec != nil && sec.Type == settings.OpenAPISecurityHTTP && sec.Scheme == "digest" {
		res, err = a.doDigest(req, sec)
	} else {
		if err := applyOpenAPISecurity(req, sec); err != nil {
			return nil, callErr(a.cfg.Name, localName, err)
		}
		res, err = a.client.Do(req)
	}
	if err != nil {
		return nil, callErr(a.cfg.Name, localName, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, callErr(a.cfg.Name, localName, err)
	}

	result := &CallResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: res.StatusCode >= 400,
	}
	if result.IsError {
		he := callErr(a.cfg.Name, localName, fmt.Errorf("upstream status %d", res.StatusCode)).WithStatus(res.StatusCode)
		return result, he
	}
	return result, nil
}

// applyOpenAPISecurity attaches the configured security scheme to req.
// Digest (spec.md's http(scheme:{basic|bearer|digest},credentials)) is
// handled separately by doDigest, since it needs a challenge round trip
// rather than a header set up front; an unrecognized http scheme is
// reported as an error instead of silently sending the request unauthenticated.
func applyOpenAPISecurity(req *http.Request, sec *settings.OpenAPISecurity) error {
	if sec == nil {
		return nil
	}
	switch sec.Type {
	case settings.OpenAPISecurityAPIKey:
		value := resolveOrEmpty(sec.Value)
		switch sec.In {
		case "header":
			req.Header.Set(sec.Name, value)
		case "query":
			q := req.URL.Query()
			q.Set(sec.Name, value)
			req.URL.RawQuery = q.Encode()
		case "cookie":
			req.AddCookie(&http.Cookie{Name: sec.Name, Value: value})
		}
	case settings.OpenAPISecurityHTTP:
		switch sec.Scheme {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+resolveOrEmpty(sec.Credentials))
		case "basic":
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(resolveOrEmpty(sec.Credentials))))
		default:
			return fmt.Errorf("unsupported http security scheme %q", sec.Scheme)
		}
	case settings.OpenAPISecurityOAuth2, settings.OpenAPISecurityOpenIDConnect:
		req.Header.Set("Authorization", "Bearer "+resolveOrEmpty(sec.Token))
	}
	return nil
}

// doDigest implements RFC 7616 digest authentication: send the request once
// to obtain the server's challenge, then resend it with a computed
// Authorization: Digest header. The request body (if any) is always built
// from a bytes.Reader by CallTool, so req.GetBody is always set and safe to
// call twice.
func (a *openAPIAdapter) doDigest(req *http.Request, sec *settings.OpenAPISecurity) (*http.Response, error) {
	username, password := splitDigestCredentials(resolveOrEmpty(sec.Credentials))

	first, err := a.client.Do(cloneRequest(req))
	if err != nil {
		return nil, err
	}
	if first.StatusCode != http.StatusUnauthorized {
		return first, nil
	}
	challenge, ok := parseDigestChallenge(first.Header.Get("WWW-Authenticate"))
	_ = first.Body.Close()
	if !ok {
		return nil, fmt.Errorf("digest auth: no usable WWW-Authenticate challenge in 401 response")
	}

	retry := cloneRequest(req)
	uri := retry.URL.RequestURI()
	retry.Header.Set("Authorization", buildDigestAuthorization(challenge, retry.Method, uri, username, password))
	return a.client.Do(retry)
}

// splitDigestCredentials splits the "user:pass" form Credentials carries for
// http security schemes, the same shape basic auth already assumes.
func splitDigestCredentials(credentials string) (user, pass string) {
	user, pass, _ = strings.Cut(credentials, ":")
	return user, pass
}

// cloneRequest produces an independent *http.Request sharing the same
// method/URL/headers but with a fresh, unread body, so the same logical
// request can be sent twice (once for the digest challenge, once with the
// computed response).
func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
		}
	}
	return clone
}

// resolveOrEmpty resolves a "secret:<name>" indirection, falling back to
// the literal value (or empty) on any resolution failure rather than
// failing the whole call - a misconfigured secret should surface as an
// upstream auth failure, not a hub panic.
func resolveOrEmpty(value string) string {
	resolved, err := credentials.Resolve(value)
	if err != nil {
		return value
	}
	return resolved
}

// Ping is a no-op for OpenAPI upstreams: there is no persistent connection
// to probe (spec section 4.3).
func (a *openAPIAdapter) Ping(ctx context.Context) error { return nil }

func (a *openAPIAdapter) Close() error { return nil }

func (a *openAPIAdapter) SupportsKeepAlive() bool { return false }
func (a *openAPIAdapter) SupportsReconnect() bool { return false }
func (a *openAPIAdapter) OnToolsChanged(func())   {}
func (a *openAPIAdapter) OnConnectionLost(func(error)) {}

func schemaOrDefault(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{"type": "string"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "string"}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
