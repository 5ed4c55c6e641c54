// Package supervisor owns the connection lifecycle of every configured
// upstream server: connecting, periodic health checks, reconnect-on-40x,
// and tool-change notification. Grounded on the teacher's
// internal/broker/upstream.MCPManager (ticker-driven manage loop,
// notification-triggered re-list, connection-lost logging) and
// internal/broker/broker.go's ConfigureBackOff/retryDiscovery (exponential
// backoff via k8s.io/apimachinery/pkg/util/wait), generalized from a
// single streamable-HTTP upstream type to all four upstream.Adapter variants.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kagenti/mcp-hub/internal/huberrors"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

// State is a server's connection lifecycle state (spec section 4.4).
type State string

// Supervisor states.
const (
	StateDisabled     State = "disabled"
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// discoveryBackoff mirrors the teacher's ConfigureBackOff: env-tunable
// exponential backoff with a capped delay and a bounded number of retries
// before giving up on a management cycle.
func discoveryBackoff() wait.Backoff {
	baseDelay := 5 * time.Second
	if v := os.Getenv("MCP_HUB_DISCOVERY_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			baseDelay = d
		}
	}
	maxDelay := 5 * time.Minute
	if v := os.Getenv("MCP_HUB_DISCOVERY_RETRY_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			maxDelay = d
		}
	}
	maxRetries := 3
	if v := os.Getenv("MCP_HUB_DISCOVERY_RETRY_MAX_ATTEMPTS"); v != "" {
		if r, err := strconv.Atoi(v); err == nil && r > 0 {
			maxRetries = r
		}
	}
	return wait.Backoff{Duration: baseDelay, Factor: 2.0, Steps: maxRetries, Cap: maxDelay}
}

// Status is the externally observable health of one supervised server, for
// the hub's status/introspection surface.
type Status struct {
	ServerName          string    `json:"serverName"`
	State               State     `json:"state"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	ToolCount           int       `json:"toolCount"`
	LastValidated       time.Time `json:"lastValidated"`
}

// ToolsChangedFunc is invoked whenever a supervised server's tool set
// changes, so the catalog can recompute (spec section 4.4 -> 4.5 handoff).
type ToolsChangedFunc func(serverName string, tools []upstream.ToolDecl)

// Supervisor manages one goroutine per enabled server; servers are added,
// updated, or removed by calling Reconcile with a new settings snapshot.
type Supervisor struct {
	logger       *slog.Logger
	onToolsChanged ToolsChangedFunc

	mu      sync.Mutex
	servers map[string]*supervised
}

// New creates a Supervisor. onToolsChanged is called after every
// successful (re)list of a server's tools (spec section 4.4/4.5). It is not
// called when a server becomes unreachable or is stopped, so the last listed
// tools are what the callback's receiver keeps for that server.
func New(logger *slog.Logger, onToolsChanged ToolsChangedFunc) *Supervisor {
	return &Supervisor{
		logger:         logger.With("sub-component", "supervisor"),
		onToolsChanged: onToolsChanged,
		servers:        map[string]*supervised{},
	}
}

// Reconcile brings the supervised set in line with doc: starts new enabled
// servers, stops removed ones, and restarts any whose config changed
// (spec section 4.1's ServersChanged notification is the normal trigger).
func (s *Supervisor) Reconcile(ctx context.Context, doc *settings.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for name, cfg := range doc.MCPServers {
		seen[name] = true
		existing, ok := s.servers[name]
		if ok && existing.sameConfig(cfg) {
			continue
		}
		if ok {
			existing.stop()
			delete(s.servers, name)
		}
		if !cfg.Enabled {
			s.servers[name] = newDisabledSupervised(cfg)
			continue
		}
		sv := newSupervised(cfg, doc.SystemConfig.Install, s.logger, s.onToolsChanged)
		s.servers[name] = sv
		sv.start(ctx)
	}

	for name, sv := range s.servers {
		if !seen[name] {
			sv.stop()
			delete(s.servers, name)
		}
	}
}

// Status returns a snapshot of every supervised server's health.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.servers))
	for _, sv := range s.servers {
		out = append(out, sv.status())
	}
	return out
}

// CallTool dispatches a tool call to a supervised server, applying the
// reconnect-on-40x retry path for eligible upstreams (spec section 4.4,
// Open Question 9(a): exactly one retry, two attempts total).
func (s *Supervisor) CallTool(ctx context.Context, serverName, localName string, args map[string]any) (*upstream.CallResult, error) {
	s.mu.Lock()
	sv, ok := s.servers[serverName]
	s.mu.Unlock()
	if !ok {
		return nil, huberrors.New(huberrors.KindNotFound, fmt.Sprintf("server %q not found", serverName), nil)
	}
	return sv.callTool(ctx, localName, args)
}

// Stop tears down every supervised server; call on hub shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sv := range s.servers {
		sv.stop()
		delete(s.servers, name)
	}
}
