package supervisor

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kagenti/mcp-hub/internal/huberrors"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

// supervised owns one server's adapter, connection state, and management
// goroutine. Grounded on the teacher's MCPManager: a long-lived Start loop
// driven by a ticker plus notification callbacks, serialized per-server so
// at most one connect/reconnect attempt is ever in flight (spec section 4.4
// invariant).
type supervised struct {
	cfg     *settings.ServerConfig
	install settings.InstallConfig
	logger  *slog.Logger

	onToolsChanged ToolsChangedFunc

	// connMu serializes connect/reconnect attempts and guards the fields
	// below; callTool releases it before dispatching, so a call in flight
	// doesn't block a concurrent keep-alive ping from observing state.
	connMu sync.Mutex
	adapter upstream.Adapter
	state   State
	lastErr error
	consecutiveFailures int
	lastValidated       time.Time
	tools               []upstream.ToolDecl

	// newAdapter builds a fresh Adapter on connect/reconnect; defaults to
	// upstream.New but is overridden in tests to exercise the reconnect path
	// without a real transport.
	newAdapter func(cfg *settings.ServerConfig, install settings.InstallConfig) (upstream.Adapter, error)

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func newDisabledSupervised(cfg *settings.ServerConfig) *supervised {
	return &supervised{cfg: cfg, state: StateDisabled, done: make(chan struct{})}
}

func newSupervised(cfg *settings.ServerConfig, install settings.InstallConfig, logger *slog.Logger, onToolsChanged ToolsChangedFunc) *supervised {
	return &supervised{
		cfg:            cfg,
		install:        install,
		logger:         logger.With("server", cfg.Name),
		onToolsChanged: onToolsChanged,
		state:          StateDisconnected,
		newAdapter:     upstream.New,
		done:           make(chan struct{}),
	}
}

// sameConfig reports whether cfg is unchanged from the one this supervised
// instance was built with, so Reconcile can skip a needless reconnect.
func (sv *supervised) sameConfig(cfg *settings.ServerConfig) bool {
	return reflect.DeepEqual(sv.cfg, cfg)
}

func (sv *supervised) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sv.cancel = cancel

	go func() {
		defer close(sv.done)

		sv.manage(runCtx)

		ticker := time.NewTicker(keepAliveInterval(sv.cfg))
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				sv.manage(runCtx)
			}
		}
	}()
}

func keepAliveInterval(cfg *settings.ServerConfig) time.Duration {
	if cfg.Type == settings.ServerTypeStdio || cfg.Type == settings.ServerTypeOpenAPI {
		return 5 * time.Minute
	}
	return cfg.KeepAlive()
}

func (sv *supervised) stop() {
	started := sv.cancel != nil
	sv.stopOnce.Do(func() {
		if sv.cancel != nil {
			sv.cancel()
		}
		sv.connMu.Lock()
		if sv.adapter != nil {
			_ = sv.adapter.Close()
		}
		sv.connMu.Unlock()
	})
	if started {
		<-sv.done
	}
}

// manage is one cycle of the teacher's Start/manage loop: ensure a
// connection exists, ping it, and refresh the tool list when empty or when
// notified of a change.
func (sv *supervised) manage(ctx context.Context) {
	sv.connMu.Lock()
	defer sv.connMu.Unlock()

	if sv.adapter == nil {
		if err := sv.connectLocked(ctx); err != nil {
			sv.lastErr = err
			sv.consecutiveFailures++
			sv.state = StateDisconnected
			sv.logger.Error("failed to connect", "error", err)
			return
		}
	}

	if !sv.adapter.SupportsKeepAlive() {
		// Variants without keep-alive (stdio, openapi) are not pinged.
	} else if err := sv.adapter.Ping(ctx); err != nil {
		// Open Question 9(b): keep-alive ping failures are logged and
		// counted for observability, not treated as a forced reconnect -
		// the next notification or management tick will recover naturally.
		sv.consecutiveFailures++
		sv.lastErr = err
		sv.logger.Warn("keep-alive ping failed", "error", err, "consecutiveFailures", sv.consecutiveFailures)
	} else {
		sv.consecutiveFailures = 0
		sv.state = StateConnected
	}
	sv.lastValidated = time.Now()

	if len(sv.tools) == 0 {
		sv.refreshToolsLocked(ctx)
	}
}

// connectLocked builds a fresh adapter and connects it with the teacher's
// exponential backoff (ConfigureBackOff/wait.ExponentialBackoffWithContext
// in internal/broker/broker.go), registering tools-changed/connection-lost
// callbacks exactly once per adapter instance.
func (sv *supervised) connectLocked(ctx context.Context) error {
	sv.state = StateConnecting
	adapter, err := sv.newAdapter(sv.cfg, sv.install)
	if err != nil {
		return err
	}

	backoff := discoveryBackoff()
	err = wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		if cerr := adapter.Connect(ctx); cerr != nil {
			sv.logger.Warn("connect attempt failed, retrying", "error", cerr)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return huberrors.New(huberrors.KindConnectFailed, "exhausted connect retries for server "+sv.cfg.Name, err)
	}

	adapter.OnToolsChanged(func() {
		sv.connMu.Lock()
		defer sv.connMu.Unlock()
		sv.refreshToolsLocked(context.Background())
	})
	adapter.OnConnectionLost(func(lostErr error) {
		sv.connMu.Lock()
		sv.state = StateReconnecting
		sv.lastErr = lostErr
		sv.connMu.Unlock()
		sv.logger.Error("connection lost", "error", lostErr)
	})

	sv.adapter = adapter
	sv.state = StateConnected
	sv.consecutiveFailures = 0
	return nil
}

func (sv *supervised) refreshToolsLocked(ctx context.Context) {
	tools, err := sv.adapter.ListTools(ctx)
	if err != nil {
		sv.logger.Error("failed to list tools", "error", err)
		return
	}
	sv.tools = tools
	if sv.onToolsChanged != nil {
		sv.onToolsChanged(sv.cfg.Name, append([]upstream.ToolDecl{}, tools...))
	}
}

// callTool dispatches a call, retrying exactly once when the adapter
// supports reconnect and the first attempt fails with a 4xx status (spec
// section 4.4, Open Question 9(a)).
func (sv *supervised) callTool(ctx context.Context, localName string, args map[string]any) (*upstream.CallResult, error) {
	sv.connMu.Lock()
	adapter := sv.adapter
	sv.connMu.Unlock()

	if adapter == nil {
		sv.connMu.Lock()
		err := sv.connectLocked(ctx)
		adapter = sv.adapter
		sv.connMu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	res, err := adapter.CallTool(ctx, localName, args)
	if err == nil || !adapter.SupportsReconnect() || !huberrors.Is40x(err) {
		return res, err
	}

	sv.logger.Warn("call failed with 4xx, reconnecting once and retrying", "tool", localName, "error", err)
	sv.connMu.Lock()
	_ = sv.adapter.Close()
	sv.adapter = nil
	reconnectErr := sv.connectLocked(ctx)
	adapter = sv.adapter
	if reconnectErr == nil {
		sv.refreshToolsLocked(ctx)
	}
	sv.connMu.Unlock()
	if reconnectErr != nil {
		return nil, reconnectErr
	}

	return adapter.CallTool(ctx, localName, args)
}

func (sv *supervised) status() Status {
	sv.connMu.Lock()
	defer sv.connMu.Unlock()
	st := Status{
		ServerName:          sv.cfg.Name,
		State:               sv.state,
		ConsecutiveFailures: sv.consecutiveFailures,
		ToolCount:           len(sv.tools),
		LastValidated:       sv.lastValidated,
	}
	if sv.lastErr != nil {
		st.LastError = sv.lastErr.Error()
	}
	return st
}
