// Package hub wires the settings store, group registry, supervisor,
// catalog, tool index, session manager, and session router into the single
// running system (spec section 3's C1-C8 collaborators), the way the
// teacher's cmd/mcp-broker-router/main.go wires its broker/router/config
// pieces together - here promoted out of main into its own package so
// cmd/mcp-hub stays a thin flag-and-signal shell.
package hub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/groups"
	"github.com/kagenti/mcp-hub/internal/router"
	"github.com/kagenti/mcp-hub/internal/session"
	"github.com/kagenti/mcp-hub/internal/settings"
	"github.com/kagenti/mcp-hub/internal/supervisor"
	"github.com/kagenti/mcp-hub/internal/toolindex"
)

// Hub owns every collaborator's lifecycle. There is no package-level
// mutable state (spec Design Note 9): everything lives on this struct,
// constructed once by New and torn down once by Stop.
type Hub struct {
	Store      *settings.Store
	Registry   *groups.Registry
	Supervisor *supervisor.Supervisor
	Catalog    *catalog.Catalog
	Index      toolindex.Index
	Sessions   *session.Cache
	JWTManager *session.JWTManager
	Router     *router.Router

	logger *slog.Logger
}

// Config carries the handful of settings New needs before the settings
// document itself is loaded (the document's own path and the session
// signing key cannot themselves live inside the document).
type Config struct {
	HubName           string
	SettingsPath      string
	SessionSigningKey string
	SessionCacheURL   string // optional; empty uses the in-memory cache
}

// New constructs every collaborator and wires their callbacks, but does
// not yet start the settings file watch or the supervisor - call Start for
// that once the caller is ready to begin serving.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Hub, error) {
	store, err := settings.New(cfg.SettingsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	doc := store.Load()

	registry := groups.New(doc.SystemConfig.Routing.EnableGroupNameRoute)

	var cat *catalog.Catalog
	idx := toolindex.NewIndex(doc.SystemConfig.SmartRouting)
	cat = catalog.New(func(serverName string, tools []catalog.ToolInfo) {
		idx.IndexServer(ctx, serverName, tools)
	}, nil)

	sup := supervisor.New(logger, cat.UpdateServerTools)

	h := &Hub{
		Store:      store,
		Registry:   registry,
		Supervisor: sup,
		Catalog:    cat,
		Index:      idx,
		logger:     logger.With("sub-component", "hub"),
	}

	sessCache, err := session.NewCache(ctx, session.WithConnectionString(cfg.SessionCacheURL))
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	h.Sessions = sessCache

	jwtManager, err := session.NewJWTManager(cfg.SessionSigningKey, 0, logger, sessCache)
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}
	h.JWTManager = jwtManager

	r := router.New(cfg.HubName, store, registry, cat, sup, idx, logger)
	h.Router = r
	cat.SetChangedFunc(r.OnCatalogChanged)

	store.RegisterObserver(settings.ObserverFunc(h.onSettingsChange))
	store.RegisterObserver(cat)

	return h, nil
}

// onSettingsChange reconciles the supervisor and group registry flag on
// every committed settings mutation (spec section 4.1's
// ServersChanged/SystemConfigChanged notifications).
func (h *Hub) onSettingsChange(ctx context.Context, change settings.Change) {
	h.Supervisor.Reconcile(ctx, change.Settings)
	h.Registry.SetEnableGroupNameRoute(change.Settings.SystemConfig.Routing.EnableGroupNameRoute)
}

// Start brings the supervisor up to date with the current settings
// document and begins watching the settings file for external edits.
func (h *Hub) Start(ctx context.Context) error {
	doc := h.Store.Load()
	h.Supervisor.Reconcile(ctx, doc)
	return h.Store.WatchFile(ctx)
}

// Stop tears down every upstream connection. The global cleanup path spec
// section 5 requires: close every adapter before returning.
func (h *Hub) Stop() {
	h.Supervisor.Stop()
	if h.Sessions != nil {
		_ = h.Sessions.Close()
	}
}
