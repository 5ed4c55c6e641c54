package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"

	"github.com/kagenti/mcp-hub/internal/huberrors"
)

// ChangeKind tags which sub-path of the document a mutation touched, so
// subscribers can filter without re-diffing the whole document.
type ChangeKind string

// Change kinds emitted by Notify (spec section 4.1).
const (
	ServersChanged      ChangeKind = "serversChanged"
	GroupsChanged       ChangeKind = "groupsChanged"
	SystemConfigChanged ChangeKind = "systemConfigChanged"
)

// Change describes one mutation notification.
type Change struct {
	Kinds    []ChangeKind
	Settings *Settings
}

// Observer is notified after a successful mutation commits.
type Observer interface {
	OnSettingsChange(ctx context.Context, change Change)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(ctx context.Context, change Change)

// OnSettingsChange implements Observer.
func (f ObserverFunc) OnSettingsChange(ctx context.Context, change Change) {
	f(ctx, change)
}

// MutateResult reports the outcome of a Mutate call.
type MutateResult struct {
	OK      bool
	Version int
}

// Store is the single JSON settings document: atomic mutate-with-lock,
// write-to-temp-then-rename persistence, and a fan-out of change
// notifications. Grounded on the teacher's MCPServersConfig
// Observer/RegisterObserver/Notify pattern, generalized to a full
// read-modify-write store with on-disk persistence and file-watch reload
// via viper+fsnotify (github.com/kagenti/mcp-gateway cmd/mcp-broker-router).
type Store struct {
	path string

	mu       sync.RWMutex
	current  *Settings
	version  int

	obsMu     sync.Mutex
	observers []Observer

	logger *slog.Logger
}

// New creates a Store backed by the JSON/YAML document at path. If the file
// does not exist, an empty Settings document is used as the initial state.
func New(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	initial, err := readDocument(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, huberrors.New(huberrors.KindPersistenceFailed, "load settings", err)
		}
		initial = &Settings{MCPServers: map[string]*ServerConfig{}}
	}
	normalize(initial)
	s.current = initial
	return s, nil
}

// Load returns the current, consistent snapshot of the settings document.
// Readers always observe either the pre- or post-mutation state, never a
// torn document (spec section 4.1 invariant).
func (s *Store) Load() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// RegisterObserver registers an observer notified after every committed mutation.
func (s *Store) RegisterObserver(obs Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, obs)
}

// Mutate applies fn to a clone of the current document under an exclusive
// lock, validates the result, and persists it atomically (write-to-temp +
// rename) before swapping it in and notifying observers. On any failure the
// previous document is retained in memory and on disk.
func (s *Store) Mutate(ctx context.Context, kinds []ChangeKind, fn func(*Settings) (*Settings, error)) (MutateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate, err := fn(s.current.Clone())
	if err != nil {
		return MutateResult{}, huberrors.New(huberrors.KindConfigInvalid, "settings mutation rejected", err)
	}
	if err := validate(candidate); err != nil {
		return MutateResult{}, huberrors.New(huberrors.KindConfigInvalid, "settings mutation invalid", err)
	}
	normalize(candidate)

	if s.path != "" {
		if err := writeDocument(s.path, candidate); err != nil {
			return MutateResult{}, huberrors.New(huberrors.KindPersistenceFailed, "persist settings", err)
		}
	}

	s.current = candidate
	s.version++
	version := s.version

	s.notify(ctx, kinds, candidate)

	return MutateResult{OK: true, Version: version}, nil
}

func (s *Store) notify(ctx context.Context, kinds []ChangeKind, snapshot *Settings) {
	s.obsMu.Lock()
	observers := append([]Observer{}, s.observers...)
	s.obsMu.Unlock()

	change := Change{Kinds: kinds, Settings: snapshot.Clone()}
	for _, obs := range observers {
		go obs.OnSettingsChange(ctx, change)
	}
}

// WatchFile watches the on-disk document for external edits (e.g. an
// operator editing the file directly) and reloads + notifies on change,
// matching the teacher's viper.WatchConfig/OnConfigChange wiring in
// cmd/mcp-broker-router/main.go. Call at most once; the watch stays active
// for the life of the process (cancelling ctx does not stop it - ctx is only
// handed on to observers).
func (s *Store) WatchFile(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch settings file: %w", err)
	}
	v.WatchConfig()
	v.OnConfigChange(func(in fsnotify.Event) {
		s.logger.Info("settings file changed on disk, reloading", "path", in.Name)
		doc, err := readDocument(s.path)
		if err != nil {
			s.logger.Error("failed to reload settings after external edit", "error", err)
			return
		}
		normalize(doc)

		s.mu.Lock()
		s.current = doc
		s.version++
		s.mu.Unlock()

		s.notify(ctx, []ChangeKind{ServersChanged, GroupsChanged, SystemConfigChanged}, doc)
	})
	return nil
}

func readDocument(path string) (*Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, err
	}
	var doc Settings
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings document: %w", err)
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]*ServerConfig{}
	}
	return &doc, nil
}

func writeDocument(path string, doc *Settings) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal settings document: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename settings file into place: %w", err)
	}
	return nil
}

// validate enforces the static invariants from spec section 3/6 that must
// hold before a mutation is persisted.
func validate(doc *Settings) error {
	seen := map[string]bool{}
	for name, server := range doc.MCPServers {
		if server.Name == "" {
			server.Name = name
		}
		if server.Name != name {
			return fmt.Errorf("server key %q does not match server.Name %q", name, server.Name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate server name %q", name)
		}
		seen[name] = true
	}

	groupNames := map[string]bool{}
	for _, g := range doc.Groups {
		if groupNames[g.Name] {
			return fmt.Errorf("duplicate group name %q", g.Name)
		}
		groupNames[g.Name] = true
	}

	if err := doc.SystemConfig.SmartRouting.Validate(); err != nil {
		return err
	}
	return nil
}

// normalize applies the spec section 4.2 save-time normalization: group
// server refs upgraded to the object form (handled by GroupServerRef's
// UnmarshalJSON) and references to missing servers dropped.
func normalize(doc *Settings) {
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]*ServerConfig{}
	}
	for _, g := range doc.Groups {
		kept := make([]GroupServerRef, 0, len(g.Servers))
		for _, ref := range g.Servers {
			if _, ok := doc.MCPServers[ref.Name]; ok {
				kept = append(kept, ref)
			}
		}
		g.Servers = kept
	}
}
