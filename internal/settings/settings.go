// Package settings implements Settings (spec.md §4.I): client id assigned
// when the Settings is built, safe for concurrent use, every access
// serialized via a mutex, resolution order explicit-setter > app-config >
// default. There is no package-level singleton: New and Load each build an
// independent *Settings, and the caller keeps the one it uses. Grounded on
// the teacher's TokenAuth in auth_token.go (decoded from a json.RawMessage
// app-config section) and tinode-db/main.go's JSON-with-comments config
// loading.
package settings

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinode/jsonco"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/store"
)

const (
	// DefaultTimeout is the per-request timeout when none is configured.
	DefaultTimeout = 30 * time.Second
)

// AppConfig is the recognized subset of a JSON (with // comments, read via
// jsonco) configuration file, keyed per spec.md §6's "recognized app-config
// keys".
type AppConfig struct {
	MbracedPath      string `json:"mbraced-path"`
	WorkingDirectory string `json:"working-directory"`
	StoreProvider    string `json:"store-provider"`
	StoreEndpoint    string `json:"store-endpoint"`
	DefaultTimeoutMs int    `json:"default-timeout-ms"`
}

// Settings is the process-wide configuration singleton. The zero value is
// not ready for use; call New or Load.
type Settings struct {
	mu sync.Mutex

	clientID            uuid.UUID
	defaultTimeout       time.Duration
	workingDirectory     string
	mbracedExecutablePath string
	defaultStore         store.Descriptor
	registry             *store.Registry
}

// New materializes Settings from defaults, overridden by cfg where cfg's
// fields are non-zero, per the resolution order in spec.md §6 (explicit
// setter calls made after New take precedence over both).
func New(cfg AppConfig, registry *store.Registry) (*Settings, error) {
	s := &Settings{
		clientID:         uuid.New(),
		defaultTimeout:   DefaultTimeout,
		workingDirectory: defaultWorkingDirectory(),
		registry:         registry,
	}

	if cfg.WorkingDirectory != "" {
		s.workingDirectory = cfg.WorkingDirectory
	}
	if cfg.MbracedPath != "" {
		s.mbracedExecutablePath = cfg.MbracedPath
	}
	if cfg.DefaultTimeoutMs > 0 {
		s.defaultTimeout = time.Duration(cfg.DefaultTimeoutMs) * time.Millisecond
	}
	if cfg.StoreProvider != "" {
		desc := store.Descriptor{Provider: cfg.StoreProvider, Endpoint: cfg.StoreEndpoint}
		if err := s.setDefaultStoreLocked(desc); err != nil {
			return nil, err
		}
	}

	if err := s.preparePersistedState(); err != nil {
		return nil, err
	}

	return s, nil
}

// Load reads a JSON-with-comments app-config file (the teacher's own
// jsonco dependency, letting operators annotate the file) and builds
// Settings from it.
func Load(path string, registry *store.Registry) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.Configuration, err, "open config file")
	}
	defer f.Close()

	var cfg AppConfig
	if err := json.NewDecoder(jsonco.New(f)).Decode(&cfg); err != nil && err != io.EOF {
		return nil, clustererr.Wrap(clustererr.Configuration, err, "parse config file")
	}
	return New(cfg, registry)
}

func defaultWorkingDirectory() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gobrace")
}

// preparePersistedState recreates workingDirectory/{assemblyCache,
// localCache, dependencyStage} on startup, per spec.md §6. It is left in
// place at disposal.
func (s *Settings) preparePersistedState() error {
	for _, sub := range []string{"assemblyCache", "localCache", "dependencyStage"} {
		if err := os.MkdirAll(filepath.Join(s.workingDirectory, sub), 0o755); err != nil {
			return clustererr.Wrap(clustererr.Configuration, err, "prepare working directory")
		}
	}
	return nil
}

// ClientID returns the client id assigned at first access.
func (s *Settings) ClientID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// DefaultTimeout returns the configured per-request timeout.
func (s *Settings) DefaultTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultTimeout
}

// SetDefaultTimeout overrides the default timeout (explicit setter,
// highest precedence).
func (s *Settings) SetDefaultTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultTimeout = d
}

// WorkingDirectory returns the configured working directory.
func (s *Settings) WorkingDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDirectory
}

// MbracedExecutablePath returns the configured worker executable path, or
// "" if none was configured (Configuration error is raised by callers that
// require it, e.g. AttachLocal).
func (s *Settings) MbracedExecutablePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mbracedExecutablePath
}

// SetMbracedExecutablePath overrides the worker executable path.
func (s *Settings) SetMbracedExecutablePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mbracedExecutablePath = path
}

// DefaultStore returns the currently activated default store descriptor.
func (s *Settings) DefaultStore() store.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultStore
}

// SetDefaultStoreProvider activates desc in the store registry before the
// value becomes visible to readers, per spec.md §4.I.
func (s *Settings) SetDefaultStoreProvider(desc store.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDefaultStoreLocked(desc)
}

func (s *Settings) setDefaultStoreLocked(desc store.Descriptor) error {
	if s.registry == nil {
		return clustererr.New(clustererr.Configuration, "no store registry configured")
	}
	if _, err := s.registry.Activate(desc); err != nil {
		return clustererr.Wrap(clustererr.Configuration, err, "activate default store")
	}
	s.defaultStore = desc
	return nil
}
