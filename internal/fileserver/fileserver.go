// Package fileserver defines the pluggable fileserver backend abstraction:
// each backend mirrors remote version-controlled content locally, resolves
// environments to refs, and serves file bytes out of the content cache.
package fileserver

import (
	"context"
	"log/slog"

	"github.com/target/muster/internal/contentcache"
)

// DefaultEnvironment is the conventional name callers use for the backend's
// default branch. The lexical mapping between this name and the VCS default
// branch lives in one place: resolveRef.
const DefaultEnvironment = "base"

// FileHandle references one served file: an immutable, materialized cache
// entry plus the location it was resolved from.
type FileHandle struct {
	Backend     string             `json:"backend"`
	Environment string             `json:"environment"`
	Path        string             `json:"path"`
	Entry       *contentcache.Entry `json:"entry"`
}

// Backend is the contract every fileserver implementation provides.
type Backend interface {
	// Name identifies the backend (e.g. "gitfs").
	Name() string

	// IsAvailable reports whether the backend can operate in this
	// process. It is consulted once at startup; unavailable backends are
	// excluded from the active registry and never re-probed.
	IsAvailable() bool

	// Init materializes local mirrors for every configured remote.
	Init(ctx context.Context) error

	// Update pulls the latest refs into every mirror. Per-mirror failure
	// is logged and tolerated; one broken remote never blocks others.
	Update(ctx context.Context) error

	// Environments lists the environment names this backend can serve.
	Environments(ctx context.Context) ([]string, error)

	// FindFile resolves (path, env) to a materialized cache entry.
	// found=false is the normal "file doesn't exist in this environment"
	// case, not an error.
	FindFile(ctx context.Context, path, env string) (handle *FileHandle, found bool, err error)

	// ServeChunk reads size bytes at offset from the handle's
	// materialized file.
	ServeChunk(ctx context.Context, handle *FileHandle, offset int64, size int) ([]byte, error)

	// FileHash returns the SHA-256 checksum of the handle's bytes.
	FileHash(ctx context.Context, handle *FileHandle) (string, error)

	// ListFiles returns every file path visible in the environment.
	ListFiles(ctx context.Context, env string) ([]string, error)

	// ListDirs returns every directory path visible in the environment.
	ListDirs(ctx context.Context, env string) ([]string, error)
}

// Registry is the fixed set of active backends, produced by one round of
// capability negotiation at startup.
type Registry struct {
	backends []Backend
	logger   *slog.Logger
}

// NewRegistry filters the configured backends down to the available ones.
// The registry is fixed afterwards; availability is never re-evaluated.
func NewRegistry(backends []Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	active := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if !b.IsAvailable() {
			logger.Warn("fileserver backend unavailable, excluding", "backend", b.Name())
			continue
		}
		active = append(active, b)
	}
	return &Registry{backends: active, logger: logger}
}

// Backends returns the active backends in declaration order.
func (r *Registry) Backends() []Backend { return r.backends }

// Init initializes every active backend; a failing backend is logged and left
// in place (its mirrors may become reachable on a later update).
func (r *Registry) Init(ctx context.Context) {
	for _, b := range r.backends {
		if err := b.Init(ctx); err != nil {
			r.logger.ErrorContext(ctx, "fileserver backend init failed", "backend", b.Name(), "error", err)
		}
	}
}

// Update refreshes every active backend.
func (r *Registry) Update(ctx context.Context) {
	for _, b := range r.backends {
		if err := b.Update(ctx); err != nil {
			r.logger.ErrorContext(ctx, "fileserver backend update failed", "backend", b.Name(), "error", err)
		}
	}
}

// FindFile asks each backend in order; the first match wins.
func (r *Registry) FindFile(ctx context.Context, path, env string) (*FileHandle, bool, error) {
	for _, b := range r.backends {
		handle, found, err := b.FindFile(ctx, path, env)
		if err != nil {
			r.logger.ErrorContext(ctx, "fileserver find_file failed", "backend", b.Name(), "path", path, "env", env, "error", err)
			continue
		}
		if found {
			return handle, true, nil
		}
	}
	return nil, false, nil
}

// Environments returns the union of environments across active backends.
func (r *Registry) Environments(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var envs []string
	for _, b := range r.backends {
		names, err := b.Environments(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "fileserver environments failed", "backend", b.Name(), "error", err)
			continue
		}
		for _, name := range names {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				envs = append(envs, name)
			}
		}
	}
	return envs
}

// Backend lookup by name; used by the HTTP surface for chunk serving.
func (r *Registry) Backend(name string) (Backend, bool) {
	for _, b := range r.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}
