package fileserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/target/muster/internal/contentcache"
	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/fslock"
)

// GitFS serves file content out of locally mirrored git repositories.
// Branches and tags are exposed as environments; mirrors are searched in
// declaration order and never merged for file resolution.
type GitFS struct {
	mirrors []core.VCS
	cache   *contentcache.Cache
	locks   *fslock.Manager
	logger  *slog.Logger

	available func() bool

	mu              sync.Mutex
	defaultBranches map[string]string // mirror root -> default branch
}

// GitFSOptions bundles dependencies for NewGitFS.
type GitFSOptions struct {
	Mirrors []core.VCS
	Cache   *contentcache.Cache
	Locks   *fslock.Manager
	Logger  *slog.Logger

	// Available overrides the availability probe; nil means "always
	// available", which suits VCS implementations that verify their own
	// tooling at construction.
	Available func() bool
}

// NewGitFS builds the gitfs backend.
func NewGitFS(opts GitFSOptions) (*GitFS, error) {
	if len(opts.Mirrors) == 0 {
		return nil, errors.New("gitfs requires at least one mirror")
	}
	if opts.Cache == nil {
		return nil, errors.New("gitfs requires a content cache")
	}
	if opts.Locks == nil {
		return nil, errors.New("gitfs requires a lock manager")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GitFS{
		mirrors:         opts.Mirrors,
		cache:           opts.Cache,
		locks:           opts.Locks,
		logger:          logger,
		available:       opts.Available,
		defaultBranches: make(map[string]string),
	}, nil
}

// Name implements Backend.
func (g *GitFS) Name() string { return "gitfs" }

// IsAvailable implements Backend.
func (g *GitFS) IsAvailable() bool {
	if g.available == nil {
		return true
	}
	return g.available()
}

// Init clones or opens every mirror. A failing mirror is logged and kept; it
// is skipped during resolution until a later update succeeds.
func (g *GitFS) Init(ctx context.Context) error {
	var firstErr error
	for _, m := range g.mirrors {
		if err := m.CloneOrOpen(ctx); err != nil {
			g.logger.ErrorContext(ctx, "gitfs mirror init failed", "remote", m.Remote(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("init mirror %s: %w", m.Remote(), err)
			}
		}
	}
	return firstErr
}

// Update fetches every mirror in parallel. Each fetch holds the mirror's
// update lock so overlapping scheduled updates cannot corrupt a mirror
// mid-pull; a busy lock means another updater is already on it.
func (g *GitFS) Update(ctx context.Context) error {
	var eg errgroup.Group
	for _, m := range g.mirrors {
		eg.Go(func() error {
			g.updateMirror(ctx, m)
			return nil // per-mirror failure never blocks the others
		})
	}
	return eg.Wait()
}

func (g *GitFS) updateMirror(ctx context.Context, m core.VCS) {
	lockPath := m.Root() + ".update" + fslock.Suffix
	handle, err := g.locks.TryAcquire(lockPath)
	if errors.Is(err, fslock.ErrLockBusy) {
		g.logger.InfoContext(ctx, "gitfs update already in progress, skipping", "remote", m.Remote())
		return
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "gitfs update lock failed", "remote", m.Remote(), "error", err)
		return
	}
	defer g.locks.Release(handle)

	if err := m.Fetch(ctx); err != nil {
		g.logger.ErrorContext(ctx, "gitfs fetch failed", "remote", m.Remote(), "error", err)
	}
}

// Environments returns branch and tag names across all mirrors, with the
// default branch surfaced under the conventional default environment name.
func (g *GitFS) Environments(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, m := range g.mirrors {
		refs, err := m.ListRefs(ctx)
		if err != nil {
			g.logger.ErrorContext(ctx, "gitfs list refs failed", "remote", m.Remote(), "error", err)
			continue
		}
		def := g.defaultBranch(ctx, m)
		for name := range refs {
			if name == def {
				name = DefaultEnvironment
			}
			seen[name] = struct{}{}
		}
	}
	envs := make([]string, 0, len(seen))
	for name := range seen {
		envs = append(envs, name)
	}
	sort.Strings(envs)
	return envs, nil
}

// FindFile resolves env to a ref per mirror (first mirror carrying the ref
// wins) and delegates materialization to the content cache keyed on
// (environment, path). The builder extracts the single blob at the resolved
// revision.
func (g *GitFS) FindFile(ctx context.Context, filePath, env string) (*FileHandle, bool, error) {
	if path.IsAbs(filePath) || strings.Contains(filePath, "..") {
		return nil, false, nil
	}

	for _, m := range g.mirrors {
		refs, err := m.ListRefs(ctx)
		if err != nil {
			g.logger.ErrorContext(ctx, "gitfs list refs failed", "remote", m.Remote(), "error", err)
			continue
		}
		revision, ok := refs[g.resolveRef(ctx, m, env)]
		if !ok {
			// Ref not in this mirror, try the next in priority order.
			continue
		}

		authHash, err := m.BlobHash(ctx, revision, filePath)
		if errors.Is(err, core.ErrBlobNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("blob hash %s@%s: %w", filePath, revision, err)
		}

		entry, err := g.cache.GetOrBuild(ctx, contentcache.Key{Environment: env, Path: filePath}, authHash,
			func(ctx context.Context, dst string) error {
				return m.ReadBlob(ctx, revision, filePath, dst)
			})
		if err != nil {
			return nil, false, fmt.Errorf("materialize %s/%s: %w", env, filePath, err)
		}
		return &FileHandle{
			Backend:     g.Name(),
			Environment: env,
			Path:        filePath,
			Entry:       entry,
		}, true, nil
	}
	return nil, false, nil
}

// ServeChunk is a pure offset-read over the materialized cache file, never
// the live git object. A vanished blob (explicit invalidation) forces one
// re-resolution before giving up.
func (g *GitFS) ServeChunk(ctx context.Context, handle *FileHandle, offset int64, size int) ([]byte, error) {
	data, err := g.cache.ReadChunk(handle.Entry, offset, size)
	if err == nil {
		return data, nil
	}

	fresh, found, ferr := g.FindFile(ctx, handle.Path, handle.Environment)
	if ferr != nil || !found {
		return nil, fmt.Errorf("serve chunk %s/%s: %w", handle.Environment, handle.Path, err)
	}
	handle.Entry = fresh.Entry
	return g.cache.ReadChunk(handle.Entry, offset, size)
}

// FileHash returns the SHA-256 checksum of the handle's served bytes.
func (g *GitFS) FileHash(_ context.Context, handle *FileHandle) (string, error) {
	return g.cache.SumSHA256(handle.Entry)
}

// ListFiles returns the union of tree listings across mirrors carrying the
// environment's ref.
func (g *GitFS) ListFiles(ctx context.Context, env string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, m := range g.mirrors {
		refs, err := m.ListRefs(ctx)
		if err != nil {
			g.logger.ErrorContext(ctx, "gitfs list refs failed", "remote", m.Remote(), "error", err)
			continue
		}
		revision, ok := refs[g.resolveRef(ctx, m, env)]
		if !ok {
			continue
		}
		tree, err := m.ListTree(ctx, revision)
		if err != nil {
			g.logger.ErrorContext(ctx, "gitfs list tree failed", "remote", m.Remote(), "error", err)
			continue
		}
		for _, f := range tree {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ListDirs derives the directory set from the environment's file listing
// (git trees carry no empty directories).
func (g *GitFS) ListDirs(ctx context.Context, env string) ([]string, error) {
	files, err := g.ListFiles(ctx, env)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var dirs []string
	for _, f := range files {
		for dir := path.Dir(f); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if _, dup := seen[dir]; dup {
				break
			}
			seen[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// resolveRef is the single place the conventional default environment name is
// mapped to the mirror's default branch.
func (g *GitFS) resolveRef(ctx context.Context, m core.VCS, env string) string {
	if env != DefaultEnvironment {
		return env
	}
	return g.defaultBranch(ctx, m)
}

func (g *GitFS) defaultBranch(ctx context.Context, m core.VCS) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if def, ok := g.defaultBranches[m.Root()]; ok {
		return def
	}
	def, err := m.DefaultBranch(ctx)
	if err != nil || def == "" {
		// Sensible fallback; not cached so a reachable remote can
		// correct it later.
		g.logger.WarnContext(ctx, "gitfs default branch lookup failed", "remote", m.Remote(), "error", err)
		return "master"
	}
	g.defaultBranches[m.Root()] = def
	return def
}
