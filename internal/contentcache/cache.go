// Package contentcache provides a hash-keyed, environment-partitioned on-disk
// cache used by fileserver backends to avoid redundant fetch work.
//
// Layout under the cache root:
//
//	refs/<env>/<path>            materialized blob
//	hash/<env>/<path>.hash.blob  authoritative content id of the blob
//	hash/<env>/<path>.hash.sha256 served-bytes checksum, derived lazily
//	hash/<env>/<path>.lk         writer lock sentinel
//
// A published blob is immutable: regeneration writes to a temp file and
// renames it into place, so readers racing a writer see either the old or the
// new complete file, never a partial write.
package contentcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/target/muster/internal/fslock"
)

// Entry is one materialized cache entry. ContentHash always reflects the
// authoritative id the blob was built from; a consumer holding an Entry whose
// hash no longer matches the backend's current id must treat it as stale.
type Entry struct {
	Environment      string    `json:"environment"`
	Path             string    `json:"path"`
	ContentHash      string    `json:"content_hash"`
	MaterializedPath string    `json:"materialized_path"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// BuilderFunc materializes the bytes for one (environment, path) key into dst.
type BuilderFunc func(ctx context.Context, dst string) error

// Cache is an environment-partitioned content cache for one backend. All
// mutations of a given key go through the lock manager; reads never lock.
type Cache struct {
	root   string
	locks  *fslock.Manager
	logger *slog.Logger
}

// Options bundles dependencies for New.
type Options struct {
	// Root is the backend-specific cache root, e.g. <cache_root>/gitfs.
	Root   string
	Locks  *fslock.Manager
	Logger *slog.Logger
}

// New builds a Cache rooted at opts.Root.
func New(opts Options) (*Cache, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root is required")
	}
	if opts.Locks == nil {
		return nil, errors.New("lock manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{root: opts.Root, locks: opts.Locks, logger: logger}, nil
}

// Lookup returns the existing entry for (env, path) when its stored hash
// still matches authoritativeHash, without touching the blob.
func (c *Cache) Lookup(env, path, authoritativeHash string) (*Entry, bool) {
	blob := c.blobPath(env, path)
	stored, err := os.ReadFile(c.hashPath(env, path))
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(blob)
	if err != nil {
		return nil, false
	}
	if strings.TrimSpace(string(stored)) != authoritativeHash {
		return nil, false
	}
	return &Entry{
		Environment:      env,
		Path:             path,
		ContentHash:      authoritativeHash,
		MaterializedPath: blob,
		GeneratedAt:      info.ModTime(),
	}, true
}

// GetOrBuild returns the cached entry for (env, path), rebuilding it when the
// stored hash no longer matches authoritativeHash. At most one concurrent
// build runs per key; other callers wait on the writer's lock with staleness
// recovery rather than failing.
func (c *Cache) GetOrBuild(
	ctx context.Context,
	key Key,
	authoritativeHash string,
	builder BuilderFunc,
) (*Entry, error) {
	env, path := key.Environment, key.Path
	blob := c.blobPath(env, path)
	lock := c.lockPath(env, path)

	for {
		// Let any in-flight writer finish (or be declared abandoned).
		if err := c.locks.WaitStale(ctx, lock, blob); err != nil {
			return nil, err
		}

		if entry, ok := c.Lookup(env, path, authoritativeHash); ok {
			return entry, nil
		}

		handle, err := c.locks.TryAcquire(lock)
		if errors.Is(err, fslock.ErrLockBusy) {
			// Another caller won the race for this key; wait and
			// re-check rather than building twice.
			continue
		}
		if err != nil {
			if mkErr := c.ensureDirs(env, path); mkErr != nil {
				return nil, mkErr
			}
			handle, err = c.locks.TryAcquire(lock)
			if errors.Is(err, fslock.ErrLockBusy) {
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		entry, err := c.build(ctx, key, authoritativeHash, builder)
		c.locks.Release(handle)
		return entry, err
	}
}

// Key addresses one cache entry. Environment partitions first so the same
// logical path never collides across environments.
type Key struct {
	Environment string
	Path        string
}

func (c *Cache) build(
	ctx context.Context,
	key Key,
	authoritativeHash string,
	builder BuilderFunc,
) (*Entry, error) {
	env, path := key.Environment, key.Path
	if err := c.ensureDirs(env, path); err != nil {
		return nil, err
	}
	blob := c.blobPath(env, path)

	// Derived hashes describe the old bytes; drop them before publishing.
	c.dropDerivedHashes(env, path)

	tmp, err := os.CreateTemp(filepath.Dir(blob), ".build-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp blob: %w", err)
	}
	defer os.Remove(tmpName)

	if err := builder(ctx, tmpName); err != nil {
		return nil, fmt.Errorf("build cache entry %s/%s: %w", env, path, err)
	}
	if err := os.Rename(tmpName, blob); err != nil {
		return nil, fmt.Errorf("publish cache entry: %w", err)
	}
	if err := c.writeFileAtomic(c.hashPath(env, path), []byte(authoritativeHash)); err != nil {
		return nil, fmt.Errorf("record content hash: %w", err)
	}

	return &Entry{
		Environment:      env,
		Path:             path,
		ContentHash:      authoritativeHash,
		MaterializedPath: blob,
		GeneratedAt:      time.Now(),
	}, nil
}

// Invalidate drops the entry for (env, path). Best-effort; a missing entry is
// not an error.
func (c *Cache) Invalidate(env, path string) {
	c.dropDerivedHashes(env, path)
	for _, p := range []string{c.hashPath(env, path), c.blobPath(env, path)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("cache invalidate failed", "path", p, "error", err)
		}
	}
}

// SumSHA256 returns the SHA-256 checksum of the entry's materialized bytes,
// caching the derived value alongside the authoritative hash.
func (c *Cache) SumSHA256(entry *Entry) (string, error) {
	sumPath := c.sha256Path(entry.Environment, entry.Path)
	if cached, err := os.ReadFile(sumPath); err == nil {
		return strings.TrimSpace(string(cached)), nil
	}

	f, err := os.Open(entry.MaterializedPath)
	if err != nil {
		return "", fmt.Errorf("open materialized file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash materialized file: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if err := c.writeFileAtomic(sumPath, []byte(sum)); err != nil {
		c.logger.Warn("cache sha256 record failed", "path", sumPath, "error", err)
	}
	return sum, nil
}

// ReadChunk is a pure offset-read over the materialized file; it never
// touches the live backend, so chunked reads stay cheap and consistent even
// when the mirror updates concurrently.
func (c *Cache) ReadChunk(entry *Entry, offset int64, size int) ([]byte, error) {
	f, err := os.Open(entry.MaterializedPath)
	if err != nil {
		return nil, fmt.Errorf("open materialized file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	return buf[:n], nil
}

func (c *Cache) blobPath(env, path string) string {
	return filepath.Join(c.root, "refs", env, filepath.FromSlash(path))
}

func (c *Cache) hashPath(env, path string) string {
	return filepath.Join(c.root, "hash", env, filepath.FromSlash(path)+".hash.blob")
}

func (c *Cache) sha256Path(env, path string) string {
	return filepath.Join(c.root, "hash", env, filepath.FromSlash(path)+".hash.sha256")
}

func (c *Cache) lockPath(env, path string) string {
	return filepath.Join(c.root, "hash", env, filepath.FromSlash(path)+fslock.Suffix)
}

func (c *Cache) ensureDirs(env, path string) error {
	for _, p := range []string{c.blobPath(env, path), c.hashPath(env, path)} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	return nil
}

func (c *Cache) dropDerivedHashes(env, path string) {
	if err := os.Remove(c.sha256Path(env, path)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("cache derived hash cleanup failed", "path", path, "error", err)
	}
}

func (c *Cache) writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
