// Package fslock provides scoped, staleness-aware advisory file locks used to
// coordinate concurrent writers to shared cache directories.
//
// A lock is a sentinel file next to the resource it protects. Acquisition is
// non-blocking: callers either get the lock or a busy signal and apply their
// own backoff. Staleness detection watches the protected target for growth,
// because the underlying writers (VCS checkouts) give no liveness signal
// other than the file getting bigger.
package fslock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ErrLockBusy is returned by TryAcquire when the sentinel already exists.
// It is a transient condition, not a failure.
var ErrLockBusy = errors.New("lock busy")

// Suffix is the conventional sentinel suffix placed alongside the protected
// resource.
const Suffix = ".lk"

// Config holds the staleness tunables. The sampled defaults are empirical,
// not derived from any invariant; deployments may need to adjust them.
type Config struct {
	// QuietWindow is the interval between size samples of the target.
	QuietWindow time.Duration `env:"LOCK_QUIET_WINDOW" envDefault:"1s"`

	// QuietCount is how many consecutive unchanged samples mark a lock
	// abandoned.
	QuietCount int `env:"LOCK_QUIET_COUNT" envDefault:"3"`

	// Grace is the single sleep granted to a writer whose target does not
	// exist yet.
	Grace time.Duration `env:"LOCK_GRACE" envDefault:"1s"`
}

// Sanitize clamps nonsense values loaded from env.
func (c *Config) Sanitize() {
	if c.QuietWindow <= 0 {
		c.QuietWindow = time.Second
	}
	if c.QuietCount <= 0 {
		c.QuietCount = 3
	}
	if c.Grace <= 0 {
		c.Grace = time.Second
	}
}

// Manager creates and recovers sentinel locks.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager builds a Manager, filling defaults for the zero Config and a nil
// logger.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	cfg.Sanitize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Handle represents one held lock.
type Handle struct {
	path string
}

// Path returns the sentinel path for the held lock.
func (h *Handle) Path() string { return h.path }

// TryAcquire creates the sentinel at lockPath. When the sentinel already
// exists it fails immediately with ErrLockBusy rather than queuing.
func (m *Manager) TryAcquire(lockPath string) (*Handle, error) {
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("create lock sentinel: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close lock sentinel: %w", err)
	}
	return &Handle{path: lockPath}, nil
}

// Release removes the sentinel. Removal is best-effort: cleanup failures are
// swallowed, never raised.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("lock sentinel cleanup failed", "path", h.path, "error", err)
	}
}

// IsStale takes one round of size samples and reports whether the lock at
// lockPath has been abandoned by its writer. A missing target is treated as
// stale after a single grace sleep; a target that stops growing for
// QuietCount samples is stale; a growing target is never stale.
func (m *Manager) IsStale(ctx context.Context, lockPath, targetPath string) bool {
	if !exists(lockPath) {
		return false
	}
	if !exists(targetPath) {
		if !sleep(ctx, m.cfg.Grace) {
			return false
		}
		return exists(lockPath) && !exists(targetPath)
	}

	quiet := 0
	size := fileSize(targetPath)
	for quiet < m.cfg.QuietCount {
		if !sleep(ctx, m.cfg.QuietWindow) {
			return false
		}
		if !exists(lockPath) {
			return false
		}
		next := fileSize(targetPath)
		if next == size {
			quiet++
			continue
		}
		size = next
		quiet = 0
	}
	return true
}

// WaitStale blocks until the sentinel at lockPath is gone, removing it
// unconditionally once it tests stale against targetPath. Stale recovery is
// logged, never surfaced as an error; only context cancellation aborts the
// wait.
func (m *Manager) WaitStale(ctx context.Context, lockPath, targetPath string) error {
	for exists(lockPath) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.IsStale(ctx, lockPath, targetPath) {
			m.logger.Info("removing stale lock", "path", lockPath, "target", targetPath)
			if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("stale lock removal failed", "path", lockPath, "error", err)
			}
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
