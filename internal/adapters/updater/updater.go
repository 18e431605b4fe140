// Package updater provides the periodic fileserver refresh loop.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/target/muster/internal/fileserver"
)

// Runner drives fileserver backend updates on a fixed interval. It is the
// only writer of fileserver cache state in a deployment; readers serve
// whatever snapshot the last completed update published.
type Runner struct {
	registry *fileserver.Registry
	interval time.Duration
	logger   *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Registry *fileserver.Registry
	Interval time.Duration
	Logger   *slog.Logger
}

// NewRunner creates a fileserver update runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Registry == nil {
		return nil, errors.New("updater: fileserver registry is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		registry: opts.Registry,
		interval: opts.Interval,
		logger:   opts.Logger,
	}, nil
}

// Run updates all backends once immediately and then on every tick until the
// context is cancelled. Backend failures are logged and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting fileserver updater", "interval", r.interval)

	r.updateOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.updateOnce(ctx)
		}
	}
}

func (r *Runner) updateOnce(ctx context.Context) {
	start := time.Now()
	r.registry.Update(ctx)
	r.logger.DebugContext(ctx, "fileserver update pass complete", "elapsed", time.Since(start))
}
