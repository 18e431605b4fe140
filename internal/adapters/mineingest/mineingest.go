// Package mineingest runs the master-side consumer that lands agent mine
// pushes in the shared store.
package mineingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/muster/internal/core"
)

// Runner consumes the transport's mine stream and applies each push as a
// full replace in the store.
type Runner struct {
	transport core.MasterTransport
	store     core.MineStore
	logger    *slog.Logger
}

// Options bundles dependencies for NewRunner.
type Options struct {
	Transport core.MasterTransport
	Store     core.MineStore
	Logger    *slog.Logger
}

// NewRunner wires a mine ingest runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Store == nil {
		return nil, errors.New("mine store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{transport: opts.Transport, store: opts.Store, logger: logger}, nil
}

// Run consumes mine pushes until the context is cancelled. A failed store
// write is logged and skipped; the stream keeps flowing.
func (r *Runner) Run(ctx context.Context) error {
	stream, cancel, err := r.transport.SubscribeMine(ctx)
	if err != nil {
		return fmt.Errorf("subscribe mine stream: %w", err)
	}
	defer cancel()

	r.logger.InfoContext(ctx, "starting mine ingest")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, open := <-stream:
			if !open {
				return errors.New("mine stream closed")
			}
			if entry.UpdatedAt.IsZero() {
				entry.UpdatedAt = time.Now()
			}
			if err := r.store.Set(ctx, entry); err != nil {
				r.logger.ErrorContext(ctx, "mine store write failed",
					"agent", entry.AgentID, "fun", entry.Function, "error", err)
			}
		}
	}
}
