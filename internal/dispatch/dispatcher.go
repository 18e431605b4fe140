// Package dispatch implements the fan-out/fan-in core: the dispatcher
// resolves a target spec and delivers one job to every matched agent; the
// paired collector aggregates the streamed results under the job's deadline.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/domain/model"
	"github.com/target/muster/internal/match"
)

// Request describes one dispatch operation.
type Request struct {
	Target   model.TargetSpec `json:"tgt"`
	Function string           `json:"fun"`
	Args     []any            `json:"arg,omitempty"`
	Kwargs   map[string]any   `json:"kwarg,omitempty"`
	Timeout  time.Duration    `json:"timeout,omitempty"`
}

// Config holds dispatcher tunables.
type Config struct {
	// DefaultTimeout applies when a request carries none. There is no
	// infinite wait: zero or negative values are clamped by Sanitize.
	DefaultTimeout time.Duration `env:"DISPATCH_DEFAULT_TIMEOUT" envDefault:"10s"`
}

// Sanitize clamps nonsense values loaded from env.
func (c *Config) Sanitize() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
}

// Dispatcher resolves targets and fans jobs out through the transport.
type Dispatcher struct {
	registry  core.Registry
	transport core.MasterTransport
	history   core.JobHistoryRepository // optional
	cfg       Config
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*Collector
}

// Options bundles dependencies for NewDispatcher.
type Options struct {
	Registry  core.Registry
	Transport core.MasterTransport
	History   core.JobHistoryRepository
	Config    Config
	Logger    *slog.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Config.Sanitize()
	return &Dispatcher{
		registry:  opts.Registry,
		transport: opts.Transport,
		history:   opts.History,
		cfg:       opts.Config,
		logger:    logger,
		active:    make(map[string]*Collector),
	}, nil
}

// Dispatch resolves the request's target spec, delivers the job to every
// matched agent (fire-and-forget per agent) and returns the collector for the
// job. An empty resolution returns a valid collector expecting zero results;
// only a malformed request is rejected synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Collector, error) {
	if req.Function == "" {
		return nil, fmt.Errorf("%w: function name is required", model.ErrBadTargetSpec)
	}
	matcher, err := match.Parse(req.Target)
	if err != nil {
		return nil, err
	}

	// Resolution is recomputed from live registry state on every dispatch.
	agents, err := d.registry.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}
	resolved := match.Resolve(matcher, agents)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	now := time.Now()
	job := &model.Job{
		ID:       NewJobID(now),
		Function: req.Function,
		Args:     req.Args,
		Kwargs:   req.Kwargs,
		Target:   req.Target,
		IssuedAt: now,
		Timeout:  timeout,
	}

	// Subscribe before any send so no early response can slip past the
	// collector.
	stream, cancel, err := d.transport.SubscribeResults(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("subscribe results: %w", err)
	}

	collector := newCollector(collectorParams{
		job:      job,
		resolved: resolved,
		stream:   stream,
		cancel:   cancel,
		history:  d.history,
		logger:   d.logger,
		onClose:  func() { d.forget(job.ID) },
	})

	if len(resolved) == 0 {
		// Reportable, not fatal: the caller distinguishes "nobody
		// matched" from "matched but nobody responded yet".
		d.logger.InfoContext(ctx, "target spec matched no agents",
			"jid", job.ID, "target", req.Target.String())
	}

	payload, err := json.Marshal(job)
	if err != nil {
		collector.Close()
		return nil, fmt.Errorf("serialize job: %w", err)
	}
	for _, agentID := range resolved {
		if sendErr := d.transport.Send(ctx, agentID, payload); sendErr != nil {
			// Isolated per-agent failure: the agent simply shows up
			// as unresponsive at the deadline.
			d.logger.WarnContext(ctx, "job delivery failed",
				"jid", job.ID, "agent", agentID, "error", sendErr)
		}
	}

	if d.history != nil {
		if recErr := d.history.Record(ctx, job, resolved); recErr != nil {
			d.logger.ErrorContext(ctx, "job history record failed", "jid", job.ID, "error", recErr)
		}
	}

	d.mu.Lock()
	d.active[job.ID] = collector
	d.mu.Unlock()

	return collector, nil
}

// Lookup returns the active collector for a job id, if collection is still in
// flight.
func (d *Dispatcher) Lookup(jobID string) (*Collector, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.active[jobID]
	return c, ok
}

func (d *Dispatcher) forget(jobID string) {
	d.mu.Lock()
	delete(d.active, jobID)
	d.mu.Unlock()
}
