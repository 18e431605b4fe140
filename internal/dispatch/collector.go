package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/domain/model"
)

// Collector aggregates the results streamed back for one job. The streaming
// Next call is the primitive; Wait and Poll are wrappers over it.
//
// Results are yielded in arrival order, never target-resolution order. The
// sequence ends when every resolved agent has produced exactly one envelope
// or the job's deadline elapses, whichever comes first; agents that never
// respond are reported in the outcome's Unresponsive set, never dropped.
//
// A Collector is meant for a single consuming goroutine (Poll from another
// goroutine is safe; it may pick up an arrival Next would otherwise return).
type Collector struct {
	job      *model.Job
	resolved []string

	stream  <-chan model.ResultEnvelope
	cancel  func()
	history core.JobHistoryRepository
	logger  *slog.Logger
	onClose func()

	mu        sync.Mutex
	pending   map[string]struct{}
	results   map[string]model.ResultEnvelope
	finalized bool
	closed    bool

	closeOnce sync.Once
}

type collectorParams struct {
	job      *model.Job
	resolved []string
	stream   <-chan model.ResultEnvelope
	cancel   func()
	history  core.JobHistoryRepository
	logger   *slog.Logger
	onClose  func()
}

func newCollector(p collectorParams) *Collector {
	pending := make(map[string]struct{}, len(p.resolved))
	for _, id := range p.resolved {
		pending[id] = struct{}{}
	}
	return &Collector{
		job:      p.job,
		resolved: p.resolved,
		stream:   p.stream,
		cancel:   p.cancel,
		history:  p.history,
		logger:   p.logger,
		onClose:  p.onClose,
		pending:  pending,
		results:  make(map[string]model.ResultEnvelope, len(p.resolved)),
	}
}

// Job returns the dispatched job this collector tracks.
func (c *Collector) Job() *model.Job { return c.job }

// Resolved returns the agent ids the job's target spec matched at dispatch
// time.
func (c *Collector) Resolved() []string { return c.resolved }

// Next blocks until one more result arrives and returns it. ok=false with a
// nil error means the sequence ended naturally (all agents responded or the
// deadline passed); a collector abandoned via Close answers every further
// Next with model.ErrCollectorClosed. Envelopes from agents outside the
// resolved set and duplicates are discarded.
func (c *Collector) Next(ctx context.Context) (model.ResultEnvelope, bool, error) {
	for {
		c.mu.Lock()
		if c.closed && !c.finalized {
			c.mu.Unlock()
			return model.ResultEnvelope{}, false, model.ErrCollectorClosed
		}
		if c.closed || len(c.pending) == 0 {
			c.mu.Unlock()
			c.finalize(ctx)
			return model.ResultEnvelope{}, false, nil
		}
		c.mu.Unlock()

		remaining := time.Until(c.job.Deadline())
		if remaining <= 0 {
			c.finalize(ctx)
			return model.ResultEnvelope{}, false, nil
		}

		deadline := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			deadline.Stop()
			return model.ResultEnvelope{}, false, ctx.Err()
		case <-deadline.C:
			c.finalize(ctx)
			return model.ResultEnvelope{}, false, nil
		case env, open := <-c.stream:
			deadline.Stop()
			if !open {
				// Transport tore the stream down underneath us.
				c.finalize(ctx)
				return model.ResultEnvelope{}, false, nil
			}
			if c.accept(env) {
				return env, true, nil
			}
		}
	}
}

// Wait blocks until every resolved agent has responded or the deadline
// elapses, then returns the finalized outcome. The underlying subscription is
// always torn down before Wait returns. Waiting on a collector abandoned via
// Close reports model.ErrCollectorClosed.
func (c *Collector) Wait(ctx context.Context) (*model.Outcome, error) {
	defer c.Close()
	for {
		_, ok, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return c.outcome(true), nil
		}
	}
}

// Poll returns whatever has arrived so far without blocking beyond a
// non-blocking drain of the stream. The outcome is marked Final only when
// collection has terminated.
func (c *Collector) Poll() *model.Outcome {
	for {
		select {
		case env, open := <-c.stream:
			if !open {
				return c.outcome(c.isDone())
			}
			c.accept(env)
			continue
		default:
		}
		break
	}

	done := c.isDone() || time.Now().After(c.job.Deadline())
	if done {
		c.finalize(context.Background())
	}
	return c.outcome(done)
}

// Close abandons collection and tears down the transport subscription. Safe
// to call from any exit path, any number of times.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.cancel != nil {
			c.cancel()
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// accept records an envelope, reporting whether it was from a pending agent.
func (c *Collector) accept(env model.ResultEnvelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, expected := c.pending[env.AgentID]; !expected {
		c.logger.Debug("discarding unexpected result envelope",
			"jid", env.JobID, "agent", env.AgentID)
		return false
	}
	delete(c.pending, env.AgentID)
	c.results[env.AgentID] = env
	return true
}

func (c *Collector) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || len(c.pending) == 0
}

// finalize persists the finished outcome once and releases the subscription.
func (c *Collector) finalize(ctx context.Context) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		c.Close()
		return
	}
	c.finalized = true
	c.mu.Unlock()

	c.Close()
	if c.history != nil {
		if err := c.history.Finalize(ctx, c.outcome(true)); err != nil {
			c.logger.ErrorContext(ctx, "job history finalize failed",
				"jid", c.job.ID, "error", err)
		}
	}
}

// outcome snapshots the aggregate. Every resolved agent lands in Results or
// Unresponsive; the two always sum to the expected count.
func (c *Collector) outcome(final bool) *model.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make(map[string]model.ResultEnvelope, len(c.results))
	for id, env := range c.results {
		results[id] = env
	}
	unresponsive := make([]string, 0, len(c.pending))
	for id := range c.pending {
		unresponsive = append(unresponsive, id)
	}
	sort.Strings(unresponsive)

	return &model.Outcome{
		JobID:        c.job.ID,
		Results:      results,
		Unresponsive: unresponsive,
		Expected:     len(c.resolved),
		Final:        final,
	}
}
