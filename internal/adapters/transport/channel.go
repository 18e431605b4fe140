// Package transport provides the concrete message transports behind the
// master/agent contracts: an in-process channel loopback for tests and
// single-process deployments, and a Redis-backed implementation for real
// master/agent topologies.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/domain/model"
)

// subscriber channel depth; envelopes beyond it are dropped, mirroring the
// fire-and-forget delivery contract.
const channelBuffer = 64

// Channel is an in-process loopback transport. The master half and any
// number of agent halves share one Channel value.
type Channel struct {
	logger *slog.Logger

	mu         sync.Mutex
	nextSubID  int
	deliveries map[string]map[int]chan json.RawMessage      // agent id -> subs
	results    map[string]map[int]chan model.ResultEnvelope // job id -> subs
	mine       map[int]chan model.MineEntry
}

// NewChannel builds an empty loopback transport.
func NewChannel(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		logger:     logger,
		deliveries: make(map[string]map[int]chan json.RawMessage),
		results:    make(map[string]map[int]chan model.ResultEnvelope),
		mine:       make(map[int]chan model.MineEntry),
	}
}

var _ core.MasterTransport = (*Channel)(nil)

// Send implements core.MasterTransport. Delivery to an agent nobody is
// listening for is silently dropped; the agent surfaces as unresponsive.
func (c *Channel) Send(_ context.Context, agentID string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.deliveries[agentID] {
		select {
		case ch <- payload:
		default:
			c.logger.Warn("delivery buffer full, dropping job", "agent", agentID)
		}
	}
	return nil
}

// SubscribeResults implements core.MasterTransport.
func (c *Channel) SubscribeResults(_ context.Context, jobID string) (<-chan model.ResultEnvelope, func(), error) {
	ch := make(chan model.ResultEnvelope, channelBuffer)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	if c.results[jobID] == nil {
		c.results[jobID] = make(map[int]chan model.ResultEnvelope)
	}
	c.results[jobID][id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.results[jobID], id)
			if len(c.results[jobID]) == 0 {
				delete(c.results, jobID)
			}
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// SubscribeMine implements core.MasterTransport.
func (c *Channel) SubscribeMine(_ context.Context) (<-chan model.MineEntry, func(), error) {
	ch := make(chan model.MineEntry, channelBuffer)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.mine[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.mine, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// ResultSubscribers reports how many listeners a job id currently has; used
// to assert subscriptions are torn down.
func (c *Channel) ResultSubscribers(jobID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results[jobID])
}

// ForAgent returns the agent-side half bound to one agent id.
func (c *Channel) ForAgent(agentID string) *ChannelAgent {
	return &ChannelAgent{parent: c, agentID: agentID}
}

// ChannelAgent is the agent half of a Channel transport.
type ChannelAgent struct {
	parent  *Channel
	agentID string
}

var _ core.AgentTransport = (*ChannelAgent)(nil)

// Deliveries implements core.AgentTransport.
func (a *ChannelAgent) Deliveries(_ context.Context) (<-chan json.RawMessage, func(), error) {
	c := a.parent
	ch := make(chan json.RawMessage, channelBuffer)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	if c.deliveries[a.agentID] == nil {
		c.deliveries[a.agentID] = make(map[int]chan json.RawMessage)
	}
	c.deliveries[a.agentID][id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.deliveries[a.agentID], id)
			if len(c.deliveries[a.agentID]) == 0 {
				delete(c.deliveries, a.agentID)
			}
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Respond implements core.AgentTransport: the envelope is routed to every
// live subscriber for its job id. Responses for jobs nobody is collecting
// anymore are dropped.
func (a *ChannelAgent) Respond(_ context.Context, env model.ResultEnvelope) error {
	c := a.parent
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.results[env.JobID] {
		select {
		case ch <- env:
		default:
			c.logger.Warn("result buffer full, dropping envelope", "jid", env.JobID, "agent", env.AgentID)
		}
	}
	return nil
}

// PushMine implements core.AgentTransport.
func (a *ChannelAgent) PushMine(_ context.Context, entry model.MineEntry) error {
	c := a.parent
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.mine {
		select {
		case ch <- entry:
		default:
			c.logger.Warn("mine buffer full, dropping entry", "agent", entry.AgentID, "fun", entry.Function)
		}
	}
	return nil
}
