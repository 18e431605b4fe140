package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/domain/model"
)

const (
	deliverKeyPrefix  = "muster:deliver:"
	resultChanPrefix  = "muster:ret:"
	mineChannel       = "muster:mine"
	deliveryPopperGap = 5 * time.Second
)

// Redis is the network transport: job deliveries ride per-agent Redis lists,
// results and mine pushes ride pub/sub channels. One Redis instance carries a
// whole master/agent deployment.
type Redis struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// RedisOptions holds construction parameters for the Redis transport.
type RedisOptions struct {
	Client redis.UniversalClient
	Logger *slog.Logger
}

// NewRedis creates a Redis-backed master transport.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("redis transport: client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: opts.Client, logger: logger}, nil
}

// Send queues one job payload for one agent.
func (r *Redis) Send(ctx context.Context, agentID string, payload json.RawMessage) error {
	if err := r.client.LPush(ctx, deliverKeyPrefix+agentID, []byte(payload)).Err(); err != nil {
		return fmt.Errorf("push delivery for %s: %w", agentID, err)
	}
	return nil
}

// SubscribeResults streams result envelopes for one job. The returned cancel
// function closes the subscription and the channel.
func (r *Redis) SubscribeResults(ctx context.Context, jobID string) (<-chan model.ResultEnvelope, func(), error) {
	sub := r.client.Subscribe(ctx, resultChanPrefix+jobID)
	// Force the subscription onto the wire before the caller dispatches, so
	// no result published after Send can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe results for %s: %w", jobID, err)
	}

	out := make(chan model.ResultEnvelope, channelBuffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var env model.ResultEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping undecodable result", "jid", jobID, "err", err)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				r.logger.Warn("close result subscription", "jid", jobID, "err", err)
			}
		})
	}
	return out, cancel, nil
}

// SubscribeMine streams mine entries pushed by every agent.
func (r *Redis) SubscribeMine(ctx context.Context) (<-chan model.MineEntry, func(), error) {
	sub := r.client.Subscribe(ctx, mineChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe mine: %w", err)
	}

	out := make(chan model.MineEntry, channelBuffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var entry model.MineEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				r.logger.Warn("dropping undecodable mine entry", "err", err)
				continue
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				r.logger.Warn("close mine subscription", "err", err)
			}
		})
	}
	return out, cancel, nil
}

// ForAgent returns the agent-side half of the transport for one agent id.
func (r *Redis) ForAgent(agentID string) *RedisAgent {
	return &RedisAgent{client: r.client, agentID: agentID, logger: r.logger}
}

// RedisAgent is the agent-side half of the Redis transport.
type RedisAgent struct {
	client  redis.UniversalClient
	agentID string
	logger  *slog.Logger
}

// NewRedisAgent creates the agent-side transport for one agent id.
func NewRedisAgent(agentID string, opts RedisOptions) (*RedisAgent, error) {
	if opts.Client == nil {
		return nil, errors.New("redis transport: client is required")
	}
	if agentID == "" {
		return nil, errors.New("redis transport: agent id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAgent{client: opts.Client, agentID: agentID, logger: logger}, nil
}

// Deliveries streams job payloads addressed to this agent. The stream runs
// until ctx is cancelled or the returned cancel function is called.
func (a *RedisAgent) Deliveries(ctx context.Context) (<-chan json.RawMessage, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan json.RawMessage, channelBuffer)

	go func() {
		defer close(out)
		key := deliverKeyPrefix + a.agentID
		for {
			res, err := a.client.BRPop(ctx, deliveryPopperGap, key).Result()
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				a.logger.Warn("delivery pop failed", "agent", a.agentID, "err", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			// BRPOP returns [key, value].
			if len(res) != 2 {
				continue
			}
			select {
			case out <- json.RawMessage(res[1]):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

// Respond publishes one result envelope on the job's result channel.
func (a *RedisAgent) Respond(ctx context.Context, env model.ResultEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal result envelope: %w", err)
	}
	if err := a.client.Publish(ctx, resultChanPrefix+env.JobID, payload).Err(); err != nil {
		return fmt.Errorf("publish result for %s: %w", env.JobID, err)
	}
	return nil
}

// PushMine publishes one mine entry on the shared mine channel.
func (a *RedisAgent) PushMine(ctx context.Context, entry model.MineEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal mine entry: %w", err)
	}
	if err := a.client.Publish(ctx, mineChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish mine entry: %w", err)
	}
	return nil
}

var (
	_ core.MasterTransport = (*Redis)(nil)
	_ core.AgentTransport  = (*RedisAgent)(nil)
)
