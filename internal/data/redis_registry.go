package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/muster/internal/domain/model"
)

const agentKeyPrefix = "muster:agent:"

// RedisRegistry is the shared agent registry: each agent keeps a TTL-bound
// key alive under a fixed prefix, so registry membership reflects liveness
// without any explicit deregistration path.
type RedisRegistry struct {
	client redis.UniversalClient
}

// NewRedisRegistry builds a registry over the given Redis client.
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Register implements core.RegistryWriter: the record's grain document is
// stored under the agent key with the heartbeat TTL.
func (r *RedisRegistry) Register(ctx context.Context, rec model.AgentRecord, ttl time.Duration) error {
	if rec.ID == "" {
		return errors.New("agent id cannot be empty")
	}
	grains := rec.Grains
	if grains == nil {
		grains = json.RawMessage(`{}`)
	}
	if err := r.client.Set(ctx, agentKeyPrefix+rec.ID, []byte(grains), ttl).Err(); err != nil {
		return fmt.Errorf("redis register agent: %w", err)
	}
	return nil
}

// Deregister implements core.RegistryWriter.
func (r *RedisRegistry) Deregister(ctx context.Context, agentID string) error {
	if err := r.client.Del(ctx, agentKeyPrefix+agentID).Err(); err != nil {
		return fmt.Errorf("redis deregister agent: %w", err)
	}
	return nil
}

// Agents implements core.Registry by scanning the agent key space. SCAN is
// cursor-based so a large fleet never blocks the server.
func (r *RedisRegistry) Agents(ctx context.Context) ([]model.AgentRecord, error) {
	var recs []model.AgentRecord
	iter := r.client.Scan(ctx, 0, agentKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		grains, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("redis get agent %s: %w", key, err)
		}
		recs = append(recs, model.AgentRecord{
			ID:     strings.TrimPrefix(key, agentKeyPrefix),
			Grains: grains,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan agents: %w", err)
	}
	return recs, nil
}

// IsRegistered implements core.Registry.
func (r *RedisRegistry) IsRegistered(ctx context.Context, agentID string) (bool, error) {
	n, err := r.client.Exists(ctx, agentKeyPrefix+agentID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists agent: %w", err)
	}
	return n > 0, nil
}
