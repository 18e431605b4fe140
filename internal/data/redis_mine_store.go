package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/target/muster/internal/domain/model"
)

const mineHashPrefix = "muster:mine:"

// RedisMineStore keeps mine entries in one Redis hash per agent, so a push
// replaces exactly one field and a flush drops the whole hash. Concurrent
// pushes from different agents touch different keys and never conflict.
type RedisMineStore struct {
	client redis.UniversalClient
}

// NewRedisMineStore builds a mine store over the given Redis client.
func NewRedisMineStore(client redis.UniversalClient) *RedisMineStore {
	return &RedisMineStore{client: client}
}

// Set implements core.MineStore.
func (s *RedisMineStore) Set(ctx context.Context, entry model.MineEntry) error {
	if entry.AgentID == "" || entry.Function == "" {
		return errors.New("mine entry requires agent id and function")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode mine entry: %w", err)
	}
	if err := s.client.HSet(ctx, mineHashPrefix+entry.AgentID, entry.Function, raw).Err(); err != nil {
		return fmt.Errorf("redis set mine entry: %w", err)
	}
	return nil
}

// Get implements core.MineStore.
func (s *RedisMineStore) Get(ctx context.Context, agentID, function string) (*model.MineEntry, error) {
	raw, err := s.client.HGet(ctx, mineHashPrefix+agentID, function).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // never pushed
		}
		return nil, fmt.Errorf("redis get mine entry: %w", err)
	}
	var entry model.MineEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode mine entry: %w", err)
	}
	return &entry, nil
}

// Flush implements core.MineStore.
func (s *RedisMineStore) Flush(ctx context.Context, agentID string) error {
	if err := s.client.Del(ctx, mineHashPrefix+agentID).Err(); err != nil {
		return fmt.Errorf("redis flush mine entries: %w", err)
	}
	return nil
}
