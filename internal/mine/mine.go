// Package mine implements the side-channel function cache: agents
// periodically push the result of arbitrary function calls, and other callers
// retrieve those values later without re-invoking the function.
//
// Queries are satisfied from the master-side store, never by a synchronous
// fan-out to the agents: the mine is meant to be a cheap lookup. Staleness
// policy is a caller concern; the mine enforces no expiry of its own.
package mine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/domain/model"
	"github.com/target/muster/internal/match"
)

// Service answers mine queries against the shared store.
type Service struct {
	registry core.Registry
	store    core.MineStore
	logger   *slog.Logger
}

// Options bundles dependencies for NewService.
type Options struct {
	Registry core.Registry
	Store    core.MineStore
	Logger   *slog.Logger
}

// NewService wires a mine query service.
func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("mine store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: opts.Registry, store: opts.Store, logger: logger}, nil
}

// Get resolves the target spec exactly like a dispatch would, then returns
// each matched agent's current value for the function. Agents that never
// pushed the function are omitted entirely; an agent that pushed an empty
// value still appears.
func (s *Service) Get(ctx context.Context, target model.TargetSpec, function string) (map[string]json.RawMessage, error) {
	if function == "" {
		return nil, errors.New("function name is required")
	}
	matcher, err := match.Parse(target)
	if err != nil {
		return nil, err
	}
	agents, err := s.registry.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}

	values := make(map[string]json.RawMessage)
	for _, agentID := range match.Resolve(matcher, agents) {
		entry, err := s.store.Get(ctx, agentID, function)
		if err != nil {
			// One agent's broken entry never fails the whole query.
			s.logger.ErrorContext(ctx, "mine lookup failed", "agent", agentID, "fun", function, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		values[agentID] = entry.Value
	}
	return values, nil
}

// Flush removes every stored value for the agent.
func (s *Service) Flush(ctx context.Context, agentID string) error {
	if err := s.store.Flush(ctx, agentID); err != nil {
		return fmt.Errorf("flush mine entries for %s: %w", agentID, err)
	}
	return nil
}
