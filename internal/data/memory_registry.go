// Package data provides the concrete persistence adapters behind the core
// ports: agent registries, mine stores, and the job history repository.
package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/target/muster/internal/domain/model"
)

// MemoryRegistry is an in-process agent registry used by tests and
// single-process deployments. Records expire after their registration TTL
// unless refreshed.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]memoryAgent
	now     func() time.Time
}

type memoryAgent struct {
	rec       model.AgentRecord
	expiresAt time.Time
}

// NewMemoryRegistry builds an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]memoryAgent),
		now:     time.Now,
	}
}

// Register implements core.RegistryWriter. A zero ttl never expires.
func (r *MemoryRegistry) Register(_ context.Context, rec model.AgentRecord, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = r.now().Add(ttl)
	}
	r.mu.Lock()
	r.records[rec.ID] = memoryAgent{rec: rec, expiresAt: expires}
	r.mu.Unlock()
	return nil
}

// Deregister implements core.RegistryWriter.
func (r *MemoryRegistry) Deregister(_ context.Context, agentID string) error {
	r.mu.Lock()
	delete(r.records, agentID)
	r.mu.Unlock()
	return nil
}

// Agents implements core.Registry.
func (r *MemoryRegistry) Agents(_ context.Context) ([]model.AgentRecord, error) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]model.AgentRecord, 0, len(r.records))
	for _, a := range r.records {
		if a.expiresAt.IsZero() || a.expiresAt.After(now) {
			recs = append(recs, a.rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// IsRegistered implements core.Registry.
func (r *MemoryRegistry) IsRegistered(_ context.Context, agentID string) (bool, error) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.records[agentID]
	return ok && (a.expiresAt.IsZero() || a.expiresAt.After(now)), nil
}
