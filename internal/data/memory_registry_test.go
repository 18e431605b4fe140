package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/domain/model"
)

func TestMemoryRegistryAgentsSortedByID(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, reg.Register(ctx, model.AgentRecord{ID: id}, 0))
	}

	agents, err := reg.Agents(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemoryRegistryTTLExpiry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	now := time.Now()
	reg.now = func() time.Time { return now }

	require.NoError(t, reg.Register(ctx, model.AgentRecord{ID: "flaky"}, time.Second))
	require.NoError(t, reg.Register(ctx, model.AgentRecord{ID: "stable"}, 0))

	ok, err := reg.IsRegistered(ctx, "flaky")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)

	ok, err = reg.IsRegistered(ctx, "flaky")
	require.NoError(t, err)
	assert.False(t, ok, "TTL elapsed")

	ok, err = reg.IsRegistered(ctx, "stable")
	require.NoError(t, err)
	assert.True(t, ok, "zero TTL never expires")

	agents, err := reg.Agents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "stable", agents[0].ID)
}

func TestMemoryRegistryDeregister(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, model.AgentRecord{ID: "a"}, 0))
	require.NoError(t, reg.Deregister(ctx, "a"))

	ok, err := reg.IsRegistered(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
