package data_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/data"
	"github.com/target/muster/internal/domain/model"
	"github.com/target/muster/internal/testutil"
)

func TestRedisRegistryRoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	reg := data.NewRedisRegistry(client)
	ctx := context.Background()

	rec := model.AgentRecord{ID: "web-1", Grains: json.RawMessage(`{"os":"linux"}`)}
	require.NoError(t, reg.Register(ctx, rec, time.Minute))

	ok, err := reg.IsRegistered(ctx, "web-1")
	require.NoError(t, err)
	assert.True(t, ok)

	agents, err := reg.Agents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "web-1", agents[0].ID)
	assert.JSONEq(t, `{"os":"linux"}`, string(agents[0].Grains))

	require.NoError(t, reg.Deregister(ctx, "web-1"))
	ok, err = reg.IsRegistered(ctx, "web-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRegistryTTLExpiry(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	reg := data.NewRedisRegistry(client)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, model.AgentRecord{ID: "flaky"}, 200*time.Millisecond))

	require.Eventually(t, func() bool {
		ok, err := reg.IsRegistered(ctx, "flaky")
		return err == nil && !ok
	}, 2*time.Second, 50*time.Millisecond, "record ages out with its TTL")
}

func TestRedisMineStoreRoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	store := data.NewRedisMineStore(client)
	ctx := context.Background()

	entry := model.MineEntry{
		AgentID:   "web-1",
		Function:  "network.ip",
		Value:     json.RawMessage(`"10.0.0.1"`),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Set(ctx, entry))

	got, err := store.Get(ctx, "web-1", "network.ip")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `"10.0.0.1"`, string(got.Value))

	missing, err := store.Get(ctx, "web-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing, "absent entry is nil, not an error")

	require.NoError(t, store.Flush(ctx, "web-1"))
	got, err = store.Get(ctx, "web-1", "network.ip")
	require.NoError(t, err)
	assert.Nil(t, got)
}
