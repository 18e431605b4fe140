package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/domain/model"
)

func newTestBadgerStore(t *testing.T) *BadgerMineStore {
	t.Helper()
	store, err := NewBadgerMineStore(BadgerMineStoreOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerMineStoreRoundTrip(t *testing.T) {
	store := newTestBadgerStore(t)
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
	assert.Equal(t, "web-1", got.AgentID)
	assert.JSONEq(t, `"10.0.0.1"`, string(got.Value))
}

func TestBadgerMineStoreMissingIsNil(t *testing.T) {
	store := newTestBadgerStore(t)

	got, err := store.Get(context.Background(), "web-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBadgerMineStoreSetReplaces(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	for _, v := range []string{`1`, `2`} {
		require.NoError(t, store.Set(ctx, model.MineEntry{
			AgentID: "a", Function: "f", Value: json.RawMessage(v),
		}))
	}

	got, err := store.Get(ctx, "a", "f")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `2`, string(got.Value))
}

func TestBadgerMineStoreFlushScopedToAgent(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	// "ab" shares a key prefix with "a"; flush must not cross the separator.
	for _, agent := range []string{"a", "ab"} {
		require.NoError(t, store.Set(ctx, model.MineEntry{
			AgentID: agent, Function: "f", Value: json.RawMessage(`1`),
		}))
	}

	require.NoError(t, store.Flush(ctx, "a"))

	got, err := store.Get(ctx, "a", "f")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, "ab", "f")
	require.NoError(t, err)
	assert.NotNil(t, got, "flush of agent a must not touch agent ab")
}
