package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/adapters/transport"
	"github.com/target/muster/internal/data"
	"github.com/target/muster/internal/domain/model"
)

type agentRig struct {
	registry  *data.MemoryRegistry
	transport *transport.Channel
	agent     *Agent
}

func newAgentRig(t *testing.T, opts Options) *agentRig {
	t.Helper()
	rig := &agentRig{
		registry:  data.NewMemoryRegistry(),
		transport: transport.NewChannel(nil),
	}
	if opts.ID == "" {
		opts.ID = "node-1"
	}
	opts.Transport = rig.transport.ForAgent(opts.ID)
	opts.Registry = rig.registry
	if opts.Config.HeartbeatTTL == 0 {
		opts.Config.HeartbeatTTL = time.Minute
	}

	a, err := New(opts)
	require.NoError(t, err)
	rig.agent = a
	return rig
}

// startAgent runs the agent in the background and waits for registration.
func (r *agentRig) start(t *testing.T, ctx context.Context) {
	t.Helper()
	go func() { _ = r.agent.Run(ctx) }()
	require.Eventually(t, func() bool {
		ok, err := r.registry.IsRegistered(ctx, r.agent.id)
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)
}

func deliver(t *testing.T, rig *agentRig, job model.Job) model.ResultEnvelope {
	t.Helper()
	ctx := context.Background()

	results, cancel, err := rig.transport.SubscribeResults(ctx, job.ID)
	require.NoError(t, err)
	defer cancel()

	payload, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, rig.transport.Send(ctx, rig.agent.id, payload))

	select {
	case env := <-results:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no response from agent")
		return model.ResultEnvelope{}
	}
}

func TestRunRegistersAndDeregisters(t *testing.T) {
	rig := newAgentRig(t, Options{ID: "node-1"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- rig.agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		ok, err := rig.registry.IsRegistered(context.Background(), "node-1")
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}

	ok, err := rig.registry.IsRegistered(context.Background(), "node-1")
	require.NoError(t, err)
	assert.False(t, ok, "agent deregisters on shutdown")
}

func TestPingRespondsTrue(t *testing.T) {
	rig := newAgentRig(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.start(t, ctx)

	env := deliver(t, rig, model.Job{ID: "j1", Function: "test.ping"})
	assert.Equal(t, "node-1", env.AgentID)
	assert.False(t, env.Errored)
	assert.JSONEq(t, `true`, string(env.Payload))
}

func TestEchoReturnsFirstArg(t *testing.T) {
	rig := newAgentRig(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.start(t, ctx)

	env := deliver(t, rig, model.Job{
		ID:       "j2",
		Function: "test.echo",
		Args:     []any{map[string]any{"hello": "world"}},
	})
	assert.False(t, env.Errored)
	assert.JSONEq(t, `{"hello":"world"}`, string(env.Payload))
}

func TestUnknownFunctionErrorsInsteadOfSilence(t *testing.T) {
	rig := newAgentRig(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.start(t, ctx)

	env := deliver(t, rig, model.Job{ID: "j3", Function: "pkg.nope"})
	assert.True(t, env.Errored)
	assert.Contains(t, string(env.Payload), "unknown function")
}

func TestHandlerFailureProducesErroredEnvelope(t *testing.T) {
	rig := newAgentRig(t, Options{})
	rig.agent.Funcs().Register("boom", func(context.Context, Call) (any, error) {
		return nil, errors.New("kaput")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.start(t, ctx)

	env := deliver(t, rig, model.Job{ID: "j4", Function: "boom"})
	assert.True(t, env.Errored)
	assert.Contains(t, string(env.Payload), "kaput")
}

func TestGrainsItemsReflectsAgentGrains(t *testing.T) {
	rig := newAgentRig(t, Options{Grains: json.RawMessage(`{"os":"linux","roles":["db"]}`)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.start(t, ctx)

	env := deliver(t, rig, model.Job{ID: "j5", Function: "grains.items"})
	assert.False(t, env.Errored)
	assert.JSONEq(t, `{"os":"linux","roles":["db"]}`, string(env.Payload))
}

func TestMineSendPublishesEntry(t *testing.T) {
	rig := newAgentRig(t, Options{Grains: json.RawMessage(`{"os":"linux"}`)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, cancelMine, err := rig.transport.SubscribeMine(ctx)
	require.NoError(t, err)
	defer cancelMine()

	rig.start(t, ctx)

	env := deliver(t, rig, model.Job{
		ID:       "j6",
		Function: "mine.send",
		Args:     []any{"grains.items"},
	})
	require.False(t, env.Errored, "payload: %s", env.Payload)

	select {
	case entry := <-mine:
		assert.Equal(t, "node-1", entry.AgentID)
		assert.Equal(t, "grains.items", entry.Function)
		assert.JSONEq(t, `{"os":"linux"}`, string(entry.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("no mine entry published")
	}
}

func TestPeriodicMinePushLoop(t *testing.T) {
	rig := newAgentRig(t, Options{
		Grains: json.RawMessage(`{"os":"linux"}`),
		Config: Config{
			HeartbeatTTL:  time.Minute,
			MineInterval:  20 * time.Millisecond,
			MineFunctions: []string{"grains.items"},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, cancelMine, err := rig.transport.SubscribeMine(ctx)
	require.NoError(t, err)
	defer cancelMine()

	rig.start(t, ctx)

	seen := 0
	deadline := time.After(2 * time.Second)
	for seen < 2 {
		select {
		case <-mine:
			seen++
		case <-deadline:
			t.Fatalf("saw %d mine pushes, want at least 2", seen)
		}
	}
}

func TestConfigSanitize(t *testing.T) {
	bad := Config{HeartbeatTTL: 0}
	require.Error(t, bad.Sanitize())

	good := Config{HeartbeatTTL: time.Second}
	require.NoError(t, good.Sanitize())
}
