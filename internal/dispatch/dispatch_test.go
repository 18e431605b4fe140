package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/adapters/transport"
	"github.com/target/muster/internal/data"
	"github.com/target/muster/internal/domain/model"
)

type testRig struct {
	registry  *data.MemoryRegistry
	transport *transport.Channel
	disp      *Dispatcher
}

func newTestRig(t *testing.T, agentIDs ...string) *testRig {
	t.Helper()
	reg := data.NewMemoryRegistry()
	for _, id := range agentIDs {
		require.NoError(t, reg.Register(context.Background(), model.AgentRecord{ID: id}, 0))
	}
	tr := transport.NewChannel(nil)
	d, err := NewDispatcher(Options{Registry: reg, Transport: tr})
	require.NoError(t, err)
	return &testRig{registry: reg, transport: tr, disp: d}
}

// startEchoAgent consumes deliveries for agentID and responds "pong" after
// delay. It stops when ctx is cancelled.
func (r *testRig) startEchoAgent(ctx context.Context, t *testing.T, agentID string, delay time.Duration) {
	t.Helper()
	half := r.transport.ForAgent(agentID)
	deliveries, cancel, err := half.Deliveries(ctx)
	require.NoError(t, err)
	t.Cleanup(cancel)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-deliveries:
				if !ok {
					return
				}
				var job model.Job
				if err := json.Unmarshal(raw, &job); err != nil {
					continue
				}
				time.Sleep(delay)
				_ = half.Respond(ctx, model.ResultEnvelope{
					JobID:      job.ID,
					AgentID:    agentID,
					Payload:    json.RawMessage(`"pong"`),
					ReceivedAt: time.Now(),
				})
			}
		}
	}()
}

func pingRequest(target string, timeout time.Duration) Request {
	return Request{
		Target:   model.TargetSpec{Expression: target, Kind: model.MatcherGlob},
		Function: "test.ping",
		Timeout:  timeout,
	}
}

func TestDispatchEmptyResolutionYieldsValidHandle(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	handle, err := rig.disp.Dispatch(ctx, pingRequest("web*", time.Second))
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Empty(t, handle.Resolved())

	start := time.Now()
	outcome, err := handle.Wait(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "empty resolution terminates immediately")
	assert.Zero(t, outcome.Expected)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, outcome.Unresponsive)
	assert.True(t, outcome.Final)
}

func TestDispatchRejectsMalformedTargetSpec(t *testing.T) {
	rig := newTestRig(t, "a")
	ctx := context.Background()

	_, err := rig.disp.Dispatch(ctx, Request{
		Target:   model.TargetSpec{Expression: "a[", Kind: model.MatcherGlob},
		Function: "test.ping",
	})
	require.ErrorIs(t, err, model.ErrBadTargetSpec)

	_, err = rig.disp.Dispatch(ctx, Request{
		Target: model.TargetSpec{Expression: "a", Kind: model.MatcherGlob},
	})
	require.ErrorIs(t, err, model.ErrBadTargetSpec)
}

func TestWaitPartialResponsesUnderTimeout(t *testing.T) {
	rig := newTestRig(t, "a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// b never responds.
	rig.startEchoAgent(ctx, t, "a", 0)
	rig.startEchoAgent(ctx, t, "c", 0)

	const timeout = 300 * time.Millisecond
	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", timeout))
	require.NoError(t, err)
	require.Len(t, handle.Resolved(), 3)

	start := time.Now()
	outcome, err := handle.Wait(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, timeout-50*time.Millisecond, "waits out the deadline for the quiet agent")
	assert.Less(t, elapsed, 5*timeout, "never waits indefinitely")

	assert.Len(t, outcome.Results, 2)
	assert.Contains(t, outcome.Results, "a")
	assert.Contains(t, outcome.Results, "c")
	assert.Equal(t, []string{"b"}, outcome.Unresponsive)
	assert.Equal(t, outcome.Expected, len(outcome.Results)+len(outcome.Unresponsive))
	assert.True(t, outcome.Final)
}

func TestWaitReturnsEarlyWhenAllRespond(t *testing.T) {
	rig := newTestRig(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.startEchoAgent(ctx, t, "a", 0)
	rig.startEchoAgent(ctx, t, "b", 0)

	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", 5*time.Second))
	require.NoError(t, err)

	start := time.Now()
	outcome, err := handle.Wait(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "terminates on last response, not the deadline")
	assert.Len(t, outcome.Results, 2)
	assert.Empty(t, outcome.Unresponsive)
}

func TestNextYieldsInArrivalOrder(t *testing.T) {
	rig := newTestRig(t, "slow", "fast")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.startEchoAgent(ctx, t, "slow", 150*time.Millisecond)
	rig.startEchoAgent(ctx, t, "fast", 0)

	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", 2*time.Second))
	require.NoError(t, err)
	defer handle.Close()

	var order []string
	for {
		env, ok, err := handle.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, env.AgentID)
	}
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestPollIsNonBlocking(t *testing.T) {
	rig := newTestRig(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.startEchoAgent(ctx, t, "a", 0)
	rig.startEchoAgent(ctx, t, "b", 250*time.Millisecond) // responds after the first poll

	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", 2*time.Second))
	require.NoError(t, err)
	defer handle.Close()

	time.Sleep(50 * time.Millisecond) // allow a's response to land

	start := time.Now()
	partial := handle.Poll()
	assert.Less(t, time.Since(start), 50*time.Millisecond, "poll never blocks")

	assert.Contains(t, partial.Results, "a")
	assert.False(t, partial.Final)
	assert.Equal(t, 2, partial.Expected)

	require.Eventually(t, func() bool {
		return len(handle.Poll().Results) == 2
	}, time.Second, 10*time.Millisecond)
	assert.True(t, handle.Poll().Final)
}

func TestCloseTearsDownSubscription(t *testing.T) {
	rig := newTestRig(t, "a", "b")
	ctx := context.Background()

	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", time.Minute))
	require.NoError(t, err)
	jid := handle.Job().ID

	require.Equal(t, 1, rig.transport.ResultSubscribers(jid))
	_, stillActive := rig.disp.Lookup(jid)
	assert.True(t, stillActive)

	// Abandon collection early; the transport listener must not leak.
	handle.Close()
	assert.Equal(t, 0, rig.transport.ResultSubscribers(jid))
	_, stillActive = rig.disp.Lookup(jid)
	assert.False(t, stillActive)

	handle.Close() // idempotent
}

func TestAbandonedCollectorReportsClosed(t *testing.T) {
	rig := newTestRig(t, "a")
	ctx := context.Background()

	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", time.Minute))
	require.NoError(t, err)
	handle.Close()

	_, ok, err := handle.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrCollectorClosed)

	outcome, err := handle.Wait(ctx)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, model.ErrCollectorClosed)
}

func TestDuplicateAndUnknownEnvelopesDiscarded(t *testing.T) {
	rig := newTestRig(t, "a", "b")
	ctx := context.Background()

	handle, err := rig.disp.Dispatch(ctx, pingRequest("*", 300*time.Millisecond))
	require.NoError(t, err)

	half := rig.transport.ForAgent("a")
	env := model.ResultEnvelope{JobID: handle.Job().ID, AgentID: "a", Payload: json.RawMessage(`1`)}
	require.NoError(t, half.Respond(ctx, env))
	env.Payload = json.RawMessage(`2`)
	require.NoError(t, half.Respond(ctx, env)) // duplicate

	intruder := rig.transport.ForAgent("z")
	require.NoError(t, intruder.Respond(ctx, model.ResultEnvelope{
		JobID: handle.Job().ID, AgentID: "z", Payload: json.RawMessage(`"not resolved"`),
	}))

	outcome, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.JSONEq(t, `1`, string(outcome.Results["a"].Payload), "first envelope wins, duplicate dropped")
	assert.NotContains(t, outcome.Results, "z")
	assert.Equal(t, []string{"b"}, outcome.Unresponsive)
}

func TestGrainTargeting(t *testing.T) {
	reg := data.NewMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, model.AgentRecord{
		ID: "db-1", Grains: json.RawMessage(`{"roles":["db"],"os":"linux"}`),
	}, 0))
	require.NoError(t, reg.Register(ctx, model.AgentRecord{
		ID: "web-1", Grains: json.RawMessage(`{"roles":["web"],"os":"linux"}`),
	}, 0))

	tr := transport.NewChannel(nil)
	d, err := NewDispatcher(Options{Registry: reg, Transport: tr})
	require.NoError(t, err)

	handle, err := d.Dispatch(ctx, Request{
		Target:   model.TargetSpec{Expression: `contains(roles, 'db')`, Kind: model.MatcherGrain},
		Function: "test.ping",
		Timeout:  100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"db-1"}, handle.Resolved())
	handle.Close()
}

func TestNewJobIDFormat(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 30, 45, 123456000, time.UTC)
	jid := NewJobID(now)
	assert.Regexp(t, `^20260826123045123456_[0-9a-f-]{8}$`, jid)
	assert.NotEqual(t, jid, NewJobID(now), "ids never collide within one instant")
}
