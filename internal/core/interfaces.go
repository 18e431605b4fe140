// Package core defines the port interfaces between the dispatch engine and
// its collaborators (ports in hexagonal architecture). Service implementations
// depend on these interfaces, never on concrete adapters.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/muster/internal/domain/model"
)

// Registry is the agent registry collaborator. Resolution is a pure function
// of the current registry state; results are never cached across calls.
type Registry interface {
	// Agents returns every live agent record (id plus grains).
	Agents(ctx context.Context) ([]model.AgentRecord, error)

	// IsRegistered reports whether the agent id is currently registered.
	IsRegistered(ctx context.Context, agentID string) (bool, error)
}

// RegistryWriter is the agent-side half of the registry: agents register
// themselves with their grain document and keep the record alive.
type RegistryWriter interface {
	Register(ctx context.Context, rec model.AgentRecord, ttl time.Duration) error
	Deregister(ctx context.Context, agentID string) error
}

// MasterTransport is the master-side transport contract: fire-and-forget
// delivery plus subscription streams for results and mine pushes.
type MasterTransport interface {
	// Send delivers a serialized job to one agent. Delivery is
	// fire-and-forget; the dispatcher never blocks on acknowledgment.
	Send(ctx context.Context, agentID string, payload json.RawMessage) error

	// SubscribeResults opens a result stream for one job id. The returned
	// cancel func tears the subscription down and must be safe to call on
	// every exit path, including early abandonment.
	SubscribeResults(ctx context.Context, jobID string) (<-chan model.ResultEnvelope, func(), error)

	// SubscribeMine opens the stream of mine pushes from all agents.
	SubscribeMine(ctx context.Context) (<-chan model.MineEntry, func(), error)
}

// AgentTransport is the agent-side transport contract.
type AgentTransport interface {
	// Deliveries yields serialized jobs addressed to this agent.
	Deliveries(ctx context.Context) (<-chan json.RawMessage, func(), error)

	// Respond sends one result envelope back to the master.
	Respond(ctx context.Context, env model.ResultEnvelope) error

	// PushMine publishes a mine entry for this agent.
	PushMine(ctx context.Context, entry model.MineEntry) error
}

// MineStore is the master-side backing store for mine entries, keyed by
// agent id. Concurrent pushes from different agents never conflict; a push
// racing a read for the same agent is last-write-wins.
type MineStore interface {
	// Set replaces the value for (agent, function) entirely.
	Set(ctx context.Context, entry model.MineEntry) error

	// Get returns the entry for (agent, function), or nil when the agent
	// never pushed that function.
	Get(ctx context.Context, agentID, function string) (*model.MineEntry, error)

	// Flush removes every entry for the agent.
	Flush(ctx context.Context, agentID string) error
}

// JobHistoryRepository persists dispatched jobs and their finalized outcomes
// (the master job cache).
type JobHistoryRepository interface {
	Record(ctx context.Context, job *model.Job, resolved []string) error
	Finalize(ctx context.Context, outcome *model.Outcome) error
	GetByID(ctx context.Context, jobID string) (*model.JobRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*model.JobRecord, error)
}

// VCS is the version-control collaborator a fileserver backend drives. One
// VCS value manages one local mirror of one remote repository.
type VCS interface {
	// CloneOrOpen ensures the local mirror exists, cloning on first use.
	CloneOrOpen(ctx context.Context) error

	// Fetch pulls the latest refs from the remote into the mirror.
	Fetch(ctx context.Context) error

	// ListRefs maps ref names (branches and tags) to revision ids.
	ListRefs(ctx context.Context) (map[string]string, error)

	// DefaultBranch returns the name of the remote's default branch.
	DefaultBranch(ctx context.Context) (string, error)

	// ReadBlob writes the file's bytes at the given revision to dst.
	ReadBlob(ctx context.Context, revision, path, dst string) error

	// BlobHash returns the VCS-native content id of the file at the given
	// revision. Cheap; used for cache freshness checks.
	BlobHash(ctx context.Context, revision, path string) (string, error)

	// ListTree returns every file path reachable at the given revision.
	ListTree(ctx context.Context, revision string) ([]string, error)

	// Remote returns the configured remote URL (used for logging).
	Remote() string

	// Root returns the mirror's local root directory.
	Root() string
}
