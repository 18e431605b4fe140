package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/domain/model"
)

// Config holds agent runtime tunables.
type Config struct {
	// HeartbeatTTL is the registry record lifetime; the agent re-registers at
	// half this interval so a crashed agent ages out of targeting.
	HeartbeatTTL time.Duration `env:"AGENT_HEARTBEAT_TTL" envDefault:"30s"`
	// MineInterval is how often the agent refreshes its mine functions.
	// Zero disables the periodic push loop.
	MineInterval time.Duration `env:"AGENT_MINE_INTERVAL" envDefault:"1m"`
	// MineFunctions names the functions pushed on every mine refresh.
	MineFunctions []string `env:"AGENT_MINE_FUNCTIONS" envSeparator:"," envDefault:"grains.items"`
}

// Sanitize validates the config and applies bounds.
func (c *Config) Sanitize() error {
	if c.HeartbeatTTL <= 0 {
		return errors.New("agent heartbeat ttl must be positive")
	}
	if c.MineInterval < 0 {
		return errors.New("agent mine interval must not be negative")
	}
	return nil
}

// Agent is one execution node. Run drives its whole lifecycle: registration
// heartbeat, delivery consumption, and the periodic mine push loop.
type Agent struct {
	id        string
	grains    json.RawMessage
	transport core.AgentTransport
	registry  core.RegistryWriter
	funcs     *FuncRegistry
	cfg       Config
	logger    *slog.Logger
}

// Options holds the dependencies for creating an Agent.
type Options struct {
	ID        string
	Grains    json.RawMessage
	Transport core.AgentTransport
	Registry  core.RegistryWriter
	Config    Config
	Logger    *slog.Logger

	// Funcs overrides the built-in function registry when set.
	Funcs *FuncRegistry
}

// New creates an agent runtime.
func New(opts Options) (*Agent, error) {
	if opts.ID == "" {
		return nil, errors.New("agent: id is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("agent: transport is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("agent: registry is required")
	}
	if err := opts.Config.Sanitize(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		id:        opts.ID,
		grains:    opts.Grains,
		transport: opts.Transport,
		registry:  opts.Registry,
		cfg:       opts.Config,
		logger:    logger.With("agent", opts.ID),
	}
	if opts.Funcs != nil {
		a.funcs = opts.Funcs
	} else {
		a.funcs = NewFuncRegistry(a)
	}
	return a, nil
}

// Funcs exposes the agent's function registry so callers can add handlers
// before Run.
func (a *Agent) Funcs() *FuncRegistry { return a.funcs }

// Run registers the agent and serves deliveries until the context is
// cancelled. On return the agent is deregistered.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("initial registration: %w", err)
	}
	defer func() {
		// Best effort: the TTL reaps the record anyway.
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.registry.Deregister(dctx, a.id); err != nil {
			a.logger.Warn("deregister failed", "err", err)
		}
	}()

	if a.cfg.MineInterval > 0 && len(a.cfg.MineFunctions) > 0 {
		if err := a.pushMine(ctx); err != nil {
			a.logger.WarnContext(ctx, "initial mine push failed", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.heartbeatLoop(ctx) })
	g.Go(func() error { return a.deliveryLoop(ctx) })
	if a.cfg.MineInterval > 0 && len(a.cfg.MineFunctions) > 0 {
		g.Go(func() error { return a.mineLoop(ctx) })
	}

	a.logger.InfoContext(ctx, "agent running")
	return g.Wait()
}

func (a *Agent) register(ctx context.Context) error {
	rec := model.AgentRecord{ID: a.id, Grains: a.grains}
	return a.registry.Register(ctx, rec, a.cfg.HeartbeatTTL)
}

func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.HeartbeatTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.register(ctx); err != nil {
				a.logger.WarnContext(ctx, "heartbeat registration failed", "err", err)
			}
		}
	}
}

func (a *Agent) deliveryLoop(ctx context.Context) error {
	deliveries, cancel, err := a.transport.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("subscribe deliveries: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-deliveries:
			if !ok {
				return errors.New("delivery stream closed")
			}
			a.handleDelivery(ctx, payload)
		}
	}
}

// handleDelivery executes one delivered job and always responds, so the
// master never mistakes a failed function for an unresponsive agent.
func (a *Agent) handleDelivery(ctx context.Context, payload json.RawMessage) {
	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		a.logger.WarnContext(ctx, "dropping undecodable delivery", "err", err)
		return
	}

	logger := a.logger.With("jid", job.ID, "fun", job.Function)
	logger.InfoContext(ctx, "executing job")

	execCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, job.Deadline())
		defer cancel()
	}

	result, err := a.funcs.Call(execCtx, job.Function, Call{Args: job.Args, Kwargs: job.Kwargs})

	env := model.ResultEnvelope{
		JobID:      job.ID,
		AgentID:    a.id,
		ReceivedAt: time.Now().UTC(),
	}
	if err != nil {
		env.Errored = true
		env.Payload, _ = json.Marshal(err.Error())
		logger.WarnContext(ctx, "function failed", "err", err)
	} else {
		payload, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			env.Errored = true
			env.Payload, _ = json.Marshal(fmt.Sprintf("marshal result: %v", marshalErr))
		} else {
			env.Payload = payload
		}
	}

	if respondErr := a.transport.Respond(ctx, env); respondErr != nil {
		logger.ErrorContext(ctx, "respond failed", "err", respondErr)
	}
}

func (a *Agent) mineLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.MineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.pushMine(ctx); err != nil {
				a.logger.WarnContext(ctx, "mine push failed", "err", err)
			}
		}
	}
}

// pushMine refreshes every configured mine function.
func (a *Agent) pushMine(ctx context.Context) error {
	var errs []error
	for _, name := range a.cfg.MineFunctions {
		if err := a.pushMineFunction(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pushMineFunction executes one function locally and publishes its value as
// this agent's mine entry for that function.
func (a *Agent) pushMineFunction(ctx context.Context, name string) error {
	result, err := a.funcs.Call(ctx, name, Call{})
	if err != nil {
		return fmt.Errorf("mine function %s: %w", name, err)
	}
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal mine value for %s: %w", name, err)
	}
	entry := model.MineEntry{
		AgentID:   a.id,
		Function:  name,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.transport.PushMine(ctx, entry); err != nil {
		return fmt.Errorf("push mine entry for %s: %w", name, err)
	}
	return nil
}
