package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/target/muster/internal/agent"
)

// AgentConfig is the muster-agent process configuration.
type AgentConfig struct {
	// ID is this agent's identity for targeting. Defaults to the hostname.
	ID string `env:"AGENT_ID"`

	// Grains is an inline JSON document of agent facts.
	Grains string `env:"AGENT_GRAINS" envDefault:"{}"`

	// GrainsFile, when set, is read instead of Grains.
	GrainsFile string `env:"AGENT_GRAINS_FILE"`

	// Runtime holds heartbeat and mine push tunables.
	Runtime agent.Config

	// Redis carries the transport and registry connection.
	Redis RedisConfig `envPrefix:"REDIS_"`
}

// Sanitize applies guardrails and defaults to agent configuration values.
func (a *AgentConfig) Sanitize() error {
	if a.ID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve agent id from hostname: %w", err)
		}
		a.ID = hostname
	}
	return a.Runtime.Sanitize()
}

// LoadGrains returns the agent's grains document, reading GrainsFile when
// set and validating that the result is a JSON object.
func (a *AgentConfig) LoadGrains() (json.RawMessage, error) {
	raw := []byte(a.Grains)
	if a.GrainsFile != "" {
		data, err := os.ReadFile(a.GrainsFile)
		if err != nil {
			return nil, fmt.Errorf("read grains file: %w", err)
		}
		raw = data
	}

	var grains map[string]any
	if err := json.Unmarshal(raw, &grains); err != nil {
		return nil, errors.Join(errors.New("grains must be a JSON object"), err)
	}
	return json.RawMessage(raw), nil
}
