package model

import (
	"encoding/json"
	"time"
)

// MineEntry is one agent's self-reported value for one function. A push is a
// full replace per (agent, function); the mine itself enforces no expiry.
type MineEntry struct {
	AgentID   string          `json:"id"`
	Function  string          `json:"fun"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AgentRecord is one live entry in the agent registry: the agent's id plus
// the grain document it reported at registration.
type AgentRecord struct {
	ID     string          `json:"id"`
	Grains json.RawMessage `json:"grains,omitempty"`
}
