// Package model defines the core data types shared across the muster dispatch engine.
package model

import (
	"encoding/json"
	"time"
)

// Job identifies one dispatch operation. A Job is built by the dispatcher at
// dispatch time and is immutable afterwards; the collector that pairs with it
// owns its lifecycle.
type Job struct {
	ID       string         `json:"jid"`
	Function string         `json:"fun"`
	Args     []any          `json:"arg,omitempty"`
	Kwargs   map[string]any `json:"kwarg,omitempty"`
	Target   TargetSpec     `json:"tgt"`
	IssuedAt time.Time      `json:"issued_at"`
	Timeout  time.Duration  `json:"timeout"`
}

// Deadline returns the wall-clock instant at which result collection for this
// job terminates.
func (j *Job) Deadline() time.Time {
	return j.IssuedAt.Add(j.Timeout)
}

// ResultEnvelope is one agent's response to one job. It is created by the
// transport when a response arrives and is consumed exactly once by the
// collector for that job.
type ResultEnvelope struct {
	JobID      string          `json:"jid"`
	AgentID    string          `json:"id"`
	Payload    json.RawMessage `json:"return"`
	Errored    bool            `json:"errored,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Outcome is the finalized aggregate of one job: every resolved agent appears
// either in Results or in Unresponsive, never both and never neither.
type Outcome struct {
	JobID        string                    `json:"jid"`
	Results      map[string]ResultEnvelope `json:"results"`
	Unresponsive []string                  `json:"unresponsive"`
	Expected     int                       `json:"expected"`
	Final        bool                      `json:"final"`
}

// Complete reports whether every expected agent has responded.
func (o *Outcome) Complete() bool {
	return len(o.Results) >= o.Expected
}
