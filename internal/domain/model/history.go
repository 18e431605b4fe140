package model

import "time"

// JobRecord is the persisted form of a dispatched job in the master job
// cache: the job itself, the agent set it resolved to at dispatch time, and
// the finalized outcome once collection ends.
type JobRecord struct {
	Job         Job       `json:"job"`
	Resolved    []string  `json:"resolved"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
	FinalizedAt time.Time `json:"finalized_at,omitzero"`
}
