package model

import "errors"

// Shared sentinel errors for the dispatch domain. Expected conditions
// (not-found, busy, stale) are reported as typed values, never panics.
var (
	// ErrBadTargetSpec is returned when a target expression cannot be
	// parsed. This is the only synchronous rejection in the dispatch path.
	ErrBadTargetSpec = errors.New("unparseable target spec")

	// ErrCollectorClosed is returned by Next and Wait on a collector that
	// was abandoned via Close before collection finished.
	ErrCollectorClosed = errors.New("collector closed")

	// ErrJobNotFound is returned when a job id is unknown to both the
	// active collector set and the job history store.
	ErrJobNotFound = errors.New("job not found")
)
