package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrDuplicateJob is returned when recording a job whose jid already exists.
	ErrDuplicateJob = errors.New("job already recorded")
)
