package store

import "errors"

// Sentinel errors for run archive operations.
var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("run not found")

	// ErrConflict is returned when a run with the given ID already exists.
	ErrConflict = errors.New("run already exists")
)
