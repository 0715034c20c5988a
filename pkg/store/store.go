// Package store defines the run archive: a record of each completed
// conversation run, kept for inspection and debugging. Adapters live in
// the memory and postgres subpackages.
package store

import (
	"context"
	"time"
)

// Cell records one code execution performed during a run.
type Cell struct {
	// Code is the Python source that was executed.
	Code string `json:"code"`

	// Status is "success" or "error".
	Status string `json:"status"`

	// Error holds the execution error message for failed cells.
	Error string `json:"error,omitempty"`

	// Artifacts is the number of result artifacts the cell produced.
	Artifacts int `json:"artifacts"`
}

// Run is the archived record of one conversation run.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Prompt is the user message that started the run.
	Prompt string `json:"prompt"`

	// Model is the chat model that handled the run.
	Model string `json:"model"`

	// Reply is the assistant's text reply, if any.
	Reply string `json:"reply,omitempty"`

	// Cells are the code executions performed during the run, in
	// tool-call order.
	Cells []Cell `json:"cells,omitempty"`

	// ImageFile is the path the first PNG artifact was written to,
	// empty when the run produced no image.
	ImageFile string `json:"image_file,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RunStore persists archived runs.
type RunStore interface {
	// SaveRun persists a run. Returns ErrConflict if the ID exists.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. Returns ErrNotFound if absent.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
