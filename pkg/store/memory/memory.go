// Package memory provides an in-memory store.RunStore for local runs and
// tests. Runs are lost when the process exits.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kreide-dev/kreide/pkg/store"
)

// Store is an in-memory RunStore.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*store.Run
}

// Ensure Store implements store.RunStore at compile time.
var _ store.RunStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		runs: make(map[string]*store.Run),
	}
}

// SaveRun persists a run in memory.
func (s *Store) SaveRun(ctx context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return store.ErrConflict
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
