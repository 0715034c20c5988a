// Package postgres provides a PostgreSQL implementation of store.RunStore.
// It uses pgx/v5 for connection pooling and JSONB for the cell records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kreide-dev/kreide/pkg/store"
)

// Store is a PostgreSQL-backed RunStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements store.RunStore at compile time.
var _ store.RunStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveRun persists a completed run.
func (s *Store) SaveRun(ctx context.Context, run *store.Run) error {
	var cellsJSON []byte
	if run.Cells != nil {
		var err error
		cellsJSON, err = json.Marshal(run.Cells)
		if err != nil {
			return fmt.Errorf("marshaling cells: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, prompt, model, reply, cells, image_file, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		run.ID, run.Prompt, run.Model, nullString(run.Reply),
		nullJSON(cellsJSON), nullString(run.ImageFile), run.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, prompt, model, reply, cells, image_file, created_at
		FROM runs
		WHERE id = $1
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, prompt, model, reply, cells, image_file, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return runs, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*store.Run, error) {
	var run store.Run
	var reply, imageFile *string
	var cellsJSON *[]byte

	err := row.Scan(&run.ID, &run.Prompt, &run.Model, &reply, &cellsJSON, &imageFile, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	if reply != nil {
		run.Reply = *reply
	}
	if imageFile != nil {
		run.ImageFile = *imageFile
	}
	if cellsJSON != nil {
		if err := json.Unmarshal(*cellsJSON, &run.Cells); err != nil {
			return nil, fmt.Errorf("unmarshaling cells: %w", err)
		}
	}

	return &run, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
