package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// RunStore persists the run audit trail.
type RunStore struct {
	pool  Pool
	table string
}

// NewRunStore constructs a store from an existing pool. An empty table name
// means "sourcing_runs".
func NewRunStore(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "sourcing_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

// CreateRun inserts a run, leaving an existing row with the same id untouched.
func (s *RunStore) CreateRun(ctx context.Context, run sourcing.RunRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, scope, category, status, started_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.table)
	_, err := s.pool.Exec(ctx, query, run.ID, string(run.Scope), run.Category, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *RunStore) FinishRun(ctx context.Context, run sourcing.RunRecord) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, finished_at = $2, created = $3, updated = $4, error_text = $5,
	category = COALESCE(NULLIF($6, ''), category)
WHERE id = $7`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(run.Status),
		run.FinishedAt,
		run.Created,
		run.Updated,
		run.ErrorText,
		run.Category,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sourcing.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (sourcing.RunRecord, error) {
	query := fmt.Sprintf(`
SELECT id, scope, category, status, started_at, finished_at, created, updated, error_text
FROM %s
WHERE id = $1`, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sourcing.RunRecord{}, sourcing.ErrNotFound
		}
		return sourcing.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]sourcing.RunRecord, error) {
	query := fmt.Sprintf(`
SELECT id, scope, category, status, started_at, finished_at, created, updated, error_text
FROM %s
ORDER BY started_at DESC
LIMIT $1 OFFSET $2`, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []sourcing.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (sourcing.RunRecord, error) {
	var (
		run              sourcing.RunRecord
		scope, status    string
		started          time.Time
		finished         *time.Time
		created, updated int32
	)
	err := row.Scan(
		&run.ID,
		&scope,
		&run.Category,
		&status,
		&started,
		&finished,
		&created,
		&updated,
		&run.ErrorText,
	)
	if err != nil {
		return sourcing.RunRecord{}, err
	}
	run.Scope = sourcing.RunScope(scope)
	run.Status = sourcing.RunStatus(status)
	run.StartedAt = started.UTC()
	if finished != nil {
		ts := finished.UTC()
		run.FinishedAt = &ts
	}
	run.Created = int(created)
	run.Updated = int(updated)
	return run, nil
}
