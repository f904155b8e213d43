package registry

import (
	"context"
	"fmt"

	"github.com/csirt-za/nrdwatch/internal/idgen"
)

// RecordRun logs one completed pipeline stage execution.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = idgen.Default()
	}
	if r.FinishedAt == "" {
		r.FinishedAt = nowRFC3339()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, stage, started_at, finished_at, result, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Stage, r.StartedAt, r.FinishedAt, r.Result, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.Stage, err)
	}
	return nil
}

// RecentRuns returns the latest stage executions, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, stage, started_at, finished_at, result, detail
		FROM pipeline_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Stage, &r.StartedAt, &r.FinishedAt,
			&r.Result, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
