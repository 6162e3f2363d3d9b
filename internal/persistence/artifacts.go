package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/stage"
)

// SaveArtifact stores a stage artifact. Uses ON CONFLICT so saving the same
// kind twice leaves a single row holding the latest value.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, id string, a artifact.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode %s artifact: %w", a.Kind(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (task_id, kind, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, kind) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, id, string(a.Kind()), string(data), s.stamp())
	if err != nil {
		return fmt.Errorf("failed to save %s artifact: %w", a.Kind(), err)
	}
	return nil
}

// GetArtifact loads the artifact of kind for a task. A missing artifact is
// reported with ok=false, not an error.
func (s *SQLiteStore) GetArtifact(ctx context.Context, id string, kind artifact.Kind) (artifact.Artifact, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE task_id = ? AND kind = ?`, id, string(kind)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query artifact: %w", err)
	}

	a, err := artifact.Decode(kind, []byte(data))
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// RecordInvocation appends a stage invocation to the audit trail.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, rec stage.InvocationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_invocations (task_id, stage, attempt, input, output, success, error,
			cost_units, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TaskID, rec.Stage.String(), rec.Attempt, rec.Input, rec.Output, success, rec.Error,
		rec.CostUnits, rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// ListInvocations returns a task's invocations in the order they were made.
// Returns empty slice (not nil) if there are none.
func (s *SQLiteStore) ListInvocations(ctx context.Context, id string) ([]stage.InvocationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, stage, attempt, input, output, success, error, cost_units, started_at, ended_at
		FROM stage_invocations
		WHERE task_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	records := []stage.InvocationRecord{}
	for rows.Next() {
		var (
			rec            stage.InvocationRecord
			stageName      string
			success        int
			started, ended int64
		)
		if err := rows.Scan(&rec.TaskID, &stageName, &rec.Attempt, &rec.Input, &rec.Output, &success,
			&rec.Error, &rec.CostUnits, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		if rec.Stage, err = stage.Parse(stageName); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.StartedAt = fromStamp(started)
		rec.EndedAt = fromStamp(ended)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}
	return records, nil
}
