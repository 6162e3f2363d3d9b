package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/blogflow/internal/pipeline"
	"github.com/aristath/blogflow/internal/stage"
)

// CreateTask stores a new task in the Created state and returns its ID.
func (s *SQLiteStore) CreateTask(ctx context.Context, spec pipeline.TaskSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("invalid task: %w", err)
	}
	spec = spec.WithDefaults()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	urls, err := json.Marshal(spec.ReferenceURLs)
	if err != nil {
		return "", fmt.Errorf("failed to encode reference urls: %w", err)
	}

	id := uuid.NewString()
	now := s.stamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, topic, reference_content, reference_urls, target_word_count,
			style, target_audience, status, stage, rewrite_count, published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0, 0, ?, ?)
	`, id, spec.Topic, spec.ReferenceContent, string(urls), spec.TargetWordCount,
		spec.Style, spec.TargetAudience, int(pipeline.StatusCreated), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert task: %w", err)
	}
	return id, nil
}

const taskColumns = `id, topic, reference_content, reference_urls, target_word_count, style,
	target_audience, status, stage, rewrite_count, published, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*pipeline.Task, error) {
	var (
		t                    pipeline.Task
		urls                 string
		status               int
		published            int
		createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.Topic, &t.ReferenceContent, &urls, &t.TargetWordCount, &t.Style,
		&t.TargetAudience, &status, &t.Stage, &t.RewriteCount, &published, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(urls), &t.ReferenceURLs); err != nil {
		return nil, fmt.Errorf("failed to decode reference urls for %s: %w", t.ID, err)
	}
	t.Status = pipeline.Status(status)
	t.Published = published != 0
	t.CreatedAt = fromStamp(createdAt)
	t.UpdatedAt = fromStamp(updatedAt)
	return &t, nil
}

// GetTask retrieves a task by ID. Unknown IDs yield pipeline.ErrTaskNotFound.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*pipeline.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, pipeline.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]pipeline.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	// Return empty slice (not nil) if there are no tasks
	tasks := []pipeline.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus records a status change and the stage label that caused it.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status pipeline.Status, stage string) error {
	return s.updateTask(ctx, id, `status = ?, stage = ?`, int(status), stage)
}

// SaveRewriteCount records how many rewrites a task has used.
func (s *SQLiteStore) SaveRewriteCount(ctx context.Context, id string, count int) error {
	return s.updateTask(ctx, id, `rewrite_count = ?`, count)
}

// MarkPublished flags the task as published and records the Published
// status in the same statement.
func (s *SQLiteStore) MarkPublished(ctx context.Context, id string) error {
	return s.updateTask(ctx, id, `published = 1, status = ?, stage = ?`,
		int(pipeline.StatusPublished), stage.Publish.String())
}

// DeleteTask removes a task together with its artifacts and invocation
// records in one transaction.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"artifacts", "stage_invocations"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, pipeline.ErrTaskNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) updateTask(ctx context.Context, id, set string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	args = append(args, s.stamp(), id)
	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, pipeline.ErrTaskNotFound)
	}
	return nil
}
