package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist. Timestamps are
// stored as Unix nanoseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		reference_content TEXT NOT NULL DEFAULT '',
		reference_urls TEXT NOT NULL DEFAULT '[]',
		target_word_count INTEGER NOT NULL,
		style TEXT NOT NULL,
		target_audience TEXT NOT NULL,
		status INTEGER NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		rewrite_count INTEGER NOT NULL DEFAULT 0,
		published INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, kind),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS stage_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		input TEXT NOT NULL,
		output TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		cost_units INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_stage_invocations_task
		ON stage_invocations(task_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
