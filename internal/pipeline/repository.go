package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/stage"
)

// ErrTaskNotFound is returned by repositories for unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// Repository persists tasks, their artifacts and the invocation audit trail.
type Repository interface {
	CreateTask(ctx context.Context, spec TaskSpec) (string, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status Status, stage string) error
	SaveRewriteCount(ctx context.Context, id string, count int) error
	// MarkPublished sets the published flag and moves the task to
	// StatusPublished in one write.
	MarkPublished(ctx context.Context, id string) error
	// DeleteTask removes a task with its artifacts and invocation records.
	DeleteTask(ctx context.Context, id string) error

	// SaveArtifact upserts by (task, kind): saving twice leaves one row.
	SaveArtifact(ctx context.Context, id string, a artifact.Artifact) error
	GetArtifact(ctx context.Context, id string, kind artifact.Kind) (artifact.Artifact, bool, error)

	RecordInvocation(ctx context.Context, rec stage.InvocationRecord) error
	ListInvocations(ctx context.Context, id string) ([]stage.InvocationRecord, error)
}

// RepositoryError reports a failed persistence call. It always fails the run.
type RepositoryError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Acquirer turns a task's reference content and sources into the material
// handed to the research stage.
type Acquirer interface {
	PrepareReference(ctx context.Context, content string, sources []string) string
}
