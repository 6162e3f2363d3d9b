package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/pipeline"
	"github.com/aristath/blogflow/internal/stage"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTask(t *testing.T, store *SQLiteStore) string {
	t.Helper()
	id, err := store.CreateTask(context.Background(), pipeline.TaskSpec{
		Topic:         "Go generics",
		ReferenceURLs: []string{"https://go.dev/doc", "notes.md"},
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return id
}

func TestCreateAndGetTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := createTask(t, store)

	task, err := store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Topic != "Go generics" {
		t.Errorf("Expected topic, got %q", task.Topic)
	}
	if task.Status != pipeline.StatusCreated {
		t.Errorf("Expected created status, got %s", task.Status)
	}
	if task.TargetWordCount != pipeline.DefaultTargetWordCount || task.Style != pipeline.DefaultStyle {
		t.Errorf("Expected defaults applied, got %+v", task.TaskSpec)
	}
	if len(task.ReferenceURLs) != 2 || task.ReferenceURLs[1] != "notes.md" {
		t.Errorf("Expected reference urls round trip, got %v", task.ReferenceURLs)
	}
	if task.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestCreateTaskRequiresTopic(t *testing.T) {
	store := testStore(t)
	if _, err := store.CreateTask(context.Background(), pipeline.TaskSpec{}); err == nil {
		t.Error("Expected error for empty topic")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, pipeline.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	if err := store.UpdateTaskStatus(ctx, "missing", pipeline.StatusFailed, "x"); !errors.Is(err, pipeline.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound from update, got %v", err)
	}
}

func TestUpdateTaskFields(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := createTask(t, store)

	if err := store.UpdateTaskStatus(ctx, id, pipeline.StatusRewriting, "rewrite"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if err := store.SaveRewriteCount(ctx, id, 2); err != nil {
		t.Fatalf("SaveRewriteCount failed: %v", err)
	}

	task, err := store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != pipeline.StatusRewriting || task.Stage != "rewrite" {
		t.Errorf("Expected rewriting/rewrite, got %s/%q", task.Status, task.Stage)
	}
	if task.RewriteCount != 2 || task.Published {
		t.Errorf("Unexpected task: %+v", task)
	}

	if err := store.MarkPublished(ctx, id); err != nil {
		t.Fatalf("MarkPublished failed: %v", err)
	}
	task, err = store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !task.Published || task.Status != pipeline.StatusPublished || task.Stage != "publish" {
		t.Errorf("Expected published flag and status together, got %+v", task)
	}
	if task.UpdatedAt.Before(task.CreatedAt) {
		t.Error("Expected updated_at >= created_at")
	}
}

func TestListTasks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", tasks)
	}

	clock := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	first := createTask(t, store)
	second := createTask(t, store)

	tasks, err = store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != second || tasks[1].ID != first {
		t.Errorf("Expected newest first, got %v", tasks)
	}
}

func TestSaveArtifactIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := createTask(t, store)

	d := artifact.Draft{Title: "T", Body: "one", WordCount: 1}
	for i := 0; i < 3; i++ {
		if err := store.SaveArtifact(ctx, id, d); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}
	}
	d.Body, d.WordCount = "one two", 2
	if err := store.SaveArtifact(ctx, id, d); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	var rows int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM artifacts WHERE task_id = ?`, id).Scan(&rows); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("Expected one artifact row, got %d", rows)
	}

	got, ok, err := store.GetArtifact(ctx, id, artifact.KindDraft)
	if err != nil || !ok {
		t.Fatalf("GetArtifact failed: %v (%v)", err, ok)
	}
	if got.(artifact.Draft).Body != "one two" {
		t.Errorf("Expected latest draft, got %+v", got)
	}

	if _, ok, err := store.GetArtifact(ctx, id, artifact.KindReview); ok || err != nil {
		t.Errorf("Expected missing review without error, got %v (%v)", ok, err)
	}
}

func TestArtifactKindsRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := createTask(t, store)

	research := artifact.Research{Summary: "s", KeyPoints: []artifact.KeyPoint{{Importance: 3, Content: "k"}}}
	review := artifact.Review{OverallScore: 82, Accuracy: 33, Logic: 24, Originality: 16, Formatting: 9, Recommendation: artifact.Pass}
	for _, a := range []artifact.Artifact{research, review} {
		if err := store.SaveArtifact(ctx, id, a); err != nil {
			t.Fatalf("SaveArtifact(%s) failed: %v", a.Kind(), err)
		}
	}

	got, _, _ := store.GetArtifact(ctx, id, artifact.KindResearch)
	if r, ok := got.(artifact.Research); !ok || r.KeyPoints[0].Content != "k" {
		t.Errorf("Unexpected research: %+v", got)
	}
	got, _, _ = store.GetArtifact(ctx, id, artifact.KindReview)
	if r, ok := got.(artifact.Review); !ok || r.OverallScore != 82 || r.Recommendation != artifact.Pass {
		t.Errorf("Unexpected review: %+v", got)
	}
}

func TestInvocationsAppendOnly(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := createTask(t, store)

	start := time.Unix(1_700_000_000, 0)
	recs := []stage.InvocationRecord{
		{TaskID: id, Stage: stage.Research, Attempt: 1, Input: "in", Error: "unavailable", StartedAt: start, EndedAt: start.Add(time.Second)},
		{TaskID: id, Stage: stage.Research, Attempt: 2, Input: "in", Output: "out", Success: true, CostUnits: 2, StartedAt: start, EndedAt: start},
		{TaskID: id, Stage: stage.Draft, Attempt: 1, Success: true},
	}
	for _, r := range recs {
		if err := store.RecordInvocation(ctx, r); err != nil {
			t.Fatalf("RecordInvocation failed: %v", err)
		}
	}

	got, err := store.ListInvocations(ctx, id)
	if err != nil {
		t.Fatalf("ListInvocations failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 invocations, got %d", len(got))
	}
	if got[0].Success || got[0].Error != "unavailable" || got[0].Attempt != 1 {
		t.Errorf("Unexpected first record: %+v", got[0])
	}
	if !got[1].Success || got[1].CostUnits != 2 || !got[1].StartedAt.Equal(start) {
		t.Errorf("Unexpected second record: %+v", got[1])
	}
	if got[2].Stage != stage.Draft {
		t.Errorf("Expected draft record, got %s", got[2].Stage)
	}

	other, err := store.ListInvocations(ctx, "other")
	if err != nil || other == nil || len(other) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v (%v)", other, err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := createTask(t, store)
	keep := createTask(t, store)

	for _, taskID := range []string{id, keep} {
		if err := store.SaveArtifact(ctx, taskID, artifact.Draft{Title: "T", Body: "# T\n\nbody", WordCount: 2}); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}
		if err := store.RecordInvocation(ctx, stage.InvocationRecord{TaskID: taskID, Stage: stage.Draft, Attempt: 1, Success: true}); err != nil {
			t.Fatalf("RecordInvocation failed: %v", err)
		}
	}

	if err := store.DeleteTask(ctx, id); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	if _, err := store.GetTask(ctx, id); !errors.Is(err, pipeline.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound after delete, got %v", err)
	}
	if _, ok, err := store.GetArtifact(ctx, id, artifact.KindDraft); err != nil || ok {
		t.Errorf("Expected draft deleted, got ok=%v err=%v", ok, err)
	}
	if recs, err := store.ListInvocations(ctx, id); err != nil || len(recs) != 0 {
		t.Errorf("Expected invocations deleted, got %d (%v)", len(recs), err)
	}

	if _, ok, err := store.GetArtifact(ctx, keep, artifact.KindDraft); err != nil || !ok {
		t.Errorf("Expected other task's draft kept, got ok=%v err=%v", ok, err)
	}
	if recs, err := store.ListInvocations(ctx, keep); err != nil || len(recs) != 1 {
		t.Errorf("Expected other task's invocation kept, got %d (%v)", len(recs), err)
	}

	if err := store.DeleteTask(ctx, id); !errors.Is(err, pipeline.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound on second delete, got %v", err)
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "blogflow.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	id := createTask(t, store)
	if err := store.UpdateTaskStatus(ctx, id, pipeline.StatusResearching, "research"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	task, err := reopened.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask after reopen failed: %v", err)
	}
	if task.Status != pipeline.StatusResearching {
		t.Errorf("Expected researching after reopen, got %s", task.Status)
	}
}
