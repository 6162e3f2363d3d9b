package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/stage"
)

// memRepo is an in-memory Repository that also logs every status change.
type memRepo struct {
	mu          sync.Mutex
	next        int
	tasks       map[string]*Task
	artifacts   map[string]map[artifact.Kind]artifact.Artifact
	invocations []stage.InvocationRecord
	statuses    map[string][]Status
	saveErr     error
	publishErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		tasks:     make(map[string]*Task),
		artifacts: make(map[string]map[artifact.Kind]artifact.Artifact),
		statuses:  make(map[string][]Status),
	}
}

func (m *memRepo) CreateTask(ctx context.Context, spec TaskSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("task-%d", m.next)
	now := time.Now()
	m.tasks[id] = &Task{ID: id, TaskSpec: spec.WithDefaults(), Status: StatusCreated, CreatedAt: now, UpdatedAt: now}
	return id, nil
}

func (m *memRepo) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) ListTasks(ctx context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateTaskStatus(ctx context.Context, id string, status Status, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status, t.Stage = status, label
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memRepo) SaveRewriteCount(ctx context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].RewriteCount = count
	return nil
}

func (m *memRepo) MarkPublished(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	t := m.tasks[id]
	t.Published, t.Status, t.Stage = true, StatusPublished, stage.Publish.String()
	m.statuses[id] = append(m.statuses[id], StatusPublished)
	return nil
}

func (m *memRepo) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	delete(m.artifacts, id)
	delete(m.statuses, id)
	return nil
}

func (m *memRepo) SaveArtifact(ctx context.Context, id string, a artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.artifacts[id] == nil {
		m.artifacts[id] = make(map[artifact.Kind]artifact.Artifact)
	}
	m.artifacts[id][a.Kind()] = a
	return nil
}

func (m *memRepo) GetArtifact(ctx context.Context, id string, kind artifact.Kind) (artifact.Artifact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id][kind]
	return a, ok, nil
}

func (m *memRepo) RecordInvocation(ctx context.Context, rec stage.InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations = append(m.invocations, rec)
	return nil
}

func (m *memRepo) ListInvocations(ctx context.Context, id string) ([]stage.InvocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []stage.InvocationRecord
	for _, r := range m.invocations {
		if r.TaskID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) statusLog(id string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Status(nil), m.statuses[id]...)
}

// replyFunc scripts one role: call is 1-based per task.
type replyFunc func(ctx context.Context, call int, msg backend.Message) (string, error)

type fakeBackend struct {
	mu    sync.Mutex
	id    string
	calls int
	reply replyFunc
}

func (f *fakeBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	out, err := f.reply(ctx, call, msg)
	return backend.Response{Content: out, SessionID: f.id}, err
}

func (f *fakeBackend) Close() error      { return nil }
func (f *fakeBackend) SessionID() string { return f.id }

const goodResearch = `{"summary": "Channels coordinate goroutines.", "key_points": [{"importance": 3, "content": "Unbuffered channels synchronize."}]}`

func researchOK(context.Context, int, backend.Message) (string, error) {
	return goodResearch, nil
}

func writerOK(_ context.Context, call int, _ backend.Message) (string, error) {
	return fmt.Sprintf("# Channels in Go\n\nVersion %d of the article about channels.", call), nil
}

// scores makes a reviewer that returns the given overall scores in order.
func scores(seq ...int) replyFunc {
	return func(_ context.Context, call int, _ backend.Message) (string, error) {
		if call > len(seq) {
			return "", fmt.Errorf("unexpected review call %d", call)
		}
		return fmt.Sprintf(`{"overall_score": %d, "issues": [{"category": "logic", "severity": "high", "description": "issue from review %d"}], "suggestions": ["suggestion %d"], "summary": "review %d"}`,
			seq[call-1], call, call, call), nil
	}
}

type harness struct {
	o    *Orchestrator
	repo *memRepo
	bus  *events.EventBus
	pool *backend.Pool
}

func newHarness(t *testing.T, cfg Config, researcher, writer, reviewer replyFunc) *harness {
	t.Helper()
	replies := map[string]replyFunc{
		stage.RoleResearcher: researcher,
		stage.RoleWriter:     writer,
		stage.RoleReviewer:   reviewer,
	}
	factory := func(role string, c backend.Config) (backend.Backend, error) {
		return &fakeBackend{id: c.SessionID, reply: replies[role]}, nil
	}
	pool := backend.NewPool(map[string]backend.Config{
		stage.RoleResearcher: {Type: "claude"},
		stage.RoleWriter:     {Type: "claude"},
		stage.RoleReviewer:   {Type: "claude"},
	}, nil, backend.WithFactory(factory))
	if err := pool.Open(context.Background()); err != nil {
		t.Fatalf("Open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Close)

	repo := newMemRepo()
	o, err := New(cfg, Deps{Repo: repo, Pool: pool, Bus: bus})
	if err != nil {
		t.Fatalf("New orchestrator: %v", err)
	}
	return &harness{o: o, repo: repo, bus: bus, pool: pool}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = stage.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	return cfg
}

func (h *harness) createTask(t *testing.T) string {
	t.Helper()
	id, err := h.repo.CreateTask(context.Background(), TaskSpec{Topic: "Go channels"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return id
}

// assertLegalTransitions checks every recorded status change is allowed.
func assertLegalTransitions(t *testing.T, log []Status) {
	t.Helper()
	prev := StatusCreated
	for _, s := range log {
		if !CanTransition(prev, s) {
			t.Errorf("Illegal transition %s -> %s in %v", prev, s, log)
		}
		prev = s
	}
}
