// Package pipeline drives a task through research, drafting, review and the
// bounded rewrite loop, persisting every step and reporting progress as an
// ordered event stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/metrics"
	"github.com/aristath/blogflow/internal/safety"
	"github.com/aristath/blogflow/internal/stage"
)

var (
	// ErrRetryBudgetExhausted ends a run whose reviews never reached the
	// publish threshold within the allowed rewrites.
	ErrRetryBudgetExhausted = errors.New("rewrite budget exhausted")

	// ErrAlreadyRunning is returned when a task already has a live run.
	ErrAlreadyRunning = errors.New("task is already running")

	// ErrNotRunnable is returned for tasks that have left the Created state.
	ErrNotRunnable = errors.New("task is not in a runnable state")
)

// NoReferenceMaterial is the research input when a task has no references.
const NoReferenceMaterial = "No reference material provided. Research the topic from general knowledge."

// Config holds the orchestrator's policy knobs.
type Config struct {
	PublishThreshold int
	MaxRewrites      int
	ProgressTTL      time.Duration
	Concurrency      int
	Retry            stage.RetryConfig
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		PublishThreshold: 80,
		MaxRewrites:      3,
		ProgressTTL:      DefaultProgressTTL,
		Concurrency:      4,
		Retry:            stage.DefaultRetryConfig(),
	}
}

// Deps are the orchestrator's collaborators. Repo and Pool are required.
type Deps struct {
	Repo     Repository
	Pool     *backend.Pool
	Acquirer Acquirer
	Store    *artifact.Store
	Progress *ProgressCache
	Bus      *events.EventBus
	Chain    safety.Chain
	Metrics  *metrics.Metrics
	Breakers *stage.CircuitBreakerRegistry
}

// Result summarizes a finished run.
type Result struct {
	TaskID     string           `json:"task_id"`
	Status     Status           `json:"status"`
	Rewrites   int              `json:"rewrites"`
	Message    string           `json:"message"`
	Draft      *artifact.Draft  `json:"draft,omitempty"`
	Review     *artifact.Review `json:"review,omitempty"`
	Diagnostic *Diagnostic      `json:"diagnostic,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// WorkflowState is a task's persisted position.
type WorkflowState struct {
	TaskID       string `json:"task_id"`
	Status       Status `json:"status"`
	StatusName   string `json:"status_name"`
	Stage        string `json:"stage"`
	HasResearch  bool   `json:"has_research"`
	HasDraft     bool   `json:"has_draft"`
	HasReview    bool   `json:"has_review"`
	IsPublished  bool   `json:"is_published"`
	RewriteCount int    `json:"rewrite_count"`
}

// Orchestrator runs tasks through the pipeline graph.
type Orchestrator struct {
	cfg      Config
	graph    *Graph
	policy   *stage.RetryPolicy
	repo     Repository
	pool     *backend.Pool
	acquirer Acquirer
	store    *artifact.Store
	progress *ProgressCache
	bus      *events.EventBus
	chain    safety.Chain
	metrics  *metrics.Metrics
	breakers *stage.CircuitBreakerRegistry

	mu      sync.Mutex
	running map[string]struct{}
}

// New validates cfg, builds the pipeline graph and wires deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Repo == nil {
		return nil, errors.New("orchestrator requires a repository")
	}
	if deps.Pool == nil {
		return nil, errors.New("orchestrator requires a backend pool")
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = DefaultProgressTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	graph, err := NewGraph(cfg.PublishThreshold, cfg.MaxRewrites)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline graph: %w", err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		graph:    graph,
		policy:   stage.NewRetryPolicy(cfg.Retry, deps.Metrics),
		repo:     deps.Repo,
		pool:     deps.Pool,
		acquirer: deps.Acquirer,
		store:    deps.Store,
		progress: deps.Progress,
		bus:      deps.Bus,
		chain:    deps.Chain,
		metrics:  deps.Metrics,
		breakers: deps.Breakers,
		running:  make(map[string]struct{}),
	}
	if o.store == nil {
		o.store = artifact.NewStore()
	}
	if o.progress == nil {
		o.progress = NewProgressCache()
	}
	if o.breakers == nil {
		o.breakers = stage.NewCircuitBreakerRegistry()
	}
	return o, nil
}

// Graph returns the pipeline graph.
func (o *Orchestrator) Graph() *Graph { return o.graph }

// StartWorkflow runs taskID in the background and returns its event stream.
// The channel is closed after the final WorkflowFinished event. Sends block
// until the consumer reads or ctx is done. Once ctx is done only the
// WorkflowFinished event is still sent, and only if the buffer has room.
func (o *Orchestrator) StartWorkflow(ctx context.Context, taskID string) (<-chan events.Event, error) {
	if err := o.claim(taskID); err != nil {
		return nil, err
	}

	ch := make(chan events.Event, 16)
	emit := func(e events.Event) {
		o.publish(e)
		if ctx.Err() == nil {
			select {
			case ch <- e:
				return
			case <-ctx.Done():
			}
		}
		if _, final := e.(events.WorkflowFinishedEvent); final {
			select {
			case ch <- e:
			default:
				log.Printf("WARNING: event stream for task %s full, dropping finished event", taskID)
			}
		}
	}

	go func() {
		defer close(ch)
		defer o.release(taskID)
		if _, err := o.execute(ctx, taskID, emit); err != nil {
			log.Printf("Task %s finished with error: %v", taskID, err)
		}
	}()
	return ch, nil
}

// Run executes taskID and waits for it. Events go to the bus only.
func (o *Orchestrator) Run(ctx context.Context, taskID string) (Result, error) {
	if err := o.claim(taskID); err != nil {
		return Result{TaskID: taskID}, err
	}
	defer o.release(taskID)
	return o.execute(ctx, taskID, o.publish)
}

// RunAll runs many tasks, at most Config.Concurrency at a time. Every task
// is attempted; the returned error joins the individual failures.
func (o *Orchestrator) RunAll(ctx context.Context, taskIDs []string) ([]Result, error) {
	results := make([]Result, len(taskIDs))
	errs := make([]error, len(taskIDs))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, id := range taskIDs {
		g.Go(func() error {
			res, err := o.Run(ctx, id)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("task %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// GetProgress returns the latest snapshot for taskID, if it has not expired.
func (o *Orchestrator) GetProgress(taskID string) (Snapshot, bool) {
	return o.progress.Get(taskID)
}

// GetWorkflowState reads a task's persisted state.
func (o *Orchestrator) GetWorkflowState(ctx context.Context, taskID string) (WorkflowState, error) {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return WorkflowState{}, err
	}
	st := WorkflowState{
		TaskID:       task.ID,
		Status:       task.Status,
		StatusName:   task.Status.String(),
		Stage:        task.Stage,
		IsPublished:  task.Published,
		RewriteCount: task.RewriteCount,
	}
	for kind, has := range map[artifact.Kind]*bool{
		artifact.KindResearch: &st.HasResearch,
		artifact.KindDraft:    &st.HasDraft,
		artifact.KindReview:   &st.HasReview,
	} {
		_, ok, err := o.repo.GetArtifact(ctx, taskID, kind)
		if err != nil {
			return WorkflowState{}, &RepositoryError{Op: "get artifact", TaskID: taskID, Err: err}
		}
		*has = ok
	}
	return st, nil
}

// DeleteTask removes a task and everything recorded for it. A task with a
// live run cannot be deleted.
func (o *Orchestrator) DeleteTask(ctx context.Context, taskID string) error {
	if err := o.claim(taskID); err != nil {
		return err
	}
	defer o.release(taskID)

	if err := o.repo.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	o.progress.Delete(taskID)
	o.store.Discard(taskID)
	log.Printf("Deleted task %s", taskID)
	return nil
}

// Running reports whether taskID has a live run.
func (o *Orchestrator) Running(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[taskID]
	return ok
}

func (o *Orchestrator) claim(taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[taskID]; ok {
		return fmt.Errorf("%s: %w", taskID, ErrAlreadyRunning)
	}
	o.running[taskID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, taskID)
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(events.TopicFor(e), e)
	}
}

// execute performs one run. The store entries for the task are dropped when
// it returns, whatever the outcome.
func (o *Orchestrator) execute(ctx context.Context, taskID string, emit func(events.Event)) (Result, error) {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return Result{TaskID: taskID}, err
	}
	if task.Status != StatusCreated {
		return Result{TaskID: taskID, Status: task.Status}, fmt.Errorf("%s is %s: %w", taskID, task.Status, ErrNotRunnable)
	}

	lease, err := o.pool.Lease(ctx, taskID)
	if err != nil {
		return Result{TaskID: taskID, Status: task.Status}, fmt.Errorf("failed to lease backends: %w", err)
	}
	defer func() {
		if err := lease.Release(); err != nil {
			log.Printf("WARNING: task %s: releasing backends: %v", taskID, err)
		}
	}()
	defer o.store.Discard(taskID)

	o.metrics.RunStarted()
	log.Printf("Task %s started: %q", taskID, task.Topic)

	r := &run{
		o:     o,
		task:  task,
		lease: lease,
		emit:  emit,
		state: machine{status: task.Status},
	}
	res, err := r.drive(ctx)

	o.metrics.RunFinished(res.Status.String())
	log.Printf("Task %s finished: %s", taskID, res.Status)
	return res, err
}
