package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/stage"
)

const previewLength = 280

// run is the state of one task's traversal of the graph.
type run struct {
	o     *Orchestrator
	task  *Task
	lease *backend.Lease
	emit  func(events.Event)
	state machine

	rewrites int
	review   artifact.Review
	draft    artifact.Draft
}

// drive walks the graph from Research until a terminal stage.
func (r *run) drive(ctx context.Context) (Result, error) {
	if err := r.prepare(ctx); err != nil {
		return r.failStage(ctx, stage.Research, err, time.Now())
	}

	cur := stage.Research
	for {
		started := time.Now()
		var err error
		switch cur {
		case stage.Research:
			err = r.runResearch(ctx)
		case stage.Draft:
			err = r.runDraft(ctx)
		case stage.Review:
			err = r.runReview(ctx)
		case stage.Rewrite:
			err = r.runRewrite(ctx)
		case stage.Publish:
			return r.publish(ctx)
		case stage.Failure:
			return r.exhausted(ctx)
		}
		if err != nil {
			return r.failStage(ctx, cur, err, started)
		}

		next, err := r.o.graph.Next(cur, r.review.OverallScore, r.rewrites)
		if err != nil {
			return r.failStage(ctx, cur, err, started)
		}
		cur = next
	}
}

// prepare gathers reference material and seeds the store.
func (r *run) prepare(ctx context.Context) error {
	reference := NoReferenceMaterial
	if r.o.acquirer != nil {
		reference = r.o.acquirer.PrepareReference(ctx, r.task.ReferenceContent, r.task.ReferenceURLs)
	} else if r.task.ReferenceContent != "" {
		reference = r.task.ReferenceContent
	}

	if err := r.o.store.Put(r.task.ID, artifact.ScopePipeline, artifact.KeyTask, r.task.TaskSpec); err != nil {
		return err
	}
	if err := r.o.store.Put(r.task.ID, artifact.ScopePipeline, artifact.KeyReference, reference); err != nil {
		return err
	}
	return r.o.store.Put(r.task.ID, artifact.ScopePipeline, artifact.KeyRewriteCount, 0)
}

func (r *run) deps() stage.Deps {
	return stage.Deps{
		Recorder: r.o.repo,
		Breakers: r.o.breakers,
		Chain:    r.o.chain,
		Metrics:  r.o.metrics,
	}
}

// backendFor leases the capability backing id.
func (r *run) backendFor(ctx context.Context, id stage.ID) (backend.Backend, []string, error) {
	role := id.Role()
	b, err := r.lease.Backend(ctx, role)
	if err != nil {
		return nil, nil, err
	}
	return b, r.lease.Tools(role), nil
}

// load reads a required upstream artifact from the store.
func (r *run) load(key string, dst any) error {
	ok, err := r.o.store.Get(r.task.ID, artifact.ScopePipeline, key, dst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, stage.ErrMissingInput)
	}
	return nil
}

func (r *run) runResearch(ctx context.Context) error {
	var reference string
	if err := r.load(artifact.KeyReference, &reference); err != nil {
		return err
	}
	b, tools, err := r.backendFor(ctx, stage.Research)
	if err != nil {
		return err
	}

	exec := stage.NewResearch(b, tools, r.deps())
	_, err = invokeStage(ctx, r, exec, stage.ResearchInput{Topic: r.task.Topic, Reference: reference}, artifact.KeyResearch)
	return err
}

func (r *run) draftInput() (stage.DraftInput, error) {
	var research artifact.Research
	if err := r.load(artifact.KeyResearch, &research); err != nil {
		return stage.DraftInput{}, err
	}
	return stage.DraftInput{
		Topic:           r.task.Topic,
		Research:        research,
		TargetWordCount: r.task.TargetWordCount,
		Style:           r.task.Style,
		Audience:        r.task.TargetAudience,
	}, nil
}

func (r *run) runDraft(ctx context.Context) error {
	in, err := r.draftInput()
	if err != nil {
		return err
	}
	b, tools, err := r.backendFor(ctx, stage.Draft)
	if err != nil {
		return err
	}

	d, err := invokeStage(ctx, r, stage.NewDraft(b, tools, r.deps()), in, artifact.KeyDraft)
	if err != nil {
		return err
	}
	r.draft = d
	return nil
}

func (r *run) runReview(ctx context.Context) error {
	var d artifact.Draft
	if err := r.load(artifact.KeyDraft, &d); err != nil {
		return err
	}
	b, tools, err := r.backendFor(ctx, stage.Review)
	if err != nil {
		return err
	}

	in := stage.ReviewInput{Topic: r.task.Topic, Draft: d, TargetWordCount: r.task.TargetWordCount}
	rev, err := invokeStage(ctx, r, stage.NewReview(b, tools, r.deps()), in, artifact.KeyReview)
	if err != nil {
		return err
	}
	r.review = rev
	return nil
}

// runRewrite spends one unit of the rewrite budget and replaces the draft.
func (r *run) runRewrite(ctx context.Context) error {
	if r.rewrites >= r.o.cfg.MaxRewrites {
		return fmt.Errorf("rewrite %d refused: %w", r.rewrites+1, ErrRetryBudgetExhausted)
	}

	base, err := r.draftInput()
	if err != nil {
		return err
	}
	in := stage.RewriteInput{DraftInput: base}
	if err := r.load(artifact.KeyDraft, &in.Previous); err != nil {
		return err
	}
	if err := r.load(artifact.KeyReview, &in.Review); err != nil {
		return err
	}

	r.rewrites++
	if err := r.o.store.Put(r.task.ID, artifact.ScopePipeline, artifact.KeyRewriteCount, r.rewrites); err != nil {
		return err
	}
	if err := r.o.repo.SaveRewriteCount(ctx, r.task.ID, r.rewrites); err != nil {
		return r.repoErr("save rewrite count", err)
	}
	r.o.metrics.IncRewrite()
	log.Printf("Task %s: rewrite %d/%d after score %d", r.task.ID, r.rewrites, r.o.cfg.MaxRewrites, in.Review.OverallScore)

	b, tools, err := r.backendFor(ctx, stage.Rewrite)
	if err != nil {
		return err
	}
	d, err := invokeStage(ctx, r, stage.NewRewrite(b, tools, r.deps()), in, artifact.KeyDraft)
	if err != nil {
		return err
	}
	r.draft = d
	return nil
}

// publish marks the task published; the review passed. The flag and the
// Published status are written together so a failure leaves neither.
func (r *run) publish(ctx context.Context) (Result, error) {
	if !CanTransition(r.state.status, StatusPublished) {
		err := fmt.Errorf("illegal status transition %s -> %s", r.state.status, StatusPublished)
		return r.failStage(ctx, stage.Publish, err, time.Now())
	}
	if err := r.o.repo.MarkPublished(ctx, r.task.ID); err != nil {
		return r.failStage(ctx, stage.Publish, r.repoErr("mark published", err), time.Now())
	}
	if err := r.state.advance(StatusPublished); err != nil {
		return r.failStage(ctx, stage.Publish, err, time.Now())
	}

	msg := fmt.Sprintf("Published %q: %d words, score %d/100 (%s)",
		r.draft.Title, r.draft.WordCount, r.review.OverallScore, r.review.Recommendation)
	d, rev := r.draft, r.review
	r.o.progress.Set(r.task.ID, Snapshot{
		Step:         int(stage.Publish),
		StepName:     stage.Publish.Title(),
		Status:       ProgressCompleted,
		Message:      msg,
		Preview:      preview(d.Body),
		Draft:        &d,
		Review:       &rev,
		RewriteCount: r.rewrites,
	}, r.o.cfg.ProgressTTL)
	r.emit(events.WorkflowFinishedEvent{
		ID:        r.task.ID,
		Status:    "published",
		Message:   msg,
		Rewrites:  r.rewrites,
		Score:     r.review.OverallScore,
		Timestamp: time.Now(),
	})

	return Result{
		TaskID:   r.task.ID,
		Status:   StatusPublished,
		Rewrites: r.rewrites,
		Message:  msg,
		Draft:    &d,
		Review:   &rev,
	}, nil
}

// exhausted ends a run whose rewrite budget ran out below the threshold.
func (r *run) exhausted(ctx context.Context) (Result, error) {
	diag := newDiagnostic(r.review, r.rewrites)
	err := fmt.Errorf("final score %d below %d after %d rewrites: %w",
		r.review.OverallScore, r.o.cfg.PublishThreshold, r.rewrites, ErrRetryBudgetExhausted)
	log.Printf("ERROR: task %s: %v", r.task.ID, err)

	if terr := r.transition(ctx, StatusFailed, stage.Failure.String()); terr != nil {
		log.Printf("ERROR: task %s: %v", r.task.ID, terr)
	}

	msg := diag.String()
	d, rev := r.draft, r.review
	r.o.progress.Set(r.task.ID, Snapshot{
		Step:         int(stage.Failure),
		StepName:     stage.Failure.Title(),
		Status:       ProgressFailed,
		Message:      msg,
		Draft:        &d,
		Review:       &rev,
		Error:        err.Error(),
		RewriteCount: r.rewrites,
	}, r.o.cfg.ProgressTTL)
	r.emit(events.WorkflowFinishedEvent{
		ID:        r.task.ID,
		Status:    "failed",
		Message:   msg,
		Rewrites:  r.rewrites,
		Score:     r.review.OverallScore,
		Timestamp: time.Now(),
	})

	return Result{
		TaskID:     r.task.ID,
		Status:     StatusFailed,
		Rewrites:   r.rewrites,
		Message:    msg,
		Draft:      &d,
		Review:     &rev,
		Diagnostic: diag,
		Error:      err.Error(),
	}, err
}

// failStage reports an unrecoverable stage error and marks the task failed.
// A cancelled run is recorded under the "cancelled" stage label through a
// context that outlives the cancellation.
func (r *run) failStage(ctx context.Context, id stage.ID, err error, started time.Time) (Result, error) {
	label := id.String()
	persistCtx := ctx
	if ctx.Err() != nil {
		label = "cancelled"
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		persistCtx = detached
		r.o.store.Discard(r.task.ID)
		log.Printf("WARNING: task %s cancelled during %s: %v", r.task.ID, id, err)
	} else {
		log.Printf("ERROR: task %s: %s failed: %v", r.task.ID, id, err)
	}

	r.emit(events.StageFailedEvent{
		ID:        r.task.ID,
		Stage:     id.String(),
		Error:     err.Error(),
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	})

	if terr := r.transition(persistCtx, StatusFailed, label); terr != nil {
		log.Printf("ERROR: task %s: %v", r.task.ID, terr)
	}

	r.o.progress.Set(r.task.ID, Snapshot{
		Step:         int(id),
		StepName:     id.Title(),
		Status:       ProgressFailed,
		Message:      fmt.Sprintf("%s failed", id.Title()),
		Error:        err.Error(),
		RewriteCount: r.rewrites,
	}, r.o.cfg.ProgressTTL)
	r.emit(events.WorkflowFinishedEvent{
		ID:        r.task.ID,
		Status:    "failed",
		Message:   fmt.Sprintf("%s failed: %v", id.Title(), err),
		Rewrites:  r.rewrites,
		Timestamp: time.Now(),
	})

	return Result{
		TaskID:   r.task.ID,
		Status:   StatusFailed,
		Rewrites: r.rewrites,
		Message:  fmt.Sprintf("%s failed", id.Title()),
		Error:    err.Error(),
	}, err
}

// transition moves the state machine and persists the new status.
func (r *run) transition(ctx context.Context, to Status, label string) error {
	if err := r.state.advance(to); err != nil {
		return err
	}
	if err := r.o.repo.UpdateTaskStatus(ctx, r.task.ID, to, label); err != nil {
		return r.repoErr("update status", err)
	}
	return nil
}

func (r *run) repoErr(op string, err error) error {
	rerr := &RepositoryError{Op: op, TaskID: r.task.ID, Err: err}
	log.Printf("ERROR: %v", rerr)
	return rerr
}

// stageStatuses maps a stage onto its in-progress and completed statuses.
// Rewrite has no completed status; the following review moves it on.
func stageStatuses(id stage.ID) (start, done Status, hasDone bool) {
	switch id {
	case stage.Research:
		return StatusResearching, StatusResearchCompleted, true
	case stage.Draft:
		return StatusWriting, StatusWritingCompleted, true
	case stage.Review:
		return StatusReviewing, StatusReviewCompleted, true
	case stage.Rewrite:
		return StatusRewriting, 0, false
	case stage.Publish:
		return StatusPublished, 0, false
	case stage.Failure:
		return StatusFailed, 0, false
	default:
		return StatusFailed, 0, false
	}
}

// invokeStage runs one capability stage: status, progress and Started event,
// the executor under the retry policy, then the artifact saved to the
// repository before it is made visible in the store, and finally the
// completed status, snapshot and Completed event.
func invokeStage[In any, Out artifact.Artifact](ctx context.Context, r *run, exec *stage.Executor[In, Out], in In, key string) (Out, error) {
	var zero Out
	id := exec.ID()
	start, done, hasDone := stageStatuses(id)
	started := time.Now()

	if err := r.transition(ctx, start, id.String()); err != nil {
		return zero, err
	}
	r.o.progress.Set(r.task.ID, Snapshot{
		Step:         int(id),
		StepName:     id.Title(),
		Status:       ProgressRunning,
		Message:      fmt.Sprintf("%s in progress", id.Title()),
		RewriteCount: r.rewrites,
	}, r.o.cfg.ProgressTTL)
	r.emit(events.StageStartedEvent{
		ID:        r.task.ID,
		Stage:     id.String(),
		Step:      int(id),
		Rewrite:   r.rewrites,
		Timestamp: started,
	})

	onChunk := func(chunk string) {
		r.emit(events.StageOutputEvent{ID: r.task.ID, Stage: id.String(), Chunk: chunk, Timestamp: time.Now()})
	}
	out, err := stage.Do(ctx, r.o.policy, id, func(attempt int) (Out, error) {
		return exec.Invoke(ctx, stage.Call{TaskID: r.task.ID, Attempt: attempt, OnChunk: onChunk}, in)
	})
	if err != nil {
		return zero, err
	}

	if err := r.o.repo.SaveArtifact(ctx, r.task.ID, out); err != nil {
		return zero, r.repoErr("save "+string(out.Kind()), err)
	}
	var previous artifact.Draft
	if id == stage.Rewrite {
		if err := r.load(artifact.KeyDraft, &previous); err != nil {
			log.Printf("WARNING: task %s: previous draft unavailable for diff: %v", r.task.ID, err)
		}
	}
	if err := r.o.store.Put(r.task.ID, artifact.ScopePipeline, key, out); err != nil {
		return zero, err
	}

	if hasDone {
		if err := r.transition(ctx, done, id.String()); err != nil {
			return zero, err
		}
	}

	snap := Snapshot{
		Step:         int(id),
		StepName:     id.Title(),
		Status:       ProgressCompleted,
		RewriteCount: r.rewrites,
	}
	completed := events.StageCompletedEvent{
		ID:        r.task.ID,
		Stage:     id.String(),
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	}
	switch a := any(out).(type) {
	case artifact.Research:
		snap.Research = &a
		snap.Preview = preview(a.Summary)
		completed.Summary = fmt.Sprintf("Research complete: %d key points", len(a.KeyPoints))
	case artifact.Draft:
		snap.Draft = &a
		snap.Preview = preview(a.Body)
		completed.Summary = fmt.Sprintf("Draft complete: %q (%d words)", a.Title, a.WordCount)
		if id == stage.Rewrite {
			completed.Summary = fmt.Sprintf("Rewrite %d complete: %q (%d words, %.0f%% changed)",
				r.rewrites, a.Title, a.WordCount, changeRatio(previous.Body, a.Body)*100)
		}
	case artifact.Review:
		snap.Review = &a
		snap.Preview = preview(a.Summary)
		completed.Score = a.OverallScore
		completed.Summary = fmt.Sprintf("Review complete: %d/100 (%s)", a.OverallScore, a.Recommendation)
	}
	snap.Message = completed.Summary
	r.o.progress.Set(r.task.ID, snap, r.o.cfg.ProgressTTL)
	r.emit(completed)

	return out, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}

