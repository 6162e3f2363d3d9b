package stage

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/metrics"
	"github.com/aristath/blogflow/internal/safety"
)

const tracerName = "github.com/aristath/blogflow/internal/stage"

// InvocationRecord is the audit entry written for every stage invocation.
type InvocationRecord struct {
	TaskID    string    `json:"task_id"`
	Stage     ID        `json:"stage"`
	Attempt   int       `json:"attempt"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CostUnits int       `json:"cost_units"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Recorder persists invocation records.
type Recorder interface {
	RecordInvocation(ctx context.Context, rec InvocationRecord) error
}

// EstimateCost returns a relative cost for an invocation: 0.4 units per
// byte of prompt and response. It is for comparing runs, not billing.
func EstimateCost(input, output string) int {
	return int(math.Round(float64(len(input)+len(output)) * 0.4))
}

// Spec describes one stage: how to build its prompt and how to read the
// capability's reply. Fallback is optional; when set, a parse failure yields
// its value instead of an error.
type Spec[In, Out any] struct {
	ID       ID
	Render   func(In) backend.Message
	Parse    func(raw string) (Out, error)
	Fallback func(raw string, err error) Out
}

// Deps are the collaborators shared by every executor of a run. All fields
// are optional.
type Deps struct {
	Recorder Recorder
	Breakers *CircuitBreakerRegistry
	Chain    safety.Chain
	Metrics  *metrics.Metrics
	Tracer   trace.TracerProvider // Defaults to the global provider
}

// Call carries per-invocation context.
type Call struct {
	TaskID  string
	Attempt int
	OnChunk func(string) // Receives raw output as it is produced
}

// Executor adapts one generation backend to a typed stage contract.
type Executor[In, Out any] struct {
	spec    Spec[In, Out]
	backend backend.Backend
	tools   []string
	deps    Deps
	tracer  trace.Tracer
}

// NewExecutor binds spec to a backend.
func NewExecutor[In, Out any](spec Spec[In, Out], b backend.Backend, tools []string, deps Deps) *Executor[In, Out] {
	tp := deps.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Executor[In, Out]{
		spec:    spec,
		backend: b,
		tools:   tools,
		deps:    deps,
		tracer:  tp.Tracer(tracerName),
	}
}

// ID returns the stage the executor runs.
func (e *Executor[In, Out]) ID() ID { return e.spec.ID }

// Invoke renders the prompt, filters it, calls the backend, filters and
// parses the reply. A record is written whatever the outcome.
func (e *Executor[In, Out]) Invoke(ctx context.Context, call Call, in In) (out Out, err error) {
	ctx, span := e.tracer.Start(ctx, "stage."+e.spec.ID.String(), trace.WithAttributes(
		attribute.String("task.id", call.TaskID),
		attribute.String("stage", e.spec.ID.String()),
		attribute.Int("attempt", call.Attempt),
	))
	defer span.End()

	rec := InvocationRecord{
		TaskID:    call.TaskID,
		Stage:     e.spec.ID,
		Attempt:   call.Attempt,
		StartedAt: time.Now(),
	}
	defer func() {
		e.finish(ctx, &rec, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	onChunk := call.OnChunk
	if onChunk == nil {
		onChunk = func(string) {}
	}

	msg := e.spec.Render(in)
	msg.Tools = e.tools

	prompt, inViolations, blocked := e.deps.Chain.Apply(safety.Input, msg.Content)
	msg.Content = prompt
	rec.Input = prompt

	var raw string
	if blocked {
		log.Printf("WARNING: task %s: %s input blocked by safety filter (%d violations)", call.TaskID, e.spec.ID, len(inViolations))
		raw = safety.RefusalMessage
		onChunk(raw)
	} else {
		raw, err = e.call(ctx, msg, onChunk)
		if err != nil {
			return out, err
		}
	}
	rec.Output = raw

	out, err = e.spec.Parse(raw)
	if err != nil && e.spec.Fallback != nil {
		log.Printf("WARNING: task %s: %s output unparseable, using fallback: %v", call.TaskID, e.spec.ID, err)
		rec.Error = err.Error()
		return e.spec.Fallback(raw, err), nil
	}
	return out, err
}

// call invokes the backend through the stage's circuit breaker. Output is
// streamed only when no output filter has to see it first; otherwise the
// filtered reply is emitted as a single chunk.
func (e *Executor[In, Out]) call(ctx context.Context, msg backend.Message, onChunk func(string)) (string, error) {
	streamer, canStream := e.backend.(backend.Streamer)
	stream := canStream && len(e.deps.Chain) == 0

	send := func() (interface{}, error) {
		if stream {
			return streamer.Stream(ctx, msg, onChunk)
		}
		return e.backend.Send(ctx, msg)
	}

	var (
		result interface{}
		err    error
	)
	if e.deps.Breakers != nil {
		result, err = e.deps.Breakers.Get(e.spec.ID).Execute(send)
	} else {
		result, err = send()
	}
	if err != nil {
		return "", fmt.Errorf("%s backend call failed: %w", e.spec.ID, err)
	}

	raw := result.(backend.Response).Content
	if !stream {
		raw, _, _ = e.deps.Chain.Apply(safety.Output, raw)
		onChunk(raw)
	}
	return raw, nil
}

// finish completes the record, writes it, and reports metrics.
func (e *Executor[In, Out]) finish(ctx context.Context, rec *InvocationRecord, err error) {
	rec.EndedAt = time.Now()
	rec.Success = err == nil
	if err != nil {
		rec.Error = err.Error()
	}
	rec.CostUnits = EstimateCost(rec.Input, rec.Output)

	status := "success"
	if err != nil {
		status = "failure"
		e.deps.Metrics.IncStageFailure(e.spec.ID.String(), FailureReason(err))
	}
	e.deps.Metrics.ObserveStage(e.spec.ID.String(), status, rec.EndedAt.Sub(rec.StartedAt), rec.CostUnits)

	if e.deps.Recorder == nil {
		return
	}
	// The record outlives a cancelled run
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := e.deps.Recorder.RecordInvocation(recCtx, *rec); rerr != nil {
		log.Printf("ERROR: task %s: failed to record %s invocation: %v", rec.TaskID, rec.Stage, rerr)
	}
}
