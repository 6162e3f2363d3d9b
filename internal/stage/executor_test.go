package stage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/safety"
)

// scriptedBackend replies from a fixed list of outcomes, one per call.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	content string
	err     error
}

func (s *scriptedBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, msg.Content)
	if len(s.replies) == 0 {
		return backend.Response{}, errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return backend.Response{Content: r.content}, r.err
}

func (s *scriptedBackend) Close() error      { return nil }
func (s *scriptedBackend) SessionID() string { return "scripted" }

// streamingBackend delivers its reply in fixed chunks.
type streamingBackend struct {
	scriptedBackend
	chunks []string
}

func (s *streamingBackend) Stream(ctx context.Context, msg backend.Message, onChunk func(string)) (backend.Response, error) {
	for _, c := range s.chunks {
		onChunk(c)
	}
	return backend.Response{Content: strings.Join(s.chunks, "")}, nil
}

// memoryRecorder keeps invocation records in memory.
type memoryRecorder struct {
	mu      sync.Mutex
	records []InvocationRecord
}

func (m *memoryRecorder) RecordInvocation(ctx context.Context, rec InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) all() []InvocationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvocationRecord(nil), m.records...)
}

const researchReply = `{"summary": "s", "key_points": [{"importance": 3, "content": "k"}]}`

// TestExecutor_RecordsSuccess verifies a successful call is parsed, chunked
// and recorded with its cost.
func TestExecutor_RecordsSuccess(t *testing.T) {
	b := &scriptedBackend{replies: []reply{{content: researchReply}}}
	rec := &memoryRecorder{}
	exec := NewResearch(b, nil, Deps{Recorder: rec})

	var chunks []string
	r, err := exec.Invoke(context.Background(), Call{TaskID: "t1", Attempt: 1, OnChunk: func(c string) {
		chunks = append(chunks, c)
	}}, ResearchInput{Topic: "Go", Reference: "ref"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if r.Summary != "s" {
		t.Errorf("Expected summary 's', got %q", r.Summary)
	}
	if len(chunks) != 1 || chunks[0] != researchReply {
		t.Errorf("Expected the whole reply as one chunk, got %v", chunks)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	got := records[0]
	if !got.Success || got.Stage != Research || got.TaskID != "t1" || got.Attempt != 1 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if got.CostUnits != EstimateCost(got.Input, got.Output) || got.CostUnits == 0 {
		t.Errorf("Unexpected cost %d", got.CostUnits)
	}
	if !strings.Contains(got.Input, "Topic: Go") {
		t.Errorf("Expected rendered prompt in record, got %q", got.Input)
	}
}

// TestExecutor_MalformedPropagates verifies research and draft propagate
// unparseable output and still record the attempt.
func TestExecutor_MalformedPropagates(t *testing.T) {
	b := &scriptedBackend{replies: []reply{{content: "I cannot help with that."}, {content: "   "}}}
	rec := &memoryRecorder{}

	_, err := NewResearch(b, nil, Deps{Recorder: rec}).Invoke(context.Background(), Call{TaskID: "t1", Attempt: 1}, ResearchInput{})
	var malformed *MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedOutputError from research, got %v", err)
	}

	_, err = NewDraft(b, nil, Deps{Recorder: rec}).Invoke(context.Background(), Call{TaskID: "t1", Attempt: 1}, DraftInput{})
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedOutputError from draft, got %v", err)
	}

	for _, r := range rec.all() {
		if r.Success || r.Error == "" {
			t.Errorf("Expected failed record with error, got %+v", r)
		}
	}
}

// TestExecutor_ReviewFallback verifies an unreadable review yields the
// conservative verdict and a successful record noting the parse error.
func TestExecutor_ReviewFallback(t *testing.T) {
	b := &scriptedBackend{replies: []reply{{content: "Looks great to me!"}}}
	rec := &memoryRecorder{}

	r, err := NewReview(b, nil, Deps{Recorder: rec}).Invoke(context.Background(), Call{TaskID: "t1", Attempt: 1},
		ReviewInput{Draft: artifact.Draft{Body: "# T\n\nbody"}})
	if err != nil {
		t.Fatalf("Expected fallback, got error %v", err)
	}
	if r.OverallScore != 50 || r.Recommendation != artifact.Revise {
		t.Errorf("Expected fallback review, got %+v", r)
	}
	if r.Accuracy != 20 || r.Logic != 15 || r.Originality != 10 || r.Formatting != 5 {
		t.Errorf("Expected fallback split 20/15/10/5, got %d/%d/%d/%d", r.Accuracy, r.Logic, r.Originality, r.Formatting)
	}

	records := rec.all()
	if len(records) != 1 || !records[0].Success || records[0].Error == "" {
		t.Errorf("Expected successful record noting the parse error, got %+v", records)
	}
}

// TestExecutor_SafetyChain verifies input redaction and severe refusals.
func TestExecutor_SafetyChain(t *testing.T) {
	chain := safety.Build(safety.Config{
		Enabled:        true,
		RedactPII:      true,
		SevereKeywords: []string{"forbidden-topic"},
	})

	t.Run("pii redacted before the call", func(t *testing.T) {
		b := &scriptedBackend{replies: []reply{{content: "# T\n\ncontact admin@example.com"}}}
		d, err := NewDraft(b, nil, Deps{Chain: chain}).Invoke(context.Background(), Call{TaskID: "t1"},
			DraftInput{Topic: "mail me at user@example.com"})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if strings.Contains(b.prompts[0], "user@example.com") {
			t.Error("Expected email redacted from prompt")
		}
		if strings.Contains(d.Body, "admin@example.com") {
			t.Error("Expected email redacted from output")
		}
	})

	t.Run("severe input skips the call", func(t *testing.T) {
		b := &scriptedBackend{}
		d, err := NewDraft(b, nil, Deps{Chain: chain}).Invoke(context.Background(), Call{TaskID: "t1"},
			DraftInput{Topic: "forbidden-topic"})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if len(b.prompts) != 0 {
			t.Error("Expected backend not to be called")
		}
		if d.Body != safety.RefusalMessage {
			t.Errorf("Expected refusal body, got %q", d.Body)
		}
	})
}

// TestExecutor_Streaming verifies chunks are forwarded in order.
func TestExecutor_Streaming(t *testing.T) {
	b := &streamingBackend{chunks: []string{"# Title\n\n", "first ", "second"}}

	var got []string
	d, err := NewDraft(b, nil, Deps{}).Invoke(context.Background(), Call{TaskID: "t1", OnChunk: func(c string) {
		got = append(got, c)
	}}, DraftInput{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(got) != 3 || got[1] != "first " {
		t.Errorf("Expected 3 ordered chunks, got %v", got)
	}
	if d.Title != "Title" {
		t.Errorf("Expected title 'Title', got %q", d.Title)
	}
}

// TestExecutor_BackendErrorWrapped verifies backend sentinels survive wrapping.
func TestExecutor_BackendErrorWrapped(t *testing.T) {
	b := &scriptedBackend{replies: []reply{{err: backend.ErrRateLimited}}}
	rec := &memoryRecorder{}

	_, err := NewResearch(b, nil, Deps{Recorder: rec, Breakers: NewCircuitBreakerRegistry()}).
		Invoke(context.Background(), Call{TaskID: "t1", Attempt: 1}, ResearchInput{})
	if !errors.Is(err, backend.ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	if !IsTransient(context.Background(), err) {
		t.Error("Expected rate limiting to be transient")
	}
	if records := rec.all(); len(records) != 1 || records[0].Success {
		t.Errorf("Expected one failed record, got %+v", records)
	}
}

// spanAttrs flattens a span's attributes for lookup.
func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

// TestExecutor_Spans verifies every invocation ends one span named after its
// stage, carrying the task, stage and attempt, with an error status on
// failure.
func TestExecutor_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	b := &scriptedBackend{replies: []reply{{content: researchReply}, {err: backend.ErrRateLimited}}}
	exec := NewResearch(b, nil, Deps{Tracer: tp})

	if _, err := exec.Invoke(context.Background(), Call{TaskID: "t1", Attempt: 1}, ResearchInput{Topic: "Go"}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if _, err := exec.Invoke(context.Background(), Call{TaskID: "t1", Attempt: 2}, ResearchInput{Topic: "Go"}); err == nil {
		t.Fatal("Expected the second invocation to fail")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 ended spans, got %d", len(spans))
	}
	for i, s := range spans {
		if s.Name() != "stage.research" {
			t.Errorf("Span %d: expected name stage.research, got %q", i, s.Name())
		}
		attrs := spanAttrs(s)
		if attrs["task.id"].AsString() != "t1" || attrs["stage"].AsString() != "research" {
			t.Errorf("Span %d: unexpected attributes %v", i, s.Attributes())
		}
		if got := attrs["attempt"].AsInt64(); got != int64(i+1) {
			t.Errorf("Span %d: expected attempt %d, got %d", i, i+1, got)
		}
	}

	if spans[0].Status().Code == codes.Error {
		t.Errorf("Expected successful span without error status, got %+v", spans[0].Status())
	}
	failed := spans[1]
	if failed.Status().Code != codes.Error {
		t.Errorf("Expected error status, got %+v", failed.Status())
	}
	if len(failed.Events()) == 0 || failed.Events()[0].Name != "exception" {
		t.Errorf("Expected the error recorded as an exception event, got %+v", failed.Events())
	}
}
