package events

import (
	"time"
)

// Event is the base interface for all events. Every implementation is a flat
// struct with JSON tags so it can be sent over SSE or a websocket unchanged.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicStage    = "stage"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeStageStarted     = "stage.started"
	EventTypeStageOutput      = "stage.output"
	EventTypeStageCompleted   = "stage.completed"
	EventTypeStageFailed      = "stage.failed"
	EventTypeWorkflowFinished = "workflow.finished"
)

// StageStartedEvent is published when a stage begins.
type StageStartedEvent struct {
	ID        string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Step      int       `json:"step"`
	Rewrite   int       `json:"rewrite,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e StageStartedEvent) EventType() string { return EventTypeStageStarted }
func (e StageStartedEvent) TaskID() string    { return e.ID }

// StageOutputEvent carries a chunk of raw capability output.
type StageOutputEvent struct {
	ID        string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Chunk     string    `json:"chunk"`
	Timestamp time.Time `json:"timestamp"`
}

func (e StageOutputEvent) EventType() string { return EventTypeStageOutput }
func (e StageOutputEvent) TaskID() string    { return e.ID }

// StageCompletedEvent is published after a stage's artifact has been saved.
type StageCompletedEvent struct {
	ID        string        `json:"task_id"`
	Stage     string        `json:"stage"`
	Summary   string        `json:"summary"`
	Score     int           `json:"score,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e StageCompletedEvent) EventType() string { return EventTypeStageCompleted }
func (e StageCompletedEvent) TaskID() string    { return e.ID }

// StageFailedEvent is published when a stage fails unrecoverably.
type StageFailedEvent struct {
	ID        string        `json:"task_id"`
	Stage     string        `json:"stage"`
	Error     string        `json:"error"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e StageFailedEvent) EventType() string { return EventTypeStageFailed }
func (e StageFailedEvent) TaskID() string    { return e.ID }

// WorkflowFinishedEvent is the last event of every run.
type WorkflowFinishedEvent struct {
	ID        string    `json:"task_id"`
	Status    string    `json:"status"` // "published" or "failed"
	Message   string    `json:"message"`
	Rewrites  int       `json:"rewrites"`
	Score     int       `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e WorkflowFinishedEvent) EventType() string { return EventTypeWorkflowFinished }
func (e WorkflowFinishedEvent) TaskID() string    { return e.ID }

// TopicFor returns the bus topic an event is published on.
func TopicFor(e Event) string {
	if _, ok := e.(WorkflowFinishedEvent); ok {
		return TopicWorkflow
	}
	return TopicStage
}
