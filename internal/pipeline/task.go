package pipeline

import (
	"fmt"
	"time"
)

// Status is a task's position in the pipeline. The numeric values are
// persisted and must not change.
type Status int

const (
	StatusCreated           Status = 0
	StatusResearching       Status = 1
	StatusResearchCompleted Status = 2
	StatusWriting           Status = 3
	StatusWritingCompleted  Status = 4
	StatusReviewing         Status = 5
	StatusReviewCompleted   Status = 6
	StatusPublished         Status = 7
	StatusRewriting         Status = 8
	StatusFailed            Status = 99
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusResearching:
		return "researching"
	case StatusResearchCompleted:
		return "research_completed"
	case StatusWriting:
		return "writing"
	case StatusWritingCompleted:
		return "writing_completed"
	case StatusReviewing:
		return "reviewing"
	case StatusReviewCompleted:
		return "review_completed"
	case StatusPublished:
		return "published"
	case StatusRewriting:
		return "rewriting"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// Task defaults.
const (
	DefaultTargetWordCount = 1500
	DefaultStyle           = "professional and approachable"
	DefaultAudience        = "intermediate developers"
)

// TaskSpec is the caller-supplied part of a task.
type TaskSpec struct {
	Topic            string   `json:"topic"`
	ReferenceContent string   `json:"reference_content,omitempty"`
	ReferenceURLs    []string `json:"reference_urls,omitempty"` // URLs or local file paths
	TargetWordCount  int      `json:"target_word_count,omitempty"`
	Style            string   `json:"style,omitempty"`
	TargetAudience   string   `json:"target_audience,omitempty"`
}

// WithDefaults fills unset fields.
func (s TaskSpec) WithDefaults() TaskSpec {
	if s.TargetWordCount <= 0 {
		s.TargetWordCount = DefaultTargetWordCount
	}
	if s.Style == "" {
		s.Style = DefaultStyle
	}
	if s.TargetAudience == "" {
		s.TargetAudience = DefaultAudience
	}
	return s
}

// Validate checks the task can be run.
func (s TaskSpec) Validate() error {
	if s.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if s.TargetWordCount < 0 {
		return fmt.Errorf("target word count must not be negative")
	}
	return nil
}

// Task is a persisted pipeline run. Only Status, Stage, RewriteCount,
// Published and UpdatedAt change after creation.
type Task struct {
	ID string `json:"id"`
	TaskSpec
	Status       Status    `json:"status"`
	Stage        string    `json:"stage"`
	RewriteCount int       `json:"rewrite_count"`
	Published    bool      `json:"published"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
