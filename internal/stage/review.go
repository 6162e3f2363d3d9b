package stage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/backend"
)

// ReviewInput is what the review stage needs.
type ReviewInput struct {
	Topic           string
	Draft           artifact.Draft
	TargetWordCount int
}

const reviewInstructions = `You are a strict technical editor. Review the blog post below.

Topic: %s
Target length: about %d words (actual: %d)

Score it on four dimensions:
- accuracy (0-40): technical correctness
- logic (0-30): structure and flow
- originality (0-20): insight beyond the obvious
- formatting (0-10): Markdown, headings, code blocks

Respond with a single JSON object and nothing else:
{
  "overall_score": 0,
  "accuracy": {"score": 0, "issues": ["..."]},
  "logic": {"score": 0, "issues": []},
  "originality": {"score": 0, "issues": []},
  "formatting": {"score": 0, "issues": []},
  "issues": [{"category": "accuracy", "severity": "high", "description": "..."}],
  "suggestions": ["..."],
  "recommendation": "pass | revise | reject",
  "summary": "..."
}

Article:
%s`

// NewReview builds the review stage executor. Unparseable replies fall back
// to FallbackReview rather than failing the run.
func NewReview(b backend.Backend, tools []string, deps Deps) *Executor[ReviewInput, artifact.Review] {
	return NewExecutor(Spec[ReviewInput, artifact.Review]{
		ID:     Review,
		Render: renderReview,
		Parse:  ParseReview,
		Fallback: func(string, error) artifact.Review {
			return FallbackReview()
		},
	}, b, tools, deps)
}

func renderReview(in ReviewInput) backend.Message {
	return backend.Message{
		Role: "user",
		Content: fmt.Sprintf(reviewInstructions,
			in.Topic, in.TargetWordCount, in.Draft.WordCount, in.Draft.Body),
	}
}

// FallbackReview is the conservative verdict used when the reviewer's reply
// cannot be read: a middling score that sends the draft back for revision.
func FallbackReview() artifact.Review {
	return artifact.Review{
		OverallScore: 50,
		Accuracy:     20,
		Logic:        15,
		Originality:  10,
		Formatting:   5,
		Issues: []artifact.Issue{{
			Category:    "unparseable",
			Severity:    "high",
			Description: "The review response could not be parsed.",
		}},
		Recommendation: artifact.Revise,
		Summary:        "Automatic review failed; please check the draft manually.",
		ReviewedAt:     time.Now(),
	}
}

// score accepts a number or a numeric string and remembers whether it was
// present at all.
type score struct {
	value int
	set   bool
}

func (s *score) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		s.value, s.set = int(n+0.5), true
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(str, "/100")), 64)
	if err != nil {
		return nil
	}
	s.value, s.set = int(f+0.5), true
	return nil
}

// reported returns the score, or -1 when it was absent.
func (s score) reported() int {
	if !s.set {
		return -1
	}
	return s.value
}

// dimension is either a bare score or {"score": n, "issues": [...]}.
type dimension struct {
	score
	Issues []string
}

func (d *dimension) UnmarshalJSON(data []byte) error {
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		var obj struct {
			Score  score    `json:"score"`
			Issues []string `json:"issues"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		d.score, d.Issues = obj.Score, obj.Issues
		return nil
	}
	return d.score.UnmarshalJSON(data)
}

// issue is either a plain description or a full object.
type issue artifact.Issue

func (i *issue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = issue{Category: "general", Severity: "medium", Description: s}
		return nil
	}
	var obj artifact.Issue
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*i = issue(obj)
	return nil
}

type reviewPayload struct {
	OverallScore   score     `json:"overall_score"`
	Score          score     `json:"score"`
	Accuracy       dimension `json:"accuracy"`
	Logic          dimension `json:"logic"`
	Originality    dimension `json:"originality"`
	Formatting     dimension `json:"formatting"`
	Issues         []issue   `json:"issues"`
	Suggestions    []string  `json:"suggestions"`
	Recommendation string    `json:"recommendation"`
	Summary        string    `json:"summary"`
}

// ParseReview reads a reviewer reply. A reply without a JSON object or
// without any score is malformed. The reported overall score is the gate
// score unless it is missing or all four dimensions are reported in range.
func ParseReview(raw string) (artifact.Review, error) {
	var p reviewPayload
	if err := extractObject(raw, &p); err != nil {
		return artifact.Review{}, &MalformedOutputError{Stage: Review, Reason: err.Error(), Raw: truncate(raw, 500)}
	}

	overall := p.OverallScore
	if !overall.set {
		overall = p.Score
	}
	dims := []struct {
		name string
		d    dimension
	}{
		{"accuracy", p.Accuracy},
		{"logic", p.Logic},
		{"originality", p.Originality},
		{"formatting", p.Formatting},
	}
	anyDim := false
	for _, d := range dims {
		anyDim = anyDim || d.d.set
	}
	if !overall.set && !anyDim {
		return artifact.Review{}, &MalformedOutputError{Stage: Review, Reason: "no score in response", Raw: truncate(raw, 500)}
	}

	r := artifact.Review{
		OverallScore: overall.reported(),
		Accuracy:     p.Accuracy.reported(),
		Logic:        p.Logic.reported(),
		Originality:  p.Originality.reported(),
		Formatting:   p.Formatting.reported(),
		Suggestions:  p.Suggestions,
		Summary:      strings.TrimSpace(p.Summary),
		ReviewedAt:   time.Now(),
	}
	for _, is := range p.Issues {
		r.Issues = append(r.Issues, artifact.Issue(is))
	}
	for _, d := range dims {
		for _, desc := range d.d.Issues {
			r.Issues = append(r.Issues, artifact.Issue{Category: d.name, Severity: "medium", Description: desc})
		}
	}
	if rec, ok := artifact.ParseRecommendation(p.Recommendation); ok {
		r.Recommendation = rec
	}
	r.Normalize()
	return r, nil
}
