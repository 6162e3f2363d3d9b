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

// ResearchInput is what the research stage needs from the task.
type ResearchInput struct {
	Topic     string
	Reference string // Prepared reference material
}

const researchInstructions = `You are a technical researcher preparing material for a blog post.

Topic: %s

Reference material:
%s

Analyse the topic and the reference material. Respond with a single JSON object and nothing else:
{
  "summary": "two or three sentence overview",
  "key_points": [{"importance": 3, "content": "..."}],
  "technical_details": [{"title": "...", "description": "..."}],
  "code_examples": [{"language": "go", "code": "...", "description": "..."}],
  "references": ["..."]
}
Importance is 1 (low) to 3 (high).`

// NewResearch builds the research stage executor.
func NewResearch(b backend.Backend, tools []string, deps Deps) *Executor[ResearchInput, artifact.Research] {
	return NewExecutor(Spec[ResearchInput, artifact.Research]{
		ID:     Research,
		Render: renderResearch,
		Parse:  ParseResearch,
	}, b, tools, deps)
}

func renderResearch(in ResearchInput) backend.Message {
	return backend.Message{
		Role:    "user",
		Content: fmt.Sprintf(researchInstructions, in.Topic, in.Reference),
	}
}

// importance accepts a number or a label such as "high".
type importance int

func (i *importance) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*i = importance(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical":
		*i = 3
	case "medium", "normal":
		*i = 2
	case "low":
		*i = 1
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			*i = 2
			return nil
		}
		*i = importance(n)
	}
	return nil
}

type researchPayload struct {
	Summary   string `json:"summary"`
	KeyPoints []struct {
		Importance importance `json:"importance"`
		Content    string     `json:"content"`
	} `json:"key_points"`
	TechnicalDetails []artifact.TechnicalDetail `json:"technical_details"`
	CodeExamples     []artifact.CodeExample     `json:"code_examples"`
	References       []string                   `json:"references"`
}

// ParseResearch reads a research reply. A reply without a JSON object, or
// with neither a summary nor key points, is malformed.
func ParseResearch(raw string) (artifact.Research, error) {
	var p researchPayload
	if err := extractObject(raw, &p); err != nil {
		return artifact.Research{}, &MalformedOutputError{Stage: Research, Reason: err.Error(), Raw: truncate(raw, 500)}
	}

	r := artifact.Research{
		Summary:          strings.TrimSpace(p.Summary),
		TechnicalDetails: p.TechnicalDetails,
		CodeExamples:     p.CodeExamples,
		References:       p.References,
		ResearchedAt:     time.Now(),
	}
	for _, kp := range p.KeyPoints {
		content := strings.TrimSpace(kp.Content)
		if content == "" {
			continue
		}
		rank := int(kp.Importance)
		if rank < 1 {
			rank = 1
		} else if rank > 3 {
			rank = 3
		}
		r.KeyPoints = append(r.KeyPoints, artifact.KeyPoint{Importance: rank, Content: content})
	}

	if r.Summary == "" && len(r.KeyPoints) == 0 {
		return artifact.Research{}, &MalformedOutputError{Stage: Research, Reason: "no summary or key points", Raw: truncate(raw, 500)}
	}
	r.SortKeyPoints()
	return r, nil
}
