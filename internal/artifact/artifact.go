package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Kind names an artifact variant. It is the storage key used by the repository.
type Kind string

const (
	KindResearch Kind = "research"
	KindDraft    Kind = "draft"
	KindReview   Kind = "review"
)

// Artifact is the typed output of a pipeline stage. The three implementations
// below are the only ones; Decode restores them from their serialized form.
type Artifact interface {
	Kind() Kind
}

// KeyPoint is one finding from research, ranked 1 (low) to 3 (high).
type KeyPoint struct {
	Importance int    `json:"importance"`
	Content    string `json:"content"`
}

// TechnicalDetail is a named concept the draft should explain.
type TechnicalDetail struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CodeExample is a snippet the research stage suggests including.
type CodeExample struct {
	Language    string `json:"language"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Research is the output of the research stage.
type Research struct {
	Summary          string            `json:"summary"`
	KeyPoints        []KeyPoint        `json:"key_points"`
	TechnicalDetails []TechnicalDetail `json:"technical_details"`
	CodeExamples     []CodeExample     `json:"code_examples"`
	References       []string          `json:"references"`
	ResearchedAt     time.Time         `json:"researched_at"`
}

func (Research) Kind() Kind { return KindResearch }

// SortKeyPoints orders key points by importance, highest first, keeping the
// original order among equal ranks.
func (r *Research) SortKeyPoints() {
	sort.SliceStable(r.KeyPoints, func(i, j int) bool {
		return r.KeyPoints[i].Importance > r.KeyPoints[j].Importance
	})
}

// Markdown renders the research as the text handed to the writer.
func (r Research) Markdown() string {
	var b strings.Builder
	b.WriteString("## Topic analysis\n\n")
	b.WriteString(r.Summary)
	b.WriteString("\n\n")

	if len(r.KeyPoints) > 0 {
		b.WriteString("## Key points\n\n")
		for _, kp := range r.KeyPoints {
			fmt.Fprintf(&b, "- %s %s\n", strings.Repeat("*", clamp(kp.Importance, 1, 3)), kp.Content)
		}
		b.WriteString("\n")
	}

	if len(r.TechnicalDetails) > 0 {
		b.WriteString("## Technical details\n\n")
		for _, td := range r.TechnicalDetails {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", td.Title, td.Description)
		}
	}

	if len(r.CodeExamples) > 0 {
		b.WriteString("## Code examples\n\n")
		for _, ce := range r.CodeExamples {
			if ce.Description != "" {
				fmt.Fprintf(&b, "%s\n\n", ce.Description)
			}
			fmt.Fprintf(&b, "```%s\n%s\n```\n\n", ce.Language, ce.Code)
		}
	}

	if len(r.References) > 0 {
		b.WriteString("## References\n\n")
		for _, ref := range r.References {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
	}

	return strings.TrimSpace(b.String())
}

// Draft is the output of the draft and rewrite stages.
type Draft struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	WordCount   int       `json:"word_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (Draft) Kind() Kind { return KindDraft }

// Recommendation is the reviewer's verdict.
type Recommendation string

const (
	Pass   Recommendation = "pass"
	Revise Recommendation = "revise"
	Reject Recommendation = "reject"
)

// ParseRecommendation maps a free-form verdict onto the enum. Unknown values
// yield ok=false so callers can derive the verdict from the score instead.
func ParseRecommendation(s string) (Recommendation, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed", "approve", "approved", "accept":
		return Pass, true
	case "revise", "revision", "needs revision", "needs_revision":
		return Revise, true
	case "reject", "rejected", "fail":
		return Reject, true
	default:
		return "", false
	}
}

// RecommendationFor derives a verdict from an overall score.
func RecommendationFor(score int) Recommendation {
	switch {
	case score >= 80:
		return Pass
	case score >= 70:
		return Revise
	default:
		return Reject
	}
}

// Dimension weights. They sum to 100.
const (
	MaxAccuracy    = 40
	MaxLogic       = 30
	MaxOriginality = 20
	MaxFormatting  = 10
)

// Issue is one problem the reviewer found.
type Issue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Review is the output of the review stage.
type Review struct {
	OverallScore   int            `json:"overall_score"`
	Accuracy       int            `json:"accuracy"`
	Logic          int            `json:"logic"`
	Originality    int            `json:"originality"`
	Formatting     int            `json:"formatting"`
	Issues         []Issue        `json:"issues"`
	Suggestions    []string       `json:"suggestions"`
	Recommendation Recommendation `json:"recommendation"`
	Summary        string         `json:"summary"`
	ReviewedAt     time.Time      `json:"reviewed_at"`
}

func (Review) Kind() Kind { return KindReview }

// Normalize makes the four dimension scores sum to the overall score. A
// negative score means the reviewer did not report it.
//
// When all four dimensions were reported within their weights, or no overall
// score was reported, the dimension sum is the overall score. Otherwise the
// reported overall score is kept and the dimensions are rescaled to sum to it.
func (r *Review) Normalize() {
	dims := [4]*int{&r.Accuracy, &r.Logic, &r.Originality, &r.Formatting}
	weights := [4]int{MaxAccuracy, MaxLogic, MaxOriginality, MaxFormatting}

	inRange := true
	sum := 0
	for i, d := range dims {
		if *d < 0 || *d > weights[i] {
			inRange = false
		}
		*d = clamp(*d, 0, weights[i])
		sum += *d
	}

	if inRange || r.OverallScore < 0 {
		r.OverallScore = sum
	} else {
		r.OverallScore = clamp(r.OverallScore, 0, 100)
		rescale(dims, weights, sum, r.OverallScore)
	}

	if r.Recommendation == "" {
		r.Recommendation = RecommendationFor(r.OverallScore)
	}
}

// rescale scales dims in proportion to their current values, or to the
// weights when all are zero, so they sum to total. Rounding remainders go to
// the last dimensions first.
func rescale(dims [4]*int, weights [4]int, sum, total int) {
	base := [4]int{}
	for i, d := range dims {
		base[i] = *d
	}
	if sum == 0 {
		base, sum = weights, 100
	}

	left := total
	for i, d := range dims {
		*d = min(base[i]*total/sum, weights[i])
		left -= *d
	}
	for i := len(dims) - 1; i >= 0 && left > 0; i-- {
		add := min(left, weights[i]-*dims[i])
		*dims[i] += add
		left -= add
	}
}

// Decode restores an artifact of the given kind from JSON.
func Decode(kind Kind, data []byte) (Artifact, error) {
	switch kind {
	case KindResearch:
		var a Research
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to decode research artifact: %w", err)
		}
		return a, nil
	case KindDraft:
		var a Draft
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to decode draft artifact: %w", err)
		}
		return a, nil
	case KindReview:
		var a Review
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to decode review artifact: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown artifact kind: %q", kind)
	}
}

// CountWords counts each CJK ideograph as one word plus every run of latin
// letters or digits as one word.
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			count++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return count
}

// TitleFromMarkdown returns the text of the first level-one heading, or
// fallback when there is none.
func TitleFromMarkdown(body, fallback string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			if title := strings.TrimSpace(line[2:]); title != "" {
				return title
			}
		}
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
