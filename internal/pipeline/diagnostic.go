package pipeline

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/aristath/blogflow/internal/artifact"
)

const (
	diagnosticIssues      = 5
	diagnosticSuggestions = 3
)

// Diagnostic explains why a task stopped without publishing.
type Diagnostic struct {
	FinalScore  int              `json:"final_score"`
	Rewrites    int              `json:"rewrites"`
	Issues      []artifact.Issue `json:"issues"`
	Suggestions []string         `json:"suggestions"`
}

func newDiagnostic(r artifact.Review, rewrites int) *Diagnostic {
	d := &Diagnostic{FinalScore: r.OverallScore, Rewrites: rewrites}
	d.Issues = append(d.Issues, r.Issues[:min(len(r.Issues), diagnosticIssues)]...)
	d.Suggestions = append(d.Suggestions, r.Suggestions[:min(len(r.Suggestions), diagnosticSuggestions)]...)
	return d
}

func (d *Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Not published after %d rewrites. Final score: %d/100.", d.Rewrites, d.FinalScore)
	if len(d.Issues) > 0 {
		b.WriteString("\nMain issues:")
		for _, is := range d.Issues {
			fmt.Fprintf(&b, "\n- [%s] %s", is.Category, is.Description)
		}
	}
	if len(d.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for _, s := range d.Suggestions {
			fmt.Fprintf(&b, "\n- %s", s)
		}
	}
	return b.String()
}

// changeRatio is the edit distance between two drafts relative to the longer
// one: 0 for identical text, 1 for a complete rewrite.
func changeRatio(before, after string) float64 {
	longest := max(len(before), len(after))
	if longest == 0 {
		return 0
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	return float64(dmp.DiffLevenshtein(diffs)) / float64(longest)
}
