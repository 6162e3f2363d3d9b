package stage

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/backend"
)

// DraftInput is what the draft stage needs.
type DraftInput struct {
	Topic           string
	Research        artifact.Research
	TargetWordCount int
	Style           string
	Audience        string
}

// RewriteInput is a draft request that also carries the rejected draft and
// the review that rejected it.
type RewriteInput struct {
	DraftInput
	Previous artifact.Draft
	Review   artifact.Review
}

const draftInstructions = `You are a technical writer. Write a complete blog post in Markdown.

Topic: %s
Target length: about %d words
Style: %s
Audience: %s

Research notes:
%s

Start with a single "# " title line. Respond with the article only.`

const rewriteInstructions = `You are a technical writer revising a blog post after editorial review.

Topic: %s
Target length: about %d words
Style: %s
Audience: %s

Review score: %d/100
Reviewer summary: %s

Issues to fix:
%s
Suggestions:
%s
Research notes:
%s

Previous draft:
%s

Rewrite the whole article in Markdown, addressing every issue. Start with a single "# " title line. Respond with the article only.`

// NewDraft builds the draft stage executor.
func NewDraft(b backend.Backend, tools []string, deps Deps) *Executor[DraftInput, artifact.Draft] {
	return NewExecutor(Spec[DraftInput, artifact.Draft]{
		ID:     Draft,
		Render: renderDraft,
		Parse:  func(raw string) (artifact.Draft, error) { return parseDraft(Draft, raw) },
	}, b, tools, deps)
}

// NewRewrite builds the rewrite stage executor. It shares the writer
// capability and parse policy with the draft stage.
func NewRewrite(b backend.Backend, tools []string, deps Deps) *Executor[RewriteInput, artifact.Draft] {
	return NewExecutor(Spec[RewriteInput, artifact.Draft]{
		ID:     Rewrite,
		Render: renderRewrite,
		Parse:  func(raw string) (artifact.Draft, error) { return parseDraft(Rewrite, raw) },
	}, b, tools, deps)
}

func renderDraft(in DraftInput) backend.Message {
	return backend.Message{
		Role: "user",
		Content: fmt.Sprintf(draftInstructions,
			in.Topic, in.TargetWordCount, in.Style, in.Audience, in.Research.Markdown()),
	}
}

func renderRewrite(in RewriteInput) backend.Message {
	var issues strings.Builder
	for _, is := range in.Review.Issues {
		fmt.Fprintf(&issues, "- [%s/%s] %s\n", is.Category, is.Severity, is.Description)
	}
	var suggestions strings.Builder
	for _, s := range in.Review.Suggestions {
		fmt.Fprintf(&suggestions, "- %s\n", s)
	}
	return backend.Message{
		Role: "user",
		Content: fmt.Sprintf(rewriteInstructions,
			in.Topic, in.TargetWordCount, in.Style, in.Audience,
			in.Review.OverallScore, in.Review.Summary,
			issues.String(), suggestions.String(),
			in.Research.Markdown(), in.Previous.Body),
	}
}

// ParseDraft reads a writer reply: either a JSON object with title and
// content, or plain Markdown.
func ParseDraft(raw string) (artifact.Draft, error) {
	return parseDraft(Draft, raw)
}

func parseDraft(id ID, raw string) (artifact.Draft, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return artifact.Draft{}, &MalformedOutputError{Stage: id, Reason: "empty response"}
	}

	title := ""
	body := text
	if looksStructured(text) {
		var p struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			Body    string `json:"body"`
		}
		if err := extractObject(text, &p); err == nil {
			body = strings.TrimSpace(p.Content)
			if body == "" {
				body = strings.TrimSpace(p.Body)
			}
			if body == "" {
				return artifact.Draft{}, &MalformedOutputError{Stage: id, Reason: "JSON response has no content", Raw: truncate(raw, 500)}
			}
			title = strings.TrimSpace(p.Title)
		}
	}

	if title == "" {
		title = artifact.TitleFromMarkdown(body, "Untitled")
	}
	return artifact.Draft{
		Title:       title,
		Body:        body,
		WordCount:   artifact.CountWords(body),
		GeneratedAt: time.Now(),
	}, nil
}
