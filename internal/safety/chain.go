// Package safety provides the content filters applied around every stage
// input and output. Filters are plain functions composed into a Chain once,
// when the orchestrator is wired, and applied in order.
package safety

import (
	"log"
	"strings"
)

// Direction tells an interceptor which side of a stage call it is filtering.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// RefusalMessage replaces stage text when a severe violation is found.
const RefusalMessage = "This content cannot be processed because it contains material that violates the content policy."

// Violation describes one filter hit.
type Violation struct {
	Rule   string `json:"rule"`
	Match  string `json:"match"`
	Severe bool   `json:"severe"`
}

// Interceptor inspects text and returns the (possibly rewritten) text along
// with any violations it found.
type Interceptor func(dir Direction, text string) (string, []Violation)

// Chain is an ordered list of interceptors.
type Chain []Interceptor

// Apply runs every interceptor in order, feeding each the previous output.
// When any violation is severe the text is replaced by RefusalMessage and
// blocked is true; the remaining interceptors still see the refusal so
// logging stays complete.
func (c Chain) Apply(dir Direction, text string) (out string, violations []Violation, blocked bool) {
	out = text
	for _, ic := range c {
		var vs []Violation
		out, vs = ic(dir, out)
		for _, v := range vs {
			if v.Severe {
				blocked = true
			}
		}
		violations = append(violations, vs...)
		if blocked {
			out = RefusalMessage
		}
	}
	return out, violations, blocked
}

// Config selects and parameterizes the interceptors built by Build.
type Config struct {
	Enabled           bool
	RedactPII         bool
	ForbiddenKeywords []string
	SevereKeywords    []string
	LogViolations     bool
}

// Build composes the chain described by cfg: PII redaction first, then the
// keyword guardrail, then logging. A disabled config yields an empty chain.
func Build(cfg Config) Chain {
	if !cfg.Enabled {
		return nil
	}

	var c Chain
	if cfg.RedactPII {
		c = append(c, RedactPII)
	}
	if len(cfg.ForbiddenKeywords) > 0 || len(cfg.SevereKeywords) > 0 {
		c = append(c, KeywordGuard(cfg.ForbiddenKeywords, cfg.SevereKeywords))
	}
	if cfg.LogViolations {
		c = append(c, Logging())
	}
	return c
}

// Logging returns an interceptor that records the size of every filtered text.
// It never rewrites text.
func Logging() Interceptor {
	return func(dir Direction, text string) (string, []Violation) {
		if text == RefusalMessage {
			log.Printf("WARNING: safety: %s replaced with refusal", dir)
		} else {
			log.Printf("safety: %s passed (%d chars)", dir, len(text))
		}
		return text, nil
	}
}

// KeywordGuard flags occurrences of forbidden keywords. Keywords present in
// severe are reported as severe violations.
func KeywordGuard(forbidden, severe []string) Interceptor {
	type entry struct {
		word   string
		severe bool
	}
	var entries []entry
	for _, w := range forbidden {
		if w = strings.TrimSpace(w); w != "" {
			entries = append(entries, entry{w, false})
		}
	}
	for _, w := range severe {
		if w = strings.TrimSpace(w); w != "" {
			entries = append(entries, entry{w, true})
		}
	}

	return func(dir Direction, text string) (string, []Violation) {
		lower := strings.ToLower(text)
		var vs []Violation
		for _, e := range entries {
			if strings.Contains(lower, strings.ToLower(e.word)) {
				vs = append(vs, Violation{Rule: "keyword", Match: e.word, Severe: e.severe})
			}
		}
		if len(vs) > 0 {
			log.Printf("WARNING: safety: %d keyword violation(s) in %s", len(vs), dir)
		}
		return text, vs
	}
}
