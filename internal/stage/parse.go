package stage

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var errNoObject = errors.New("no JSON object found in response")

// extractObject decodes the structured part of a capability response into
// dst. Models often wrap JSON in prose or code fences, so after a direct
// decode fails the outermost brace pair is decoded, and failing that a
// repaired version of it.
func extractObject(raw string, dst any) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return errNoObject
	}

	if err := json.Unmarshal([]byte(text), dst); err == nil {
		return nil
	}

	candidate, ok := outermostBraces(text)
	if !ok {
		return errNoObject
	}

	err := json.Unmarshal([]byte(candidate), dst)
	if err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return err
	}
	if err := json.Unmarshal([]byte(repaired), dst); err != nil {
		return err
	}
	return nil
}

// outermostBraces returns the text from the first '{' to the last '}'.
func outermostBraces(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// looksStructured reports whether a response is meant to be a JSON object
// rather than prose.
func looksStructured(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.HasPrefix(strings.TrimSpace(s), "{")
}

// truncate shortens s to at most n runes for previews and logs.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
