package safety

import "regexp"

type piiRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; the more specific number formats come before the
// generic phone pattern so an ID or card number is not half-redacted.
var piiRules = []piiRule{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{"id_card", regexp.MustCompile(`\b[1-9]\d{5}(?:18|19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]\b`), "[ID_CARD]"},
	{"bank_card", regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}(?:\d{3})?\b`), "[BANK_CARD]"},
	{"phone", regexp.MustCompile(`(?:\+?86[ -]?)?\b1[3-9]\d{9}\b`), "[PHONE]"},
	{"phone", regexp.MustCompile(`\+\d{1,3}[ -]?\(?\d{1,4}\)?[ -]?\d{3,4}[ -]?\d{3,4}\b`), "[PHONE]"},
	{"ipv4", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`), "[IP]"},
}

// RedactPII replaces personal data with placeholders. Redactions are
// reported as non-severe violations.
func RedactPII(dir Direction, text string) (string, []Violation) {
	var vs []Violation
	for _, rule := range piiRules {
		text = rule.pattern.ReplaceAllStringFunc(text, func(m string) string {
			vs = append(vs, Violation{Rule: "pii:" + rule.name, Match: rule.replacement})
			return rule.replacement
		})
	}
	return text, vs
}
