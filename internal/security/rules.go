package security

import (
	"regexp"
	"strings"
)

// InjectionRule is one entry of the ordered injection rule table
type InjectionRule struct {
	ID          string
	Description string
	pattern     *regexp.Regexp
}

// Matches reports whether text triggers the rule
func (r InjectionRule) Matches(text string) bool {
	return r.pattern.MatchString(text)
}

// InjectionRules is evaluated in order; the first match wins.
var InjectionRules = []InjectionRule{
	{
		ID:          "SQLI-001",
		Description: "statement chaining followed by a comment marker",
		pattern:     regexp.MustCompile(`(?i);\s*(--|/\*|#)`),
	},
	{
		ID:          "SQLI-002",
		Description: "statement chaining at end of input",
		pattern:     regexp.MustCompile(`(?i);\s*$`),
	},
	{
		ID:          "SQLI-003",
		Description: "set-operator injection",
		pattern:     regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	},
	{
		ID:          "SQLI-004",
		Description: "numeric tautology",
		pattern:     regexp.MustCompile(`(?i)\bor\s+\d+\s*=\s*\d+`),
	},
	{
		ID:          "SQLI-005",
		Description: "quote-delimited OR",
		pattern:     regexp.MustCompile(`(?i)['"]\s*or\s*['"]`),
	},
	{
		ID:          "SQLI-006",
		Description: "trailing line comment",
		pattern:     regexp.MustCompile(`--\s*$`),
	},
	{
		ID:          "SQLI-007",
		Description: "inline block comment",
		pattern:     regexp.MustCompile(`(?s)/\*.*?\*/`),
	},
	{
		ID:          "SQLI-008",
		Description: "privileged procedure prefix",
		pattern:     regexp.MustCompile(`(?i)\b(xp|sp)_\w*`),
	},
}

// MatchInjection returns the first rule text triggers
func MatchInjection(text string) (InjectionRule, bool) {
	for _, rule := range InjectionRules {
		if rule.Matches(text) {
			return rule, true
		}
	}

	return InjectionRule{}, false
}

// MutatingKeywords are rejected as whole words, checked in this order
var MutatingKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT",
	"UPDATE", "GRANT", "REVOKE", "EXEC", "EXECUTE",
}

var mutatingPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(MutatingKeywords))
	for i, kw := range MutatingKeywords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}

	return patterns
}()

// MatchMutatingKeyword returns the first mutating keyword present as a whole word
func MatchMutatingKeyword(text string) (string, bool) {
	for i, re := range mutatingPatterns {
		if re.MatchString(text) {
			return MutatingKeywords[i], true
		}
	}

	return "", false
}

func isMutatingKeyword(word string) bool {
	upper := strings.ToUpper(word)
	for _, kw := range MutatingKeywords {
		if kw == upper {
			return true
		}
	}

	return false
}
