// Package correction repairs unknown table and column names by edit distance.
package correction

import (
	"strings"

	"github.com/xrash/smetrics"

	"github.com/kyleking/insight-query/internal/config"
)

// Scope is the identifier namespace a suggestion was drawn from
type Scope string

const (
	ScopeTable  Scope = "table"
	ScopeColumn Scope = "column"
)

// Config bounds the correction loop and the acceptance threshold
type Config struct {
	MaxAttempts   int
	MinThreshold  int
	LengthDivisor int
}

// DefaultConfig returns three attempts and a max(1, len/4) threshold
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, MinThreshold: 1, LengthDivisor: 4}
}

// ConfigFrom converts the correction config section
func ConfigFrom(c config.CorrectionConfig) Config {
	return Config{
		MaxAttempts:   c.MaxAttempts,
		MinThreshold:  c.MinThreshold,
		LengthDivisor: c.LengthDivisor,
	}
}

// Threshold returns the largest distance accepted for identifier
func (c Config) Threshold(identifier string) int {
	divisor := c.LengthDivisor
	if divisor <= 0 {
		divisor = DefaultConfig().LengthDivisor
	}

	return max(c.MinThreshold, len([]rune(identifier))/divisor)
}

// Suggestion is the closest known identifier to an unknown one
type Suggestion struct {
	Original  string
	Suggested string
	Distance  int
	Threshold int
	Accepted  bool
	Scope     Scope
}

// Suggest picks the candidate with the smallest edit distance to identifier.
// Ties go to the shorter candidate, then the lexicographically smaller one.
// With no candidates the suggestion is empty and not accepted.
func Suggest(identifier string, candidates []string, cfg Config) Suggestion {
	ident := strings.ToLower(strings.TrimSpace(identifier))
	s := Suggestion{Original: ident, Distance: -1, Threshold: cfg.Threshold(ident)}

	for _, c := range candidates {
		cand := strings.ToLower(c)
		d := smetrics.WagnerFischer(ident, cand, 1, 1, 1)

		if s.Distance < 0 || d < s.Distance || (d == s.Distance && better(cand, s.Suggested)) {
			s.Suggested, s.Distance = cand, d
		}
	}

	s.Accepted = s.Distance >= 0 && s.Distance <= s.Threshold

	return s
}

func better(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}

	return a < b
}
