// Package intent maps free text to a query strategy with deterministic rules.
package intent

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/schema"
)

// Strategy is how a request should be answered
type Strategy string

const (
	StrategyData               Strategy = "DATA"
	StrategyExplanation        Strategy = "EXPLANATION"
	StrategyHybrid             Strategy = "HYBRID"
	StrategyNeedsClarification Strategy = "NEEDS_CLARIFICATION"
)

// Missing-information labels
const (
	MissingTargetTable = "target table"
	MissingDateRange   = "date range"
	MissingIntent      = "request type"
)

// DateRangeKey is the filter key for recognized relative date phrases
const DateRangeKey = "date_range"

// Filter is one extracted qualifier
type Filter struct {
	Key   string
	Value string
}

// Decision is the classifier's immutable verdict for one request
type Decision struct {
	Strategy           Strategy
	Confidence         float64
	TargetTables       []string
	Filters            []Filter
	MissingInformation []string
	MatchedCues        []string
}

// Filter returns the value of the first filter with key
func (d Decision) Filter(key string) (string, bool) {
	for _, f := range d.Filters {
		if f.Key == key {
			return f.Value, true
		}
	}

	return "", false
}

// NeedsData reports whether the strategy calls for a query
func (d Decision) NeedsData() bool {
	return d.Strategy == StrategyData || d.Strategy == StrategyHybrid
}

// Config tunes the confidence curve
type Config struct {
	BaseConfidence float64
	CueWeight      float64
	TableWeight    float64
	MaxConfidence  float64
}

// DefaultConfig returns the default confidence curve
func DefaultConfig() Config {
	return Config{
		BaseConfidence: 0.3,
		CueWeight:      0.1,
		TableWeight:    0.2,
		MaxConfidence:  1.0,
	}
}

// ConfigFrom converts the classifier config section
func ConfigFrom(c config.ClassifierConfig) Config {
	return Config{
		BaseConfidence: c.BaseConfidence,
		CueWeight:      c.CueWeight,
		TableWeight:    c.TableWeight,
		MaxConfidence:  c.MaxConfidence,
	}
}

// TableSource supplies the tables the classifier may resolve
type TableSource interface {
	Tables() []*schema.TableDescriptor
}

// Classifier is safe for concurrent use
type Classifier struct {
	tables TableSource
	cfg    Config
}

// NewClassifier creates a classifier over tables
func NewClassifier(tables TableSource, cfg Config) *Classifier {
	return &Classifier{tables: tables, cfg: cfg}
}

var (
	retrievalCues = []string{
		"show", "get", "find", "list", "count", "sum", "average", "avg", "top", "total",
		"calculate", "highest", "lowest", "max", "min", "maximum", "minimum", "how many",
	}

	definitionalCues = []string{
		"explain", "what is", "what are", "describe", "how to", "how do",
		"tell me about", "define", "meaning of",
	}

	trendCues = []string{"trend", "trends", "over time", "monthly", "daily", "weekly", "growth"}

	datePhrases = []struct {
		phrase string
		value  string
	}{
		{"last month", "last_month"},
		{"this month", "this_month"},
		{"last week", "last_week"},
		{"this week", "this_week"},
		{"last year", "last_year"},
		{"this year", "this_year"},
		{"today", "today"},
		{"yesterday", "yesterday"},
	}

	wordPattern      = regexp.MustCompile(`[a-z0-9_]+`)
	lastNDaysPattern = regexp.MustCompile(`\blast (\d+) days?\b`)
	equalityPattern  = regexp.MustCompile(
		`(?i)\b([a-z_][a-z0-9_]*)\s*(?:=|\bis\b|\bequals\b)\s*(?:'((?:[^']|'')*)'|"((?:[^"]|"")*)"|([a-z0-9_.\-]+))`)
)

// text is the tokenized form of a request
type text struct {
	original string
	padded   string // " w1 w2 ... wn "
}

func newText(raw string) text {
	words := wordPattern.FindAllString(strings.ToLower(raw), -1)
	return text{original: raw, padded: " " + strings.Join(words, " ") + " "}
}

// find returns the word-aligned position of phrase, or -1
func (t text) find(phrase string) int {
	return strings.Index(t.padded, " "+phrase+" ")
}

func (t text) has(phrase string) bool {
	return t.find(phrase) >= 0
}

// Classify decides the strategy for raw, which should already be validated
func (c *Classifier) Classify(raw string) Decision {
	t := newText(raw)

	var matched []string

	retrieval := matchCues(t, retrievalCues, &matched)
	definitional := matchCues(t, definitionalCues, &matched)

	var tables []*schema.TableDescriptor
	if c.tables != nil {
		tables = resolveTables(t, c.tables.Tables())
	}

	d := Decision{MatchedCues: matched}
	for _, tbl := range tables {
		d.TargetTables = append(d.TargetTables, tbl.Name)
	}

	switch {
	case retrieval > 0 && definitional > 0:
		d.Strategy = StrategyHybrid
	case retrieval > 0:
		d.Strategy = StrategyData
	case definitional > 0:
		d.Strategy = StrategyExplanation
	default:
		d.Strategy = StrategyNeedsClarification
		d.MissingInformation = append(d.MissingInformation, MissingIntent)
	}

	if d.NeedsData() && len(tables) == 0 {
		d.Strategy = StrategyNeedsClarification
		d.MissingInformation = append(d.MissingInformation, MissingTargetTable)
	}

	d.Filters = extractFilters(t, tables)

	if _, ok := d.Filter(DateRangeKey); !ok && d.Strategy != StrategyExplanation {
		for _, cue := range trendCues {
			if t.has(cue) {
				d.MissingInformation = append(d.MissingInformation, MissingDateRange)
				break
			}
		}
	}

	d.Confidence = c.confidence(len(matched), len(tables))

	return d
}

func (c *Classifier) confidence(cues, tables int) float64 {
	score := c.cfg.BaseConfidence + c.cfg.CueWeight*float64(cues) + c.cfg.TableWeight*float64(tables)
	score = math.Min(score, c.cfg.MaxConfidence)

	return math.Max(0, math.Min(1, score))
}

func matchCues(t text, cues []string, matched *[]string) int {
	n := 0

	for _, cue := range cues {
		if t.has(cue) {
			*matched = append(*matched, cue)
			n++
		}
	}

	return n
}

// tableForms lists the phrases that refer to a table
func tableForms(tbl *schema.TableDescriptor) []string {
	name := tbl.Name
	spaced := strings.ReplaceAll(name, "_", " ")
	forms := []string{name, spaced}

	if strings.HasSuffix(spaced, "s") {
		forms = append(forms, strings.TrimSuffix(spaced, "s"))
	} else {
		forms = append(forms, spaced+"s")
	}

	return append(forms, tbl.Aliases...)
}

// resolveTables returns the tables mentioned in t ordered by first mention
func resolveTables(t text, all []*schema.TableDescriptor) []*schema.TableDescriptor {
	type hit struct {
		tbl *schema.TableDescriptor
		pos int
	}

	var hits []hit

	for _, tbl := range all {
		best := -1

		for _, form := range tableForms(tbl) {
			if form == "" {
				continue
			}

			if pos := t.find(form); pos >= 0 && (best < 0 || pos < best) {
				best = pos
			}
		}

		if best >= 0 {
			hits = append(hits, hit{tbl: tbl, pos: best})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}

		return hits[i].tbl.Name < hits[j].tbl.Name
	})

	out := make([]*schema.TableDescriptor, len(hits))
	for i, h := range hits {
		out[i] = h.tbl
	}

	return out
}

// extractFilters applies the fixed date vocabulary and explicit equality phrases
// over columns of the resolved tables. Results are in text order.
func extractFilters(t text, tables []*schema.TableDescriptor) []Filter {
	type positioned struct {
		pos int
		f   Filter
	}

	var found []positioned

	datePos, dateValue := -1, ""

	for _, dp := range datePhrases {
		if pos := t.find(dp.phrase); pos >= 0 && (datePos < 0 || pos < datePos) {
			datePos, dateValue = pos, dp.value
		}
	}

	if m := lastNDaysPattern.FindStringSubmatchIndex(t.padded); m != nil && (datePos < 0 || m[0] < datePos) {
		datePos, dateValue = m[0], "last_"+t.padded[m[2]:m[3]]+"_days"
	}

	if datePos >= 0 {
		found = append(found, positioned{pos: datePos, f: Filter{Key: DateRangeKey, Value: dateValue}})
	}

	seen := make(map[string]bool)

	for _, m := range equalityPattern.FindAllStringSubmatchIndex(t.original, -1) {
		column := strings.ToLower(t.original[m[2]:m[3]])
		if seen[column] || !anyHasColumn(tables, column) {
			continue
		}

		var value string

		for g := 2; g <= 4; g++ {
			if m[2*g] >= 0 {
				value = unquote(t.original[m[2*g]:m[2*g+1]], g)
				break
			}
		}

		seen[column] = true
		// rank by the padded-text position so date and equality filters interleave
		pos := t.find(column)

		found = append(found, positioned{pos: pos, f: Filter{Key: column, Value: value}})
	}

	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	filters := make([]Filter, len(found))
	for i, p := range found {
		filters[i] = p.f
	}

	return filters
}

func anyHasColumn(tables []*schema.TableDescriptor, column string) bool {
	for _, tbl := range tables {
		if tbl.HasColumn(column) {
			return true
		}
	}

	return false
}

// unquote collapses doubled quotes inside a quoted filter value
func unquote(value string, group int) string {
	switch group {
	case 2:
		return strings.ReplaceAll(value, "''", "'")
	case 3:
		return strings.ReplaceAll(value, `""`, `"`)
	default:
		return value
	}
}
