package pipeline

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kyleking/insight-query/internal/intent"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/sqlgen"
)

type aggregationCue struct {
	phrases []string
	fn      string
	alias   string
}

var (
	aggregationCues = []aggregationCue{
		{[]string{"total", "sum"}, "SUM", "total"},
		{[]string{"average", "avg", "mean"}, "AVG", "average"},
		{[]string{"count", "how many", "number of"}, "COUNT", "count"},
		{[]string{"highest", "max", "maximum"}, "MAX", "maximum"},
		{[]string{"lowest", "min", "minimum"}, "MIN", "minimum"},
	}

	descendingCues = []string{"top", "highest", "largest", "biggest", "most"}
	ascendingCues  = []string{"bottom", "lowest", "smallest", "least"}

	groupStopwords = map[string]bool{
		"the": true, "a": true, "an": true, "each": true, "every": true, "their": true,
	}
	sortVerbs = map[string]bool{"order": true, "sort": true, "sorted": true, "ordered": true}

	plannerWords = regexp.MustCompile(`[a-z0-9_]+`)
	limitPattern = regexp.MustCompile(`\b(?:top|first|limit|bottom)\s+(\d+)\b`)
)

// words is the lower-cased word sequence of a request
type words struct {
	list   []string
	padded string
}

func splitWords(raw string) words {
	list := plannerWords.FindAllString(strings.ToLower(raw), -1)
	return words{list: list, padded: " " + strings.Join(list, " ") + " "}
}

func (w words) find(phrase string) int {
	return strings.Index(w.padded, " "+phrase+" ")
}

func (w words) hasAny(phrases []string) bool {
	for _, p := range phrases {
		if w.find(p) >= 0 {
			return true
		}
	}

	return false
}

// planner derives a structured request from classified free text
type planner struct {
	topLimit int
	tables   []string
}

// build maps the request text and decision onto a query request over desc
func (p planner) build(raw string, d intent.Decision, desc *schema.TableDescriptor) sqlgen.Request {
	w := splitWords(raw)
	req := sqlgen.Request{Table: desc.Name}

	mentioned := p.mentionedColumns(w, desc)
	groupBy, orderBy := p.byClauses(w, desc)
	req.Filters = decisionFilters(d, desc)

	limit, hasLimit := p.limit(w)
	if hasLimit {
		req.Limit = &limit
	}

	if agg, ok := p.aggregation(w, desc, mentioned, hasLimit); ok {
		req.Aggregations = []sqlgen.Aggregation{agg}
		req.GroupBy = groupBy

		if len(groupBy) > 0 && len(orderBy) == 0 {
			switch {
			case w.hasAny(descendingCues):
				orderBy = []sqlgen.OrderTerm{{Column: agg.Alias, Direction: "DESC"}}
			case w.hasAny(ascendingCues):
				orderBy = []sqlgen.OrderTerm{{Column: agg.Alias, Direction: "ASC"}}
			}
		}
	} else {
		for _, c := range mentioned {
			if !filtered(req.Filters, c) {
				req.Columns = append(req.Columns, c)
			}
		}

		// without an aggregate, "by <col>" sorts rows instead of grouping them
		ranked := w.hasAny(descendingCues) || w.hasAny(ascendingCues)
		if ranked && subset(req.Columns, groupBy) {
			req.Columns = nil
		}

		if len(orderBy) == 0 && len(groupBy) > 0 {
			dir := "ASC"
			if w.hasAny(descendingCues) {
				dir = "DESC"
			}

			for _, c := range groupBy {
				orderBy = append(orderBy, sqlgen.OrderTerm{Column: c, Direction: dir})
			}
		}

		if len(orderBy) == 0 {
			if measure := measureColumn(desc, mentioned); measure != "" {
				switch {
				case w.hasAny(descendingCues):
					orderBy = []sqlgen.OrderTerm{{Column: measure, Direction: "DESC"}}
				case w.hasAny(ascendingCues):
					orderBy = []sqlgen.OrderTerm{{Column: measure, Direction: "ASC"}}
				}
			}
		}
	}

	req.OrderBy = orderBy

	return req
}

// mentionedColumns returns the columns of desc named in the text, in text order
func (p planner) mentionedColumns(w words, desc *schema.TableDescriptor) []string {
	type hit struct {
		name string
		pos  int
	}

	var hits []hit

	for _, c := range desc.Columns {
		pos := w.find(c.Name)
		if spaced := strings.ReplaceAll(c.Name, "_", " "); spaced != c.Name {
			if sp := w.find(spaced); sp >= 0 && (pos < 0 || sp < pos) {
				pos = sp
			}
		}

		if pos >= 0 {
			hits = append(hits, hit{name: c.Name, pos: pos})
		}
	}

	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	var out []string
	for _, h := range hits {
		out = append(out, h.name)
	}

	return out
}

// byClauses reads "by <col>" / "per <col>" as grouping and "order by <col>" as ordering
func (p planner) byClauses(w words, desc *schema.TableDescriptor) ([]string, []sqlgen.OrderTerm) {
	var (
		groupBy []string
		orderBy []sqlgen.OrderTerm
	)

	for i := 0; i < len(w.list)-1; i++ {
		if w.list[i] != "by" && w.list[i] != "per" {
			continue
		}

		j := i + 1
		for j < len(w.list) && groupStopwords[w.list[j]] {
			j++
		}

		if j >= len(w.list) {
			break
		}

		column := w.list[j]
		if j+1 < len(w.list) && desc.HasColumn(column+"_"+w.list[j+1]) {
			column += "_" + w.list[j+1]
		}

		if !schema.IsValidIdentifier(column) || p.isTableName(column) {
			continue
		}

		if i > 0 && w.list[i] == "by" && sortVerbs[w.list[i-1]] {
			dir := "ASC"
			if j+1 < len(w.list) && (w.list[j+1] == "desc" || w.list[j+1] == "descending") {
				dir = "DESC"
			}

			orderBy = append(orderBy, sqlgen.OrderTerm{Column: column, Direction: dir})

			continue
		}

		if !contains(groupBy, column) {
			groupBy = append(groupBy, column)
		}
	}

	return groupBy, orderBy
}

func (p planner) isTableName(word string) bool {
	return contains(p.tables, word)
}

func (p planner) limit(w words) (int, bool) {
	if m := limitPattern.FindStringSubmatch(w.padded); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}

	if w.find("top") >= 0 && p.topLimit > 0 {
		return p.topLimit, true
	}

	return 0, false
}

// aggregation picks the earliest aggregation cue. "highest" and "lowest" only
// aggregate when no row limit was asked for; otherwise they order rows.
func (p planner) aggregation(w words, desc *schema.TableDescriptor, mentioned []string, hasLimit bool) (sqlgen.Aggregation, bool) {
	best, bestPos := -1, -1

	for i, cue := range aggregationCues {
		for _, phrase := range cue.phrases {
			if hasLimit && (phrase == "highest" || phrase == "lowest") {
				continue
			}

			if pos := w.find(phrase); pos >= 0 && (bestPos < 0 || pos < bestPos) {
				best, bestPos = i, pos
			}
		}
	}

	if best < 0 {
		return sqlgen.Aggregation{}, false
	}

	cue := aggregationCues[best]
	if cue.fn == "COUNT" {
		return sqlgen.Aggregation{Alias: cue.alias, Func: cue.fn, Column: "*"}, true
	}

	measure := measureColumn(desc, mentioned)
	if measure == "" {
		return sqlgen.Aggregation{}, false
	}

	return sqlgen.Aggregation{Alias: cue.alias, Func: cue.fn, Column: measure}, true
}

// measureColumn is the first numeric column mentioned, else the first DECIMAL
// column, else the first INT column
func measureColumn(desc *schema.TableDescriptor, mentioned []string) string {
	for _, name := range mentioned {
		if c, ok := desc.Column(name); ok && c.Type.IsNumeric() {
			return c.Name
		}
	}

	if cols := desc.ColumnsOfType(schema.TypeDecimal); len(cols) > 0 {
		return cols[0]
	}

	if cols := desc.ColumnsOfType(schema.TypeInt); len(cols) > 0 {
		return cols[0]
	}

	return ""
}

// decisionFilters converts equality filters on desc's columns to typed values.
// Relative date ranges stay on the decision.
func decisionFilters(d intent.Decision, desc *schema.TableDescriptor) []sqlgen.Filter {
	var out []sqlgen.Filter

	for _, f := range d.Filters {
		if f.Key == intent.DateRangeKey {
			continue
		}

		c, ok := desc.Column(f.Key)
		if !ok {
			continue
		}

		out = append(out, sqlgen.Filter{Column: c.Name, Value: typedValue(c.Type, f.Value)})
	}

	return out
}

func typedValue(t schema.ColumnType, raw string) interface{} {
	switch t {
	case schema.TypeInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case schema.TypeDecimal:
		if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	case schema.TypeBoolean:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case schema.TypeDate:
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			return ts
		}
	}

	return raw
}

func filtered(filters []sqlgen.Filter, column string) bool {
	for _, f := range filters {
		if f.Column == column {
			return true
		}
	}

	return false
}

// subset reports whether every element of list is in set
func subset(list, set []string) bool {
	for _, v := range list {
		if !contains(set, v) {
			return false
		}
	}

	return true
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}

	return false
}
