// Package formatter renders pipeline results, row sets and catalogs for the terminal.
package formatter

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/kyleking/insight-query/internal/intent"
	"github.com/kyleking/insight-query/internal/pipeline"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/warehouse"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatLong  OutputFormat = "long"
	FormatShort OutputFormat = "short"
)

// ParseFormat accepts "long" and "short"
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatLong:
		return FormatLong, nil
	case FormatShort, "":
		return FormatShort, nil
	default:
		return "", fmt.Errorf("invalid format %q (must be short or long)", s)
	}
}

// Formatter renders output, optionally with ANSI colors
type Formatter struct {
	color bool
}

// Option configures a Formatter
type Option func(*Formatter)

// WithColor enables colored strategy labels
func WithColor(enabled bool) Option {
	return func(f *Formatter) {
		f.color = enabled
	}
}

// NewFormatter creates a new formatter instance
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *Formatter) paint(s string, attrs ...color.Attribute) string {
	c := color.New(attrs...)
	if f.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c.Sprint(s)
}

func (f *Formatter) strategyLabel(s intent.Strategy) string {
	switch s {
	case intent.StrategyData:
		return f.paint(string(s), color.FgGreen, color.Bold)
	case intent.StrategyHybrid:
		return f.paint(string(s), color.FgCyan, color.Bold)
	case intent.StrategyExplanation:
		return f.paint(string(s), color.FgBlue, color.Bold)
	default:
		return f.paint(string(s), color.FgYellow, color.Bold)
	}
}

// FormatResult renders one pipeline result
func (f *Formatter) FormatResult(res *pipeline.Result, format OutputFormat) string {
	if format == FormatLong {
		return f.formatResultLong(res)
	}

	return f.formatResultShort(res)
}

func (f *Formatter) formatResultShort(res *pipeline.Result) string {
	header := fmt.Sprintf("[%s %.2f]", f.strategyLabel(res.Intent.Strategy), res.Intent.Confidence)

	switch {
	case res.Plan != nil:
		return header + " " + res.Plan.Query
	case res.NeedsClarification():
		return header + " " + res.Clarification
	default:
		return header + " explanation requested (tables: " + dash(strings.Join(res.Intent.TargetTables, ", ")) + ")"
	}
}

func (f *Formatter) formatResultLong(res *pipeline.Result) string {
	var lines []string

	if res.RequestID != "" {
		lines = append(lines, "Request: "+res.RequestID)
	}

	lines = append(lines,
		fmt.Sprintf("Strategy: %s (confidence %.2f)", f.strategyLabel(res.Intent.Strategy), res.Intent.Confidence),
		"Tables: "+dash(strings.Join(res.Intent.TargetTables, ", ")))

	if len(res.Intent.Filters) > 0 {
		filters := make([]string, len(res.Intent.Filters))
		for i, flt := range res.Intent.Filters {
			filters[i] = flt.Key + "=" + flt.Value
		}

		lines = append(lines, "Filters: "+strings.Join(filters, ", "))
	}

	if len(res.Intent.MissingInformation) > 0 {
		lines = append(lines, "Missing: "+strings.Join(res.Intent.MissingInformation, ", "))
	}

	for _, s := range res.Corrections {
		verdict := "accepted"
		if !s.Accepted {
			verdict = "rejected"
		}

		lines = append(lines, fmt.Sprintf("Correction: %s %s -> %s (distance %d, threshold %d, %s)",
			s.Scope, s.Original, dash(s.Suggested), s.Distance, s.Threshold, verdict))
	}

	if res.Plan != nil {
		lines = append(lines, "Query: "+f.paint(res.Plan.Query, color.Bold))
	}

	if res.NeedsClarification() {
		lines = append(lines, "Clarification: "+res.Clarification)
	}

	return strings.Join(lines, "\n")
}

// FormatRows renders a result set as a table. Short form omits the footer.
func (f *Formatter) FormatRows(rs *warehouse.ResultSet, format OutputFormat) string {
	if rs == nil || len(rs.Columns) == 0 {
		return "(no columns)"
	}

	rows := make([][]string, len(rs.Rows))
	for i, row := range rs.Rows {
		cells := make([]string, len(rs.Columns))
		for j, col := range rs.Columns {
			cells[j] = FormatValue(row[col])
		}

		rows[i] = cells
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(rs.Columns...).
		Rows(rows...)

	out := t.String()

	if format == FormatLong {
		footer := humanize.Comma(int64(len(rs.Rows))) + " row(s)"
		if rs.Truncated {
			footer += " (truncated)"
		}

		if rs.Elapsed > 0 {
			footer += " in " + rs.Elapsed.Round(time.Millisecond).String()
		}

		out += "\n" + footer
	}

	return out
}

// FormatTables renders registered descriptors
func (f *Formatter) FormatTables(tables []*schema.TableDescriptor, format OutputFormat) string {
	if len(tables) == 0 {
		return "No tables registered."
	}

	var lines []string

	for _, t := range tables {
		header := fmt.Sprintf("%s (%s columns)", t.QualifiedName(), humanize.Comma(int64(len(t.Columns))))
		if format != FormatLong {
			lines = append(lines, header)
			continue
		}

		lines = append(lines, f.paint(header, color.Bold))

		if t.Description != "" {
			lines = append(lines, "  "+t.Description)
		}

		if len(t.Aliases) > 0 {
			lines = append(lines, "  aliases: "+strings.Join(t.Aliases, ", "))
		}

		for _, c := range t.Columns {
			lines = append(lines, fmt.Sprintf("  %-24s %s", c.Name, c.Type))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatValue renders one cell
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		h, m, s := x.Clock()
		if h == 0 && m == 0 && s == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}

		return x.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case *big.Int:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
