// Package sqlgen builds read-only queries exclusively from registered identifiers.
package sqlgen

import (
	"strconv"
	"strings"

	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/schema"
)

// Filter is an equality (or IS NULL / IN) predicate on a column
type Filter struct {
	Column string
	Value  interface{}
}

// Aggregation is FUNC(Column) as Alias
type Aggregation struct {
	Alias  string
	Func   string
	Column string
}

// OrderTerm is one ORDER BY entry
type OrderTerm struct {
	Column    string
	Direction string
}

// Request is an unvalidated query description
type Request struct {
	Table        string
	Columns      []string
	Filters      []Filter
	Aggregations []Aggregation
	GroupBy      []string
	OrderBy      []OrderTerm
	Limit        *int
}

// Plan is a validated request normalized to registry spellings, with its serialized query
type Plan struct {
	Table        string
	Schema       string
	Columns      []string
	Filters      []Filter
	Aggregations []Aggregation
	GroupBy      []string
	OrderBy      []OrderTerm
	Limit        *int
	Query        string
}

// Catalog is the subset of the schema registry the generator reads
type Catalog interface {
	Lookup(name string) (*schema.TableDescriptor, error)
	DefaultSchema() string
}

var supportedAggregations = map[string]bool{
	"SUM": true, "AVG": true, "COUNT": true, "MIN": true, "MAX": true,
}

// Generator is safe for concurrent use
type Generator struct {
	catalog        Catalog
	allowedSchemas []string
}

// Option configures a Generator
type Option func(*Generator)

// WithAllowedSchemas restricts generation to tables in the given schemas
func WithAllowedSchemas(schemas ...string) Option {
	return func(g *Generator) {
		g.allowedSchemas = nil
		for _, s := range schemas {
			g.allowedSchemas = append(g.allowedSchemas, schema.NormalizeIdentifier(s))
		}
	}
}

// NewGenerator creates a generator over catalog
func NewGenerator(catalog Catalog, opts ...Option) *Generator {
	g := &Generator{catalog: catalog}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

func unknownColumn(column, table string) *errors.Error {
	return errors.Newf(errors.ErrTypeSchema, "column %s does not exist on table %s", column, table).
		WithReason(errors.ReasonUnknownColumn).
		WithIdentifier(column).
		WithDetail(table)
}

func generationError(reason errors.Reason, format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.ErrTypeGeneration, format, args...).WithReason(reason)
}

// Generate validates req against the catalog and serializes it. Unknown columns
// are reported in the order columns, filters, aggregations, group by, order by.
func (g *Generator) Generate(req Request) (*Plan, error) {
	desc, err := g.catalog.Lookup(req.Table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSchema, "table %s is not registered",
			schema.NormalizeIdentifier(req.Table)).
			WithReason(errors.ReasonUnknownTable).
			WithIdentifier(schema.NormalizeIdentifier(req.Table))
	}

	if g.allowedSchemas != nil && !contains(g.allowedSchemas, desc.Schema) {
		return nil, errors.Newf(errors.ErrTypePostValidation, "table %s is outside the allowed schemas",
			desc.QualifiedName()).
			WithReason(errors.ReasonDisallowedSchema).
			WithIdentifier(desc.QualifiedName())
	}

	plan := &Plan{Table: desc.Name, Schema: desc.Schema}

	column := func(name string) (string, error) {
		n := schema.NormalizeIdentifier(name)
		if !desc.HasColumn(n) {
			return "", unknownColumn(n, desc.Name)
		}

		return n, nil
	}

	for _, c := range req.Columns {
		n, err := column(c)
		if err != nil {
			return nil, err
		}

		plan.Columns = append(plan.Columns, n)
	}

	for _, f := range req.Filters {
		n, err := column(f.Column)
		if err != nil {
			return nil, err
		}

		plan.Filters = append(plan.Filters, Filter{Column: n, Value: f.Value})
	}

	aliases := make(map[string]bool, len(req.Aggregations))

	for _, a := range req.Aggregations {
		agg, err := normalizeAggregation(a, column)
		if err != nil {
			return nil, err
		}

		if aliases[agg.Alias] {
			return nil, generationError(errors.ReasonInvalidAlias, "alias %s is used twice", agg.Alias)
		}

		aliases[agg.Alias] = true
		plan.Aggregations = append(plan.Aggregations, agg)
	}

	for _, c := range req.GroupBy {
		n, err := column(c)
		if err != nil {
			return nil, err
		}

		plan.GroupBy = append(plan.GroupBy, n)
	}

	for _, o := range req.OrderBy {
		n := schema.NormalizeIdentifier(o.Column)
		if !aliases[n] {
			if n, err = column(o.Column); err != nil {
				return nil, err
			}
		}

		dir := strings.ToUpper(strings.TrimSpace(o.Direction))
		if dir == "" {
			dir = "ASC"
		}

		if dir != "ASC" && dir != "DESC" {
			return nil, generationError(errors.ReasonInvalidOrderDirection, "invalid order direction %q", o.Direction)
		}

		plan.OrderBy = append(plan.OrderBy, OrderTerm{Column: n, Direction: dir})
	}

	if req.Limit != nil {
		if *req.Limit <= 0 {
			return nil, generationError(errors.ReasonInvalidLimit, "limit must be positive, got %d", *req.Limit)
		}

		limit := *req.Limit
		plan.Limit = &limit
	}

	if len(plan.Columns) == 0 {
		switch {
		case len(plan.Aggregations) == 0:
			plan.Columns = desc.ColumnNames()
		case len(plan.GroupBy) > 0:
			plan.Columns = append([]string(nil), plan.GroupBy...)
		}
	}

	from := desc.Name
	if desc.Schema != g.catalog.DefaultSchema() {
		from = desc.QualifiedName()
	}

	query, err := serialize(plan, from)
	if err != nil {
		return nil, err
	}

	plan.Query = query

	return plan, nil
}

func normalizeAggregation(a Aggregation, column func(string) (string, error)) (Aggregation, error) {
	fn := strings.ToUpper(strings.TrimSpace(a.Func))
	if !supportedAggregations[fn] {
		return Aggregation{}, generationError(errors.ReasonUnsupportedAggregation,
			"aggregation %q is not supported", a.Func).WithIdentifier(a.Func)
	}

	col := strings.TrimSpace(a.Column)
	if col == "*" {
		if fn != "COUNT" {
			return Aggregation{}, generationError(errors.ReasonUnsupportedAggregation, "%s(*) is not supported", fn)
		}
	} else {
		var err error
		if col, err = column(col); err != nil {
			return Aggregation{}, err
		}
	}

	alias := schema.NormalizeIdentifier(a.Alias)
	if alias == "" {
		alias = strings.ToLower(fn)
		if col != "*" {
			alias += "_" + col
		}
	}

	if !schema.IsValidIdentifier(alias) {
		return Aggregation{}, generationError(errors.ReasonInvalidAlias, "alias %q is not a valid identifier", a.Alias)
	}

	return Aggregation{Alias: alias, Func: fn, Column: col}, nil
}

func serialize(plan *Plan, from string) (string, error) {
	selectList := append([]string(nil), plan.Columns...)
	for _, a := range plan.Aggregations {
		selectList = append(selectList, a.Func+"("+a.Column+") as "+a.Alias)
	}

	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectList, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(from)

	if len(plan.Filters) > 0 {
		preds := make([]string, len(plan.Filters))
		for i, f := range plan.Filters {
			p, err := renderPredicate(f.Column, f.Value)
			if err != nil {
				return "", err
			}

			preds[i] = p
		}

		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " AND "))
	}

	if len(plan.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(plan.GroupBy, ", "))
	}

	if len(plan.OrderBy) > 0 {
		terms := make([]string, len(plan.OrderBy))
		for i, o := range plan.OrderBy {
			terms[i] = o.Column + " " + o.Direction
		}

		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}

	if plan.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(*plan.Limit))
	}

	return sb.String(), nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}

	return false
}
