package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/insight-query/internal/intent"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/sqlgen"
	"github.com/kyleking/insight-query/internal/testutil"
)

func TestTypedValue(t *testing.T) {
	tests := []struct {
		colType schema.ColumnType
		raw     string
		want    interface{}
	}{
		{schema.TypeInt, "42", int64(42)},
		{schema.TypeInt, "forty", "forty"},
		{schema.TypeDecimal, "9.75", 9.75},
		{schema.TypeDecimal, "NaN", "NaN"},
		{schema.TypeBoolean, "false", false},
		{schema.TypeDate, "2026-02-01", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{schema.TypeDate, "yesterday", "yesterday"},
		{schema.TypeString, "42", "42"},
	}

	for _, tt := range tests {
		t.Run(string(tt.colType)+"/"+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, typedValue(tt.colType, tt.raw))
		})
	}
}

func TestPlannerLimit(t *testing.T) {
	p := planner{topLimit: 10}

	tests := []struct {
		text  string
		want  int
		found bool
	}{
		{"top 5 sales", 5, true},
		{"first 20 rows", 20, true},
		{"limit 3", 3, true},
		{"top sales", 10, true},
		{"all sales", 0, false},
		{"top 0 sales", 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			n, ok := p.limit(splitWords(tt.text))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestPlannerByClauses(t *testing.T) {
	reg := testutil.NewTestRegistry(t)
	desc, err := reg.Lookup("sales")
	require.NoError(t, err)

	p := planner{tables: reg.TableNames()}

	tests := []struct {
		text    string
		groupBy []string
		orderBy []sqlgen.OrderTerm
	}{
		{"total by region", []string{"region"}, nil},
		{"total per the product", []string{"product"}, nil},
		{"total by sale date", []string{"sale_date"}, nil},
		{"amount by region and by region", []string{"region"}, nil},
		{"sales ordered by amount descending", nil, []sqlgen.OrderTerm{{Column: "amount", Direction: "DESC"}}},
		{"sales sort by product", nil, []sqlgen.OrderTerm{{Column: "product", Direction: "ASC"}}},
		{"customers by sales", nil, nil},
		{"totals by 2026", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			groupBy, orderBy := p.byClauses(splitWords(tt.text), desc)
			assert.Equal(t, tt.groupBy, groupBy)
			assert.Equal(t, tt.orderBy, orderBy)
		})
	}
}

func TestPlannerBuild(t *testing.T) {
	reg := testutil.NewTestRegistry(t)
	desc, err := reg.Lookup("transactions")
	require.NoError(t, err)

	p := planner{topLimit: 10, tables: reg.TableNames()}
	d := intent.Decision{
		Strategy: intent.StrategyData,
		Filters: []intent.Filter{
			{Key: intent.DateRangeKey, Value: "last_week"},
			{Key: "customer_id", Value: "17"},
			{Key: "region", Value: "west"},
		},
	}

	req := p.build("highest amount for customer_id = 17 last week", d, desc)

	assert.Equal(t, "transactions", req.Table)
	assert.Equal(t, []sqlgen.Aggregation{{Alias: "maximum", Func: "MAX", Column: "amount"}}, req.Aggregations)
	assert.Equal(t, []sqlgen.Filter{{Column: "customer_id", Value: int64(17)}}, req.Filters)
	assert.Nil(t, req.Limit)
}

func TestPlannerByWithoutAggregation(t *testing.T) {
	reg := testutil.NewTestRegistry(t, testutil.NewTable("customers",
		testutil.WithColumn("name", schema.TypeString),
		testutil.WithColumn("revenue", schema.TypeDecimal),
		testutil.WithColumn("region", schema.TypeString)))

	desc, err := reg.Lookup("customers")
	require.NoError(t, err)

	p := planner{topLimit: 10, tables: reg.TableNames()}

	tests := []struct {
		text    string
		columns []string
		orderBy []sqlgen.OrderTerm
	}{
		{"show the top 5 customers by revenue", nil, []sqlgen.OrderTerm{{Column: "revenue", Direction: "DESC"}}},
		{"show the bottom 3 customers by revenue", nil, []sqlgen.OrderTerm{{Column: "revenue", Direction: "ASC"}}},
		{"show customer name and revenue by region", []string{"name", "revenue", "region"},
			[]sqlgen.OrderTerm{{Column: "region", Direction: "ASC"}}},
		{"show name by region sorted by revenue", []string{"name", "region", "revenue"},
			[]sqlgen.OrderTerm{{Column: "revenue", Direction: "ASC"}}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			req := p.build(tt.text, intent.Decision{Strategy: intent.StrategyData}, desc)
			assert.Empty(t, req.GroupBy)
			assert.Empty(t, req.Aggregations)
			assert.Equal(t, tt.columns, req.Columns)
			assert.Equal(t, tt.orderBy, req.OrderBy)
		})
	}
}

func TestMeasureColumn(t *testing.T) {
	reg := testutil.NewTestRegistry(t, testutil.NewTable("events",
		testutil.WithColumn("name", schema.TypeString),
		testutil.WithColumn("hits", schema.TypeInt)))

	desc, err := reg.Lookup("events")
	require.NoError(t, err)

	assert.Equal(t, "hits", measureColumn(desc, nil))
	assert.Equal(t, "hits", measureColumn(desc, []string{"name", "hits"}))
	assert.Empty(t, measureColumn(&schema.TableDescriptor{Name: "x", Columns: desc.Columns[:1]}, nil))
}
