package pipeline_test

import (
	"context"
	"database/sql"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/pipeline"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/security"
	"github.com/kyleking/insight-query/internal/sqlgen"
	"github.com/kyleking/insight-query/internal/testutil"
	"github.com/kyleking/insight-query/internal/warehouse"
)

// openWarehouse seeds a file database with stmts and opens it read through the warehouse
func openWarehouse(t *testing.T, stmts ...string) *warehouse.Warehouse {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warehouse.duckdb")

	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)

	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	require.NoError(t, db.Close())

	w, err := warehouse.Open(config.WarehouseConfig{
		Path:            path,
		MaxConnections:  2,
		MaxIdleConns:    1,
		ConnMaxLifetime: "30m",
		QueryTimeout:    "5s",
		RetryAttempts:   1,
		MaxRows:         100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return w
}

func mainPipeline(t *testing.T, tables ...schema.TableDescriptor) (*pipeline.Pipeline, *audit.MemorySink) {
	t.Helper()

	reg := schema.NewRegistry(schema.WithDefaultSchema("main"))
	require.NoError(t, reg.RegisterAll(tables))

	sink := audit.NewMemorySink()
	p := pipeline.New(reg, security.Policy{
		MaxQueryLength:             1000,
		RateLimitPerMinute:         100,
		AllowedSchemas:             []string{"main"},
		InjectionProtectionEnabled: true,
	}, pipeline.WithAuditSink(sink))

	return p, sink
}

var salesRows = `INSERT INTO sales VALUES ('west', 10.5), ('west', 4.5), ('east', 7.0)`

func TestExecutePlan(t *testing.T) {
	w := openWarehouse(t, `CREATE TABLE sales (region VARCHAR, amount DOUBLE)`, salesRows)
	ctx := context.Background()

	descs, err := w.LoadSchema(ctx, []string{"main"})
	require.NoError(t, err)

	p, sink := mainPipeline(t, descs...)

	res, err := p.ClassifyAndGenerate(ctx, "count sales by region", testutil.TestIdentity)
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.Equal(t, "SELECT region, COUNT(*) as count FROM sales GROUP BY region", res.Plan.Query)

	rs, ran, err := p.Execute(ctx, testutil.TestIdentity, res, w)
	require.NoError(t, err)
	assert.Same(t, res, ran)
	assert.Equal(t, []string{"region", "count"}, rs.Columns)
	assert.Len(t, rs.Rows, 2)
	assert.Zero(t, sink.Count(audit.KindExecutionCorrection))
}

func TestExecuteCorrectsRenamedColumn(t *testing.T) {
	w := openWarehouse(t, `CREATE TABLE sales (region VARCHAR, amounts DOUBLE)`, salesRows)
	ctx := context.Background()

	p, sink := mainPipeline(t, testutil.NewTable("sales",
		testutil.WithColumn("region", schema.TypeString),
		testutil.WithColumn("amount", schema.TypeDecimal)))

	res, err := p.ClassifyAndGenerate(ctx, "show total amount by region in sales", testutil.TestIdentity)
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.Equal(t, "SELECT region, SUM(amount) as total FROM sales GROUP BY region", res.Plan.Query)

	rs, ran, err := p.Execute(ctx, testutil.TestIdentity, res, w)
	require.NoError(t, err)
	require.NotNil(t, ran.Plan)

	assert.Equal(t, "SELECT region, SUM(amounts) as total FROM sales GROUP BY region", ran.Plan.Query)
	assert.Equal(t, res.RequestID, ran.RequestID)
	require.Len(t, ran.Corrections, 1)
	assert.Equal(t, "amount", ran.Corrections[0].Original)
	assert.Equal(t, "amounts", ran.Corrections[0].Suggested)
	assert.Len(t, rs.Rows, 2)

	assert.True(t, p.Registry().ColumnExists("sales", "amounts"))
	assert.False(t, p.Registry().ColumnExists("sales", "amount"))

	var events []audit.Event
	for _, e := range sink.Events() {
		if e.Kind == audit.KindExecutionCorrection {
			events = append(events, e)
		}
	}

	require.Len(t, events, 1)
	assert.Equal(t, "retried", events[0].Fields["outcome"])
	assert.Equal(t, "amount", events[0].Fields["identifier"])
	assert.Equal(t, string(errors.ReasonUnknownColumn), events[0].Fields["reason"])
	assert.Equal(t, res.RequestID, events[0].RequestID)
	assert.Equal(t, 1, sink.Count(audit.KindCorrectionAttempt))
}

func TestExecuteDroppedTableBecomesClarification(t *testing.T) {
	w := openWarehouse(t, `CREATE TABLE sales (region VARCHAR, amount DOUBLE)`, salesRows)
	ctx := context.Background()

	p, sink := mainPipeline(t,
		testutil.NewTable("sales",
			testutil.WithColumn("region", schema.TypeString),
			testutil.WithColumn("amount", schema.TypeDecimal)),
		testutil.NewTable("orders",
			testutil.WithColumn("id", schema.TypeInt),
			testutil.WithColumn("total", schema.TypeDecimal)))

	res, err := p.Generate(ctx, testutil.TestIdentity, sqlgen.Request{Table: "orders"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, total FROM orders", res.Plan.Query)

	rs, ran, err := p.Execute(ctx, testutil.TestIdentity, res, w)
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.Nil(t, ran.Plan)
	assert.Equal(t, "orders", ran.Unresolved)
	assert.Equal(t, `Unknown table "orders". Available tables: sales`, ran.Clarification)

	assert.Equal(t, []string{"sales"}, p.Registry().TableNames())

	events := sink.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, audit.KindExecutionCorrection, last.Kind)
	assert.Equal(t, "clarification", last.Fields["outcome"])
	assert.Equal(t, audit.SeverityWarning, last.Severity)
}

type fakeExecutor struct {
	execErr error
	loadErr error
	tables  []schema.TableDescriptor
	queries []string
	loads   int
}

func (f *fakeExecutor) Execute(_ context.Context, query string) (*warehouse.ResultSet, error) {
	f.queries = append(f.queries, query)
	return nil, f.execErr
}

func (f *fakeExecutor) LoadSchema(context.Context, []string) ([]schema.TableDescriptor, error) {
	f.loads++
	return f.tables, f.loadErr
}

func TestExecuteFailures(t *testing.T) {
	unknownAmount := errors.New(errors.ErrTypeDatabase, "query failed").
		WithReason(errors.ReasonUnknownColumn).
		WithIdentifier("amount")
	sales := testutil.NewTable("sales",
		testutil.WithColumn("region", schema.TypeString),
		testutil.WithColumn("amount", schema.TypeDecimal))

	tests := []struct {
		name      string
		exec      *fakeExecutor
		wantErr   error
		wantLoads int
		outcome   string
	}{
		{
			name:      "other database error passes through",
			exec:      &fakeExecutor{execErr: stderrors.New("Parser Error: syntax error")},
			wantLoads: 0,
		},
		{
			name:      "reload failure keeps the execution error",
			exec:      &fakeExecutor{execErr: unknownAmount, loadErr: stderrors.New("warehouse offline")},
			wantErr:   unknownAmount,
			wantLoads: 1,
			outcome:   "reload_failed",
		},
		{
			name:      "unchanged catalog is not retried",
			exec:      &fakeExecutor{execErr: unknownAmount, tables: []schema.TableDescriptor{sales}},
			wantErr:   unknownAmount,
			wantLoads: 1,
			outcome:   "unchanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sink := mainPipeline(t, sales)
			ctx := context.Background()

			res, err := p.Generate(ctx, testutil.TestIdentity, sqlgen.Request{Table: "sales", Columns: []string{"amount"}})
			require.NoError(t, err)

			rs, ran, err := p.Execute(ctx, testutil.TestIdentity, res, tt.exec)
			require.Error(t, err)
			assert.Nil(t, rs)
			assert.Same(t, res, ran)
			assert.Len(t, tt.exec.queries, 1)
			assert.Equal(t, tt.wantLoads, tt.exec.loads)

			if tt.wantErr != nil {
				assert.Same(t, tt.wantErr, err)
			} else {
				assert.Same(t, tt.exec.execErr, err)
			}

			if tt.outcome == "" {
				assert.Zero(t, sink.Count(audit.KindExecutionCorrection))
				return
			}

			require.Equal(t, 1, sink.Count(audit.KindExecutionCorrection))

			for _, e := range sink.Events() {
				if e.Kind == audit.KindExecutionCorrection {
					assert.Equal(t, tt.outcome, e.Fields["outcome"])
				}
			}
		})
	}
}

func TestExecuteWithoutPlan(t *testing.T) {
	p, _ := mainPipeline(t, testutil.SalesTable())

	_, _, err := p.Execute(context.Background(), testutil.TestIdentity, &pipeline.Result{}, &fakeExecutor{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
