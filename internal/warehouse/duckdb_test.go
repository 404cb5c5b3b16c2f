package warehouse

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/security"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.WarehouseConfig {
	return config.WarehouseConfig{
		MaxConnections:  4,
		MaxIdleConns:    2,
		ConnMaxLifetime: "30m",
		QueryTimeout:    "5s",
		RetryAttempts:   3,
		MaxRows:         100,
	}
}

var seed = []string{
	`CREATE TABLE sales (region VARCHAR, amount DECIMAL(18,2), sale_date DATE, product VARCHAR, quantity INTEGER)`,
	`INSERT INTO sales VALUES
		('west', 10.50, '2026-01-02', 'widget', 1),
		('west', 4.25, '2026-01-03', 'gadget', 2),
		('east', 7.00, '2026-01-04', 'widget', 3)`,
	`CREATE SCHEMA analytics`,
	`CREATE TABLE analytics.events (name VARCHAR, payload BLOB, hits BIGINT)`,
	`CREATE TABLE "Weird-Name" (id INTEGER)`,
}

func newTestWarehouse(t *testing.T, opts ...Option) *Warehouse {
	t.Helper()

	w, err := Open(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	for _, stmt := range seed {
		_, err := w.db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}

	return w
}

func TestOpenFileDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "warehouse.duckdb")

	w, err := Open(cfg)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, cfg.Path, w.Path())
	assert.FileExists(t, cfg.Path)
}

func TestLoadSchema(t *testing.T) {
	w := newTestWarehouse(t)

	descs, err := w.LoadSchema(context.Background(), []string{"main", "Analytics"})
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "analytics.events", descs[0].QualifiedName())
	assert.Equal(t, []schema.Column{
		{Name: "name", Type: schema.TypeString},
		{Name: "hits", Type: schema.TypeInt},
	}, descs[0].Columns)

	assert.Equal(t, "main.sales", descs[1].QualifiedName())
	assert.Equal(t, []schema.Column{
		{Name: "region", Type: schema.TypeString},
		{Name: "amount", Type: schema.TypeDecimal},
		{Name: "sale_date", Type: schema.TypeDate},
		{Name: "product", Type: schema.TypeString},
		{Name: "quantity", Type: schema.TypeInt},
	}, descs[1].Columns)

	reg := schema.NewRegistry(schema.WithDefaultSchema("main"))
	require.NoError(t, reg.RegisterAll(descs))
	assert.Equal(t, []string{"events", "sales"}, reg.TableNames())
}

func TestLoadSchemaFiltersSchemas(t *testing.T) {
	w := newTestWarehouse(t)

	descs, err := w.LoadSchema(context.Background(), []string{"analytics"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "events", descs[0].Name)
}

func TestExecute(t *testing.T) {
	w := newTestWarehouse(t)

	rs, err := w.Execute(context.Background(), "SELECT region, COUNT(*) as count FROM sales GROUP BY region ORDER BY region")
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "count"}, rs.Columns)
	assert.Equal(t, []map[string]any{
		{"region": "east", "count": int64(1)},
		{"region": "west", "count": int64(2)},
	}, rs.Rows)
	assert.False(t, rs.Truncated)
}

func TestExecuteTruncates(t *testing.T) {
	w := newTestWarehouse(t)
	w.maxRows = 2

	rs, err := w.Execute(context.Background(), "SELECT product FROM sales")
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 2)
	assert.True(t, rs.Truncated)
}

func TestExecuteRunsQueryCheck(t *testing.T) {
	w := newTestWarehouse(t, WithQueryCheck(func(q string) error {
		return security.ValidateGeneratedQuery(q, []string{"main"}, "main")
	}))

	_, err := w.Execute(context.Background(), "DELETE FROM sales")
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonNotASelectStatement))

	rs, err := w.Execute(context.Background(), "SELECT COUNT(*) as n FROM sales")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rs.Rows[0]["n"])
}

func TestExecuteRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"recovers from conflicts", 2, stderrors.New("TransactionContext Error: Conflict on update"), 3, false},
		{"gives up after budget", 10, stderrors.New("IO Error: could not set lock on file"), 3, true},
		{"permanent error is not retried", 10, stderrors.New("Catalog Error: Table with name nope does not exist"), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWarehouse(t)

			calls := 0
			w.run = func(ctx context.Context, query string) (*ResultSet, error) {
				calls++
				if calls <= tt.failures {
					return nil, tt.err
				}

				return w.query(ctx, query)
			}

			rs, err := w.Execute(context.Background(), "SELECT product FROM sales")
			assert.Equal(t, tt.wantCalls, calls)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeDatabase))

				return
			}

			require.NoError(t, err)
			assert.Len(t, rs.Rows, 3)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(stderrors.New("database is locked")))
	assert.False(t, isTransient(stderrors.New("Parser Error: syntax error")))
	assert.False(t, isTransient(context.Canceled))
}

func TestExecuteTagsUnknownIdentifiers(t *testing.T) {
	w := newTestWarehouse(t)

	tests := []struct {
		name   string
		query  string
		reason errors.Reason
		ident  string
	}{
		{"missing column", "SELECT region, SUM(amounts) as total FROM sales GROUP BY region", errors.ReasonUnknownColumn, "amounts"},
		{"missing table", "SELECT region FROM sales_archive", errors.ReasonUnknownTable, "sales_archive"},
		{"syntax error", "SELECT region FROM", errors.ReasonNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Execute(context.Background(), tt.query)
			require.Error(t, err)

			structErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrTypeDatabase, structErr.Type)
			assert.Equal(t, tt.reason, structErr.Reason)
			assert.Equal(t, tt.ident, structErr.Identifier)
		})
	}
}

func TestTagIdentifierMessages(t *testing.T) {
	tests := []struct {
		msg    string
		reason errors.Reason
		ident  string
	}{
		{`Binder Error: Referenced column "Amount" not found in FROM clause!`, errors.ReasonUnknownColumn, "amount"},
		{"Catalog Error: Table with name Orders does not exist!\nDid you mean \"sales\"?", errors.ReasonUnknownTable, "orders"},
		{"Conversion Error: could not convert string", errors.ReasonNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := tagIdentifier(errors.Wrap(stderrors.New(tt.msg), errors.ErrTypeDatabase, "query failed"))
			assert.Equal(t, tt.reason, err.Reason)
			assert.Equal(t, tt.ident, err.Identifier)
		})
	}
}
