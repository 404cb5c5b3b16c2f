package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyleking/insight-query/internal/schema"
)

// TableOption is a functional option for configuring test table descriptors
type TableOption func(*schema.TableDescriptor)

// WithColumn appends a column
func WithColumn(name string, t schema.ColumnType) TableOption {
	return func(d *schema.TableDescriptor) {
		d.Columns = append(d.Columns, schema.Column{Name: name, Type: t})
	}
}

// WithSchema sets the owning schema
func WithSchema(name string) TableOption {
	return func(d *schema.TableDescriptor) {
		d.Schema = name
	}
}

// WithAliases sets the classifier aliases
func WithAliases(aliases ...string) TableOption {
	return func(d *schema.TableDescriptor) {
		d.Aliases = aliases
	}
}

// WithDescription sets the table description
func WithDescription(desc string) TableOption {
	return func(d *schema.TableDescriptor) {
		d.Description = desc
	}
}

// NewTable creates a descriptor with the given name and applies any provided options.
// A table without WithColumn options gets a single INT id column.
func NewTable(name string, opts ...TableOption) schema.TableDescriptor {
	desc := schema.TableDescriptor{Name: name}

	for _, opt := range opts {
		opt(&desc)
	}

	if len(desc.Columns) == 0 {
		desc.Columns = []schema.Column{{Name: "id", Type: schema.TypeInt}}
	}

	return desc
}

// SalesTable is the canonical sales fixture
func SalesTable(opts ...TableOption) schema.TableDescriptor {
	base := []TableOption{
		WithColumn("region", schema.TypeString),
		WithColumn("amount", schema.TypeDecimal),
		WithColumn("sale_date", schema.TypeDate),
		WithColumn("product", schema.TypeString),
		WithColumn("quantity", schema.TypeInt),
		WithDescription("Completed sales transactions"),
	}

	return NewTable(TestSalesTable, append(base, opts...)...)
}

// TransactionsTable is the canonical transactions fixture
func TransactionsTable(opts ...TableOption) schema.TableDescriptor {
	base := []TableOption{
		WithColumn("transaction_id", schema.TypeInt),
		WithColumn("customer_id", schema.TypeInt),
		WithColumn("amount", schema.TypeDecimal),
		WithColumn("status", schema.TypeString),
		WithColumn("created_at", schema.TypeDate),
		WithColumn("refunded", schema.TypeBoolean),
	}

	return NewTable(TestTransactionsTable, append(base, opts...)...)
}

// CustomersTable is the canonical customers fixture
func CustomersTable(opts ...TableOption) schema.TableDescriptor {
	base := []TableOption{
		WithColumn("customer_id", schema.TypeInt),
		WithColumn("name", schema.TypeString),
		WithColumn("segment", schema.TypeString),
		WithColumn("lifetime_value", schema.TypeDecimal),
		WithAliases("clients"),
	}

	return NewTable(TestCustomersTable, append(base, opts...)...)
}

// NewTestRegistry builds a registry holding the given tables, or the three
// canonical fixtures when none are given
func NewTestRegistry(t *testing.T, tables ...schema.TableDescriptor) *schema.Registry {
	t.Helper()

	if len(tables) == 0 {
		tables = []schema.TableDescriptor{SalesTable(), TransactionsTable(), CustomersTable()}
	}

	reg := schema.NewRegistry()
	require.NoError(t, reg.RegisterAll(tables))

	return reg
}
