// Package schema holds the authoritative catalog of tables, columns and column
// types that every generated query is checked against.
package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/kyleking/insight-query/internal/errors"
)

// DefaultSchemaName is the namespace assigned to descriptors registered without one
const DefaultSchemaName = "default"

// Registry is a concurrency-safe, read-mostly table catalog
type Registry struct {
	mu            sync.RWMutex
	tables        map[string]*TableDescriptor
	defaultSchema string
	version       uint64
}

// Option configures a Registry
type Option func(*Registry)

// WithDefaultSchema sets the schema assigned to descriptors that do not name one
func WithDefaultSchema(name string) Option {
	return func(r *Registry) {
		if name = NormalizeIdentifier(name); name != "" {
			r.defaultSchema = name
		}
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tables:        make(map[string]*TableDescriptor),
		defaultSchema: DefaultSchemaName,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// DefaultSchema returns the schema used for unqualified descriptors
func (r *Registry) DefaultSchema() string {
	return r.defaultSchema
}

// Register adds or replaces the descriptor with the same normalized name
func (r *Registry) Register(desc TableDescriptor) error {
	normalized, err := desc.normalize(r.defaultSchema)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "invalid table descriptor").
			WithIdentifier(NormalizeIdentifier(desc.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables[normalized.Name] = normalized
	r.version++

	return nil
}

// Unregister removes the table named "table" or "schema.table" and reports
// whether it was registered
func (r *Registry) Unregister(name string) bool {
	desc, err := r.Lookup(name)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tables[desc.Name] != desc {
		return false
	}

	delete(r.tables, desc.Name)
	r.version++

	return true
}

// RegisterAll registers every descriptor, stopping at the first malformed one
func (r *Registry) RegisterAll(descs []TableDescriptor) error {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return err
		}
	}

	return nil
}

// Lookup returns the descriptor for "table" or "schema.table"
func (r *Registry) Lookup(name string) (*TableDescriptor, error) {
	normalized := NormalizeIdentifier(name)

	schemaName, tableName := "", normalized
	if i := strings.LastIndexByte(normalized, '.'); i >= 0 {
		schemaName, tableName = normalized[:i], normalized[i+1:]
	}

	r.mu.RLock()
	desc, ok := r.tables[tableName]
	r.mu.RUnlock()

	if !ok || (schemaName != "" && desc.Schema != schemaName) {
		return nil, errors.Newf(errors.ErrTypeNotFound, "table %s is not registered", normalized).
			WithReason(errors.ReasonUnknownTable).
			WithIdentifier(normalized)
	}

	return desc, nil
}

// ColumnExists reports whether table has column
func (r *Registry) ColumnExists(table, column string) bool {
	desc, err := r.Lookup(table)
	if err != nil {
		return false
	}

	return desc.HasColumn(column)
}

// AllIdentifiers returns the sorted column names of table, or nil for an unknown table
func (r *Registry) AllIdentifiers(table string) []string {
	desc, err := r.Lookup(table)
	if err != nil {
		return nil
	}

	names := desc.ColumnNames()
	sort.Strings(names)

	return names
}

// TableNames returns every registered table name, sorted
func (r *Registry) TableNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Tables returns a name-sorted snapshot of the registered descriptors
func (r *Registry) Tables() []*TableDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TableDescriptor, 0, len(r.tables))
	for _, d := range r.tables {
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Version is bumped on every successful registration
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.version
}

// Len returns the number of registered tables
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tables)
}
