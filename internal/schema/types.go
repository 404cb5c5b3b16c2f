package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnType is the type tag attached to every registered column
type ColumnType string

const (
	TypeString  ColumnType = "STRING"
	TypeInt     ColumnType = "INT"
	TypeDecimal ColumnType = "DECIMAL"
	TypeDate    ColumnType = "DATE"
	TypeBoolean ColumnType = "BOOLEAN"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidIdentifier reports whether name is a bare, lower-case SQL identifier
func IsValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// NormalizeIdentifier lower-cases and trims an identifier
func NormalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseColumnType maps a type tag or a common warehouse type spelling to a ColumnType
func ParseColumnType(raw string) (ColumnType, error) {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "STRING", "VARCHAR", "TEXT", "CHAR", "BPCHAR", "UUID", "ENUM":
		return TypeString, nil
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT", "INT2", "INT4", "INT8",
		"UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT":
		return TypeInt, nil
	case "DECIMAL", "NUMERIC", "DOUBLE", "FLOAT", "REAL", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return TypeDecimal, nil
	case "DATE", "TIMESTAMP", "DATETIME", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return TypeDate, nil
	case "BOOLEAN", "BOOL", "LOGICAL":
		return TypeBoolean, nil
	default:
		return "", fmt.Errorf("unsupported column type %q", raw)
	}
}

// IsNumeric reports whether the type can be summed or averaged
func (t ColumnType) IsNumeric() bool {
	return t == TypeInt || t == TypeDecimal
}

// Column is a named, typed column of a table
type Column struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// TableDescriptor describes one queryable table. Descriptors handed out by a
// Registry are shared and must be treated as read-only.
type TableDescriptor struct {
	Name        string   `yaml:"name"                  json:"name"`
	Schema      string   `yaml:"schema,omitempty"      json:"schema,omitempty"`
	Columns     []Column `yaml:"columns"               json:"columns"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty"     json:"aliases,omitempty"`
}

// QualifiedName returns schema.table
func (t *TableDescriptor) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}

	return t.Schema + "." + t.Name
}

// Column returns the column with the given name, ignoring case
func (t *TableDescriptor) Column(name string) (Column, bool) {
	name = NormalizeIdentifier(name)
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}

	return Column{}, false
}

// HasColumn reports whether the table has the named column
func (t *TableDescriptor) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns column names in registration order
func (t *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	return names
}

// ColumnsOfType returns the names of columns with the given type, in registration order
func (t *TableDescriptor) ColumnsOfType(ct ColumnType) []string {
	var names []string

	for _, c := range t.Columns {
		if c.Type == ct {
			names = append(names, c.Name)
		}
	}

	return names
}

// Clone returns a deep copy of the descriptor
func (t *TableDescriptor) Clone() *TableDescriptor {
	clone := *t
	clone.Columns = append([]Column(nil), t.Columns...)
	clone.Aliases = append([]string(nil), t.Aliases...)

	return &clone
}

// normalize returns a case-normalized copy, or an error describing why the descriptor is malformed
func (t *TableDescriptor) normalize(defaultSchema string) (*TableDescriptor, error) {
	out := &TableDescriptor{
		Name:        NormalizeIdentifier(t.Name),
		Schema:      NormalizeIdentifier(t.Schema),
		Description: strings.TrimSpace(t.Description),
	}

	if out.Name == "" {
		return nil, fmt.Errorf("table name is empty")
	}

	if !IsValidIdentifier(out.Name) {
		return nil, fmt.Errorf("table name %q is not a valid identifier", t.Name)
	}

	if out.Schema == "" {
		out.Schema = defaultSchema
	}

	if !IsValidIdentifier(out.Schema) {
		return nil, fmt.Errorf("schema name %q is not a valid identifier", t.Schema)
	}

	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", out.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	out.Columns = make([]Column, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := NormalizeIdentifier(c.Name)
		if !IsValidIdentifier(name) {
			return nil, fmt.Errorf("table %s: column name %q is not a valid identifier", out.Name, c.Name)
		}

		if seen[name] {
			return nil, fmt.Errorf("table %s: duplicate column %s", out.Name, name)
		}

		seen[name] = true

		ct, err := ParseColumnType(string(c.Type))
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: %w", out.Name, name, err)
		}

		out.Columns = append(out.Columns, Column{Name: name, Type: ct})
	}

	for _, alias := range t.Aliases {
		alias = strings.Join(strings.Fields(strings.ToLower(alias)), " ")
		if alias != "" {
			out.Aliases = append(out.Aliases, alias)
		}
	}

	return out, nil
}
