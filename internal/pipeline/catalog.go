package pipeline

import (
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/security"
)

// allowedCatalog is the part of the registry whose schemas the policy admits.
// Classification, planning, correction and clarification only ever see this view.
type allowedCatalog struct {
	registry *schema.Registry
	policy   security.Policy
}

func (c allowedCatalog) Tables() []*schema.TableDescriptor {
	all := c.registry.Tables()

	out := make([]*schema.TableDescriptor, 0, len(all))
	for _, d := range all {
		if c.policy.SchemaAllowed(d.Schema) {
			out = append(out, d)
		}
	}

	return out
}

// TableNames returns the sorted names of the admitted tables
func (c allowedCatalog) TableNames() []string {
	tables := c.Tables()

	names := make([]string, 0, len(tables))
	for _, d := range tables {
		names = append(names, d.Name)
	}

	return names
}

// AllIdentifiers returns the sorted columns of table, or nil when table is
// unknown or outside the allowed schemas
func (c allowedCatalog) AllIdentifiers(table string) []string {
	desc, err := c.registry.Lookup(table)
	if err != nil || !c.policy.SchemaAllowed(desc.Schema) {
		return nil
	}

	return c.registry.AllIdentifiers(desc.QualifiedName())
}
