// Package security validates raw input before classification and generated
// queries before they leave the pipeline.
package security

import (
	"strings"

	"github.com/kyleking/insight-query/internal/config"
)

// Policy is the immutable security configuration
type Policy struct {
	MaxQueryLength             int
	RateLimitPerMinute         int
	AllowedSchemas             []string
	InjectionProtectionEnabled bool
	// DefaultSchema resolves unqualified table references in generated queries
	DefaultSchema string
}

// NewPolicy returns a normalized copy of p
func NewPolicy(p Policy) Policy {
	out := p
	out.AllowedSchemas = make([]string, 0, len(p.AllowedSchemas))

	for _, s := range p.AllowedSchemas {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out.AllowedSchemas = append(out.AllowedSchemas, s)
		}
	}

	out.DefaultSchema = strings.ToLower(strings.TrimSpace(p.DefaultSchema))

	return out
}

// PolicyFromConfig builds the policy from the security and catalog config sections
func PolicyFromConfig(cfg *config.Config) Policy {
	return NewPolicy(Policy{
		MaxQueryLength:             cfg.Security.MaxQueryLength,
		RateLimitPerMinute:         cfg.Security.RateLimitPerMinute,
		AllowedSchemas:             cfg.Security.AllowedSchemas,
		InjectionProtectionEnabled: cfg.Security.InjectionProtection,
		DefaultSchema:              cfg.Catalog.DefaultSchema,
	})
}

// SchemaAllowed reports whether schema is in the allowed set
func (p Policy) SchemaAllowed(schema string) bool {
	return containsFold(p.AllowedSchemas, schema)
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}

	return false
}
