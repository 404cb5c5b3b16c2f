package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Tables []TableDescriptor `yaml:"tables"`
}

// LoadCatalogFile reads a YAML catalog of table descriptors
func LoadCatalogFile(path string) ([]TableDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	tables, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return tables, nil
}

// ParseCatalog decodes a YAML catalog. Descriptors are validated when registered.
func ParseCatalog(data []byte) ([]TableDescriptor, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("catalog defines no tables")
	}

	return file.Tables, nil
}

// MarshalCatalog encodes descriptors in the catalog file format
func MarshalCatalog(tables []*TableDescriptor) ([]byte, error) {
	file := catalogFile{Tables: make([]TableDescriptor, len(tables))}
	for i, t := range tables {
		file.Tables[i] = *t
	}

	return yaml.Marshal(file)
}
