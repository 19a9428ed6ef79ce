package provider

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-ondemand/common"
)

// catalogDocument is the on-disk YAML layout of a catalog source.
type catalogDocument struct {
	Providers []Infrastructure `yaml:"providers"`
}

// ParseCatalog decodes a YAML catalog document. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc catalogDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidCatalog, err)
	}
	return NewCatalog(doc.Providers...)
}

// ReadCatalogFile reads and parses the YAML catalog at path.
func ReadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// MarshalCatalog renders c as a YAML catalog document.
func MarshalCatalog(c *Catalog) ([]byte, error) {
	return yaml.Marshal(catalogDocument{Providers: c.Infrastructures()})
}
