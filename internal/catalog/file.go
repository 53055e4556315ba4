package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reputul/drip/internal/validation"
	"github.com/reputul/drip/pkg/schema"
)

// File is the on-disk catalog document.
type File struct {
	Workflows []*schema.Workflow `yaml:"workflows"`
	Entities  []*schema.Entity   `yaml:"entities"`
}

// LoadFile reads a YAML catalog from path into a MemoryCatalog. Every
// workflow is checked by v when v is non-nil.
func LoadFile(path string, v validation.Validator) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, v)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte, v validation.Validator) (*MemoryCatalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse catalog: %s", err.Error()).WithCause(err)
	}

	c := NewMemoryCatalog()
	for i, wf := range f.Workflows {
		if wf == nil || wf.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %d: id is required", i)
		}
		if v != nil {
			if err := v.ValidateWorkflow(wf); err != nil {
				return nil, err
			}
		}
		c.PutWorkflow(wf)
	}
	for i, e := range f.Entities {
		if e == nil || e.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "entity %d: id is required", i)
		}
		if e.TenantID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "entity %q: tenant_id is required", e.ID)
		}
		c.PutEntity(e)
	}
	return c, nil
}
