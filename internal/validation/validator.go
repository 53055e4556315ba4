package validation

import "github.com/reputul/drip/pkg/schema"

// Validator checks workflow definitions and action configs before they are used.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateConfig(config map[string]any, configSchema []byte) error
}

// ActionLookup reports whether an action type is registered.
type ActionLookup interface {
	Has(name string) bool
}
