package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/reputul/drip/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// workflowSchemaJSON is the JSON Schema for catalog workflow definitions.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://drip.reputul.com/schemas/workflow.json",
  "type": "object",
  "required": ["id", "tenant_id", "trigger_type"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "tenant_id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "trigger_type": {
      "type": "string",
      "enum": ["customer_created", "service_completed", "review_completed", "manual"]
    },
    "conditions": { "$ref": "#/$defs/conditions" },
    "actions": {
      "type": "array",
      "items": { "$ref": "#/$defs/action" }
    },
    "delay": { "$ref": "#/$defs/delay" }
  },
  "additionalProperties": false,
  "$defs": {
    "action": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "enabled": { "type": "boolean" },
        "config": { "type": "object" }
      },
      "additionalProperties": false
    },
    "conditions": {
      "type": "object",
      "properties": {
        "engine": { "type": "string", "enum": ["cel", "expr"] },
        "expression": { "type": "string" },
        "match": { "type": "string", "enum": ["all", "any"] },
        "rules": {
          "type": "array",
          "items": { "$ref": "#/$defs/rule" }
        }
      },
      "additionalProperties": false
    },
    "rule": {
      "type": "object",
      "required": ["path", "operator"],
      "properties": {
        "path": { "type": "string", "minLength": 1 },
        "operator": {
          "type": "string",
          "enum": ["eq", "ne", "gt", "gte", "lt", "lte", "exists", "not_exists", "in", "contains"]
        },
        "value": {}
      },
      "additionalProperties": false
    },
    "delay": {
      "type": "object",
      "properties": {
        "days": { "type": "integer", "minimum": 0 },
        "hours": { "type": "integer", "minimum": 0 },
        "minutes": { "type": "integer", "minimum": 0 },
        "send_at_hour": { "type": "integer", "minimum": 0, "maximum": 23 },
        "business_hours_only": { "type": "boolean" },
        "timezone": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
	lookup         ActionLookup

	// mu guards the cache and compiler for dynamic schema compilation.
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the workflow schema pre-compiled.
// lookup may be nil, in which case action types are not checked.
func NewJSONSchemaValidator(lookup ActionLookup) (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://drip.reputul.com/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://drip.reputul.com/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		lookup:         lookup,
		compiler:       newInputCompiler(),
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateWorkflow validates a workflow against the workflow JSON Schema and
// then runs the semantic checks. Action types are checked only when the
// validator was built with an ActionLookup.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toDripError(err).WithDetails(map[string]any{"workflow_id": wf.ID})
	}

	if violations := validateSemantic(wf, v.lookup); len(violations) > 0 {
		return violationsError(violations).WithDetails(map[string]any{
			"workflow_id": wf.ID,
			"violations":  violations,
		})
	}
	return nil
}

// ValidateConfig validates an action config against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
// A nil config is validated as an empty object.
func (v *JSONSchemaValidator) ValidateConfig(config map[string]any, configSchema []byte) error {
	if len(configSchema) == 0 {
		return nil // no schema means no validation needed
	}
	if config == nil {
		config = map[string]any{}
	}

	compiled, err := v.getOrCompile(configSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid config schema").WithCause(err)
	}

	// Convert config to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(config)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize config").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toDripError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("drip://config-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for config validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toDripError converts a jsonschema.ValidationError into a DripError
// with clear, actionable messages.
func toDripError(err error) *schema.DripError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	return violationsError(violations).WithDetails(map[string]any{"violations": violations})
}

func violationsError(violations []string) *schema.DripError {
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0])
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations))
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
