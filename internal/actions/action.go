package actions

import (
	"context"
	"encoding/json"

	"github.com/reputul/drip/pkg/schema"
)

// Action is one side-effecting handler an execution can run, looked up by
// type name in a Registry.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(config map[string]any) error
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	Has(name string) bool
	List() []ActionInfo
}

// ActionSchema describes the config contract of an action.
type ActionSchema struct {
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
type ActionInput struct {
	// Name is the entry name in the workflow's action map.
	Name      string            `json:"name"`
	Config    map[string]any    `json:"config,omitempty"`
	Execution *schema.Execution `json:"execution"`
	Workflow  *schema.Workflow  `json:"workflow"`
	Target    *schema.Entity    `json:"target"`
}

// ActionOutput is a handler's verdict. Success=false with a Reason is a
// reported failure; a returned error is treated the same way by the executor.
type ActionOutput struct {
	Success bool           `json:"success"`
	Reason  string         `json:"reason,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	// Retries is how many times the channel retried the send.
	Retries int `json:"retries,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func succeeded(data map[string]any) *ActionOutput {
	return &ActionOutput{Success: true, Data: data}
}

func failed(reason string, data map[string]any) *ActionOutput {
	return &ActionOutput{Success: false, Reason: reason, Data: data}
}

// Param helpers used by all action files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mm, _ := v.(map[string]any)
	return mm
}

func stringMapParam(m map[string]any, key string) map[string]string {
	raw := mapParam(m, key)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
