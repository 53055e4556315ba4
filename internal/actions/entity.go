package actions

import (
	"context"
	"encoding/json"

	"github.com/reputul/drip/pkg/schema"
)

const updateEntityConfigSchema = `{
  "type": "object",
  "required": ["attributes"],
  "properties": {
    "attributes": {"type": "object", "minProperties": 1}
  }
}`

// EntityUpdater writes attribute changes back to a target entity.
type EntityUpdater interface {
	UpdateEntity(ctx context.Context, tenantID, entityID string, attrs map[string]any) error
}

// UpdateEntityAction implements the "update_entity" action: it merges the
// configured attributes into the target, e.g. to tag a customer as contacted.
type UpdateEntityAction struct {
	updater EntityUpdater
}

// NewUpdateEntityAction creates an update_entity action backed by updater.
func NewUpdateEntityAction(updater EntityUpdater) *UpdateEntityAction {
	return &UpdateEntityAction{updater: updater}
}

func (a *UpdateEntityAction) Name() string { return schema.ActionUpdateEntity }

func (a *UpdateEntityAction) Schema() ActionSchema {
	return ActionSchema{
		Description:  "Merge attributes into the target entity.",
		ConfigSchema: json.RawMessage(updateEntityConfigSchema),
	}
}

func (a *UpdateEntityAction) Validate(config map[string]any) error {
	if len(mapParam(config, "attributes")) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "update_entity: attributes are required")
	}
	return nil
}

func (a *UpdateEntityAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Config); err != nil {
		return nil, err
	}
	attrs := mapParam(input.Config, "attributes")
	if err := a.updater.UpdateEntity(ctx, input.Target.TenantID, input.Target.ID, attrs); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	return succeeded(map[string]any{"updated": keys}), nil
}
