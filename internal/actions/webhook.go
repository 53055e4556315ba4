package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reputul/drip/internal/channels"
	"github.com/reputul/drip/pkg/schema"
)

const webhookConfigSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"]},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "payload": {}
  }
}`

// WebhookAction implements the "webhook" action.
type WebhookAction struct {
	caller channels.WebhookCaller
}

// NewWebhookAction creates a webhook action backed by caller.
func NewWebhookAction(caller channels.WebhookCaller) *WebhookAction {
	return &WebhookAction{caller: caller}
}

func (a *WebhookAction) Name() string { return schema.ActionWebhook }

func (a *WebhookAction) Schema() ActionSchema {
	return ActionSchema{
		Description:  "Call an HTTP endpoint. Without a payload, a summary of the execution is sent.",
		ConfigSchema: json.RawMessage(webhookConfigSchema),
	}
}

func (a *WebhookAction) Validate(config map[string]any) error {
	return channels.ValidateURL(stringParam(config, "url", ""))
}

func (a *WebhookAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Config); err != nil {
		return nil, err
	}

	payload, ok := input.Config["payload"]
	if !ok || payload == nil {
		payload = defaultWebhookPayload(input)
	}

	resp, err := a.caller.CallWebhook(ctx, channels.WebhookRequest{
		URL:     stringParam(input.Config, "url", ""),
		Method:  stringParam(input.Config, "method", "POST"),
		Headers: stringMapParam(input.Config, "headers"),
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"duration_ms": resp.DurationMs,
	}
	if !resp.Success {
		return failed(fmt.Sprintf("webhook returned %d", resp.StatusCode), data), nil
	}
	return succeeded(data), nil
}

func defaultWebhookPayload(input ActionInput) map[string]any {
	p := map[string]any{
		"action":  input.Name,
		"trigger": string(input.Workflow.TriggerType),
	}
	if input.Execution != nil {
		p["execution_id"] = input.Execution.ID
		p["tenant_id"] = input.Execution.TenantID
		p["workflow_id"] = input.Execution.WorkflowID
		p["trigger_event"] = input.Execution.TriggerEvent
		if len(input.Execution.TriggerData) > 0 {
			p["trigger_data"] = input.Execution.TriggerData
		}
	}
	if input.Target != nil {
		p["target_id"] = input.Target.ID
	}
	return p
}
