package actions

import (
	"context"
	"encoding/json"

	"github.com/reputul/drip/internal/channels"
	"github.com/reputul/drip/pkg/schema"
)

const sendEmailConfigSchema = `{
  "type": "object",
  "properties": {
    "template": {"type": "string", "minLength": 1}
  }
}`

const sendSMSConfigSchema = `{
  "type": "object",
  "properties": {
    "kind": {"type": "string", "minLength": 1}
  }
}`

// --- SendEmailAction ---

// SendEmailAction implements the "send_email" action.
type SendEmailAction struct {
	sender channels.EmailSender
}

// NewSendEmailAction creates a send_email action backed by sender.
func NewSendEmailAction(sender channels.EmailSender) *SendEmailAction {
	return &SendEmailAction{sender: sender}
}

func (a *SendEmailAction) Name() string { return schema.ActionSendEmail }

func (a *SendEmailAction) Schema() ActionSchema {
	return ActionSchema{
		Description:  "Send a templated email to the target. Template defaults by trigger type.",
		ConfigSchema: json.RawMessage(sendEmailConfigSchema),
	}
}

func (a *SendEmailAction) Validate(map[string]any) error { return nil }

func (a *SendEmailAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	template := stringParam(input.Config, "template", defaultTemplateFor(input.Workflow.TriggerType))
	ok, err := a.sender.SendEmail(ctx, input.Target, template)
	if err != nil {
		return nil, err
	}
	data := map[string]any{"template": template}
	if !ok {
		return failed("email not delivered", data), nil
	}
	return succeeded(data), nil
}

// --- SendSMSAction ---

// SendSMSAction implements the "send_sms" action.
type SendSMSAction struct {
	sender channels.SMSSender
}

// NewSendSMSAction creates a send_sms action backed by sender.
func NewSendSMSAction(sender channels.SMSSender) *SendSMSAction {
	return &SendSMSAction{sender: sender}
}

func (a *SendSMSAction) Name() string { return schema.ActionSendSMS }

func (a *SendSMSAction) Schema() ActionSchema {
	return ActionSchema{
		Description:  "Send a text message of the configured kind to the target.",
		ConfigSchema: json.RawMessage(sendSMSConfigSchema),
	}
}

func (a *SendSMSAction) Validate(map[string]any) error { return nil }

func (a *SendSMSAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	kind := stringParam(input.Config, "kind", defaultTemplateFor(input.Workflow.TriggerType))
	res, err := a.sender.SendSMS(ctx, input.Target, kind)
	if err != nil {
		if n := channels.RetriesOf(err); n > 0 {
			out := failed(err.Error(), map[string]any{"kind": kind})
			out.Retries = n
			return out, nil
		}
		return nil, err
	}
	data := map[string]any{"kind": kind}
	if res.ProviderMessageID != "" {
		data["provider_message_id"] = res.ProviderMessageID
	}
	if !res.Success {
		reason := res.ErrorReason
		if reason == "" {
			reason = "sms not delivered"
		}
		out := failed(reason, data)
		out.Retries = res.Retries
		return out, nil
	}
	out := succeeded(data)
	out.Retries = res.Retries
	return out, nil
}

// --- DelayAction ---

// DelayAction implements the "delay" action. Delays are applied when the
// execution is scheduled, so at run time the entry is a successful no-op.
type DelayAction struct{}

func (DelayAction) Name() string { return schema.ActionDelay }

func (DelayAction) Schema() ActionSchema {
	return ActionSchema{Description: "No-op at run time; delays are applied when scheduling."}
}

func (DelayAction) Validate(map[string]any) error { return nil }

func (DelayAction) Execute(context.Context, ActionInput) (*ActionOutput, error) {
	return succeeded(nil), nil
}
