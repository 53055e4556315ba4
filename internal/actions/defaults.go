package actions

import "github.com/reputul/drip/pkg/schema"

// Default email templates per trigger.
const (
	TemplateWelcome       = "welcome"
	TemplateReviewRequest = "review_request"
	TemplateThankYou      = "thank_you"
)

var defaultActions = map[schema.TriggerType]schema.ActionSpec{
	schema.TriggerCustomerCreated: {
		Name:   "default_welcome",
		Type:   schema.ActionSendEmail,
		Config: map[string]any{"template": TemplateWelcome},
	},
	schema.TriggerServiceCompleted: {
		Name:   "default_review_request",
		Type:   schema.ActionSendEmail,
		Config: map[string]any{"template": TemplateReviewRequest},
	},
	schema.TriggerReviewCompleted: {
		Name:   "default_thank_you",
		Type:   schema.ActionSendEmail,
		Config: map[string]any{"template": TemplateThankYou},
	},
}

// DefaultActionFor returns the single action run for a workflow whose action
// map is empty. Triggers without a default (manual) report false.
func DefaultActionFor(trigger schema.TriggerType) (schema.ActionSpec, bool) {
	spec, ok := defaultActions[trigger]
	if !ok {
		return schema.ActionSpec{}, false
	}
	cfg := make(map[string]any, len(spec.Config))
	for k, v := range spec.Config {
		cfg[k] = v
	}
	spec.Config = cfg
	return spec, true
}

// defaultTemplateFor picks the email template when a send_email entry has none.
func defaultTemplateFor(trigger schema.TriggerType) string {
	if spec, ok := defaultActions[trigger]; ok {
		if t, ok := spec.Config["template"].(string); ok {
			return t
		}
	}
	return TemplateWelcome
}
