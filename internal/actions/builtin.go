package actions

import "github.com/reputul/drip/internal/channels"

// Deps are the collaborators the built-in actions call.
type Deps struct {
	Email    channels.EmailSender
	SMS      channels.SMSSender
	Webhook  channels.WebhookCaller
	Entities EntityUpdater
}

// RegisterBuiltins registers the built-in actions whose collaborators are set.
// delay needs none and is always registered.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	all := []Action{DelayAction{}}
	if deps.Email != nil {
		all = append(all, NewSendEmailAction(deps.Email))
	}
	if deps.SMS != nil {
		all = append(all, NewSendSMSAction(deps.SMS))
	}
	if deps.Webhook != nil {
		all = append(all, NewWebhookAction(deps.Webhook))
	}
	if deps.Entities != nil {
		all = append(all, NewUpdateEntityAction(deps.Entities))
	}

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
