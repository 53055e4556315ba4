// Package channels holds the outbound delivery contracts the action handlers
// call (email, SMS, webhook) and the stock implementations wired by the CLI.
package channels

import (
	"context"

	"github.com/reputul/drip/pkg/schema"
)

// EmailSender delivers a templated email to a target entity.
// It returns false when the provider definitively rejected the message.
type EmailSender interface {
	SendEmail(ctx context.Context, target *schema.Entity, templateRef string) (bool, error)
}

// SMSSender delivers a text message of the given kind to a target entity.
type SMSSender interface {
	SendSMS(ctx context.Context, target *schema.Entity, kind string) (*SMSResult, error)
}

// WebhookCaller performs one outbound HTTP call.
type WebhookCaller interface {
	CallWebhook(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}

// SMSResult is the provider's verdict on one SMS send.
type SMSResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ErrorReason       string `json:"error_reason,omitempty"`
	Retries           int    `json:"retries,omitempty"`
}

// WebhookRequest describes an outbound webhook call.
type WebhookRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload any               `json:"payload,omitempty"`
}

// WebhookResponse is the outcome of a webhook call. Success means a 2xx status.
type WebhookResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Body       any    `json:"body,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
