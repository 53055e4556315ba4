package channels

import (
	"context"
	"fmt"
	"net/http"

	"github.com/reputul/drip/pkg/schema"
)

// RelaySender hands email and SMS sends to an HTTP relay that owns the
// provider integration. Each send is a POST of a small JSON envelope.
type RelaySender struct {
	caller   WebhookCaller
	emailURL string
	smsURL   string
	headers  map[string]string
}

// NewRelaySender creates a relay sender. An empty URL disables that channel.
func NewRelaySender(caller WebhookCaller, emailURL, smsURL string, headers map[string]string) *RelaySender {
	return &RelaySender{caller: caller, emailURL: emailURL, smsURL: smsURL, headers: headers}
}

func (r *RelaySender) SendEmail(ctx context.Context, target *schema.Entity, templateRef string) (bool, error) {
	if r.emailURL == "" {
		return false, schema.NewError(schema.ErrCodeActionUnavailable, "email relay not configured")
	}
	resp, err := r.caller.CallWebhook(ctx, WebhookRequest{
		URL:     r.emailURL,
		Headers: r.headers,
		Payload: map[string]any{
			"tenant_id": target.TenantID,
			"target_id": target.ID,
			"to":        target.Email,
			"template":  templateRef,
		},
	})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (r *RelaySender) SendSMS(ctx context.Context, target *schema.Entity, kind string) (*SMSResult, error) {
	if r.smsURL == "" {
		return nil, schema.NewError(schema.ErrCodeActionUnavailable, "sms relay not configured")
	}
	resp, err := r.caller.CallWebhook(ctx, WebhookRequest{
		URL:     r.smsURL,
		Headers: r.headers,
		Payload: map[string]any{
			"tenant_id": target.TenantID,
			"target_id": target.ID,
			"to":        target.Phone,
			"kind":      kind,
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "sms relay unavailable: %s", resp.Status)
	}

	result := &SMSResult{Success: resp.Success}
	if body, ok := resp.Body.(map[string]any); ok {
		if id, ok := body["message_id"].(string); ok {
			result.ProviderMessageID = id
		}
		if reason, ok := body["error"].(string); ok {
			result.ErrorReason = reason
		}
	}
	if !result.Success && result.ErrorReason == "" {
		result.ErrorReason = fmt.Sprintf("relay returned %d", resp.StatusCode)
	}
	return result, nil
}

var (
	_ EmailSender = (*RelaySender)(nil)
	_ SMSSender   = (*RelaySender)(nil)
)
