package channels

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reputul/drip/pkg/schema"
)

// LogSender satisfies EmailSender and SMSSender by logging the send and
// reporting success. It backs local runs without a delivery provider.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("module", "log_sender")}
}

func (s *LogSender) SendEmail(ctx context.Context, target *schema.Entity, templateRef string) (bool, error) {
	if target.Email == "" {
		s.logger.WarnContext(ctx, "email skipped: target has no address", "target_id", target.ID)
		return false, nil
	}
	s.logger.InfoContext(ctx, "email sent", "target_id", target.ID, "template", templateRef)
	return true, nil
}

func (s *LogSender) SendSMS(ctx context.Context, target *schema.Entity, kind string) (*SMSResult, error) {
	if target.Phone == "" {
		return &SMSResult{ErrorReason: "no phone number"}, nil
	}
	id := uuid.NewString()
	s.logger.InfoContext(ctx, "sms sent", "target_id", target.ID, "kind", kind, "provider_message_id", id)
	return &SMSResult{Success: true, ProviderMessageID: id}, nil
}

var (
	_ EmailSender = (*LogSender)(nil)
	_ SMSSender   = (*LogSender)(nil)
)
