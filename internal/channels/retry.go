package channels

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/pkg/schema"
)

// RetryPolicy controls how RetryingSMSSender backs off between attempts.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Backoff    string        `json:"backoff"` // none | constant | linear | exponential
	Delay      time.Duration `json:"delay"`
	MaxDelay   time.Duration `json:"max_delay,omitempty"`
}

// DefaultSMSRetryPolicy is three retries at 1s, 2s, 4s.
var DefaultSMSRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	Backoff:    "exponential",
	Delay:      time.Second,
	MaxDelay:   30 * time.Second,
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = policy.Delay * multiplier
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	default: // "none", "constant" or empty
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps on clock for delay or returns early if ctx ends.
func WaitForBackoff(ctx context.Context, clock clockwork.Clock, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryableError classifies whether a send error is worth another attempt.
// Validation and configuration errors are not; transport failures are.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var de *schema.DripError
	if errors.As(err, &de) {
		switch de.Code {
		case schema.ErrCodeValidation, schema.ErrCodeActionUnavailable, schema.ErrCodeCircuitOpen:
			return false
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unknown errors are retried; MaxRetries bounds the cost.
	return true
}

// RetryingSMSSender retries the wrapped sender on retryable errors with
// backoff. A definitive provider verdict (a non-nil SMSResult) is returned
// as-is, whether it succeeded or not.
type RetryingSMSSender struct {
	inner  SMSSender
	policy RetryPolicy
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewRetryingSMSSender wraps inner. A nil clock means the real clock.
func NewRetryingSMSSender(inner SMSSender, policy RetryPolicy, clock clockwork.Clock, logger *slog.Logger) *RetryingSMSSender {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingSMSSender{
		inner:  inner,
		policy: policy,
		clock:  clock,
		logger: logger.With("module", "sms_retry"),
	}
}

func (r *RetryingSMSSender) SendSMS(ctx context.Context, target *schema.Entity, kind string) (*SMSResult, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(r.policy, attempt-1)
			r.logger.DebugContext(ctx, "retrying sms send",
				"target_id", target.ID, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := WaitForBackoff(ctx, r.clock, delay); err != nil {
				return nil, err
			}
		}

		res, err := r.inner.SendSMS(ctx, target, kind)
		if err == nil {
			if res != nil {
				res.Retries = attempt
			}
			return res, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeActionFailed,
		"sms send failed after %d attempts", r.policy.MaxRetries+1).
		WithDetails(map[string]any{"retries": r.policy.MaxRetries}).
		WithCause(lastErr)
}

// RetriesOf returns the retry count recorded on an error from RetryingSMSSender.
func RetriesOf(err error) int {
	var de *schema.DripError
	if errors.As(err, &de) {
		if n, ok := de.Details["retries"].(int); ok {
			return n
		}
	}
	return 0
}

var _ SMSSender = (*RetryingSMSSender)(nil)
