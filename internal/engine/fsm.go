package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/pkg/schema"
)

// ExecutionFSM applies execution lifecycle transitions through the store's
// compare-and-swap and publishes a lifecycle event for each one that lands.
type ExecutionFSM struct {
	store  store.Store
	hub    streaming.EventHub
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewExecutionFSM creates an FSM. hub may be nil; a nil clock uses the wall clock.
func NewExecutionFSM(s store.Store, hub streaming.EventHub, clock clockwork.Clock, logger *slog.Logger) *ExecutionFSM {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionFSM{store: s, hub: hub, clock: clock, logger: logger}
}

// Transition moves execution id from -> to. It returns INVALID_TRANSITION for
// an edge the state machine does not have and CONFLICT when the stored status
// is no longer from.
func (f *ExecutionFSM) Transition(ctx context.Context, id string, from, to schema.ExecutionStatus, errMsg string, data schema.ExecutionData) (*schema.Execution, error) {
	if !schema.CanTransition(from, to) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithExecution(id).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	exec, err := f.store.TransitionExecution(ctx, id, store.Transition{
		From:         from,
		To:           to,
		At:           f.clock.Now(),
		ErrorMessage: errMsg,
		Data:         data,
	})
	if err != nil {
		return nil, err
	}

	eventType := schema.EventTypeFor(to)
	if data.TimedOut {
		eventType = schema.EventExecutionTimedOut
	}
	f.publish(ctx, exec, eventType)
	return exec, nil
}

// Claim moves a PENDING execution to RUNNING. Exactly one concurrent caller wins.
func (f *ExecutionFSM) Claim(ctx context.Context, id string) (*schema.Execution, error) {
	return f.Transition(ctx, id, schema.StatusPending, schema.StatusRunning, "", schema.ExecutionData{})
}

// Complete moves a RUNNING execution to COMPLETED with a message.
func (f *ExecutionFSM) Complete(ctx context.Context, id, message string, data schema.ExecutionData) (*schema.Execution, error) {
	data.Message = message
	return f.Transition(ctx, id, schema.StatusRunning, schema.StatusCompleted, "", data)
}

// Fail moves a RUNNING execution to FAILED with reason as the error message.
func (f *ExecutionFSM) Fail(ctx context.Context, id, reason string, data schema.ExecutionData) (*schema.Execution, error) {
	return f.Transition(ctx, id, schema.StatusRunning, schema.StatusFailed, reason, data)
}

// TimeOut force-fails a RUNNING execution the watchdog found stuck.
func (f *ExecutionFSM) TimeOut(ctx context.Context, id, message string) (*schema.Execution, error) {
	return f.Transition(ctx, id, schema.StatusRunning, schema.StatusFailed, message, schema.ExecutionData{TimedOut: true})
}

// Cancel moves a PENDING execution to CANCELLED.
func (f *ExecutionFSM) Cancel(ctx context.Context, id, reason string) (*schema.Execution, error) {
	return f.Transition(ctx, id, schema.StatusPending, schema.StatusCancelled, reason,
		schema.ExecutionData{CancelReason: reason})
}

// Scheduled publishes the creation event for a newly stored execution.
func (f *ExecutionFSM) Scheduled(ctx context.Context, exec *schema.Execution) {
	f.publish(ctx, exec, schema.EventExecutionScheduled)
}

// Now returns the FSM's clock reading.
func (f *ExecutionFSM) Now() time.Time {
	return f.clock.Now()
}

func (f *ExecutionFSM) publish(ctx context.Context, exec *schema.Execution, eventType string) {
	if f.hub == nil || eventType == "" {
		return
	}
	event := streaming.StreamEvent{
		ExecutionID: exec.ID,
		TenantID:    exec.TenantID,
		WorkflowID:  exec.WorkflowID,
		EventType:   eventType,
		Status:      string(exec.Status),
		At:          exec.UpdatedAt,
	}
	if exec.ErrorMessage != "" || exec.Data.Message != "" {
		event.Payload = map[string]any{
			"error_message": exec.ErrorMessage,
			"message":       exec.Data.Message,
		}
	}
	if err := f.hub.Publish(ctx, event); err != nil {
		f.logger.WarnContext(ctx, "publish lifecycle event failed",
			slog.String("execution_id", exec.ID),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}
