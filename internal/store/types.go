package store

import (
	"time"

	"github.com/reputul/drip/pkg/schema"
)

// Transition describes one state change of an execution and its side effects.
type Transition struct {
	From         schema.ExecutionStatus `json:"from"`
	To           schema.ExecutionStatus `json:"to"`
	At           time.Time              `json:"at"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Data         schema.ExecutionData   `json:"data,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	TenantID   string                  `json:"tenant_id,omitempty"`
	WorkflowID string                  `json:"workflow_id,omitempty"`
	TargetID   string                  `json:"target_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// DueFilter selects pending executions whose due time has passed.
type DueFilter struct {
	TenantID string    `json:"tenant_id,omitempty"`
	Now      time.Time `json:"now"`
	Limit    int       `json:"limit,omitempty"`
}

// applyTransition validates t against the current record and returns the
// updated copy. Shared by every backend so the effects stay identical.
func applyTransition(cur *schema.Execution, t Transition) (*schema.Execution, error) {
	if !schema.CanTransition(t.From, t.To) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", t.From, t.To).
			WithExecution(cur.ID).
			WithDetails(map[string]any{"from": string(t.From), "to": string(t.To)})
	}
	if cur.Status != t.From {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution is %s, expected %s", cur.Status, t.From).
			WithExecution(cur.ID).
			WithDetails(map[string]any{"current": string(cur.Status), "expected": string(t.From)})
	}

	at := timeOrNow(t.At)
	next := cur.Clone()
	next.Status = t.To
	next.UpdatedAt = at
	next.Data = cur.Data.Merge(t.Data)

	switch t.To {
	case schema.StatusRunning:
		next.StartedAt = &at
	case schema.StatusCompleted, schema.StatusFailed, schema.StatusCancelled:
		next.CompletedAt = &at
		if t.ErrorMessage != "" {
			next.ErrorMessage = t.ErrorMessage
		}
	case schema.StatusPending:
		// unreachable: CanTransition never targets pending
	}
	return next, nil
}

func notFound(id string) *schema.DripError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id).WithExecution(id)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
