package streaming

import (
	"context"
	"time"
)

// StreamEvent is a lifecycle event emitted when an execution changes state.
type StreamEvent struct {
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status,omitempty"`
	At          time.Time `json:"at"`
	Payload     any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for execution lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f EventFilter, e StreamEvent) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.TenantID != "" && f.TenantID != e.TenantID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
