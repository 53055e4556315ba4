package schema

// Lifecycle event types published when an execution changes state.
const (
	EventExecutionScheduled = "execution.scheduled"
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventExecutionCancelled = "execution.cancelled"
	EventExecutionTimedOut  = "execution.timed_out"
	EventExecutionSwept     = "execution.swept"

	EventCircuitOpened = "circuit.opened"
)

// ExecutionStatus is the closed set of lifecycle states of an Execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// AllStatuses lists every ExecutionStatus in lifecycle order.
var AllStatuses = []ExecutionStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusRunning:
		return false
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the execution state machine.
// Statuses only move forward: nothing re-enters PENDING and terminal states are final.
func CanTransition(from, to ExecutionStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	return false
}

// EventTypeFor returns the lifecycle event emitted on entering status to.
func EventTypeFor(to ExecutionStatus) string {
	switch to {
	case StatusPending:
		return EventExecutionScheduled
	case StatusRunning:
		return EventExecutionStarted
	case StatusCompleted:
		return EventExecutionCompleted
	case StatusFailed:
		return EventExecutionFailed
	case StatusCancelled:
		return EventExecutionCancelled
	}
	return ""
}
