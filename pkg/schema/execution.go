package schema

import "time"

// Execution is one attempt to run a workflow against one target entity.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	TargetID     string          `json:"target_id"`
	TenantID     string          `json:"tenant_id"`
	Status       ExecutionStatus `json:"status"`
	TriggerEvent string          `json:"trigger_event"`
	TriggerData  map[string]any  `json:"trigger_data,omitempty"`
	Data         ExecutionData   `json:"execution_data"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsDue reports whether a pending execution should run at now.
func (e *Execution) IsDue(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	return e.ScheduledFor == nil || !e.ScheduledFor.After(now)
}

// Clone returns a deep-enough copy for handing out of a store.
func (e *Execution) Clone() *Execution {
	cp := *e
	if e.TriggerData != nil {
		cp.TriggerData = make(map[string]any, len(e.TriggerData))
		for k, v := range e.TriggerData {
			cp.TriggerData[k] = v
		}
	}
	cp.Data = ExecutionData{}.Merge(e.Data)
	if e.ScheduledFor != nil {
		t := *e.ScheduledFor
		cp.ScheduledFor = &t
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ExecutionData is the structured scratchpad carried by an execution:
// scheduling metadata first, then the outcome log written by the interpreter.
type ExecutionData struct {
	ScheduledFor      *time.Time              `json:"scheduled_for,omitempty" yaml:"scheduled_for,omitempty"`
	BusinessHoursOnly bool                    `json:"business_hours_only,omitempty" yaml:"business_hours_only,omitempty"`
	RetryCount        int                     `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	ActionResults     map[string]ActionResult `json:"action_results,omitempty" yaml:"action_results,omitempty"`
	Message           string                  `json:"message,omitempty" yaml:"message,omitempty"`
	CancelReason      string                  `json:"cancel_reason,omitempty" yaml:"cancel_reason,omitempty"`
	TimedOut          bool                    `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	Extra             map[string]any          `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// ActionResult is the recorded outcome of one named action.
type ActionResult struct {
	Type       string         `json:"type"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Retries    int            `json:"retries,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// Merge returns d with the set fields of patch layered on top.
// Keys are only ever added or overwritten, never removed.
func (d ExecutionData) Merge(patch ExecutionData) ExecutionData {
	out := d
	if patch.ScheduledFor != nil {
		t := *patch.ScheduledFor
		out.ScheduledFor = &t
	}
	if patch.BusinessHoursOnly {
		out.BusinessHoursOnly = true
	}
	if patch.RetryCount > out.RetryCount {
		out.RetryCount = patch.RetryCount
	}
	if patch.Message != "" {
		out.Message = patch.Message
	}
	if patch.CancelReason != "" {
		out.CancelReason = patch.CancelReason
	}
	if patch.TimedOut {
		out.TimedOut = true
	}

	if len(d.ActionResults) > 0 || len(patch.ActionResults) > 0 {
		out.ActionResults = make(map[string]ActionResult, len(d.ActionResults)+len(patch.ActionResults))
		for k, v := range d.ActionResults {
			out.ActionResults[k] = v
		}
		for k, v := range patch.ActionResults {
			out.ActionResults[k] = v
		}
	}
	if len(d.Extra) > 0 || len(patch.Extra) > 0 {
		out.Extra = make(map[string]any, len(d.Extra)+len(patch.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = v
		}
		for k, v := range patch.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// AnySucceeded reports whether at least one recorded action succeeded.
func (d ExecutionData) AnySucceeded() bool {
	for _, r := range d.ActionResults {
		if r.Success {
			return true
		}
	}
	return false
}

// ExecutionStats summarizes executions by status.
type ExecutionStats struct {
	TenantID string                    `json:"tenant_id,omitempty"`
	ByStatus map[ExecutionStatus]int64 `json:"by_status"`
	Total    int64                     `json:"total"`
}

// NewExecutionStats builds stats with every status key present.
func NewExecutionStats(tenantID string, counts map[ExecutionStatus]int64) *ExecutionStats {
	st := &ExecutionStats{TenantID: tenantID, ByStatus: make(map[ExecutionStatus]int64, len(AllStatuses))}
	for _, s := range AllStatuses {
		n := counts[s]
		st.ByStatus[s] = n
		st.Total += n
	}
	return st
}
