package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/pkg/schema"
)

type scheduleResult struct {
	Scheduled bool              `json:"scheduled"`
	Reason    string            `json:"reason"`
	Execution *schema.Execution `json:"execution"`
}

func TestScheduleTool(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		wantWhen *time.Time
	}{
		{
			name: "asap",
			args: map[string]any{},
		},
		{
			name:     "execute_at",
			args:     map[string]any{"execute_at": "2026-03-12T10:00:00Z"},
			wantWhen: timePtr(time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)),
		},
		{
			name:     "relative delay",
			args:     map[string]any{"delay_days": float64(1), "delay_hours": float64(3)},
			wantWhen: timePtr(testNow.Add(27 * time.Hour)),
		},
		{
			name:     "workflow config",
			args:     map[string]any{"use_config": true},
			wantWhen: timePtr(testNow.Add(48 * time.Hour)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			args := map[string]any{"workflow_id": "review-request", "target_id": "cust-1", "trigger_data": map[string]any{"job": "j-7"}}
			for k, v := range tt.args {
				args[k] = v
			}

			result, err := e.server.handleSchedule(context.Background(), buildRequest("drip.schedule", args))
			require.NoError(t, err)
			require.False(t, result.IsError, extractText(t, result))

			var got scheduleResult
			unmarshalResult(t, result, &got)
			require.True(t, got.Scheduled)
			require.NotNil(t, got.Execution)
			assert.Equal(t, schema.StatusPending, got.Execution.Status)
			assert.Equal(t, "service_completed", got.Execution.TriggerEvent)
			assert.Equal(t, "j-7", got.Execution.TriggerData["job"])
			if tt.wantWhen == nil {
				assert.Nil(t, got.Execution.ScheduledFor)
			} else {
				require.NotNil(t, got.Execution.ScheduledFor)
				assert.True(t, tt.wantWhen.Equal(*got.Execution.ScheduledFor))
			}

			_, err = e.store.GetExecution(context.Background(), got.Execution.ID)
			assert.NoError(t, err)
		})
	}
}

func TestScheduleToolConditionsNotMet(t *testing.T) {
	e := newEnv(t)
	result, err := e.server.handleSchedule(context.Background(), buildRequest("drip.schedule", map[string]any{
		"workflow_id": "vip-only",
		"target_id":   "cust-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got scheduleResult
	unmarshalResult(t, result, &got)
	assert.False(t, got.Scheduled)
	assert.Equal(t, "conditions not met", got.Reason)
	assert.Nil(t, got.Execution)
}

func TestScheduleToolErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		message string
	}{
		{"missing workflow", map[string]any{"target_id": "cust-1"}, "workflow_id is required"},
		{"missing target", map[string]any{"workflow_id": "review-request"}, "target_id is required"},
		{"unknown workflow", map[string]any{"workflow_id": "nope", "target_id": "cust-1"}, "NOT_FOUND"},
		{"unknown target", map[string]any{"workflow_id": "review-request", "target_id": "ghost"}, "NOT_FOUND"},
		{"bad time", map[string]any{"workflow_id": "review-request", "target_id": "cust-1", "execute_at": "tomorrow"}, "RFC3339"},
		{"negative delay", map[string]any{"workflow_id": "review-request", "target_id": "cust-1", "delay_days": float64(-1)}, "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			result, err := e.server.handleSchedule(context.Background(), buildRequest("drip.schedule", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tt.message)
		})
	}
}

func TestScheduleToolWatch(t *testing.T) {
	e := newEnv(t)
	ctx := e.server.MCPServer().WithContext(context.Background(), newFakeSession("session-1"))

	result, err := e.server.handleSchedule(ctx, buildRequest("drip.schedule", map[string]any{
		"workflow_id": "review-request",
		"target_id":   "cust-1",
		"watch":       true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got scheduleResult
	unmarshalResult(t, result, &got)
	sid, ok := e.server.sessions.SessionFor(got.Execution.ID)
	assert.True(t, ok)
	assert.Equal(t, "session-1", sid)
}

func TestCancelTool(t *testing.T) {
	e := newEnv(t)
	e.seed(t, &schema.Execution{ID: "exec-1", Status: schema.StatusPending})

	result, err := e.server.handleCancel(context.Background(), buildRequest("drip.cancel", map[string]any{
		"execution_id": "exec-1",
		"reason":       "opted out",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got map[string]any
	unmarshalResult(t, result, &got)
	assert.Equal(t, true, got["cancelled"])

	// A second cancel is a no-op, not an error.
	result, err = e.server.handleCancel(context.Background(), buildRequest("drip.cancel", map[string]any{"execution_id": "exec-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	unmarshalResult(t, result, &got)
	assert.Equal(t, false, got["cancelled"])

	result, err = e.server.handleCancel(context.Background(), buildRequest("drip.cancel", map[string]any{"execution_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	e := newEnv(t)
	e.seed(t, &schema.Execution{ID: "exec-1", Status: schema.StatusPending})

	result, err := e.server.handleStatus(context.Background(), buildRequest("drip.status", map[string]any{"execution_id": "exec-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got schema.Execution
	unmarshalResult(t, result, &got)
	assert.Equal(t, "exec-1", got.ID)
	assert.Equal(t, schema.StatusPending, got.Status)

	result, err = e.server.handleStatus(context.Background(), buildRequest("drip.status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatsTool(t *testing.T) {
	e := newEnv(t)
	e.seed(t, &schema.Execution{ID: "a", Status: schema.StatusPending})
	e.seed(t, &schema.Execution{ID: "b", Status: schema.StatusPending, TenantID: "t2"})

	result, err := e.server.handleStats(context.Background(), buildRequest("drip.stats", map[string]any{"tenant_id": "t1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got schema.ExecutionStats
	unmarshalResult(t, result, &got)
	assert.Equal(t, int64(1), got.Total)
	assert.Len(t, got.ByStatus, len(schema.AllStatuses))
}

func TestMarkTool(t *testing.T) {
	e := newEnv(t)
	e.seed(t, &schema.Execution{ID: "a", Status: schema.StatusPending})
	e.seed(t, &schema.Execution{ID: "b", Status: schema.StatusPending})

	result, err := e.server.handleMark(context.Background(), buildRequest("drip.mark", map[string]any{
		"execution_id": "a",
		"outcome":      "completed",
		"message":      "sent by hand",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var got schema.Execution
	unmarshalResult(t, result, &got)
	assert.Equal(t, schema.StatusCompleted, got.Status)
	assert.Equal(t, "sent by hand", got.Data.Message)

	result, err = e.server.handleMark(context.Background(), buildRequest("drip.mark", map[string]any{
		"execution_id": "b",
		"outcome":      "failed",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	unmarshalResult(t, result, &got)
	assert.Equal(t, schema.StatusFailed, got.Status)
	assert.Equal(t, "marked failed", got.ErrorMessage)

	result, err = e.server.handleMark(context.Background(), buildRequest("drip.mark", map[string]any{
		"execution_id": "a",
		"outcome":      "failed",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "terminal executions cannot be re-marked")

	result, err = e.server.handleMark(context.Background(), buildRequest("drip.mark", map[string]any{
		"execution_id": "a",
		"outcome":      "maybe",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListTool(t *testing.T) {
	e := newEnv(t)
	e.seed(t, &schema.Execution{ID: "old", Status: schema.StatusPending, CreatedAt: testNow.Add(-time.Hour)})
	e.seed(t, &schema.Execution{ID: "new", Status: schema.StatusPending})
	e.seed(t, &schema.Execution{ID: "other", Status: schema.StatusPending, TenantID: "t2"})

	result, err := e.server.handleList(context.Background(), buildRequest("drip.list", map[string]any{
		"tenant_id": "t1",
		"status":    "PENDING",
		"limit":     float64(10),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var got struct {
		Executions []*schema.Execution `json:"executions"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Executions, 2)
	assert.Equal(t, "new", got.Executions[0].ID)
	assert.Equal(t, "old", got.Executions[1].ID)

	result, err = e.server.handleList(context.Background(), buildRequest("drip.list", map[string]any{"status": "sleeping"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListToolEmpty(t *testing.T) {
	e := newEnv(t)
	result, err := e.server.handleList(context.Background(), buildRequest("drip.list", map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), `"executions":[]`)
}

func TestExtractInt(t *testing.T) {
	args := map[string]any{"f": float64(7), "i": 3, "s": "12", "bad": "x"}
	assert.Equal(t, 7, extractInt(args, "f", 0))
	assert.Equal(t, 3, extractInt(args, "i", 0))
	assert.Equal(t, 12, extractInt(args, "s", 0))
	assert.Equal(t, 5, extractInt(args, "bad", 5))
	assert.Equal(t, 5, extractInt(args, "missing", 5))
	assert.Equal(t, 5, extractInt(nil, "f", 5))
}

func timePtr(t time.Time) *time.Time { return &t }
