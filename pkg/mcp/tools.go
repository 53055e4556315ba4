package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/pkg/schema"
)

// handleSchedule creates an execution. execute_at wins over delay_days and
// delay_hours, which win over use_config; with none of them it runs asap.
func (s *DripServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	targetID, err := req.RequireString("target_id")
	if err != nil {
		return mcp.NewToolResultError("target_id is required"), nil
	}

	wf, err := s.catalog.GetWorkflow(ctx, workflowID)
	if err != nil {
		return toolError("workflow lookup failed", err), nil
	}

	triggerEvent := req.GetString("trigger_event", string(wf.TriggerType))
	triggerData := mcp.ParseStringMap(req, "trigger_data", nil)
	args := req.GetArguments()

	var exec *schema.Execution
	switch {
	case req.GetString("execute_at", "") != "":
		at, parseErr := time.Parse(time.RFC3339, req.GetString("execute_at", ""))
		if parseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execute_at must be RFC3339: %v", parseErr)), nil
		}
		exec, err = s.scheduler.ScheduleExecution(ctx, wf, targetID, triggerEvent, &at, triggerData)
	case args["delay_days"] != nil || args["delay_hours"] != nil:
		days := extractInt(args, "delay_days", 0)
		hours := extractInt(args, "delay_hours", 0)
		exec, err = s.scheduler.ScheduleDelayed(ctx, wf, targetID, triggerEvent, days, hours, triggerData)
	case req.GetBool("use_config", false):
		exec, err = s.scheduler.ScheduleFromConfig(ctx, wf, targetID, triggerEvent, triggerData)
	default:
		exec, err = s.scheduler.ScheduleExecution(ctx, wf, targetID, triggerEvent, nil, triggerData)
	}
	if err != nil {
		return toolError("schedule failed", err), nil
	}
	if exec == nil {
		return marshalResult(map[string]any{
			"scheduled": false,
			"reason":    "conditions not met",
		})
	}

	if req.GetBool("watch", false) {
		s.captureSession(ctx, exec.ID)
	}
	return marshalResult(map[string]any{
		"scheduled": true,
		"execution": exec,
	})
}

// handleCancel cancels a pending execution.
func (s *DripServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	ok, err := s.scheduler.CancelExecution(ctx, id, req.GetString("reason", ""))
	if err != nil {
		return toolError("cancel failed", err), nil
	}
	return marshalResult(map[string]any{
		"execution_id": id,
		"cancelled":    ok,
	})
}

// handleStatus returns one execution.
func (s *DripServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	exec, err := s.scheduler.GetExecution(ctx, id)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	return marshalResult(exec)
}

// handleStats returns execution counts by status.
func (s *DripServer) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.scheduler.GetExecutionStats(ctx, req.GetString("tenant_id", ""))
	if err != nil {
		return toolError("stats query failed", err), nil
	}
	return marshalResult(stats)
}

// handleMark records a manual outcome.
func (s *DripServer) handleMark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	outcome, err := req.RequireString("outcome")
	if err != nil {
		return mcp.NewToolResultError("outcome is required"), nil
	}
	message := req.GetString("message", "")

	var exec *schema.Execution
	switch outcome {
	case "completed":
		exec, err = s.scheduler.MarkCompleted(ctx, id, message)
	case "failed":
		if message == "" {
			message = "marked failed"
		}
		exec, err = s.scheduler.MarkFailed(ctx, id, message)
	default:
		return mcp.NewToolResultError("outcome must be completed or failed"), nil
	}
	if err != nil {
		return toolError("mark failed", err), nil
	}
	return marshalResult(exec)
}

// handleList lists executions matching the filter arguments.
func (s *DripServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	filter := store.ExecutionFilter{
		TenantID:   req.GetString("tenant_id", ""),
		WorkflowID: req.GetString("workflow_id", ""),
		TargetID:   req.GetString("target_id", ""),
		Limit:      extractInt(args, "limit", 50),
		Offset:     extractInt(args, "offset", 0),
	}
	if raw := req.GetString("status", ""); raw != "" {
		status := schema.ExecutionStatus(strings.ToLower(raw))
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", raw)), nil
		}
		filter.Status = &status
	}

	executions, err := s.scheduler.ListExecutions(ctx, filter)
	if err != nil {
		return toolError("list failed", err), nil
	}
	if executions == nil {
		executions = []*schema.Execution{}
	}
	return marshalResult(map[string]any{"executions": executions})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession subscribes the calling session to an execution's lifecycle events.
func (s *DripServer) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Watch(executionID, session.SessionID())
	}
}

// toolError renders err as a tool error; a DripError keeps its code in the text.
func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
