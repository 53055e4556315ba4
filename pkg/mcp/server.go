// Package mcp exposes the drip scheduling API as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/pkg/schema"
)

// Scheduler is the scheduling API the tools call. *scheduler.Service implements it.
type Scheduler interface {
	ScheduleExecution(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, executeAt *time.Time, triggerData map[string]any) (*schema.Execution, error)
	ScheduleDelayed(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, delayDays, delayHours int, triggerData map[string]any) (*schema.Execution, error)
	ScheduleFromConfig(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, triggerData map[string]any) (*schema.Execution, error)
	CancelExecution(ctx context.Context, id, reason string) (bool, error)
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.Execution, error)
	GetExecutionStats(ctx context.Context, tenantID string) (*schema.ExecutionStats, error)
	MarkCompleted(ctx context.Context, id, message string) (*schema.Execution, error)
	MarkFailed(ctx context.Context, id, reason string) (*schema.Execution, error)
}

// DripServerDeps holds the dependencies for creating a DripServer.
type DripServerDeps struct {
	Scheduler Scheduler
	Catalog   catalog.Catalog
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// DripServer wraps an MCP server with drip-specific tool handlers.
type DripServer struct {
	scheduler Scheduler
	catalog   catalog.Catalog
	hub       streaming.EventHub
	sessions  *SessionRegistry
	notifier  Notifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewDripServer creates a DripServer with all tools registered.
func NewDripServer(deps DripServerDeps) *DripServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &DripServer{
		scheduler: deps.Scheduler,
		catalog:   deps.Catalog,
		hub:       deps.Hub,
		sessions:  NewSessionRegistry(),
		logger:    logger.With("module", "mcp"),
	}

	mcpSrv := server.NewMCPServer(
		"drip",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Drip schedules automated follow-up actions for customers. Use drip.schedule to create an execution, drip.status and drip.list to inspect executions, drip.cancel to stop a pending one, drip.mark to record an outcome manually, and drip.stats for counts by status."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Lifecycle events of watched executions are relayed while it runs.
func (s *DripServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.hub != nil {
		go func() {
			if err := s.RelayEvents(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("event relay stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DripServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *DripServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: statsTool(), Handler: s.handleStats},
		{Tool: markTool(), Handler: s.handleMark},
		{Tool: listTool(), Handler: s.handleList},
	}
}

// --- Tool definitions ---

func scheduleTool() mcp.Tool {
	return mcp.NewTool("drip.schedule",
		mcp.WithDescription("Schedule a workflow against a target entity"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to schedule")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("ID of the customer or entity the workflow acts on")),
		mcp.WithString("trigger_event", mcp.Description("Triggering event name (default: the workflow's trigger type)")),
		mcp.WithString("execute_at", mcp.Description("RFC3339 time to run at; omitted means as soon as possible")),
		mcp.WithNumber("delay_days", mcp.Description("Run this many days from now")),
		mcp.WithNumber("delay_hours", mcp.Description("Run this many hours from now")),
		mcp.WithBoolean("use_config", mcp.Description("Apply the workflow's own delay, send hour and business-hours settings")),
		mcp.WithObject("trigger_data", mcp.Description("Payload of the triggering event")),
		mcp.WithBoolean("watch", mcp.Description("Push lifecycle notifications for this execution to the calling session")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("drip.cancel",
		mcp.WithDescription("Cancel a pending execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
		mcp.WithString("reason", mcp.Description("Why the execution is cancelled")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("drip.status",
		mcp.WithDescription("Get an execution and its recorded action results"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool("drip.stats",
		mcp.WithDescription("Count executions by status"),
		mcp.WithString("tenant_id", mcp.Description("Restrict counts to one tenant")),
	)
}

func markTool() mcp.Tool {
	return mcp.NewTool("drip.mark",
		mcp.WithDescription("Record an execution outcome that happened outside the engine"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to mark")),
		mcp.WithString("outcome", mcp.Required(),
			mcp.Enum("completed", "failed"),
			mcp.Description("Outcome to record"),
		),
		mcp.WithString("message", mcp.Description("Completion message or failure reason")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("drip.list",
		mcp.WithDescription("List executions, newest first"),
		mcp.WithString("tenant_id", mcp.Description("Filter by tenant")),
		mcp.WithString("workflow_id", mcp.Description("Filter by workflow")),
		mcp.WithString("target_id", mcp.Description("Filter by target entity")),
		mcp.WithString("status", mcp.Description("Filter by status (pending, running, completed, failed, cancelled)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 50)")),
		mcp.WithNumber("offset", mcp.Description("Results to skip")),
	)
}
