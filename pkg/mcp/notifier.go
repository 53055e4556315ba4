package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/pkg/schema"
)

// Notifier pushes execution lifecycle notifications to watching clients.
type Notifier interface {
	Notify(ctx context.Context, executionID string, payload map[string]any) error
}

// MCPNotifier implements Notifier using MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to the watching session.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session watching executionID.
// Best-effort: returns nil if nobody is watching.
func (n *MCPNotifier) Notify(_ context.Context, executionID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(executionID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// RelayEvents forwards lifecycle events of watched executions to their
// sessions until ctx is done. A watch ends with the execution's terminal event.
func (s *DripServer) RelayEvents(ctx context.Context) error {
	events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.relay(ctx, ev)
		}
	}
}

func (s *DripServer) relay(ctx context.Context, ev streaming.StreamEvent) {
	if _, watched := s.sessions.SessionFor(ev.ExecutionID); !watched {
		return
	}
	payload := map[string]any{
		"level":  "info",
		"logger": "drip",
		"data":   ev,
	}
	if err := s.notifier.Notify(ctx, ev.ExecutionID, payload); err != nil {
		s.logger.WarnContext(ctx, "notify watcher failed",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("error", err.Error()))
	}
	if schema.ExecutionStatus(ev.Status).IsTerminal() {
		s.sessions.Forget(ev.ExecutionID)
	}
}
