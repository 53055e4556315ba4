package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/conditions"
	"github.com/reputul/drip/internal/engine"
	"github.com/reputul/drip/internal/scheduler"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/pkg/schema"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type env struct {
	store   *store.MemoryStore
	catalog *catalog.MemoryCatalog
	hub     *streaming.MemoryHub
	clock   *clockwork.FakeClock
	server  *DripServer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   store.NewMemoryStore(),
		catalog: catalog.NewMemoryCatalog(),
		hub:     streaming.NewMemoryHub(),
		clock:   clockwork.NewFakeClockAt(testNow),
	}
	e.catalog.PutWorkflow(&schema.Workflow{
		ID:          "review-request",
		TenantID:    "t1",
		TriggerType: schema.TriggerServiceCompleted,
		Delay:       schema.DelayConfig{Days: 2},
	})
	e.catalog.PutWorkflow(&schema.Workflow{
		ID:          "vip-only",
		TenantID:    "t1",
		TriggerType: schema.TriggerManual,
		Conditions: &schema.ConditionSet{Rules: []schema.ConditionRule{
			{Path: ".tier", Operator: "eq", Value: "vip"},
		}},
	})
	e.catalog.PutEntity(&schema.Entity{ID: "cust-1", TenantID: "t1", Attributes: map[string]any{"tier": "basic"}})

	ev, err := conditions.NewEngineEvaluator()
	require.NoError(t, err)
	svc, err := scheduler.NewService(scheduler.ServiceDeps{
		Store:      e.store,
		Catalog:    e.catalog,
		Conditions: ev,
		FSM:        engine.NewExecutionFSM(e.store, e.hub, e.clock, nil),
		Clock:      e.clock,
	}, scheduler.ServiceConfig{})
	require.NoError(t, err)

	e.server = NewDripServer(DripServerDeps{
		Scheduler: svc,
		Catalog:   e.catalog,
		Hub:       e.hub,
	})
	return e
}

func (e *env) seed(t *testing.T, exec *schema.Execution) {
	t.Helper()
	if exec.TenantID == "" {
		exec.TenantID = "t1"
	}
	if exec.WorkflowID == "" {
		exec.WorkflowID = "review-request"
	}
	exec.TargetID = "cust-1"
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = testNow
	}
	require.NoError(t, e.store.CreateExecution(context.Background(), exec))
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// fakeSession is an initialized client session with a buffered notification channel.
type fakeSession struct {
	id string
	ch chan mcp.JSONRPCNotification
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, ch: make(chan mcp.JSONRPCNotification, 8)}
}

func (s *fakeSession) Initialize()                                         {}
func (s *fakeSession) Initialized() bool                                   { return true }
func (s *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.ch }
func (s *fakeSession) SessionID() string                                   { return s.id }
