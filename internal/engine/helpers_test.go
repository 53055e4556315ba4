package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/internal/actions"
	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/conditions"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/pkg/schema"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// stubAction is a scriptable action handler.
type stubAction struct {
	name      string
	out       *actions.ActionOutput
	err       error
	panicWith any
	schema    json.RawMessage
	calls     atomic.Int32
}

func (a *stubAction) Name() string { return a.name }

func (a *stubAction) Schema() actions.ActionSchema {
	return actions.ActionSchema{ConfigSchema: a.schema}
}

func (a *stubAction) Validate(map[string]any) error { return nil }

func (a *stubAction) Execute(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
	a.calls.Add(1)
	if a.panicWith != nil {
		panic(a.panicWith)
	}
	return a.out, a.err
}

func succeeding(name string) *stubAction {
	return &stubAction{name: name, out: &actions.ActionOutput{Success: true}}
}

func failing(name, reason string) *stubAction {
	return &stubAction{name: name, out: &actions.ActionOutput{Success: false, Reason: reason}}
}

type harness struct {
	store    *store.MemoryStore
	catalog  *catalog.MemoryCatalog
	registry *actions.Registry
	hub      *streaming.MemoryHub
	clock    *clockwork.FakeClock
	executor *Executor
}

type harnessOption func(*ExecutorDeps, *ExecutorConfig)

func withConditions(ev conditions.Evaluator) harnessOption {
	return func(d *ExecutorDeps, _ *ExecutorConfig) { d.Conditions = ev }
}

func withBreaker(threshold int) harnessOption {
	return func(_ *ExecutorDeps, c *ExecutorConfig) {
		c.CircuitBreaker = &CircuitBreakerConfig{FailureThreshold: threshold, Cooldown: time.Minute, HalfOpenMax: 1}
	}
}

func newHarness(t *testing.T, handlers []actions.Action, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		catalog:  catalog.NewMemoryCatalog(),
		registry: actions.NewRegistry(),
		hub:      streaming.NewMemoryHub(),
		clock:    clockwork.NewFakeClockAt(testNow),
	}
	for _, a := range handlers {
		require.NoError(t, h.registry.Register(a))
	}
	h.catalog.PutEntity(&schema.Entity{ID: "cust-1", TenantID: "t1", Email: "ana@example.com"})

	deps := ExecutorDeps{
		Store:   h.store,
		Hub:     h.hub,
		Catalog: h.catalog,
		Actions: h.registry,
		Clock:   h.clock,
	}
	var cfg ExecutorConfig
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	if deps.Conditions == nil {
		deps.Conditions = conditions.Always
	}
	var err error
	h.executor, err = NewExecutor(deps, cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) workflow(id string, trigger schema.TriggerType, specs ...schema.ActionSpec) *schema.Workflow {
	wf := &schema.Workflow{ID: id, TenantID: "t1", TriggerType: trigger, Actions: specs}
	h.catalog.PutWorkflow(wf)
	return wf
}

func (h *harness) pending(t *testing.T, id, workflowID string) {
	t.Helper()
	require.NoError(t, h.store.CreateExecution(context.Background(), &schema.Execution{
		ID:           id,
		WorkflowID:   workflowID,
		TargetID:     "cust-1",
		TenantID:     "t1",
		Status:       schema.StatusPending,
		TriggerEvent: "service_completed",
		CreatedAt:    testNow,
	}))
}

func (h *harness) get(t *testing.T, id string) *schema.Execution {
	t.Helper()
	exec, err := h.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func spec(name, actionType string) schema.ActionSpec {
	return schema.ActionSpec{Name: name, Type: actionType}
}

func recvEvent(t *testing.T, ch <-chan streaming.StreamEvent) streaming.StreamEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return streaming.StreamEvent{}
}
