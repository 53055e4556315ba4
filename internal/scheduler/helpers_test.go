package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/conditions"
	"github.com/reputul/drip/internal/engine"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/pkg/schema"
)

// 2026-03-10 is a Tuesday.
var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// recordingDispatcher remembers dispatched IDs in order.
type recordingDispatcher struct {
	mu      sync.Mutex
	ids     []string
	failFor map[string]error
	panicOn string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	if id == d.panicOn {
		panic("dispatcher exploded")
	}
	if err := d.failFor[id]; err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type fixture struct {
	store      *store.MemoryStore
	catalog    *catalog.MemoryCatalog
	clock      *clockwork.FakeClock
	fsm        *engine.ExecutionFSM
	dispatcher *recordingDispatcher
	service    *Service
	workflow   *schema.Workflow
}

func newFixture(t *testing.T, ev conditions.Evaluator) *fixture {
	t.Helper()
	f := &fixture{
		store:      store.NewMemoryStore(),
		catalog:    catalog.NewMemoryCatalog(),
		clock:      clockwork.NewFakeClockAt(testNow),
		dispatcher: &recordingDispatcher{},
	}
	f.fsm = engine.NewExecutionFSM(f.store, nil, f.clock, nil)
	f.workflow = &schema.Workflow{ID: "wf-1", TenantID: "t1", TriggerType: schema.TriggerServiceCompleted}
	f.catalog.PutWorkflow(f.workflow)
	f.catalog.PutEntity(&schema.Entity{ID: "cust-1", TenantID: "t1", Attributes: map[string]any{"status": "active"}})
	f.catalog.PutEntity(&schema.Entity{ID: "cust-other", TenantID: "t2"})

	if ev == nil {
		ev = conditions.Always
	}
	svc, err := NewService(ServiceDeps{
		Store:      f.store,
		Catalog:    f.catalog,
		Conditions: ev,
		FSM:        f.fsm,
		Dispatcher: f.dispatcher,
		Clock:      f.clock,
	}, ServiceConfig{})
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *fixture) put(t *testing.T, exec *schema.Execution) {
	t.Helper()
	if exec.WorkflowID == "" {
		exec.WorkflowID = "wf-1"
	}
	if exec.TenantID == "" {
		exec.TenantID = "t1"
	}
	if exec.TargetID == "" {
		exec.TargetID = "cust-1"
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = testNow.Add(-time.Hour)
	}
	exec.UpdatedAt = exec.CreatedAt
	f.store.Put(exec)
}

func (f *fixture) get(t *testing.T, id string) *schema.Execution {
	t.Helper()
	exec, err := f.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func timeAt(t time.Time) *time.Time { return &t }

func intPtr(n int) *int { return &n }
