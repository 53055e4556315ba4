package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/pkg/schema"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("TransitionLifecycle", func(t *testing.T) { testTransitionLifecycle(t, newStore(t)) })
	t.Run("TransitionConflict", func(t *testing.T) { testTransitionConflict(t, newStore(t)) })
	t.Run("TransitionInvalid", func(t *testing.T) { testTransitionInvalid(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("DueOrdering", func(t *testing.T) { testDueOrdering(t, newStore(t)) })
	t.Run("SubSecondTimestamps", func(t *testing.T) { testSubSecondTimestamps(t, newStore(t)) })
	t.Run("StuckStrictBoundary", func(t *testing.T) { testStuckStrictBoundary(t, newStore(t)) })
	t.Run("PendingTenants", func(t *testing.T) { testPendingTenants(t, newStore(t)) })
	t.Run("CountByStatus", func(t *testing.T) { testCountByStatus(t, newStore(t)) })
	t.Run("DeleteCompletedOnly", func(t *testing.T) { testDeleteCompletedOnly(t, newStore(t)) })
	t.Run("ListFilterAndPage", func(t *testing.T) { testListFilterAndPage(t, newStore(t)) })
}

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newExec(tenant string, created time.Time) *schema.Execution {
	return &schema.Execution{
		ID:           uuid.New().String(),
		WorkflowID:   "wf-welcome",
		TargetID:     "cust-1",
		TenantID:     tenant,
		Status:       schema.StatusPending,
		TriggerEvent: "customer_created",
		TriggerData:  map[string]any{"source": "signup"},
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func seed(t *testing.T, s Store, e *schema.Execution) *schema.Execution {
	t.Helper()
	require.NoError(t, s.CreateExecution(context.Background(), e))
	return e
}

func claim(t *testing.T, s Store, id string, at time.Time) *schema.Execution {
	t.Helper()
	got, err := s.TransitionExecution(context.Background(), id, Transition{
		From: schema.StatusPending, To: schema.StatusRunning, At: at,
	})
	require.NoError(t, err)
	return got
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	due := baseTime.Add(2 * time.Hour)
	e := newExec("t1", baseTime)
	e.ScheduledFor = &due
	e.Data = schema.ExecutionData{ScheduledFor: &due, BusinessHoursOnly: true}
	seed(t, s, e)

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPending, got.Status)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, "customer_created", got.TriggerEvent)
	assert.Equal(t, "signup", got.TriggerData["source"])
	require.NotNil(t, got.ScheduledFor)
	assert.True(t, due.Equal(*got.ScheduledFor))
	assert.True(t, got.Data.BusinessHoursOnly)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorMessage)
}

func testGetNotFound(t *testing.T, s Store) {
	_, err := s.GetExecution(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, schema.IsNotFound(err))

	_, err = s.TransitionExecution(context.Background(), "missing", Transition{
		From: schema.StatusPending, To: schema.StatusRunning,
	})
	assert.True(t, schema.IsNotFound(err))
}

func testTransitionLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	e := seed(t, s, newExec("t1", baseTime))

	started := baseTime.Add(time.Minute)
	running := claim(t, s, e.ID, started)
	assert.Equal(t, schema.StatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)
	assert.True(t, started.Equal(*running.StartedAt))

	done := started.Add(time.Second)
	completed, err := s.TransitionExecution(ctx, e.ID, Transition{
		From: schema.StatusRunning,
		To:   schema.StatusCompleted,
		At:   done,
		Data: schema.ExecutionData{ActionResults: map[string]schema.ActionResult{
			"send_email": {Type: schema.ActionSendEmail, Success: true},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, done.Equal(*completed.CompletedAt))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status)
	assert.True(t, got.Data.ActionResults["send_email"].Success)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))
}

func testTransitionConflict(t *testing.T, s Store) {
	ctx := context.Background()
	e := seed(t, s, newExec("t1", baseTime))
	claim(t, s, e.ID, baseTime)

	_, err := s.TransitionExecution(ctx, e.ID, Transition{
		From: schema.StatusPending, To: schema.StatusCancelled, ErrorMessage: "too late",
	})
	require.Error(t, err)
	assert.True(t, schema.IsConflict(err))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusRunning, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func testTransitionInvalid(t *testing.T, s Store) {
	e := seed(t, s, newExec("t1", baseTime))
	_, err := s.TransitionExecution(context.Background(), e.ID, Transition{
		From: schema.StatusPending, To: schema.StatusCompleted,
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
}

func testConcurrentClaim(t *testing.T, s Store) {
	e := seed(t, s, newExec("t1", baseTime))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionExecution(context.Background(), e.ID, Transition{
				From: schema.StatusPending, To: schema.StatusRunning,
			})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.True(t, schema.IsConflict(err), "unexpected error: %v", err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testDueOrdering(t *testing.T, s Store) {
	ctx := context.Background()
	now := baseTime.Add(time.Hour)
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	second := newExec("t1", baseTime.Add(2*time.Second))
	second.ScheduledFor = &past
	first := newExec("t1", baseTime.Add(time.Second))
	notYet := newExec("t1", baseTime)
	notYet.ScheduledFor = &future
	otherTenant := newExec("t2", baseTime.Add(3*time.Second))
	exactlyNow := newExec("t1", baseTime.Add(4*time.Second))
	exactlyNow.ScheduledFor = &now

	for _, e := range []*schema.Execution{second, first, notYet, otherTenant, exactlyNow} {
		seed(t, s, e)
	}

	due, err := s.ListDueExecutions(ctx, DueFilter{Now: now})
	require.NoError(t, err)
	require.Len(t, due, 4)
	assert.Equal(t, first.ID, due[0].ID)
	assert.Equal(t, second.ID, due[1].ID)
	assert.Equal(t, otherTenant.ID, due[2].ID)
	assert.Equal(t, exactlyNow.ID, due[3].ID)

	scoped, err := s.ListDueExecutions(ctx, DueFilter{Now: now, TenantID: "t2"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, otherTenant.ID, scoped[0].ID)

	limited, err := s.ListDueExecutions(ctx, DueFilter{Now: now, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// Whole and fractional seconds must compare chronologically, not as text.
func testSubSecondTimestamps(t *testing.T, s Store) {
	ctx := context.Background()
	whole := baseTime
	half := baseTime.Add(500 * time.Millisecond)

	dueWhole := newExec("t1", whole)
	dueWhole.ScheduledFor = &whole
	dueHalf := newExec("t1", half)
	dueHalf.ScheduledFor = &half
	seed(t, s, dueHalf)
	seed(t, s, dueWhole)

	due, err := s.ListDueExecutions(ctx, DueFilter{Now: baseTime.Add(250 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, due, 1, "only the whole-second execution is due at +250ms")
	assert.Equal(t, dueWhole.ID, due[0].ID)

	due, err = s.ListDueExecutions(ctx, DueFilter{Now: half})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, dueWhole.ID, due[0].ID, "FIFO within one second")
	assert.Equal(t, dueHalf.ID, due[1].ID)

	got, err := s.GetExecution(ctx, dueHalf.ID)
	require.NoError(t, err)
	assert.True(t, half.Equal(got.CreatedAt))
	require.NotNil(t, got.ScheduledFor)
	assert.True(t, half.Equal(*got.ScheduledFor))

	claim(t, s, dueWhole.ID, whole)
	claim(t, s, dueHalf.ID, half)
	stuck, err := s.ListStuckExecutions(ctx, baseTime.Add(250*time.Millisecond), 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, dueWhole.ID, stuck[0].ID)

	for _, e := range []*schema.Execution{dueWhole, dueHalf} {
		_, err := s.TransitionExecution(ctx, e.ID, Transition{From: schema.StatusRunning, To: schema.StatusCompleted, At: *e.ScheduledFor})
		require.NoError(t, err)
	}
	n, err := s.DeleteCompletedBefore(ctx, baseTime.Add(250*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetExecution(ctx, dueHalf.ID)
	assert.NoError(t, err)
}

func testStuckStrictBoundary(t *testing.T, s Store) {
	ctx := context.Background()
	cutoff := baseTime

	stuck := seed(t, s, newExec("t1", baseTime.Add(-time.Hour)))
	claim(t, s, stuck.ID, cutoff.Add(-time.Second))

	boundary := seed(t, s, newExec("t1", baseTime.Add(-time.Hour)))
	claim(t, s, boundary.ID, cutoff)

	fresh := seed(t, s, newExec("t1", baseTime.Add(-time.Hour)))
	claim(t, s, fresh.ID, cutoff.Add(time.Minute))

	seed(t, s, newExec("t1", baseTime.Add(-2*time.Hour)))

	got, err := s.ListStuckExecutions(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stuck.ID, got[0].ID)
}

func testPendingTenants(t *testing.T, s Store) {
	seed(t, s, newExec("b", baseTime))
	seed(t, s, newExec("a", baseTime))
	seed(t, s, newExec("a", baseTime))
	c := seed(t, s, newExec("c", baseTime))
	claim(t, s, c.ID, baseTime)

	tenants, err := s.ListPendingTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tenants)
}

func testCountByStatus(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s, newExec("t1", baseTime))
	r := seed(t, s, newExec("t1", baseTime))
	claim(t, s, r.ID, baseTime)
	seed(t, s, newExec("t2", baseTime))

	all, err := s.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[schema.StatusPending])
	assert.Equal(t, int64(1), all[schema.StatusRunning])

	t1, err := s.CountByStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), t1[schema.StatusPending])
	assert.Equal(t, int64(0), t1[schema.StatusCompleted])
}

func testDeleteCompletedOnly(t *testing.T, s Store) {
	ctx := context.Background()
	cutoff := baseTime

	finish := func(to schema.ExecutionStatus, at time.Time) *schema.Execution {
		e := seed(t, s, newExec("t1", at.Add(-time.Hour)))
		claim(t, s, e.ID, at.Add(-time.Minute))
		_, err := s.TransitionExecution(ctx, e.ID, Transition{From: schema.StatusRunning, To: to, At: at})
		require.NoError(t, err)
		return e
	}

	old := finish(schema.StatusCompleted, cutoff.Add(-time.Hour))
	recent := finish(schema.StatusCompleted, cutoff.Add(time.Hour))
	oldFailed := finish(schema.StatusFailed, cutoff.Add(-time.Hour))

	n, err := s.DeleteCompletedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetExecution(ctx, old.ID)
	assert.True(t, schema.IsNotFound(err))
	_, err = s.GetExecution(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = s.GetExecution(ctx, oldFailed.ID)
	assert.NoError(t, err)
}

func testListFilterAndPage(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seed(t, s, newExec("t1", baseTime.Add(time.Duration(i)*time.Second)))
	}
	seed(t, s, newExec("t2", baseTime))

	page, err := s.ListExecutions(ctx, ExecutionFilter{TenantID: "t1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	pending := schema.StatusPending
	all, err := s.ListExecutions(ctx, ExecutionFilter{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	tail, err := s.ListExecutions(ctx, ExecutionFilter{TenantID: "t1", Offset: 4})
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}
