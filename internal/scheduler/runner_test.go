package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/internal/lease"
)

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task run")
	}
	var zero T
	return zero
}

func assertIdle[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected task run: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunner_IntervalTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(testNow)
	runs := make(chan time.Time, 8)

	r := NewRunner(clock, nil, 0, nil)
	require.NoError(t, r.Add(IntervalTask("poll", time.Minute, func(context.Context) error {
		runs <- clock.Now()
		return nil
	})))
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, testNow, waitFor(t, runs), "runs once at start")

	for i := 1; i <= 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Minute)
		assert.Equal(t, testNow.Add(time.Duration(i)*time.Minute), waitFor(t, runs))
	}
}

func TestRunner_CronTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(testNow)
	runs := make(chan time.Time, 8)

	task, err := CronTask("sweep", DefaultRetentionSchedule, func(context.Context) error {
		runs <- clock.Now()
		return nil
	})
	require.NoError(t, err)

	r := NewRunner(clock, nil, 0, nil)
	require.NoError(t, r.Add(task))
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(12 * time.Hour)
	assertIdle(t, runs)

	clock.Advance(time.Hour)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), waitFor(t, runs))
}

func TestRunner_KeepsGoingAfterErrorsAndPanics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(testNow)
	var calls atomic.Int32
	runs := make(chan int32, 8)

	r := NewRunner(clock, nil, 0, nil)
	require.NoError(t, r.Add(IntervalTask("flaky", time.Second, func(context.Context) error {
		n := calls.Add(1)
		runs <- n
		switch n {
		case 1:
			panic("first tick explodes")
		case 2:
			return errors.New("second tick fails")
		}
		return nil
	})))
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, int32(1), waitFor(t, runs))
	for want := int32(2); want <= 3; want++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
		assert.Equal(t, want, waitFor(t, runs))
	}
}

type denyLease struct{ attempts chan string }

func (l denyLease) Acquire(_ context.Context, name string, _ time.Duration) (bool, error) {
	l.attempts <- name
	return false, nil
}

func (denyLease) Release(context.Context, string) error { return nil }

func TestRunner_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l := denyLease{attempts: make(chan string, 8)}
	runs := make(chan struct{}, 8)

	r := NewRunner(clockwork.NewFakeClockAt(testNow), l, time.Minute, nil)
	require.NoError(t, r.Add(IntervalTask("poll", time.Minute, func(context.Context) error {
		runs <- struct{}{}
		return nil
	})))
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, "poll", waitFor(t, l.attempts))
	assertIdle(t, runs)
}

// countingLease records attempts on top of a real lease.
type countingLease struct {
	lease.Lease
	attempts chan struct{}
}

func (l countingLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	defer func() { l.attempts <- struct{}{} }()
	return l.Lease.Acquire(ctx, name, ttl)
}

func TestRunner_SharedRedisLeaseRunsOnOneInstance(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	attempts := make(chan struct{}, 8)
	runs := make(chan string, 8)

	for _, owner := range []string{"instance-a", "instance-b"} {
		owner := owner
		l := countingLease{Lease: lease.NewRedisLease(client, owner), attempts: attempts}
		r := NewRunner(clock, l, time.Minute, nil)
		require.NoError(t, r.Add(IntervalTask("watchdog", time.Minute, func(context.Context) error {
			runs <- owner
			return nil
		})))
		require.NoError(t, r.Start(ctx))
		t.Cleanup(r.Stop)
	}

	waitFor(t, attempts)
	waitFor(t, attempts)
	waitFor(t, runs)
	assertIdle(t, runs)
}

func TestRunner_AddValidation(t *testing.T) {
	r := NewRunner(nil, nil, 0, nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, r.Add(Task{Name: "no-run", Interval: time.Second}))
	assert.Error(t, r.Add(Task{Name: "neither", Run: noop}))

	task, err := CronTask("both", "@hourly", noop)
	require.NoError(t, err)
	task.Interval = time.Second
	assert.Error(t, r.Add(task))

	_, err = CronTask("bad", "not a schedule", noop)
	assert.Error(t, err)
}

func TestRunner_StartTwice(t *testing.T) {
	r := NewRunner(clockwork.NewFakeClockAt(testNow), nil, 0, nil)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	assert.Error(t, r.Start(context.Background()))
}
