package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/reputul/drip/internal/lease"
)

// DefaultLeaseTTL bounds how long a crashed instance keeps a task's lease.
const DefaultLeaseTTL = 2 * time.Minute

// Task is one periodic job. Exactly one of Interval or Schedule is set:
// interval tasks run once at start and then every Interval, scheduled tasks
// run at each time the cron schedule yields.
type Task struct {
	Name     string
	Interval time.Duration
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
}

// IntervalTask builds a Task that runs every interval.
func IntervalTask(name string, interval time.Duration, run func(ctx context.Context) error) Task {
	return Task{Name: name, Interval: interval, Run: run}
}

// CronTask builds a Task from a standard five-field cron spec.
func CronTask(name, spec string, run func(ctx context.Context) error) (Task, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Task{}, fmt.Errorf("parse schedule %q for %s: %w", spec, name, err)
	}
	return Task{Name: name, Schedule: sched, Run: run}, nil
}

// Runner drives periodic tasks from an injectable clock. When a lease is set,
// a task only runs on the instance holding the task's lease.
type Runner struct {
	clock    clockwork.Clock
	lease    lease.Lease
	leaseTTL time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	tasks  []Task
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. A nil lease means every tick runs locally.
func NewRunner(clock clockwork.Clock, l lease.Lease, leaseTTL time.Duration, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if l == nil {
		l = lease.Noop{}
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{clock: clock, lease: l, leaseTTL: leaseTTL, logger: logger.With("module", "runner")}
}

// Add registers a task. Tasks added after Start are not run.
func (r *Runner) Add(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %s: run function is required", t.Name)
	}
	if (t.Interval > 0) == (t.Schedule != nil) {
		return fmt.Errorf("task %s: set exactly one of interval or schedule", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

// Start launches one loop per task.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("runner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, t := range r.tasks {
		r.wg.Add(1)
		if t.Schedule != nil {
			go r.cronLoop(runCtx, t)
		} else {
			go r.intervalLoop(runCtx, t)
		}
	}
	r.logger.Info("runner started", slog.Int("tasks", len(r.tasks)))
	return nil
}

// Stop cancels every loop and waits for in-progress ticks to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Info("runner stopped")
}

func (r *Runner) intervalLoop(ctx context.Context, t Task) {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(t.Interval)
	defer ticker.Stop()

	r.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.runOnce(ctx, t)
		}
	}
}

func (r *Runner) cronLoop(ctx context.Context, t Task) {
	defer r.wg.Done()
	for {
		now := r.clock.Now()
		timer := r.clock.NewTimer(t.Schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
			r.runOnce(ctx, t)
		}
	}
}

// runOnce runs one tick of t. Errors and panics are logged, never propagated,
// so the loop keeps going.
func (r *Runner) runOnce(ctx context.Context, t Task) {
	logger := r.logger.With(slog.String("task", t.Name))
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "task panicked", slog.String("panic", fmt.Sprint(rec)))
		}
	}()

	held, err := r.lease.Acquire(ctx, t.Name, r.leaseTTL)
	if err != nil {
		logger.WarnContext(ctx, "lease unavailable", slog.String("error", err.Error()))
		return
	}
	if !held {
		logger.DebugContext(ctx, "lease held elsewhere, skipping tick")
		return
	}
	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "task failed", slog.String("error", err.Error()))
	}
}
