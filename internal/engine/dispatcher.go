package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var errExecutionFailed = errors.New("execution failed")

// Dispatcher hands executions to the worker pool without waiting for them.
// An ID already queued or running on this instance is not queued twice.
type Dispatcher struct {
	pool     *WorkerPool
	executor *Executor
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher creates a Dispatcher running executions on pool.
func NewDispatcher(pool *WorkerPool, executor *Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pool:     pool,
		executor: executor,
		logger:   logger.With("module", "dispatcher"),
		inflight: make(map[string]struct{}),
	}
}

// Dispatch hands execution id to a free worker and returns at once; the
// outcome is observed later through the store. When every worker is busy it
// returns ErrPoolSaturated and the execution stays PENDING for the next poll.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) error {
	if !d.tryAcquire(id) {
		return nil
	}
	err := d.pool.TrySubmit(ctx, func(jobCtx context.Context) error {
		defer d.release(id)
		if d.executor.Process(jobCtx, id) == OutcomeFailed {
			return errExecutionFailed
		}
		return nil
	})
	if err != nil {
		d.release(id)
		level := slog.LevelWarn
		if errors.Is(err, ErrPoolSaturated) {
			level = slog.LevelDebug
		}
		d.logger.Log(ctx, level, "dispatch rejected",
			slog.String("execution_id", id), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// InFlight returns how many executions are queued or running.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

func (d *Dispatcher) tryAcquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}
