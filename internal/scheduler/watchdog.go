package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/internal/engine"
	"github.com/reputul/drip/internal/logging"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/pkg/schema"
)

// DefaultStuckTimeout is how long an execution may stay RUNNING.
const DefaultStuckTimeout = 15 * time.Minute

// Watchdog force-fails executions left RUNNING longer than the timeout, which
// is how work orphaned by a crashed or hung worker is reclaimed.
type Watchdog struct {
	store   store.Store
	fsm     *engine.ExecutionFSM
	clock   clockwork.Clock
	logger  *slog.Logger
	timeout time.Duration
	batch   int
}

// NewWatchdog creates a Watchdog. A non-positive timeout means DefaultStuckTimeout.
func NewWatchdog(s store.Store, fsm *engine.ExecutionFSM, clock clockwork.Clock, logger *slog.Logger, timeout time.Duration) *Watchdog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	return &Watchdog{
		store:   s,
		fsm:     fsm,
		clock:   clock,
		logger:  logger.With("module", "watchdog"),
		timeout: timeout,
		batch:   DefaultPollBatch,
	}
}

// TimeoutMessage is the error message recorded on a timed-out execution.
func (w *Watchdog) TimeoutMessage() string {
	return fmt.Sprintf("timeout: execution running longer than %s", w.timeout)
}

// Tick fails every execution whose startedAt is strictly before now minus the
// timeout and returns how many it failed.
func (w *Watchdog) Tick(ctx context.Context) (int, error) {
	cutoff := w.clock.Now().UTC().Add(-w.timeout)
	stuck, err := w.store.ListStuckExecutions(ctx, cutoff, w.batch)
	if err != nil {
		return 0, fmt.Errorf("list stuck executions: %w", err)
	}

	n := 0
	for _, exec := range stuck {
		ctx := logging.WithIDs(ctx, exec.ID, exec.TenantID, exec.WorkflowID)
		if _, err := w.fsm.TimeOut(ctx, exec.ID, w.TimeoutMessage()); err != nil {
			if !schema.IsConflict(err) {
				w.logger.ErrorContext(ctx, "time out execution failed", slog.String("error", err.Error()))
			}
			continue
		}
		w.logger.WarnContext(ctx, "execution timed out", slog.Any("started_at", exec.StartedAt))
		n++
	}
	return n, nil
}
