package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/internal/engine"
	"github.com/reputul/drip/internal/logging"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/pkg/schema"
)

// DefaultPollBatch caps how many due executions one query returns.
const DefaultPollBatch = 500

// PollerConfig tunes the Poller.
type PollerConfig struct {
	// PerTenant queries due executions one tenant at a time.
	PerTenant bool
	BatchSize int
}

// Poller finds due PENDING executions and dispatches them, oldest first.
type Poller struct {
	store      store.Store
	dispatcher Dispatcher
	fsm        *engine.ExecutionFSM
	clock      clockwork.Clock
	logger     *slog.Logger
	cfg        PollerConfig
}

// NewPoller creates a Poller. fsm is used to fail an execution whose
// dispatch panics; it may be nil.
func NewPoller(s store.Store, d Dispatcher, fsm *engine.ExecutionFSM, clock clockwork.Clock, logger *slog.Logger, cfg PollerConfig) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPollBatch
	}
	return &Poller{
		store:      s,
		dispatcher: d,
		fsm:        fsm,
		clock:      clock,
		logger:     logger.With("module", "poller"),
		cfg:        cfg,
	}
}

// Tick dispatches every execution due now and returns how many were handed
// off. A failing tenant or execution is logged and skipped; it never stops
// the rest of the tick.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	now := p.clock.Now().UTC()

	if !p.cfg.PerTenant {
		due, err := p.store.ListDueExecutions(ctx, store.DueFilter{Now: now, Limit: p.cfg.BatchSize})
		if err != nil {
			return 0, fmt.Errorf("list due executions: %w", err)
		}
		return p.dispatchAll(ctx, due), nil
	}

	tenants, err := p.store.ListPendingTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending tenants: %w", err)
	}
	total := 0
	for _, tenant := range tenants {
		due, err := p.store.ListDueExecutions(ctx, store.DueFilter{TenantID: tenant, Now: now, Limit: p.cfg.BatchSize})
		if err != nil {
			p.logger.ErrorContext(logging.WithTenantID(ctx, tenant), "list due executions failed",
				slog.String("error", err.Error()))
			continue
		}
		total += p.dispatchAll(ctx, due)
	}
	return total, nil
}

func (p *Poller) dispatchAll(ctx context.Context, due []*schema.Execution) int {
	n := 0
	for i, exec := range due {
		ok, err := p.dispatchOne(logging.WithIDs(ctx, exec.ID, exec.TenantID, exec.WorkflowID), exec.ID)
		if errors.Is(err, engine.ErrPoolSaturated) {
			p.logger.DebugContext(ctx, "workers busy, leaving executions for the next tick",
				slog.Int("remaining", len(due)-i))
			break
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		p.logger.DebugContext(ctx, "dispatched due executions", slog.Int("count", n))
	}
	return n
}

func (p *Poller) dispatchOne(ctx context.Context, id string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, nil
			reason := fmt.Sprintf("dispatch panic: %v", r)
			p.logger.ErrorContext(ctx, "dispatch panicked", slog.String("panic", fmt.Sprint(r)))
			p.failExecution(ctx, id, reason)
		}
	}()
	if err := p.dispatcher.Dispatch(ctx, id); err != nil {
		if !errors.Is(err, engine.ErrPoolSaturated) {
			p.logger.WarnContext(ctx, "dispatch failed", slog.String("error", err.Error()))
		}
		return false, err
	}
	return true, nil
}

// failExecution records a dispatch crash on the execution. It must be claimed
// first because FAILED is only reachable from RUNNING.
func (p *Poller) failExecution(ctx context.Context, id, reason string) {
	if p.fsm == nil {
		return
	}
	if _, err := p.fsm.Claim(ctx, id); err != nil {
		return
	}
	if _, err := p.fsm.Fail(ctx, id, reason, schema.ExecutionData{}); err != nil {
		p.logger.ErrorContext(ctx, "record dispatch failure failed", slog.String("error", err.Error()))
	}
}
