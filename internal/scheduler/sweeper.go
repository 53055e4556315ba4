package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/pkg/schema"
)

// Retention defaults.
const (
	DefaultRetentionDays     = 30
	DefaultRetentionSchedule = "0 3 * * *"
)

// Vacuumer is implemented by stores that can reclaim space after deletes.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Sweeper deletes COMPLETED executions older than the retention window.
// FAILED and CANCELLED executions are kept for debugging.
type Sweeper struct {
	store     store.Store
	hub       streaming.EventHub
	clock     clockwork.Clock
	logger    *slog.Logger
	retention time.Duration
}

// NewSweeper creates a Sweeper. A non-positive retentionDays means
// DefaultRetentionDays; hub may be nil.
func NewSweeper(s store.Store, hub streaming.EventHub, clock clockwork.Clock, logger *slog.Logger, retentionDays int) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Sweeper{
		store:     s,
		hub:       hub,
		clock:     clock,
		logger:    logger.With("module", "sweeper"),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Tick deletes expired COMPLETED executions and returns how many went.
func (s *Sweeper) Tick(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-s.retention)
	n, err := s.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete completed executions: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	s.logger.InfoContext(ctx, "swept completed executions",
		slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	s.publish(ctx, n, cutoff)

	if v, ok := s.store.(Vacuumer); ok {
		if err := v.Vacuum(ctx); err != nil {
			s.logger.WarnContext(ctx, "vacuum failed", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// publish announces one sweep; the event carries counts, not execution IDs.
func (s *Sweeper) publish(ctx context.Context, deleted int64, cutoff time.Time) {
	if s.hub == nil {
		return
	}
	event := streaming.StreamEvent{
		EventType: schema.EventExecutionSwept,
		Status:    string(schema.StatusCompleted),
		At:        s.clock.Now().UTC(),
		Payload:   map[string]any{"deleted": deleted, "cutoff": cutoff},
	}
	if err := s.hub.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish sweep event failed", slog.String("error", err.Error()))
	}
}
