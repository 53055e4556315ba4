// Package scheduler is the scheduling side of drip: the API that creates and
// manages executions, and the periodic poller, watchdog and retention
// sweeper that drive them.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/conditions"
	"github.com/reputul/drip/internal/engine"
	"github.com/reputul/drip/internal/logging"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/pkg/schema"
)

// DefaultImmediateWindow is how close to now an executeAt may be for the
// execution to be dispatched straight away instead of by the poller.
const DefaultImmediateWindow = time.Minute

// Dispatcher queues an execution for background processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) error
}

// ServiceConfig tunes the scheduling API.
type ServiceConfig struct {
	ImmediateWindow time.Duration
	BusinessHours   BusinessHours
}

// ServiceDeps are the collaborators of the Service.
type ServiceDeps struct {
	Store      store.Store
	Catalog    catalog.Catalog
	Conditions conditions.Evaluator
	FSM        *engine.ExecutionFSM
	Dispatcher Dispatcher
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Service implements the scheduling API.
type Service struct {
	store      store.Store
	catalog    catalog.Catalog
	conditions conditions.Evaluator
	fsm        *engine.ExecutionFSM
	dispatcher Dispatcher
	clock      clockwork.Clock
	logger     *slog.Logger
	cfg        ServiceConfig
}

// NewService creates a Service. Store, Catalog and Conditions are required.
func NewService(deps ServiceDeps, cfg ServiceConfig) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler: store is required")
	case deps.Catalog == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler: catalog is required")
	case deps.Conditions == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler: condition evaluator is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ImmediateWindow <= 0 {
		cfg.ImmediateWindow = DefaultImmediateWindow
	}
	if cfg.BusinessHours.isZero() {
		cfg.BusinessHours = DefaultBusinessHours()
	}
	return &Service{
		store:      deps.Store,
		catalog:    deps.Catalog,
		conditions: deps.Conditions,
		fsm:        deps.FSM,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger.With("module", "scheduler"),
		cfg:        cfg,
	}, nil
}

// ScheduleExecution creates a PENDING execution of wf against targetID.
// It returns nil without creating anything when the workflow's conditions do
// not hold for the target. A nil executeAt means as soon as possible; an
// executeAt within the immediate window is dispatched right away.
func (s *Service) ScheduleExecution(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, executeAt *time.Time, triggerData map[string]any) (*schema.Execution, error) {
	return s.schedule(ctx, wf, targetID, triggerEvent, executeAt, triggerData, schema.ExecutionData{})
}

// ScheduleDelayed schedules wf to run delayDays and delayHours from now.
func (s *Service) ScheduleDelayed(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, delayDays, delayHours int, triggerData map[string]any) (*schema.Execution, error) {
	if delayDays < 0 || delayHours < 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "delay must not be negative")
	}
	at := s.clock.Now().Add(time.Duration(delayDays)*24*time.Hour + time.Duration(delayHours)*time.Hour)
	return s.schedule(ctx, wf, targetID, triggerEvent, &at, triggerData, schema.ExecutionData{})
}

// ScheduleFromConfig schedules wf using its own delay settings: the relative
// delay, then the fixed send hour, then the business-hours window.
func (s *Service) ScheduleFromConfig(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, triggerData map[string]any) (*schema.Execution, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	at := s.ExecuteAtFromConfig(wf.Delay)
	var data schema.ExecutionData
	if wf.Delay.BusinessHoursOnly {
		data.BusinessHoursOnly = true
	}
	return s.schedule(ctx, wf, targetID, triggerEvent, at, triggerData, data)
}

// ExecuteAtFromConfig computes when a workflow with delay d is due, or nil
// when d asks for no delay at all.
func (s *Service) ExecuteAtFromConfig(d schema.DelayConfig) *time.Time {
	if d.Duration() == 0 && d.SendAtHour == nil && !d.BusinessHoursOnly {
		return nil
	}
	loc := d.Location()
	at := s.clock.Now().Add(d.Duration()).In(loc)
	if d.SendAtHour != nil {
		at = nextHour(at, *d.SendAtHour)
	}
	if d.BusinessHoursOnly {
		at = s.cfg.BusinessHours.Next(at)
	}
	at = at.UTC()
	return &at
}

func (s *Service) schedule(ctx context.Context, wf *schema.Workflow, targetID, triggerEvent string, executeAt *time.Time, triggerData map[string]any, data schema.ExecutionData) (*schema.Execution, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	if targetID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "target id is required")
	}
	ctx = logging.WithIDs(ctx, "", wf.TenantID, wf.ID)

	target, err := s.catalog.GetEntity(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.TenantID != wf.TenantID {
		return nil, schema.NewErrorf(schema.ErrCodeTenantMismatch,
			"target %q belongs to tenant %q, workflow %q to tenant %q",
			targetID, target.TenantID, wf.ID, wf.TenantID)
	}

	ok, err := s.conditions.Evaluate(ctx, wf, target, triggerData)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.DebugContext(ctx, "conditions not met, nothing scheduled", slog.String("target_id", targetID))
		return nil, nil
	}

	now := s.clock.Now().UTC()
	exec := &schema.Execution{
		ID:           uuid.NewString(),
		WorkflowID:   wf.ID,
		TargetID:     targetID,
		TenantID:     wf.TenantID,
		Status:       schema.StatusPending,
		TriggerEvent: triggerEvent,
		TriggerData:  triggerData,
		Data:         data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if executeAt != nil {
		at := executeAt.UTC()
		exec.ScheduledFor = &at
		exec.Data.ScheduledFor = &at
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	ctx = logging.WithExecutionID(ctx, exec.ID)
	if s.fsm != nil {
		s.fsm.Scheduled(ctx, exec)
	}
	s.logger.InfoContext(ctx, "execution scheduled",
		slog.String("target_id", targetID),
		slog.Any("scheduled_for", exec.ScheduledFor))

	if s.isImmediate(now, executeAt) && s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, exec.ID); err != nil {
			// Still PENDING and due; the next poll picks it up.
			level := slog.LevelWarn
			if errors.Is(err, engine.ErrPoolSaturated) {
				level = slog.LevelDebug
			}
			s.logger.Log(ctx, level, "immediate dispatch deferred", slog.String("error", err.Error()))
		}
	}
	return exec, nil
}

func (s *Service) isImmediate(now time.Time, executeAt *time.Time) bool {
	if executeAt == nil {
		return true
	}
	d := executeAt.Sub(now)
	if d < 0 {
		d = -d
	}
	return d <= s.cfg.ImmediateWindow
}

// CancelExecution cancels a PENDING execution. It reports false, without an
// error, when the execution has already started or finished.
func (s *Service) CancelExecution(ctx context.Context, id, reason string) (bool, error) {
	if reason == "" {
		reason = "cancelled"
	}
	_, err := s.fsm.Cancel(ctx, id, reason)
	switch {
	case err == nil:
		s.logger.InfoContext(logging.WithExecutionID(ctx, id), "execution cancelled", slog.String("reason", reason))
		return true, nil
	case schema.IsConflict(err), schema.IsCode(err, schema.ErrCodeInvalidTransition):
		return false, nil
	default:
		return false, err
	}
}

// GetExecutionStats counts executions by status, for one tenant or all when
// tenantID is empty.
func (s *Service) GetExecutionStats(ctx context.Context, tenantID string) (*schema.ExecutionStats, error) {
	counts, err := s.store.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return schema.NewExecutionStats(tenantID, counts), nil
}

// MarkCompleted completes an execution outside the interpreter, claiming it
// first when it is still PENDING.
func (s *Service) MarkCompleted(ctx context.Context, id, message string) (*schema.Execution, error) {
	if err := s.claimIfPending(ctx, id); err != nil {
		return nil, err
	}
	return s.fsm.Complete(ctx, id, message, schema.ExecutionData{})
}

// MarkFailed fails an execution outside the interpreter, claiming it first
// when it is still PENDING.
func (s *Service) MarkFailed(ctx context.Context, id, reason string) (*schema.Execution, error) {
	if err := s.claimIfPending(ctx, id); err != nil {
		return nil, err
	}
	return s.fsm.Fail(ctx, id, reason, schema.ExecutionData{})
}

func (s *Service) claimIfPending(ctx context.Context, id string) error {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status != schema.StatusPending {
		return nil
	}
	_, err = s.fsm.Claim(ctx, id)
	return err
}

// GetExecution returns one execution.
func (s *Service) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

// ListExecutions lists executions matching filter, newest first.
func (s *Service) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.Execution, error) {
	return s.store.ListExecutions(ctx, filter)
}
