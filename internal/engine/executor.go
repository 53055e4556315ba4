package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/internal/actions"
	"github.com/reputul/drip/internal/catalog"
	"github.com/reputul/drip/internal/conditions"
	"github.com/reputul/drip/internal/logging"
	"github.com/reputul/drip/internal/store"
	"github.com/reputul/drip/internal/streaming"
	"github.com/reputul/drip/internal/validation"
	"github.com/reputul/drip/pkg/schema"
)

// Completion messages recorded in ExecutionData.Message.
const (
	MessageConditionsNotMet = "conditions no longer met"
	ReasonDisabled          = "disabled"
	ReasonCircuitOpen       = "circuit open"
)

// Outcome is how one processing attempt of an execution ended.
type Outcome int

const (
	// OutcomeSkipped means the execution was not PENDING at pickup and nothing ran.
	OutcomeSkipped Outcome = iota
	OutcomeCompleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// ExecutorDeps are the collaborators of the Executor. Hub, Validator, Clock
// and Logger are optional.
type ExecutorDeps struct {
	Store      store.Store
	Hub        streaming.EventHub
	Catalog    catalog.Catalog
	Conditions conditions.Evaluator
	Actions    actions.ActionRegistry
	Validator  validation.Validator
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	CircuitBreaker *CircuitBreakerConfig // nil = defaults
}

// Executor is the action interpreter: it claims a PENDING execution, re-checks
// the workflow's conditions against the target's current state, runs the
// workflow's actions and records the aggregated outcome.
type Executor struct {
	fsm        *ExecutionFSM
	hub        streaming.EventHub
	catalog    catalog.Catalog
	conditions conditions.Evaluator
	actions    actions.ActionRegistry
	validator  validation.Validator
	breakers   *CircuitBreakerRegistry
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewExecutor creates an Executor. Store, Catalog, Conditions and Actions are
// required; Hub, Validator, Clock and Logger are optional.
func NewExecutor(deps ExecutorDeps, cfg ExecutorConfig) (*Executor, error) {
	switch {
	case deps.Store == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "executor: store is required")
	case deps.Catalog == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "executor: catalog is required")
	case deps.Conditions == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "executor: condition evaluator is required")
	case deps.Actions == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "executor: action registry is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cbConfig := DefaultCircuitBreakerConfig()
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	logger := deps.Logger.With("module", "executor")
	return &Executor{
		fsm:        NewExecutionFSM(deps.Store, deps.Hub, deps.Clock, logger),
		hub:        deps.Hub,
		catalog:    deps.Catalog,
		conditions: deps.Conditions,
		actions:    deps.Actions,
		validator:  deps.Validator,
		breakers:   NewCircuitBreakerRegistry(cbConfig, deps.Clock),
		clock:      deps.Clock,
		logger:     logger,
	}, nil
}

// FSM returns the state machine the executor transitions through.
func (e *Executor) FSM() *ExecutionFSM {
	return e.fsm
}

// Breakers returns the per-action-type circuit breakers.
func (e *Executor) Breakers() *CircuitBreakerRegistry {
	return e.breakers
}

// ExecuteWorkflow processes execution id and reports whether it ended
// COMPLETED. An execution that is not PENDING at pickup is left untouched and
// reported as false.
func (e *Executor) ExecuteWorkflow(ctx context.Context, id string) bool {
	return e.Process(ctx, id) == OutcomeCompleted
}

// Process is ExecuteWorkflow with the skipped case distinguished. It never
// panics and never returns an error: every failure after the claim is
// recorded on the execution as FAILED.
func (e *Executor) Process(ctx context.Context, id string) (outcome Outcome) {
	exec, err := e.fsm.Claim(ctx, id)
	if err != nil {
		if schema.IsConflict(err) || schema.IsNotFound(err) {
			e.logger.DebugContext(ctx, "execution already handled",
				slog.String("execution_id", id), slog.String("reason", err.Error()))
		} else {
			e.logger.ErrorContext(ctx, "claim execution failed",
				slog.String("execution_id", id), slog.String("error", err.Error()))
		}
		return OutcomeSkipped
	}

	ctx = logging.WithIDs(ctx, exec.ID, exec.TenantID, exec.WorkflowID)
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "execution panicked", slog.String("panic", fmt.Sprint(r)))
			e.fail(ctx, exec.ID, fmt.Sprintf("panic: %v", r), schema.ExecutionData{})
			outcome = OutcomeFailed
		}
	}()

	return e.run(ctx, exec)
}

func (e *Executor) run(ctx context.Context, exec *schema.Execution) Outcome {
	wf, err := e.catalog.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return e.fail(ctx, exec.ID, "load workflow: "+err.Error(), schema.ExecutionData{})
	}
	target, err := e.catalog.GetEntity(ctx, exec.TargetID)
	if err != nil {
		return e.fail(ctx, exec.ID, "load target: "+err.Error(), schema.ExecutionData{})
	}
	if target.TenantID != exec.TenantID {
		return e.fail(ctx, exec.ID,
			fmt.Sprintf("target %s belongs to tenant %s", target.ID, target.TenantID), schema.ExecutionData{})
	}

	ok, err := e.conditions.Evaluate(ctx, wf, target, exec.TriggerData)
	if err != nil {
		return e.fail(ctx, exec.ID, "evaluate conditions: "+err.Error(), schema.ExecutionData{})
	}
	if !ok {
		return e.complete(ctx, exec.ID, MessageConditionsNotMet, schema.ExecutionData{})
	}

	specs := wf.Actions
	if len(specs) == 0 {
		def, found := actions.DefaultActionFor(wf.TriggerType)
		if !found {
			return e.fail(ctx, exec.ID,
				fmt.Sprintf("no actions configured for trigger %s", wf.TriggerType), schema.ExecutionData{})
		}
		specs = []schema.ActionSpec{def}
	}

	data := schema.ExecutionData{ActionResults: make(map[string]schema.ActionResult, len(specs))}
	var failures []string
	for _, spec := range specs {
		res := e.runAction(ctx, exec, wf, target, spec)
		data.ActionResults[spec.Name] = res
		data.RetryCount += res.Retries
		if !res.Success {
			failures = append(failures, spec.Name+": "+res.Reason)
		}
	}

	if data.AnySucceeded() {
		return e.complete(ctx, exec.ID, completionMessage(data.ActionResults), data)
	}
	return e.fail(ctx, exec.ID, "all actions failed: "+strings.Join(failures, "; "), data)
}

// completionMessage counts disabled entries apart from the actions that ran.
func completionMessage(results map[string]schema.ActionResult) string {
	ran, succeeded, skipped := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Success:
			ran++
			succeeded++
		default:
			ran++
		}
	}
	msg := fmt.Sprintf("%d of %d actions succeeded", succeeded, ran)
	if skipped > 0 {
		msg += fmt.Sprintf(", %d disabled", skipped)
	}
	return msg
}

// runAction runs one entry of the action map and never fails the execution
// by itself; its verdict feeds the OR aggregation.
func (e *Executor) runAction(ctx context.Context, exec *schema.Execution, wf *schema.Workflow, target *schema.Entity, spec schema.ActionSpec) (res schema.ActionResult) {
	actionType := spec.ActionType()
	res = schema.ActionResult{Type: actionType}
	if !spec.IsEnabled() {
		res.Success = true
		res.Skipped = true
		res.Reason = ReasonDisabled
		return res
	}

	start := e.clock.Now()
	defer func() { res.DurationMs = e.clock.Since(start).Milliseconds() }()

	action, err := e.actions.Get(actionType)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if err := e.validateConfig(action, spec.Config); err != nil {
		res.Reason = "invalid config: " + err.Error()
		return res
	}
	if err := e.breakers.AllowRequest(actionType); err != nil {
		res.Reason = ReasonCircuitOpen
		return res
	}

	out, err := action.Execute(ctx, actions.ActionInput{
		Name:      spec.Name,
		Config:    spec.Config,
		Execution: exec,
		Workflow:  wf,
		Target:    target,
	})
	switch {
	case err != nil:
		res.Reason = err.Error()
	case out == nil:
		res.Reason = "action returned no outcome"
	case !out.Success:
		res.Reason = out.Reason
		if res.Reason == "" {
			res.Reason = "action reported failure"
		}
		res.Data = out.Data
	default:
		res.Success = true
		res.Data = out.Data
	}
	if out != nil {
		res.Retries = out.Retries
	}

	if res.Success {
		e.breakers.RecordSuccess(actionType)
	} else if e.breakers.RecordFailure(actionType) == CircuitOpen {
		e.publishCircuitOpened(ctx, exec, actionType)
	}

	level := slog.LevelInfo
	if !res.Success {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "action finished",
		slog.String("action", spec.Name),
		slog.String("type", actionType),
		slog.Bool("success", res.Success),
		slog.String("reason", res.Reason))
	return res
}

func (e *Executor) validateConfig(action actions.Action, config map[string]any) error {
	if e.validator != nil {
		if s := action.Schema().ConfigSchema; len(s) > 0 {
			if err := e.validator.ValidateConfig(config, s); err != nil {
				return err
			}
		}
	}
	return action.Validate(config)
}

func (e *Executor) complete(ctx context.Context, id, message string, data schema.ExecutionData) Outcome {
	if _, err := e.fsm.Complete(ctx, id, message, data); err != nil {
		e.logger.ErrorContext(ctx, "record completion failed", slog.String("error", err.Error()))
		return OutcomeFailed
	}
	e.logger.InfoContext(ctx, "execution completed", slog.String("message", message))
	return OutcomeCompleted
}

func (e *Executor) fail(ctx context.Context, id, reason string, data schema.ExecutionData) Outcome {
	if _, err := e.fsm.Fail(ctx, id, reason, data); err != nil {
		e.logger.ErrorContext(ctx, "record failure failed", slog.String("error", err.Error()))
		return OutcomeFailed
	}
	e.logger.WarnContext(ctx, "execution failed", slog.String("reason", reason))
	return OutcomeFailed
}

func (e *Executor) publishCircuitOpened(ctx context.Context, exec *schema.Execution, actionType string) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: exec.ID,
		TenantID:    exec.TenantID,
		WorkflowID:  exec.WorkflowID,
		EventType:   schema.EventCircuitOpened,
		At:          e.clock.Now(),
		Payload:     e.breakers.GetStats(actionType),
	})
}
