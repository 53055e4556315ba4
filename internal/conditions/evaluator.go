// Package conditions decides whether a workflow's preconditions hold for a
// target entity. Evaluation is side-effect free and runs both when an
// execution is scheduled and again when it is executed.
package conditions

import (
	"context"
	"fmt"

	"github.com/reputul/drip/internal/expressions"
	"github.com/reputul/drip/pkg/schema"
)

// Evaluator reports whether wf's conditions hold for target. trigger is the
// data of the triggering event and may be nil.
type Evaluator interface {
	Evaluate(ctx context.Context, wf *schema.Workflow, target *schema.Entity, trigger map[string]any) (bool, error)
}

// Func adapts a plain function to Evaluator.
type Func func(ctx context.Context, wf *schema.Workflow, target *schema.Entity, trigger map[string]any) (bool, error)

func (f Func) Evaluate(ctx context.Context, wf *schema.Workflow, target *schema.Entity, trigger map[string]any) (bool, error) {
	return f(ctx, wf, target, trigger)
}

// Always is an Evaluator that accepts every target.
var Always Evaluator = Func(func(context.Context, *schema.Workflow, *schema.Entity, map[string]any) (bool, error) {
	return true, nil
})

// EngineEvaluator evaluates a ConditionSet: jq-path rules combined by the
// set's match mode, and an optional CEL or expr expression. Both parts must
// hold when both are present; a workflow without conditions always passes.
type EngineEvaluator struct {
	cel  *expressions.CELEngine
	expr *expressions.ExprEngine
	jq   *expressions.EntityPaths
}

// NewEngineEvaluator builds an evaluator with fresh expression engines.
func NewEngineEvaluator() (*EngineEvaluator, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &EngineEvaluator{
		cel:  celEngine,
		expr: expressions.NewExprEngine(),
		jq:   expressions.NewEntityPaths(),
	}, nil
}

func (e *EngineEvaluator) Evaluate(ctx context.Context, wf *schema.Workflow, target *schema.Entity, trigger map[string]any) (bool, error) {
	if wf == nil || target == nil {
		return false, schema.NewError(schema.ErrCodeValidation, "workflow and target are required")
	}
	c := wf.Conditions
	if c == nil {
		return true, nil
	}
	doc := target.Document()

	if len(c.Rules) > 0 {
		ok, err := e.evaluateRules(ctx, c, doc)
		if err != nil || !ok {
			return false, err
		}
	}
	if c.Expression != "" {
		return e.evaluateExpression(ctx, wf, c, doc, trigger)
	}
	return true, nil
}

func (e *EngineEvaluator) evaluateRules(ctx context.Context, c *schema.ConditionSet, doc map[string]any) (bool, error) {
	matchAny := c.Match == "any"
	for i, r := range c.Rules {
		actual, err := e.jq.Lookup(ctx, r.Path, doc)
		if err != nil {
			return false, err
		}
		ok, err := compare(r.Operator, actual, r.Value)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation, "rule %d (%s): %v", i, r.Path, err)
		}
		if matchAny && ok {
			return true, nil
		}
		if !matchAny && !ok {
			return false, nil
		}
	}
	return !matchAny, nil
}

func (e *EngineEvaluator) evaluateExpression(ctx context.Context, wf *schema.Workflow, c *schema.ConditionSet, doc, trigger map[string]any) (bool, error) {
	if trigger == nil {
		trigger = map[string]any{}
	}
	data := map[string]any{
		"entity":  doc,
		"trigger": trigger,
		"workflow": map[string]any{
			"id":           wf.ID,
			"tenant_id":    wf.TenantID,
			"name":         wf.Name,
			"trigger_type": string(wf.TriggerType),
		},
	}

	var engine expressions.Engine = e.cel
	switch c.Engine {
	case "", "cel":
	case "expr":
		engine = e.expr
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition engine %q", c.Engine)
	}

	out, err := engine.Evaluate(ctx, c.Expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q returned %s, want bool", c.Expression, fmt.Sprintf("%T", out))
	}
	return b, nil
}

var _ Evaluator = (*EngineEvaluator)(nil)
