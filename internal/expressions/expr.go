package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/reputul/drip/pkg/schema"
)

// ExprEngine evaluates boolean workflow conditions written in expr-lang over
// the same entity, workflow and trigger documents as the CEL engine. Unlike
// CEL, a missing key reads as nil, and ?. and ?? are available.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs a condition. Expressions that cannot produce a bool are
// rejected at compile time.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr condition")
	}
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "expr condition %q failed: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func (e *ExprEngine) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(conditionEnv()), expr.AsBool())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "expr condition %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()
	return prg, nil
}

// conditionEnv declares the variables a condition may reference.
func conditionEnv() map[string]any {
	env := make(map[string]any, len(celVariables))
	for _, name := range celVariables {
		env[name] = map[string]any{}
	}
	return env
}

var _ Engine = (*ExprEngine)(nil)
