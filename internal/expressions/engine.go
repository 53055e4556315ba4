package expressions

import "context"

// Engine evaluates one condition expression against the entity, workflow
// and trigger documents. CEL is the default; Expr is the alternative.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
