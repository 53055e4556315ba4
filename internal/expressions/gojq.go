package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/reputul/drip/pkg/schema"
)

// EntityPaths resolves condition rule paths such as ".tags[0]" against an
// entity document. Compiled paths are cached; safe for concurrent use.
type EntityPaths struct {
	mu    sync.RWMutex
	paths map[string]*gojq.Code
}

func NewEntityPaths() *EntityPaths {
	return &EntityPaths{paths: make(map[string]*gojq.Code)}
}

// Lookup returns the value at path in doc. A path yielding nothing returns
// nil; one yielding several values returns them as []any. Integers in doc
// are read as float64 so rule values compare the way jq sees them.
func (p *EntityPaths) Lookup(ctx context.Context, path string, doc map[string]any) (any, error) {
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty rule path")
	}
	code, err := p.compiled(path)
	if err != nil {
		return nil, err
	}

	var values []any
	iter := code.RunWithContext(ctx, jsonNumbers(doc))
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "rule path %q: %s", path, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"path": path})
		}
		values = append(values, v)
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}

func (p *EntityPaths) compiled(path string) (*gojq.Code, error) {
	p.mu.RLock()
	code, ok := p.paths[path]
	p.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid rule path %q: %s", path, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"path": path})
	}
	// No environment: $ENV stays empty.
	code, err = gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid rule path %q: %s", path, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"path": path})
	}

	p.mu.Lock()
	p.paths[path] = code
	p.mu.Unlock()
	return code, nil
}

// jsonNumbers copies v with every Go integer widened to float64.
func jsonNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonNumbers(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
