package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/pkg/schema"
)

func entityData() map[string]any {
	return map[string]any{
		"entity": map[string]any{
			"id":        "c1",
			"email":     "ana@example.com",
			"opted_out": false,
			"visits":    int64(3),
			"tags":      []any{"vip", "north"},
		},
		"workflow": map[string]any{"id": "wf1", "trigger_type": "service_completed"},
		"trigger":  map[string]any{"rating": 5},
	}
}

func TestCELEngine_Evaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())

	out, err := e.Evaluate(context.Background(), `!entity.opted_out && entity.visits >= 3`, entityData())
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `"vip" in entity.tags && workflow.trigger_type == "service_completed"`, entityData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_MissingVariablesDefaultToEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `has(entity.email)`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELEngine_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `entity.visits >`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `entity.missing == 1`, entityData())
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	_, err = e.Evaluate(context.Background(), `steps.x == 1`, nil)
	assert.Error(t, err, "only entity, workflow and trigger are declared")
}

func TestCELEngine_CachesPrograms(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Evaluate(context.Background(), `entity.id == "c1"`, entityData())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestExprEngine_Evaluate(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	out, err := e.Evaluate(context.Background(), `entity.email endsWith "@example.com" and trigger.rating >= 4`, entityData())
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `(entity?.nickname ?? "none") == "none"`, entityData())
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `trigger.rating == nil`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out, "missing documents read as empty")
}

func TestExprEngine_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", entityData())
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `entity.email ==`, entityData())
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `entity.email`, entityData())
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "non-bool conditions are rejected")

	_, err = e.Evaluate(context.Background(), `steps.x == 1`, entityData())
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "only entity, workflow and trigger are declared")
}

func TestEntityPaths_Lookup(t *testing.T) {
	p := NewEntityPaths()
	doc := entityData()["entity"].(map[string]any)

	out, err := p.Lookup(context.Background(), `.visits`, doc)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out)

	out, err = p.Lookup(context.Background(), `.tags[]`, doc)
	require.NoError(t, err)
	assert.Equal(t, []any{"vip", "north"}, out)

	out, err = p.Lookup(context.Background(), `.nope`, doc)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = p.Lookup(context.Background(), "", doc)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = p.Lookup(context.Background(), `.[`, doc)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = p.Lookup(context.Background(), `error("boom")`, doc)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	out, err = p.Lookup(context.Background(), `$ENV.HOME`, doc)
	require.NoError(t, err)
	assert.Nil(t, out, "no process environment")
	assert.Len(t, p.paths, 5, "compiled paths are cached")
}

func TestEntityPaths_DoesNotMutateDocument(t *testing.T) {
	doc := map[string]any{"visits": 3, "nested": map[string]any{"n": int64(1)}}
	out, err := NewEntityPaths().Lookup(context.Background(), `.nested.n`, doc)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out)
	assert.Equal(t, 3, doc["visits"])
	assert.Equal(t, int64(1), doc["nested"].(map[string]any)["n"])
}
