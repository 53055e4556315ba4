// Package catalog resolves the read-only workflow definitions and the target
// entities executions run against.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/reputul/drip/pkg/schema"
)

// Catalog looks up workflows and entities by ID.
type Catalog interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	GetEntity(ctx context.Context, id string) (*schema.Entity, error)
}

// MemoryCatalog is a Catalog held in memory. It also implements
// actions.EntityUpdater so update_entity actions write back into it.
type MemoryCatalog struct {
	mu        sync.RWMutex
	workflows map[string]*schema.Workflow
	entities  map[string]*schema.Entity
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		workflows: make(map[string]*schema.Workflow),
		entities:  make(map[string]*schema.Entity),
	}
}

// PutWorkflow adds or replaces a workflow.
func (c *MemoryCatalog) PutWorkflow(wf *schema.Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *wf
	c.workflows[wf.ID] = &cp
}

// PutEntity adds or replaces an entity.
func (c *MemoryCatalog) PutEntity(e *schema.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.ID] = copyEntity(e)
}

func (c *MemoryCatalog) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wf, ok := c.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (c *MemoryCatalog) GetEntity(_ context.Context, id string) (*schema.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "entity %q not found", id)
	}
	return copyEntity(e), nil
}

// UpdateEntity merges attrs into the entity's attributes.
func (c *MemoryCatalog) UpdateEntity(_ context.Context, tenantID, entityID string, attrs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[entityID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "entity %q not found", entityID)
	}
	if e.TenantID != tenantID {
		return schema.NewErrorf(schema.ErrCodeTenantMismatch,
			"entity %q belongs to tenant %q, not %q", entityID, e.TenantID, tenantID)
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	return nil
}

// Workflows returns every workflow sorted by ID.
func (c *MemoryCatalog) Workflows() []*schema.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*schema.Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyEntity(e *schema.Entity) *schema.Entity {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

var _ Catalog = (*MemoryCatalog)(nil)
