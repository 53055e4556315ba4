package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reputul/drip/pkg/schema"
)

// MemoryStore is an in-process Store. Data is lost on restart; it backs the
// "memory" driver and the engine's tests.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*schema.Execution
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*schema.Execution)}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) CreateExecution(_ context.Context, exec *schema.Execution) error {
	if exec == nil || exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", exec.ID)
	}
	cp := exec.Clone()
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	if cp.Status == "" {
		cp.Status = schema.StatusPending
	}
	s.executions[exec.ID] = cp
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, notFound(id)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	s.mu.RLock()
	var out []*schema.Execution
	for _, e := range s.executions {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) TransitionExecution(_ context.Context, id string, t Transition) (*schema.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.executions[id]
	if !ok {
		return nil, notFound(id)
	}
	next, err := applyTransition(cur, t)
	if err != nil {
		return nil, err
	}
	s.executions[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListDueExecutions(_ context.Context, filter DueFilter) ([]*schema.Execution, error) {
	now := timeOrNow(filter.Now)
	s.mu.RLock()
	var out []*schema.Execution
	for _, e := range s.executions {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if e.IsDue(now) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sortByCreated(out)
	return paginate(out, 0, filter.Limit), nil
}

func (s *MemoryStore) ListStuckExecutions(_ context.Context, startedBefore time.Time, limit int) ([]*schema.Execution, error) {
	s.mu.RLock()
	var out []*schema.Execution
	for _, e := range s.executions {
		if e.Status != schema.StatusRunning || e.StartedAt == nil {
			continue
		}
		if e.StartedAt.Before(startedBefore) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sortByCreated(out)
	return paginate(out, 0, limit), nil
}

func (s *MemoryStore) ListPendingTenants(context.Context) ([]string, error) {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range s.executions {
		if e.Status == schema.StatusPending {
			seen[e.TenantID] = struct{}{}
		}
	}
	s.mu.RUnlock()

	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, tenantID string) (map[schema.ExecutionStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[schema.ExecutionStatus]int64)
	for _, e := range s.executions {
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		counts[e.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) DeleteCompletedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.executions {
		if e.Status != schema.StatusCompleted || e.CompletedAt == nil {
			continue
		}
		if e.CompletedAt.Before(before) {
			delete(s.executions, id)
			n++
		}
	}
	return n, nil
}

// Put stores exec as-is, bypassing transition checks. Used to seed fixtures
// such as executions left RUNNING by a crashed worker.
func (s *MemoryStore) Put(exec *schema.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = exec.Clone()
}

func sortByCreated(list []*schema.Execution) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func paginate(list []*schema.Execution, offset, limit int) []*schema.Execution {
	if offset > 0 {
		if offset >= len(list) {
			return nil
		}
		list = list[offset:]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

var _ Store = (*MemoryStore)(nil)
