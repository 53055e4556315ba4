package store

import (
	"context"
	"time"

	"github.com/reputul/drip/pkg/schema"
)

// Store defines the persistence layer contract for executions.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// TransitionExecution atomically moves an execution from t.From to t.To.
	// It fails with CONFLICT when the stored status is no longer t.From,
	// which is how concurrent claimers lose the race.
	TransitionExecution(ctx context.Context, id string, t Transition) (*schema.Execution, error)

	// Scanning
	ListDueExecutions(ctx context.Context, filter DueFilter) ([]*schema.Execution, error)
	ListStuckExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]*schema.Execution, error)
	ListPendingTenants(ctx context.Context) ([]string, error)

	// Stats
	CountByStatus(ctx context.Context, tenantID string) (map[schema.ExecutionStatus]int64, error)

	// Maintenance
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
