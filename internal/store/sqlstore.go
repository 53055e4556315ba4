package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reputul/drip/pkg/schema"
)

// dialect captures the few places libSQL and PostgreSQL disagree.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// appended to the SELECT inside a transition transaction
	lockClause string
	// timestamps bound as fixed-width UTC text so text comparison is chronological
	textTime bool
}

var (
	dialectLibSQL   = dialect{name: "libsql", textTime: true}
	dialectPostgres = dialect{name: "postgres", numbered: true, lockClause: " FOR UPDATE"}
)

// textTimeLayout always writes nine fractional digits, so lexical order of
// stored values matches chronological order.
const textTimeLayout = "2006-01-02T15:04:05.000000000Z"

// timeArg binds t in the dialect's storage format.
func (d dialect) timeArg(t time.Time) any {
	t = t.UTC()
	if d.textTime {
		return t.Format(textTimeLayout)
	}
	return t
}

func (d dialect) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqlStore implements Store over database/sql. LibSQLStore and PostgresStore
// embed it and differ only in how they open the connection and migrate.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

const executionColumns = `id, workflow_id, target_id, tenant_id, status, trigger_event, trigger_data, execution_data,
	scheduled_for, created_at, started_at, completed_at, error_message, updated_at`

// DB returns the underlying *sql.DB for advanced usage.
func (s *sqlStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *sqlStore) Close() error { return s.db.Close() }

// --- Executions ---

func (s *sqlStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	if exec == nil || exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	triggerData, err := marshalMapOrDefault(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger_data: %w", err)
	}
	execData, err := json.Marshal(exec.Data)
	if err != nil {
		return fmt.Errorf("marshal execution_data: %w", err)
	}
	status := exec.Status
	if status == "" {
		status = schema.StatusPending
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.WorkflowID, exec.TargetID, exec.TenantID, string(status), exec.TriggerEvent,
		string(triggerData), string(execData),
		s.dialect.nullTimeArg(exec.ScheduledFor), s.dialect.timeArg(timeOrNow(exec.CreatedAt)),
		s.dialect.nullTimeArg(exec.StartedAt), s.dialect.nullTimeArg(exec.CompletedAt),
		nullStr(exec.ErrorMessage), s.dialect.timeArg(timeOrNow(exec.UpdatedAt)),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "insert execution").WithExecution(exec.ID).WithCause(err)
	}
	return nil
}

func (s *sqlStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`), id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return e, err
}

func (s *sqlStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var where []string
	var args []any

	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	query += s.dialect.limitOffset(filter.Limit, filter.Offset)

	return s.queryExecutions(ctx, query, args...)
}

func (s *sqlStore) TransitionExecution(ctx context.Context, id string, t Transition) (*schema.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "begin transition").WithExecution(id).WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`+s.dialect.lockClause), id)
	cur, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}

	next, err := applyTransition(cur, t)
	if err != nil {
		return nil, err
	}
	execData, err := json.Marshal(next.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal execution_data: %w", err)
	}

	// Guarded on the previous status so a concurrent writer that slipped in
	// between the read and the write makes this a no-op.
	res, err := tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE executions SET status = ?, execution_data = ?, started_at = ?, completed_at = ?,
		 error_message = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(next.Status), string(execData), s.dialect.nullTimeArg(next.StartedAt), s.dialect.nullTimeArg(next.CompletedAt),
		nullStr(next.ErrorMessage), s.dialect.timeArg(next.UpdatedAt), id, string(t.From),
	)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "update execution").WithExecution(id).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "execution is no longer %s", t.From).WithExecution(id)
	}
	if err := tx.Commit(); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "commit transition").WithExecution(id).WithCause(err)
	}
	return next, nil
}

func (s *sqlStore) ListDueExecutions(ctx context.Context, filter DueFilter) ([]*schema.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)`
	args := []any{string(schema.StatusPending), s.dialect.timeArg(timeOrNow(filter.Now))}
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	query += " ORDER BY created_at ASC, id ASC"
	query += s.dialect.limitOffset(filter.Limit, 0)

	return s.queryExecutions(ctx, query, args...)
}

func (s *sqlStore) ListStuckExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]*schema.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		ORDER BY created_at ASC, id ASC` + s.dialect.limitOffset(limit, 0)
	return s.queryExecutions(ctx, query, string(schema.StatusRunning), s.dialect.timeArg(startedBefore))
}

func (s *sqlStore) ListPendingTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT DISTINCT tenant_id FROM executions WHERE status = ? ORDER BY tenant_id`),
		string(schema.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *sqlStore) CountByStatus(ctx context.Context, tenantID string) (map[schema.ExecutionStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM executions`
	var args []any
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[schema.ExecutionStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[schema.ExecutionStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *sqlStore) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM executions WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?`),
		string(schema.StatusCompleted), s.dialect.timeArg(before))
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeStore, "delete completed executions").WithCause(err)
	}
	return res.RowsAffected()
}

func (s *sqlStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*schema.Execution, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*schema.Execution, error) {
	e := &schema.Execution{}
	var (
		status                               string
		triggerJSON, dataJSON                []byte
		scheduledFor, startedAt, completedAt dbTime
		createdAt, updatedAt                 dbTime
		errorMessage                         sql.NullString
	)
	err := row.Scan(&e.ID, &e.WorkflowID, &e.TargetID, &e.TenantID, &status, &e.TriggerEvent,
		&triggerJSON, &dataJSON, &scheduledFor, &createdAt, &startedAt, &completedAt,
		&errorMessage, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = schema.ExecutionStatus(status)
	e.ErrorMessage = errorMessage.String
	e.CreatedAt = createdAt.Time
	e.UpdatedAt = updatedAt.Time
	e.ScheduledFor = timePtr(scheduledFor)
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)

	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &e.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_data: %w", err)
		}
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal execution_data: %w", err)
		}
	}
	return e, nil
}

func (d dialect) limitOffset(limit, offset int) string {
	var s string
	switch {
	case limit > 0:
		s += fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0 && !d.numbered:
		// SQLite only accepts OFFSET after a LIMIT clause.
		s += " LIMIT -1"
	}
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}

// dbTime scans a timestamp that the driver hands back either as time.Time or
// as the text written by timeArg.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var dbTimeLayouts = []string{textTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: x.UTC(), Valid: true}
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = dbTime{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

func timePtr(t dbTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
