package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reputul/drip/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func TestLibSQLStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestLibSQLStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, len(libsqlMigrations), version)
}

func TestLibSQLStore_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	e := newExec("t1", baseTime)
	require.NoError(t, s.CreateExecution(context.Background(), e))

	err := s.CreateExecution(context.Background(), e)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestLibSQLStore_Vacuum(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, newExec("t1", baseTime))
	assert.NoError(t, s.Vacuum(context.Background()))
}

func TestDialect_Rebind(t *testing.T) {
	q := `UPDATE executions SET status = ? WHERE id = ? AND status = ?`
	assert.Equal(t, q, dialectLibSQL.rebind(q))
	assert.Equal(t, `UPDATE executions SET status = $1 WHERE id = $2 AND status = $3`, dialectPostgres.rebind(q))
}

func TestDialect_LimitOffset(t *testing.T) {
	assert.Equal(t, "", dialectLibSQL.limitOffset(0, 0))
	assert.Equal(t, " LIMIT -1 OFFSET 3", dialectLibSQL.limitOffset(0, 3))
	assert.Equal(t, " OFFSET 3", dialectPostgres.limitOffset(0, 3))
	assert.Equal(t, " LIMIT 5 OFFSET 3", dialectPostgres.limitOffset(5, 3))
}

func TestDialect_TimeArg(t *testing.T) {
	whole := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)

	a := dialectLibSQL.timeArg(whole).(string)
	b := dialectLibSQL.timeArg(half).(string)
	assert.Equal(t, "2026-03-10T14:00:00.000000000Z", a)
	assert.Equal(t, "2026-03-10T14:00:00.500000000Z", b)
	assert.Less(t, a, b)

	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	assert.Equal(t, a, dialectLibSQL.timeArg(whole.In(madrid)))
	assert.Equal(t, whole, dialectPostgres.timeArg(whole.In(madrid)))
	assert.Nil(t, dialectLibSQL.nullTimeArg(nil))
}

func TestDBTime_Scan(t *testing.T) {
	want := time.Date(2026, 3, 10, 14, 0, 0, 500_000_000, time.UTC)
	for _, v := range []any{want, "2026-03-10T14:00:00.500000000Z", []byte("2026-03-10T15:00:00.5+01:00")} {
		var got dbTime
		require.NoError(t, got.Scan(v))
		assert.True(t, got.Valid)
		assert.True(t, want.Equal(got.Time), "%v", v)
	}

	var null dbTime
	require.NoError(t, null.Scan(nil))
	assert.False(t, null.Valid)
	assert.Error(t, null.Scan("yesterday"))
	assert.Error(t, null.Scan(42))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment;\nCREATE INDEX i ON a(x);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX i")
}
