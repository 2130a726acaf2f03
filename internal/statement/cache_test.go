package statement

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, poolSize int) (*session.Registry, *Cache, *session.Session) {
	t.Helper()

	var (
		registry = session.NewRegistry(session.Config{})
		cache    = NewCache()
	)

	registry.OnClose(cache.CloseSession)
	t.Cleanup(func() { registry.CloseAll(context.Background()) })

	s, err := registry.Open(context.Background(), session.ConnectParams{
		Driver:   "sqlite",
		PoolSize: poolSize,
		Params: dialect.Params{
			Database:   filepath.Join(t.TempDir(), "stmt.db"),
			Properties: map[string]string{"journal_mode": "WAL", "busy_timeout": "5000"},
		},
	})

	require.NoError(t, err)
	return registry, cache, s
}

func queryInt(t *testing.T, st *Statement, args ...any) int {
	t.Helper()

	var n int

	err := st.Use(func(stmt *sqlx.Stmt) error {
		return stmt.QueryRowxContext(context.Background(), args...).Scan(&n)
	})

	require.NoError(t, err)
	return n
}

func TestPrepareExecuteClose(t *testing.T) {
	var (
		_, cache, s = newFixture(t, 2)
		ctx         = context.Background()
	)

	st, err := cache.Prepare(ctx, s, "SELECT 1")
	require.NoError(t, err)

	assert.Regexp(t, `^stmt_\d+$`, st.ID())
	assert.Equal(t, s.ID(), st.SessionID())
	assert.Equal(t, "SELECT 1", st.SQL())
	assert.Equal(t, 1, s.Pool().Stats().Active)

	assert.Equal(t, 1, queryInt(t, st))
	assert.Equal(t, 1, queryInt(t, st))

	require.NoError(t, cache.Close(ctx, st.ID()))
	require.NoError(t, cache.Close(ctx, st.ID()))
	assert.Equal(t, 0, s.Pool().Stats().Active)

	_, err = cache.Get(st.ID())
	require.ErrorIs(t, err, errs.ErrHandleNotFound)

	err = st.Use(func(*sqlx.Stmt) error { return nil })
	require.ErrorIs(t, err, errs.ErrHandleNotFound)
}

func TestPrepareBindsParameters(t *testing.T) {
	var (
		_, cache, s = newFixture(t, 2)
		ctx         = context.Background()
	)

	st, err := cache.Prepare(ctx, s, "SELECT ? + ?")
	require.NoError(t, err)

	assert.Equal(t, 5, queryInt(t, st, 2, 3))
	assert.Equal(t, 9, queryInt(t, st, 4, 5))
}

func TestStatementKeepsItsConnection(t *testing.T) {
	var (
		_, cache, s = newFixture(t, 2)
		ctx         = context.Background()
	)

	st, err := cache.Prepare(ctx, s, "SELECT 1")
	require.NoError(t, err)

	lease, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer lease.Release()

	assert.NotEqual(t, st.ConnID(), lease.ConnID)
}

func TestPrepareFailure(t *testing.T) {
	var (
		_, cache, s = newFixture(t, 1)
		ctx         = context.Background()
	)

	_, err := cache.Prepare(ctx, s, "SELEC nothing")

	require.ErrorIs(t, err, errs.ErrExecution)
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, pool.Stats{Idle: 1, Total: 1}, s.Pool().Stats())
}

func TestDisconnectClosesStatements(t *testing.T) {
	var (
		registry, cache, s = newFixture(t, 2)
		ctx                = context.Background()
	)

	a, err := cache.Prepare(ctx, s, "SELECT 1")
	require.NoError(t, err)
	b, err := cache.Prepare(ctx, s, "SELECT 2")
	require.NoError(t, err)

	require.NoError(t, registry.Close(ctx, s.ID()))

	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, pool.Stats{}, s.Pool().Stats())

	for _, st := range []*Statement{a, b} {
		_, err = cache.Get(st.ID())
		require.ErrorIs(t, err, errs.ErrHandleNotFound)
	}
}

func TestPrepareOnClosedSession(t *testing.T) {
	var (
		registry, cache, s = newFixture(t, 1)
		ctx                = context.Background()
	)

	require.NoError(t, registry.Close(ctx, s.ID()))

	_, err := cache.Prepare(ctx, s, "SELECT 1")

	require.ErrorIs(t, err, errs.ErrHandleNotFound)
	assert.Equal(t, 0, cache.Len())
}

func TestPrepareResolvesParameterCount(t *testing.T) {
	var tests = []struct {
		query string
		count int
	}{
		{query: "SELECT 1", count: 0},
		{query: "SELECT v FROM t WHERE v > ?", count: 1},
		{query: "SELECT v FROM t WHERE v BETWEEN ? AND ? LIMIT ?", count: 3},
		{query: "INSERT INTO t VALUES (?)", count: 1},
		{query: "SELECT ?2", count: 2},
	}

	var (
		_, cache, s = newFixture(t, 1)
		ctx         = context.Background()
	)

	lease, err := s.Acquire(ctx)
	require.NoError(t, err)
	_, err = lease.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	lease.Release()

	for _, test := range tests {
		t.Run(test.query, func(t *testing.T) {
			st, err := cache.Prepare(ctx, s, test.query)
			require.NoError(t, err)
			defer cache.Close(ctx, st.ID())

			assert.Equal(t, test.count, st.ParameterCount())
		})
	}
}
