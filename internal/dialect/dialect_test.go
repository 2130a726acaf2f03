package dialect

import (
	"testing"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	assert.Equal(t, []string{"clickhouse", "mysql", "postgres", "sqlite"}, Names())

	d, err := Get(" Postgres ")

	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Get("informix")

	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestPostgresDSN(t *testing.T) {
	var dsn = Postgres{}.DSN(Params{
		Host:       "db.local",
		Database:   "app",
		Username:   "bob",
		Password:   "it's secret",
		Properties: map[string]string{"search_path": "public", "application_name": "proxy"},
	})

	assert.Equal(
		t,
		`host=db.local port=5432 dbname=app user=bob password='it\'s secret' sslmode=disable application_name=proxy search_path=public`,
		dsn,
	)
}

func TestPostgresDSNKeepsSSLMode(t *testing.T) {
	var dsn = Postgres{}.DSN(Params{Host: "h", Port: 6432, Properties: map[string]string{"sslmode": "require"}})

	assert.Equal(t, "host=h port=6432 sslmode=require", dsn)
}

func TestMySQLConfig(t *testing.T) {
	var cfg = MySQL{}.Config(Params{
		Host:       "::1",
		Database:   "app",
		Username:   "root",
		Properties: map[string]string{"time_zone": "'+00:00'"},
	})

	assert.Equal(t, "[::1]:3306", cfg.Addr)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "'+00:00'", cfg.Params["time_zone"])
}

func TestSQLiteDSN(t *testing.T) {
	var dsn = SQLite{}.DSN(Params{
		Database:   "/tmp/x.db",
		Properties: map[string]string{"journal_mode": "WAL", "_txlock": "immediate"},
	})

	assert.Equal(t, "file:/tmp/x.db?_pragma=journal_mode%28WAL%29&_txlock=immediate", dsn)
	assert.Equal(t, "file:/tmp/y.db", SQLite{}.DSN(Params{Database: "file:/tmp/y.db"}))
}

func TestSQLiteOpenRequiresPath(t *testing.T) {
	_, err := SQLite{}.Open(Params{})

	assert.Error(t, err)
}

func TestClickHouseOptions(t *testing.T) {
	var opts = ClickHouse{}.Options(Params{
		Host:       "ch",
		Database:   "default",
		Properties: map[string]string{"maxExecutionTime": "60"},
	})

	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, "60", opts.Settings["max_execution_time"])
}

func TestRebind(t *testing.T) {
	var q = "SELECT * FROM t WHERE a = ? AND b = ?"

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Rebind(Postgres{}, q))
	assert.Equal(t, q, Rebind(MySQL{}, q))
	assert.Equal(t, q, Rebind(SQLite{}, q))
	assert.Equal(t, q, Rebind(ClickHouse{}, q))
}

func TestServerVersion(t *testing.T) {
	assert.Equal(t, "SQLite 3.45.1", ServerVersion(SQLite{}, "3.45.1\n"))
}
