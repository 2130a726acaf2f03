// Package dialect adapts the supported database client libraries to a common
// shape: how to open a database, how to identify the server and where to find
// catalog metadata.
package dialect

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

type Params struct {
	Host       string
	Port       int
	Database   string
	Username   string
	Password   string
	Properties map[string]string
}

type Dialect interface {
	Name() string
	DriverName() string
	Product() string
	Open(params Params) (*sqlx.DB, error)
	// ServerVersionQuery returns a single row, single column version string.
	ServerVersionQuery() string
	PingQuery() string
	// TablesQuery lists tables as table_name, table_schema, table_type. With
	// filtered set it takes the table name as its only argument.
	TablesQuery(filtered bool) string
	// ColumnsQuery takes the table name and returns column_name, data_type,
	// nullable, col_precision, col_scale.
	ColumnsQuery() string
}

// ParameterCounter is implemented by dialects whose driver reports -1 from
// driver.Stmt.NumInput. ParameterCount returns the number of placeholders of
// query, compiling it on conn without running it.
type ParameterCounter interface {
	ParameterCount(ctx context.Context, conn sqlx.QueryerContext, query string) (int, error)
}

var (
	lock     sync.RWMutex
	dialects = make(map[string]Dialect)
)

func Register(d Dialect) {
	lock.Lock()
	defer lock.Unlock()

	dialects[d.Name()] = d
}

func Get(name string) (Dialect, error) {
	lock.RLock()
	defer lock.RUnlock()

	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]

	if !ok {
		return nil, errs.InvalidArgument("unknown driver %q (supported: %s)", name, strings.Join(names(), ", "))
	}

	return d, nil
}

func Names() []string {
	lock.RLock()
	defer lock.RUnlock()

	return names()
}

func names() []string {
	var res = lo.Keys(dialects)
	slices.Sort(res)
	return res
}

// ServerVersion formats the raw output of ServerVersionQuery as a
// human-readable identification string.
func ServerVersion(d Dialect, raw string) string {
	return fmt.Sprintf("%s %s", d.Product(), strings.TrimSpace(raw))
}

// Rebind rewrites ? placeholders to the bind style of the dialect's driver.
func Rebind(d Dialect, query string) string {
	return sqlx.Rebind(sqlx.BindType(d.DriverName()), query)
}

func sortedKeys(m map[string]string) []string {
	var keys = lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func init() {
	Register(Postgres{})
	Register(MySQL{})
	Register(SQLite{})
	Register(ClickHouse{})
}
