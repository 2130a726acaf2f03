package dialect

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cast"
	_ "modernc.org/sqlite"
)

type SQLite struct{}

func (SQLite) Name() string               { return "sqlite" }
func (SQLite) DriverName() string         { return "sqlite" }
func (SQLite) Product() string            { return "SQLite" }
func (SQLite) PingQuery() string          { return "SELECT 1" }
func (SQLite) ServerVersionQuery() string { return "SELECT sqlite_version()" }

func (d SQLite) Open(params Params) (*sqlx.DB, error) {
	if len(params.Database) == 0 {
		return nil, fmt.Errorf("sqlite requires a database path")
	}

	return sqlx.Open(d.DriverName(), d.DSN(params))
}

// DSN builds a file: URI. Properties whose name starts with an underscore
// are driver options passed verbatim; any other property k=v becomes the
// connection pragma k(v). Host, port and credentials are ignored.
func (SQLite) DSN(params Params) string {
	var query = make(url.Values)

	for _, k := range sortedKeys(params.Properties) {
		var v = params.Properties[k]

		if strings.HasPrefix(k, "_") {
			query.Add(k, v)
		} else {
			query.Add("_pragma", fmt.Sprintf("%s(%s)", k, v))
		}
	}

	var dsn = params.Database

	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	if len(query) == 0 {
		return dsn
	}

	return dsn + "?" + query.Encode()
}

func (SQLite) TablesQuery(filtered bool) string {
	var q = `SELECT name AS table_name, 'main' AS table_schema, upper(type) AS table_type
FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'`

	if filtered {
		q += ` AND name = ?`
	}

	return q + ` ORDER BY name`
}

func (SQLite) ColumnsQuery() string {
	return `SELECT name AS column_name, type AS data_type,
       CASE WHEN "notnull" = 0 THEN 1 ELSE 0 END AS nullable,
       NULL AS col_precision,
       NULL AS col_scale
FROM pragma_table_info(?)
ORDER BY cid`
}

// ParameterCount reads the compiled program of query: every bound parameter
// is loaded by a Variable opcode whose p1 is the 1-based parameter index.
func (SQLite) ParameterCount(ctx context.Context, conn sqlx.QueryerContext, query string) (int, error) {
	rows, err := conn.QueryxContext(ctx, "EXPLAIN "+query)

	if err != nil {
		return -1, err
	}

	defer rows.Close()

	var n int

	for rows.Next() {
		// addr, opcode, p1, p2, p3, p4, p5, comment
		row, err := rows.SliceScan()

		if err != nil {
			return -1, err
		}

		if len(row) < 3 || cast.ToString(row[1]) != "Variable" {
			continue
		}

		n = max(n, cast.ToInt(row[2]))
	}

	if err := rows.Err(); err != nil {
		return -1, err
	}

	return n, nil
}
