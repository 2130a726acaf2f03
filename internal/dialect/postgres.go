package dialect

import (
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }
func (Postgres) Product() string    { return "PostgreSQL" }
func (Postgres) PingQuery() string  { return "SELECT 1" }

func (Postgres) ServerVersionQuery() string {
	return "SHOW server_version"
}

func (d Postgres) Open(params Params) (*sqlx.DB, error) {
	return sqlx.Open(d.DriverName(), d.DSN(params))
}

// DSN builds a lib/pq key=value connection string. Properties are appended as
// extra keys; sslmode defaults to disable.
func (Postgres) DSN(params Params) string {
	var (
		port  = params.Port
		parts []string
	)

	if port <= 0 {
		port = 5432
	}

	parts = append(parts,
		"host="+quotePQ(params.Host),
		"port="+strconv.Itoa(port),
	)

	if len(params.Database) > 0 {
		parts = append(parts, "dbname="+quotePQ(params.Database))
	}

	if len(params.Username) > 0 {
		parts = append(parts, "user="+quotePQ(params.Username))
	}

	if len(params.Password) > 0 {
		parts = append(parts, "password="+quotePQ(params.Password))
	}

	if _, ok := params.Properties["sslmode"]; !ok {
		parts = append(parts, "sslmode=disable")
	}

	for _, k := range sortedKeys(params.Properties) {
		parts = append(parts, k+"="+quotePQ(params.Properties[k]))
	}

	return strings.Join(parts, " ")
}

func quotePQ(v string) string {
	if len(v) > 0 && !strings.ContainsAny(v, ` '\`) {
		return v
	}

	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (Postgres) TablesQuery(filtered bool) string {
	var q = `SELECT table_name, table_schema, table_type
FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`

	if filtered {
		q += ` AND table_name = ?`
	}

	return q + ` ORDER BY table_schema, table_name`
}

func (Postgres) ColumnsQuery() string {
	return `SELECT column_name, data_type,
       CASE WHEN is_nullable = 'YES' THEN 1 ELSE 0 END AS nullable,
       COALESCE(character_maximum_length, numeric_precision) AS col_precision,
       numeric_scale AS col_scale
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND table_name = ?
ORDER BY ordinal_position`
}
