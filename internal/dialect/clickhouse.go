package dialect

import (
	"net"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"
)

type ClickHouse struct{}

func (ClickHouse) Name() string               { return "clickhouse" }
func (ClickHouse) DriverName() string         { return "clickhouse" }
func (ClickHouse) Product() string            { return "ClickHouse" }
func (ClickHouse) PingQuery() string          { return "SELECT 1" }
func (ClickHouse) ServerVersionQuery() string { return "SELECT version()" }

func (d ClickHouse) Open(params Params) (*sqlx.DB, error) {
	return sqlx.NewDb(clickhouse.OpenDB(d.Options(params)), d.DriverName()), nil
}

// Options maps connection parameters onto driver options. Properties become
// query settings, their names snake-cased.
func (ClickHouse) Options(params Params) *clickhouse.Options {
	var (
		port     = params.Port
		settings = make(clickhouse.Settings)
	)

	if port <= 0 {
		port = 9000
	}

	for k, v := range params.Properties {
		settings[k] = v
	}

	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(params.Host, strconv.Itoa(port))},
		Auth: clickhouse.Auth{
			Database: params.Database,
			Username: params.Username,
			Password: params.Password,
		},
		Settings: NormalizeSettings(settings),
	}
}

func NormalizeSettings(settings clickhouse.Settings) clickhouse.Settings {
	var m = make(clickhouse.Settings)

	for k, v := range settings {
		m[strcase.ToSnake(k)] = v
	}

	return m
}

func (ClickHouse) TablesQuery(filtered bool) string {
	var q = `SELECT name AS table_name, database AS table_schema, engine AS table_type
FROM system.tables
WHERE database = currentDatabase()`

	if filtered {
		q += ` AND name = ?`
	}

	return q + ` ORDER BY name`
}

func (ClickHouse) ColumnsQuery() string {
	return `SELECT name AS column_name, type AS data_type,
       toUInt8(startsWith(type, 'Nullable(')) AS nullable,
       toInt64(numeric_precision) AS col_precision,
       toInt64(numeric_scale) AS col_scale
FROM system.columns
WHERE database = currentDatabase() AND table = ?
ORDER BY position`
}
