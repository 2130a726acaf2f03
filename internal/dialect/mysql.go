package dialect

import (
	"database/sql"
	"maps"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

type MySQL struct{}

func (MySQL) Name() string               { return "mysql" }
func (MySQL) DriverName() string         { return "mysql" }
func (MySQL) Product() string            { return "MySQL" }
func (MySQL) PingQuery() string          { return "SELECT 1" }
func (MySQL) ServerVersionQuery() string { return "SELECT VERSION()" }

func (d MySQL) Open(params Params) (*sqlx.DB, error) {
	connector, err := mysql.NewConnector(d.Config(params))

	if err != nil {
		return nil, err
	}

	return sqlx.NewDb(sql.OpenDB(connector), d.DriverName()), nil
}

// Config maps connection parameters onto a driver config. Properties are
// passed through as connection attributes (system variables).
func (MySQL) Config(params Params) *mysql.Config {
	var (
		cfg  = mysql.NewConfig()
		port = params.Port
	)

	if port <= 0 {
		port = 3306
	}

	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host, strconv.Itoa(port))
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.DBName = params.Database
	cfg.ParseTime = true
	cfg.AllowNativePasswords = true

	if len(params.Properties) > 0 {
		cfg.Params = maps.Clone(params.Properties)
	}

	return cfg
}

func (MySQL) TablesQuery(filtered bool) string {
	var q = `SELECT TABLE_NAME AS table_name, TABLE_SCHEMA AS table_schema, TABLE_TYPE AS table_type
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = DATABASE()`

	if filtered {
		q += ` AND TABLE_NAME = ?`
	}

	return q + ` ORDER BY TABLE_NAME`
}

func (MySQL) ColumnsQuery() string {
	return `SELECT COLUMN_NAME AS column_name, COLUMN_TYPE AS data_type,
       CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS nullable,
       COALESCE(CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION) AS col_precision,
       NUMERIC_SCALE AS col_scale
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`
}
