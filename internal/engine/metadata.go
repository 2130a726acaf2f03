package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/marshal"
	"github.com/agnosticeng/tallyctx"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

type tableRow struct {
	Name   string         `db:"table_name"`
	Schema sql.NullString `db:"table_schema"`
	Type   sql.NullString `db:"table_type"`
}

type columnRow struct {
	Name      string         `db:"column_name"`
	Type      sql.NullString `db:"data_type"`
	Nullable  bool           `db:"nullable"`
	Precision sql.NullInt64  `db:"col_precision"`
	Scale     sql.NullInt64  `db:"col_scale"`
}

// Metadata lists every table of the session's database, or only the named
// table together with its columns. An unknown table yields an empty list.
func (e *Engine) Metadata(ctx context.Context, req MetadataRequest) (tables []TableInfo, err error) {
	var (
		metrics = NewEngineMetrics(tallyctx.FromContextOrNoop(ctx))
		start   = time.Now()
		rows    []tableRow
	)

	ctx, logger := withModule(ctx, opMetadata)
	defer func() { metrics.observe(opMetadata, start, err) }()

	s, err := e.sessions.Lookup(req.SessionID)

	if err != nil {
		return nil, err
	}

	lease, err := s.Acquire(ctx)

	if err != nil {
		return nil, err
	}

	defer lease.Release()

	var (
		d        = s.Pool().Dialect()
		filtered = len(req.TableName) > 0
		q        = dialect.Rebind(d, d.TablesQuery(filtered))
		args     []any
	)

	if filtered {
		args = append(args, req.TableName)
	}

	logSQL(ctx, logger, q, "session_id", req.SessionID)

	if err := sqlx.SelectContext(ctx, lease, &rows, q, args...); err != nil {
		return nil, errs.Execution(fmt.Errorf("failed to list tables: %w", err))
	}

	tables = lo.Map(rows, func(row tableRow, _ int) TableInfo {
		return TableInfo{Name: row.Name, Schema: row.Schema.String, Type: row.Type.String}
	})

	if !filtered {
		return tables, nil
	}

	for i := range tables {
		var columns []columnRow

		q = dialect.Rebind(d, d.ColumnsQuery())

		if err := sqlx.SelectContext(ctx, lease, &columns, q, tables[i].Name); err != nil {
			return nil, errs.Execution(fmt.Errorf("failed to list columns of %s: %w", tables[i].Name, err))
		}

		tables[i].Columns = lo.Map(columns, func(col columnRow, _ int) marshal.Column {
			return marshal.Column{
				Name:      col.Name,
				Type:      col.Type.String,
				Precision: int32(min(col.Precision.Int64, 1<<31-1)),
				Scale:     int32(min(col.Scale.Int64, 1<<31-1)),
				Nullable:  col.Nullable,
			}
		})
	}

	return tables, nil
}
