package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/marshal"
	"github.com/samber/lo"
)

// streamRows drains rows into outchan as batches of at most fetchSize rows.
// One row of lookahead lets a full batch know whether it is the last one, so
// N rows always produce ceil(N/fetchSize) batches and an empty result produces
// a single empty batch. A positive maxRows stops the stream early.
func streamRows(
	ctx context.Context,
	rows *sql.Rows,
	fetchSize int,
	maxRows int,
	outchan chan<- *Batch,
	stats *QueryStats,
) error {
	columnTypes, err := rows.ColumnTypes()

	if err != nil {
		return errs.Execution(fmt.Errorf("failed to read column metadata: %w", err))
	}

	var (
		categories = lo.Map(columnTypes, categoryOf)
		values     = make([]any, len(columnTypes))
		dest       = make([]any, len(columnTypes))
		batch      = &Batch{
			Columns: lo.Map(columnTypes, columnOf),
			Rows:    make([]marshal.Row, 0, fetchSize),
		}
	)

	for i := range values {
		dest[i] = &values[i]
	}

	var next = func() bool {
		if maxRows > 0 && stats.Rows >= int64(maxRows) {
			return false
		}

		return rows.Next()
	}

	var send = func(b *Batch) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outchan <- b:
			stats.Batches++
			return nil
		}
	}

	for more := next(); more; {
		if err := rows.Scan(dest...); err != nil {
			return errs.Execution(fmt.Errorf("failed to scan row %d: %w", stats.Rows+1, err))
		}

		row, err := convertRow(categories, values)

		if err != nil {
			return errs.Execution(fmt.Errorf("row %d: %w", stats.Rows+1, err))
		}

		batch.Rows = append(batch.Rows, row)
		stats.Rows++
		more = next()

		if more && len(batch.Rows) >= fetchSize {
			batch.HasMore = true
			batch.TotalRows = stats.Rows

			if err := send(batch); err != nil {
				return err
			}

			batch = &Batch{Rows: make([]marshal.Row, 0, fetchSize)}
		}
	}

	if err := rows.Err(); err != nil {
		return errs.Execution(err)
	}

	batch.TotalRows = stats.Rows
	return send(batch)
}

func convertRow(categories []marshal.Category, values []any) (marshal.Row, error) {
	var row = marshal.Row{Values: make([]marshal.Value, len(values))}

	for i, raw := range values {
		v, err := marshal.FromColumn(categories[i], raw)

		if err != nil {
			return row, fmt.Errorf("column %d: %w", i+1, err)
		}

		row.Values[i] = v
	}

	return row, nil
}

func columnOf(ct *sql.ColumnType, _ int) marshal.Column {
	return marshal.ColumnFromType(ct)
}

func categoryOf(ct *sql.ColumnType, _ int) marshal.Category {
	return marshal.Classify(ct.DatabaseTypeName())
}
