package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/marshal"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/tallyctx"
	"github.com/jmoiron/sqlx"
)

// Query executes req on the session's resolved connection and streams the
// result to outchan, which is closed on return. Batches already sent stand
// when an error is returned.
func (e *Engine) Query(ctx context.Context, req QueryRequest, outchan chan<- *Batch) (err error) {
	defer close(outchan)

	var (
		logger  *slog.Logger
		metrics = NewEngineMetrics(tallyctx.FromContextOrNoop(ctx))
		stats   QueryStats
		start   = time.Now()
	)

	ctx, logger = withModule(ctx, opQuery)
	defer e.finishStream(ctx, logger, metrics, opQuery, start, &stats, &err)

	s, err := e.sessions.Lookup(req.SessionID)

	if err != nil {
		return err
	}

	args, err := marshal.Args(req.Parameters)

	if err != nil {
		return err
	}

	lease, err := s.Acquire(ctx)

	if err != nil {
		return err
	}

	defer lease.Release()

	stats.ConnID, stats.Pinned = lease.ConnID, lease.Pinned
	logSQL(ctx, logger, req.SQL, "session_id", req.SessionID, "conn_id", lease.ConnID)

	rows, err := lease.QueryContext(ctx, req.SQL, args...)

	if err != nil {
		discardIfBroken(lease, err)
		return errs.Execution(err)
	}

	defer rows.Close()

	return streamRows(ctx, rows, e.fetchSize(req.FetchSize), req.MaxRows, outchan, &stats)
}

// ExecutePrepared streams the result of a prepared statement the same way
// Query does, on the statement's own connection.
func (e *Engine) ExecutePrepared(ctx context.Context, req ExecutePreparedRequest, outchan chan<- *Batch) (err error) {
	defer close(outchan)

	var (
		logger  *slog.Logger
		metrics = NewEngineMetrics(tallyctx.FromContextOrNoop(ctx))
		stats   QueryStats
		start   = time.Now()
	)

	ctx, logger = withModule(ctx, opPrepared)
	defer e.finishStream(ctx, logger, metrics, opPrepared, start, &stats, &err)

	st, err := e.statements.Get(req.StatementID)

	if err != nil {
		return err
	}

	args, err := marshal.Args(req.Parameters)

	if err != nil {
		return err
	}

	stats.ConnID = st.ConnID()
	logSQL(ctx, logger, st.SQL(), "statement_id", st.ID())

	return st.Use(func(stmt *sqlx.Stmt) error {
		rows, err := stmt.QueryContext(ctx, args...)

		if err != nil {
			return errs.Execution(err)
		}

		defer rows.Close()

		return streamRows(ctx, rows, e.fetchSize(req.FetchSize), req.MaxRows, outchan, &stats)
	})
}

func (e *Engine) finishStream(
	ctx context.Context,
	logger *slog.Logger,
	metrics *EngineMetrics,
	op string,
	start time.Time,
	stats *QueryStats,
	errp *error,
) {
	stats.Elapsed = time.Since(start)
	metrics.observe(op, start, *errp)
	metrics.Rows.Inc(stats.Rows)
	metrics.Batches.Inc(int64(stats.Batches))
	LogQueryStats(ctx, logger, slog.LevelDebug, op, stats)

	if *errp != nil {
		logger.Debug("stream aborted", "error", (*errp).Error(), "rows", stats.Rows)
	}
}

// Update executes a single statement and returns the affected row count, or
// -1 with the error.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (n int64, err error) {
	var (
		logger  *slog.Logger
		metrics = NewEngineMetrics(tallyctx.FromContextOrNoop(ctx))
		start   = time.Now()
	)

	ctx, logger = withModule(ctx, opUpdate)
	defer func() { metrics.observe(opUpdate, start, err) }()

	s, err := e.sessions.Lookup(req.SessionID)

	if err != nil {
		return -1, err
	}

	args, err := marshal.Args(req.Parameters)

	if err != nil {
		return -1, err
	}

	lease, err := s.Acquire(ctx)

	if err != nil {
		return -1, err
	}

	defer lease.Release()

	logSQL(ctx, logger, req.SQL, "session_id", req.SessionID, "conn_id", lease.ConnID)

	res, err := lease.ExecContext(ctx, req.SQL, args...)

	if err != nil {
		discardIfBroken(lease, err)
		return -1, errs.Execution(err)
	}

	n, err = res.RowsAffected()

	if err != nil {
		return -1, errs.Execution(err)
	}

	return n, nil
}

// Batch executes statements in order on one resolved connection. Any failure
// fails the whole call and no counts are returned; statements that already
// ran are not undone unless the session is in a transaction.
func (e *Engine) Batch(ctx context.Context, req BatchRequest) (counts []int64, err error) {
	var (
		logger  *slog.Logger
		metrics = NewEngineMetrics(tallyctx.FromContextOrNoop(ctx))
		start   = time.Now()
	)

	ctx, logger = withModule(ctx, opBatch)
	defer func() { metrics.observe(opBatch, start, err) }()

	s, err := e.sessions.Lookup(req.SessionID)

	if err != nil {
		return nil, err
	}

	lease, err := s.Acquire(ctx)

	if err != nil {
		return nil, err
	}

	defer lease.Release()

	counts = make([]int64, 0, len(req.Statements))

	for i, q := range req.Statements {
		logSQL(ctx, logger, q, "session_id", req.SessionID, "index", i)

		res, err := lease.ExecContext(ctx, q)

		if err != nil {
			discardIfBroken(lease, err)
			return nil, errs.Execution(fmt.Errorf("batch statement %d: %w", i+1, err))
		}

		n, err := res.RowsAffected()

		if err != nil {
			return nil, errs.Execution(fmt.Errorf("batch statement %d: %w", i+1, err))
		}

		counts = append(counts, n)
	}

	logger.Debug("batch executed", "statements", len(counts), "conn_id", lease.ConnID, "pinned", lease.Pinned)
	return counts, nil
}

func discardIfBroken(lease *session.Lease, err error) {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		lease.Destroy()
	}
}
