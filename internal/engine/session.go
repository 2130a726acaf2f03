package engine

import (
	"context"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/statement"
	"github.com/agnosticeng/tallyctx"
)

func (e *Engine) Connect(ctx context.Context, params session.ConnectParams) (*session.Session, error) {
	ctx, _ = withModule(ctx, "connect")
	return e.sessions.Open(ctx, params)
}

func (e *Engine) Disconnect(ctx context.Context, sessionID string) error {
	ctx, _ = withModule(ctx, "disconnect")
	return e.sessions.Close(ctx, sessionID)
}

func (e *Engine) Prepare(ctx context.Context, sessionID string, query string) (*statement.Statement, error) {
	ctx, logger := withModule(ctx, "prepare")

	s, err := e.sessions.Lookup(sessionID)

	if err != nil {
		return nil, err
	}

	logSQL(ctx, logger, query, "session_id", sessionID)
	return e.statements.Prepare(ctx, s, query)
}

func (e *Engine) ClosePrepared(ctx context.Context, statementID string) error {
	ctx, _ = withModule(ctx, "close_prepared")
	return e.statements.Close(ctx, statementID)
}

// Begin opens a transaction pinned to the session. Unknown isolation names
// keep the connection's default level.
func (e *Engine) Begin(ctx context.Context, sessionID string, isolation string) error {
	ctx, logger := withModule(ctx, "begin")

	s, err := e.sessions.Lookup(sessionID)

	if err != nil {
		return err
	}

	if err := s.Begin(ctx, session.ParseIsolation(isolation)); err != nil {
		return err
	}

	NewEngineMetrics(tallyctx.FromContextOrNoop(ctx)).Transactions["begin"].Inc(1)
	logger.Debug("transaction begun", "session_id", sessionID, "isolation", isolation)
	return nil
}

func (e *Engine) Commit(ctx context.Context, sessionID string) error {
	return e.endTransaction(ctx, sessionID, "commit", (*session.Session).Commit)
}

func (e *Engine) Rollback(ctx context.Context, sessionID string) error {
	return e.endTransaction(ctx, sessionID, "rollback", (*session.Session).Rollback)
}

func (e *Engine) endTransaction(
	ctx context.Context,
	sessionID string,
	op string,
	fn func(*session.Session, context.Context) error,
) error {
	ctx, _ = withModule(ctx, op)

	s, err := e.sessions.Lookup(sessionID)

	if err != nil {
		return err
	}

	if err := fn(s, ctx); err != nil {
		return err
	}

	NewEngineMetrics(tallyctx.FromContextOrNoop(ctx)).Transactions[op].Inc(1)
	return nil
}

// Ping runs the dialect's liveness query on the session's resolved
// connection and reports the round trip.
func (e *Engine) Ping(ctx context.Context, sessionID string) (latency time.Duration, err error) {
	var (
		metrics = NewEngineMetrics(tallyctx.FromContextOrNoop(ctx))
		start   = time.Now()
	)

	ctx, _ = withModule(ctx, opPing)
	defer func() { metrics.observe(opPing, start, err) }()

	s, err := e.sessions.Lookup(sessionID)

	if err != nil {
		return -1, err
	}

	lease, err := s.Acquire(ctx)

	if err != nil {
		return -1, err
	}

	defer lease.Release()

	var (
		roundTrip = time.Now()
		res       any
	)

	if err := lease.QueryRowxContext(ctx, s.Pool().Dialect().PingQuery()).Scan(&res); err != nil {
		discardIfBroken(lease, err)
		return -1, errs.Execution(err)
	}

	return time.Since(roundTrip), nil
}
