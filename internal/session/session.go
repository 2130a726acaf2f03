package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
	"github.com/jmoiron/sqlx"
	slogctx "github.com/veqryn/slog-context"
)

type State int

const (
	Idle State = iota
	InTransaction
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InTransaction:
		return "in_transaction"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Executor is what a statement runs against: either a plain pooled
// connection or the session's open transaction.
type Executor interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type pin struct {
	conn      *pool.Conn
	tx        *sqlx.Tx
	isolation sql.IsolationLevel
}

type Session struct {
	id     string
	pool   *pool.Pool
	lock   sync.Mutex
	state  State
	pin    *pin
	closed bool
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Pool() *pool.Pool {
	return s.pool
}

func (s *Session) ServerVersion() string {
	return s.pool.ServerVersion()
}

func (s *Session) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.closed
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// PinnedConnID returns the identity of the pinned connection, or false when
// the session is idle.
func (s *Session) PinnedConnID() (int64, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pin == nil {
		return 0, false
	}

	return s.pin.conn.ID(), true
}

// Acquire resolves the connection a call must use: the pinned transaction
// while one is open, a freshly borrowed pooled connection otherwise. The
// returned lease must always be released.
func (s *Session) Acquire(ctx context.Context) (*Lease, error) {
	s.lock.Lock()

	if s.closed {
		s.lock.Unlock()
		return nil, errs.SessionNotFound(s.id)
	}

	if s.pin != nil {
		var p = s.pin
		s.lock.Unlock()

		return &Lease{Executor: p.tx, ConnID: p.conn.ID(), Pinned: true}, nil
	}

	s.lock.Unlock()

	conn, err := s.pool.Acquire(ctx)

	if err != nil {
		return nil, err
	}

	return &Lease{
		Executor: conn,
		ConnID:   conn.ID(),
		release:  conn.Release,
		destroy:  conn.Destroy,
	}, nil
}

// Begin borrows a connection, opens a transaction on it with the requested
// isolation level and pins it to the session.
func (s *Session) Begin(ctx context.Context, isolation sql.IsolationLevel) error {
	var logger = slogctx.FromCtx(ctx)

	if err := s.checkIdle(); err != nil {
		return err
	}

	conn, err := s.pool.Acquire(ctx)

	if err != nil {
		return err
	}

	// The transaction outlives the call that opens it.
	tx, err := conn.BeginTxx(context.WithoutCancel(ctx), &sql.TxOptions{Isolation: isolation})

	if err != nil {
		conn.Release()
		return errs.Execution(fmt.Errorf("failed to begin transaction: %w", err))
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed || s.pin != nil {
		tx.Rollback()
		conn.Release()

		if s.closed {
			return errs.SessionNotFound(s.id)
		}

		return errs.TransactionAlreadyOpen()
	}

	s.pin = &pin{conn: conn, tx: tx, isolation: isolation}
	s.state = InTransaction
	logger.Debug("transaction started", "conn_id", conn.ID(), "isolation", isolation.String())
	return nil
}

func (s *Session) checkIdle() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errs.SessionNotFound(s.id)
	}

	if s.state == InTransaction {
		return errs.TransactionAlreadyOpen()
	}

	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	return s.finish(ctx, "commit", (*sqlx.Tx).Commit)
}

func (s *Session) Rollback(ctx context.Context) error {
	return s.finish(ctx, "rollback", (*sqlx.Tx).Rollback)
}

// finish unpins the session before ending the transaction, so the session is
// idle again even when the database refuses the commit or rollback. A healthy
// connection goes back to the pool, a failing one is destroyed.
func (s *Session) finish(ctx context.Context, op string, fn func(*sqlx.Tx) error) error {
	var logger = slogctx.FromCtx(ctx)

	p, err := s.unpin()

	if err != nil {
		return err
	}

	var connID = p.conn.ID()

	if err := fn(p.tx); err != nil {
		p.conn.Destroy()
		return errs.Execution(fmt.Errorf("failed to %s: %w", op, err))
	}

	p.conn.Release()
	logger.Debug("transaction ended", "op", op, "conn_id", connID)
	return nil
}

func (s *Session) unpin() (*pin, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, errs.SessionNotFound(s.id)
	}

	if s.pin == nil {
		return nil, errs.NoActiveTransaction()
	}

	var p = s.pin
	s.pin = nil
	s.state = Idle
	return p, nil
}

// close marks the session closed, rolls back a pinned transaction and hands
// its connection back so the pool can drain.
func (s *Session) close(ctx context.Context) error {
	var logger = slogctx.FromCtx(ctx)

	s.lock.Lock()
	s.closed = true
	var p = s.pin
	s.pin = nil
	s.state = Idle
	s.lock.Unlock()

	if p == nil {
		return nil
	}

	logger.Warn("rolling back transaction left open", "conn_id", p.conn.ID())

	if err := p.tx.Rollback(); err != nil {
		p.conn.Destroy()
		return fmt.Errorf("failed to rollback: %w", err)
	}

	p.conn.Release()
	return nil
}

// Lease is one resolved connection. Releasing a pinned lease is a no-op: the
// connection stays with the transaction.
type Lease struct {
	Executor
	ConnID  int64
	Pinned  bool
	release func()
	destroy func()
}

func (l *Lease) Release() {
	if l.release != nil {
		l.release()
	}
}

// Destroy discards a pooled connection that is known to be broken.
func (l *Lease) Destroy() {
	if l.destroy != nil {
		l.destroy()
	}
}
