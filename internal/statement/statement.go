package statement

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
	"github.com/jmoiron/sqlx"
)

// Statement is a compiled statement bound to a connection it holds until it
// is closed. Executions on one statement are serialized.
type Statement struct {
	id         string
	sessionID  string
	query      string
	paramCount int
	conn       *pool.Conn
	stmt       *sqlx.Stmt
	lock       sync.Mutex
	closed     bool
}

func (st *Statement) ID() string {
	return st.id
}

func (st *Statement) SessionID() string {
	return st.sessionID
}

func (st *Statement) SQL() string {
	return st.query
}

// ParameterCount is the number of placeholders resolved at preparation, or -1
// when neither the driver nor the dialect can tell.
func (st *Statement) ParameterCount() int {
	return st.paramCount
}

func (st *Statement) ConnID() int64 {
	return st.conn.ID()
}

// Use runs fn with exclusive access to the compiled statement.
func (st *Statement) Use(fn func(stmt *sqlx.Stmt) error) error {
	st.lock.Lock()
	defer st.lock.Unlock()

	if st.closed {
		return errs.StatementNotFound(st.id)
	}

	return fn(st.stmt)
}

func (st *Statement) close() error {
	st.lock.Lock()
	defer st.lock.Unlock()

	if st.closed {
		return nil
	}

	st.closed = true

	if err := st.stmt.Close(); err != nil {
		st.conn.Destroy()
		return fmt.Errorf("failed to close statement %s: %w", st.id, err)
	}

	st.conn.Release()
	return nil
}

func prepare(ctx context.Context, d dialect.Dialect, conn *pool.Conn, query string) (*sqlx.Stmt, int, error) {
	var paramCount = -1

	err := conn.Raw(func(driverConn any) error {
		var (
			ds  driver.Stmt
			err error
		)

		if p, ok := driverConn.(driver.ConnPrepareContext); ok {
			ds, err = p.PrepareContext(ctx, query)
		} else {
			ds, err = driverConn.(driver.Conn).Prepare(query)
		}

		if err != nil {
			return err
		}

		paramCount = ds.NumInput()
		return ds.Close()
	})

	if err != nil {
		return nil, 0, err
	}

	if counter, ok := d.(dialect.ParameterCounter); ok && paramCount < 0 {
		if paramCount, err = counter.ParameterCount(ctx, conn, query); err != nil {
			return nil, 0, err
		}
	}

	stmt, err := conn.PreparexContext(ctx, query)

	if err != nil {
		return nil, 0, err
	}

	return stmt, paramCount, nil
}
