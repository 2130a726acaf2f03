package statement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/tallyctx"
	"github.com/hashicorp/go-multierror"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

type CacheMetrics struct {
	Statements tally.Gauge
	Prepared   tally.Counter
	Failed     tally.Counter
}

func NewCacheMetrics(scope tally.Scope) *CacheMetrics {
	return &CacheMetrics{
		Statements: scope.Gauge("prepared_statements"),
		Prepared:   scope.Counter("statements_prepared"),
		Failed:     scope.Counter("statements_failed"),
	}
}

type Cache struct {
	counter atomic.Int64
	lock    sync.RWMutex
	stmts   map[string]*Statement
}

func NewCache() *Cache {
	return &Cache{
		stmts: make(map[string]*Statement),
	}
}

// Prepare borrows a connection from the session's pool and compiles query on
// it. The connection is held by the statement until Close, so every open
// statement takes one slot of the session's pool_size: with as many open
// statements as the pool size, other work on the session waits for the
// acquire timeout and fails.
func (c *Cache) Prepare(ctx context.Context, s *session.Session, query string) (*Statement, error) {
	var (
		logger  = slogctx.FromCtx(ctx)
		metrics = NewCacheMetrics(tallyctx.FromContextOrNoop(ctx))
	)

	if s.Closed() {
		return nil, errs.SessionNotFound(s.ID())
	}

	conn, err := s.Pool().Acquire(ctx)

	if errors.Is(err, errs.ErrPoolClosed) && s.Closed() {
		return nil, errs.SessionNotFound(s.ID())
	}

	if err != nil {
		return nil, err
	}

	stmt, paramCount, err := prepare(ctx, s.Pool().Dialect(), conn, query)

	if err != nil {
		conn.Release()
		metrics.Failed.Inc(1)
		return nil, errs.Execution(fmt.Errorf("failed to prepare statement: %w", err))
	}

	var st = &Statement{
		id:         fmt.Sprintf("stmt_%d", c.counter.Add(1)),
		sessionID:  s.ID(),
		query:      query,
		paramCount: paramCount,
		conn:       conn,
		stmt:       stmt,
	}

	c.lock.Lock()

	// A session closed during compilation has already run its close hooks.
	if s.Closed() {
		c.lock.Unlock()
		st.close()
		return nil, errs.SessionNotFound(s.ID())
	}

	c.stmts[st.id] = st
	var n = len(c.stmts)
	c.lock.Unlock()

	metrics.Prepared.Inc(1)
	metrics.Statements.Update(float64(n))
	logger.Debug("statement prepared", "statement_id", st.id, "session_id", s.ID(), "parameters", paramCount)
	return st, nil
}

func (c *Cache) Get(id string) (*Statement, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	st, ok := c.stmts[id]

	if !ok {
		return nil, errs.StatementNotFound(id)
	}

	return st, nil
}

// Close closes the statement and gives its connection back. Closing an
// unknown or already closed statement succeeds.
func (c *Cache) Close(ctx context.Context, id string) error {
	var metrics = NewCacheMetrics(tallyctx.FromContextOrNoop(ctx))

	c.lock.Lock()
	st, ok := c.stmts[id]
	delete(c.stmts, id)
	var n = len(c.stmts)
	c.lock.Unlock()

	if !ok {
		return nil
	}

	metrics.Statements.Update(float64(n))
	return st.close()
}

// CloseSession closes every statement prepared on the session.
func (c *Cache) CloseSession(ctx context.Context, sessionID string) error {
	var (
		logger  = slogctx.FromCtx(ctx)
		metrics = NewCacheMetrics(tallyctx.FromContextOrNoop(ctx))
		owned   []*Statement
	)

	c.lock.Lock()

	for id, st := range c.stmts {
		if st.sessionID == sessionID {
			owned = append(owned, st)
			delete(c.stmts, id)
		}
	}

	var n = len(c.stmts)
	c.lock.Unlock()

	if len(owned) == 0 {
		return nil
	}

	metrics.Statements.Update(float64(n))
	logger.Debug("closing statements of session", "session_id", sessionID, "count", len(owned))

	var res *multierror.Error

	for _, st := range owned {
		if err := st.close(); err != nil {
			res = multierror.Append(res, err)
		}
	}

	return res.ErrorOrNil()
}

func (c *Cache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return len(c.stmts)
}
