package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/puddle/v2"
	"github.com/jmoiron/sqlx"
	slogctx "github.com/veqryn/slog-context"
)

type Config struct {
	MaxSize           int
	AcquireTimeout    time.Duration
	IdleTimeout       time.Duration
	MaxConnLifetime   time.Duration
	AliveBypassWindow time.Duration
}

func (conf Config) WithDefaults() Config {
	if conf.MaxSize <= 0 {
		conf.MaxSize = 10
	}

	if conf.AcquireTimeout <= 0 {
		conf.AcquireTimeout = 30 * time.Second
	}

	if conf.IdleTimeout <= 0 {
		conf.IdleTimeout = 10 * time.Minute
	}

	if conf.MaxConnLifetime <= 0 {
		conf.MaxConnLifetime = 30 * time.Minute
	}

	if conf.AliveBypassWindow <= 0 {
		conf.AliveBypassWindow = 500 * time.Millisecond
	}

	return conf
}

type Stats struct {
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

func (s Stats) Add(other Stats) Stats {
	return Stats{
		Active:  s.Active + other.Active,
		Idle:    s.Idle + other.Idle,
		Total:   s.Total + other.Total,
		Pending: s.Pending + other.Pending,
	}
}

type physicalConn struct {
	id   int64
	conn *sqlx.Conn
}

// Pool hands out physical connections of one database. Every connection is
// pinned to a dedicated database/sql connection so that the pool alone bounds
// how many exist.
type Pool struct {
	conf          Config
	dialect       dialect.Dialect
	db            *sqlx.DB
	pool          *puddle.Pool[*physicalConn]
	counter       atomic.Int64
	pending       atomic.Int64
	closeCtx      context.Context
	closeCancel   context.CancelFunc
	closeOnce     sync.Once
	closeErr      error
	destroyLock   sync.Mutex
	destroyErrs   *multierror.Error
	serverVersion string
}

// Open creates the pool and validates reachability by borrowing one
// connection, which is also used to read the server identification string.
func Open(ctx context.Context, d dialect.Dialect, params dialect.Params, conf Config) (*Pool, error) {
	conf = conf.WithDefaults()

	db, err := d.Open(params)

	if err != nil {
		return nil, errs.ConnectFailed(err)
	}

	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(0)

	var p = &Pool{
		conf:    conf,
		dialect: d,
		db:      db,
	}

	p.closeCtx, p.closeCancel = context.WithCancel(context.Background())

	p.pool, err = puddle.NewPool(&puddle.Config[*physicalConn]{
		Constructor: p.construct,
		Destructor:  p.destroy,
		MaxSize:     int32(conf.MaxSize),
	})

	if err != nil {
		p.closeCancel()
		db.Close()
		return nil, errs.ConnectFailed(err)
	}

	conn, err := p.Acquire(ctx)

	if err != nil {
		p.Close()
		return nil, errs.ConnectFailed(err)
	}

	var version string

	err = conn.QueryRowxContext(ctx, d.ServerVersionQuery()).Scan(&version)
	conn.Release()

	if err != nil {
		p.Close()
		return nil, errs.ConnectFailed(fmt.Errorf("failed to read server version: %w", err))
	}

	p.serverVersion = dialect.ServerVersion(d, version)
	return p, nil
}

func (p *Pool) Dialect() dialect.Dialect {
	return p.dialect
}

func (p *Pool) ServerVersion() string {
	return p.serverVersion
}

func (p *Pool) construct(ctx context.Context) (*physicalConn, error) {
	conn, err := p.db.Connx(ctx)

	if err != nil {
		return nil, err
	}

	return &physicalConn{
		id:   p.counter.Add(1),
		conn: conn,
	}, nil
}

func (p *Pool) destroy(pc *physicalConn) {
	if err := pc.conn.Close(); err != nil && !errors.Is(err, context.Canceled) {
		p.destroyLock.Lock()
		p.destroyErrs = multierror.Append(p.destroyErrs, fmt.Errorf("conn %d: %w", pc.id, err))
		p.destroyLock.Unlock()
	}
}

// Acquire borrows a connection. It fails with ErrPoolTimeout when none frees
// up within the acquire timeout and with ErrPoolClosed once Close has begun.
// Stale connections are replaced transparently.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closeCtx.Err() != nil {
		return nil, errs.ErrPoolClosed
	}

	var (
		logger             = slogctx.FromCtx(ctx)
		acquireCtx, cancel = context.WithTimeout(ctx, p.conf.AcquireTimeout)
		stop               = context.AfterFunc(p.closeCtx, cancel)
	)

	defer cancel()
	defer stop()

	for {
		p.pending.Add(1)
		res, err := p.pool.Acquire(acquireCtx)
		p.pending.Add(-1)

		if err != nil {
			return nil, p.acquireError(ctx, err)
		}

		if reason := p.staleReason(acquireCtx, res); len(reason) > 0 {
			logger.Debug("replacing connection", "conn_id", res.Value().id, "reason", reason)
			res.Destroy()
			continue
		}

		var pc = res.Value()
		return &Conn{Conn: pc.conn, id: pc.id, res: res}, nil
	}
}

func (p *Pool) staleReason(ctx context.Context, res *puddle.Resource[*physicalConn]) string {
	if time.Since(res.CreationTime()) >= p.conf.MaxConnLifetime {
		return "max lifetime"
	}

	var idle = res.IdleDuration()

	if idle >= p.conf.IdleTimeout {
		return "idle timeout"
	}

	if idle > p.conf.AliveBypassWindow {
		if err := res.Value().conn.PingContext(ctx); err != nil {
			return "dead"
		}
	}

	return ""
}

func (p *Pool) acquireError(ctx context.Context, err error) error {
	switch {
	case p.closeCtx.Err() != nil, errors.Is(err, puddle.ErrClosedPool):
		return errs.ErrPoolClosed
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", errs.ErrPoolTimeout, p.conf.AcquireTimeout)
	default:
		return errs.Execution(fmt.Errorf("failed to open connection: %w", err))
	}
}

func (p *Pool) Stats() Stats {
	var s = p.pool.Stat()

	return Stats{
		Active:  int(s.AcquiredResources()),
		Idle:    int(s.IdleResources()),
		Total:   int(s.TotalResources()),
		Pending: int(p.pending.Load()),
	}
}

// Close rejects waiting and future acquisitions, then blocks until every
// borrowed connection has been returned before closing them all.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closeCancel()
		p.pool.Close()

		var res = p.destroyErrs

		if err := p.db.Close(); err != nil {
			res = multierror.Append(res, err)
		}

		p.closeErr = res.ErrorOrNil()
	})

	return p.closeErr
}
