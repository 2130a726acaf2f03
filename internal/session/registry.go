package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
	"github.com/agnosticeng/tallyctx"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

// DriverProperty selects the dialect of a session when present in the
// connection properties. It is not forwarded to the driver.
const DriverProperty = "driver"

type Config struct {
	DefaultDriver string
	Pool          pool.Config
}

func (conf Config) WithDefaults() Config {
	if len(conf.DefaultDriver) == 0 {
		conf.DefaultDriver = "postgres"
	}

	conf.Pool = conf.Pool.WithDefaults()
	return conf
}

type ConnectParams struct {
	dialect.Params
	Driver   string
	PoolSize int
}

type RegistryMetrics struct {
	Sessions tally.Gauge
	Opened   tally.Counter
	Closed   tally.Counter
	Failed   tally.Counter
}

func NewRegistryMetrics(scope tally.Scope) *RegistryMetrics {
	return &RegistryMetrics{
		Sessions: scope.Gauge("active_sessions"),
		Opened:   scope.Counter("sessions_opened"),
		Closed:   scope.Counter("sessions_closed"),
		Failed:   scope.Counter("sessions_failed"),
	}
}

// CloseHook runs while a session is being closed, after its transaction has
// been rolled back and before its pool is closed.
type CloseHook func(ctx context.Context, sessionID string) error

type Registry struct {
	conf     Config
	counter  atomic.Int64
	lock     sync.RWMutex
	sessions map[string]*Session
	hooks    []CloseHook
}

func NewRegistry(conf Config) *Registry {
	return &Registry{
		conf:     conf.WithDefaults(),
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) OnClose(hook CloseHook) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.hooks = append(r.hooks, hook)
}

// Open creates a pool for params and registers a new session owning it. The
// pool is validated before the session becomes visible.
func (r *Registry) Open(ctx context.Context, params ConnectParams) (*Session, error) {
	var (
		logger   = slogctx.FromCtx(ctx)
		metrics  = NewRegistryMetrics(tallyctx.FromContextOrNoop(ctx))
		driver   = params.Driver
		poolConf = r.conf.Pool
	)

	if v, ok := params.Properties[DriverProperty]; ok {
		if len(driver) == 0 {
			driver = v
		}

		params.Properties = maps.Clone(params.Properties)
		delete(params.Properties, DriverProperty)
	}

	if len(driver) == 0 {
		driver = r.conf.DefaultDriver
	}

	d, err := dialect.Get(driver)

	if err != nil {
		return nil, err
	}

	if params.PoolSize > 0 {
		poolConf.MaxSize = params.PoolSize
	}

	p, err := pool.Open(ctx, d, params.Params, poolConf)

	if err != nil {
		metrics.Failed.Inc(1)
		return nil, err
	}

	var s = &Session{
		id:   fmt.Sprintf("conn_%d", r.counter.Add(1)),
		pool: p,
	}

	r.lock.Lock()
	r.sessions[s.id] = s
	var n = len(r.sessions)
	r.lock.Unlock()

	metrics.Opened.Inc(1)
	metrics.Sessions.Update(float64(n))

	logger.Info(
		"session opened",
		"session_id", s.id,
		"driver", d.Name(),
		"host", params.Host,
		"database", params.Database,
		"pool_size", poolConf.MaxSize,
		"server_version", p.ServerVersion(),
	)

	return s, nil
}

func (r *Registry) Lookup(id string) (*Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	s, ok := r.sessions[id]

	if !ok {
		return nil, errs.SessionNotFound(id)
	}

	return s, nil
}

// Close removes the session, rolls back its open transaction, runs the close
// hooks and closes its pool. Calls still running on the session fail once
// their connection is needed.
func (r *Registry) Close(ctx context.Context, id string) error {
	var (
		logger  = slogctx.FromCtx(ctx)
		metrics = NewRegistryMetrics(tallyctx.FromContextOrNoop(ctx))
	)

	r.lock.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n, hooks := len(r.sessions), r.hooks
	r.lock.Unlock()

	if !ok {
		return errs.SessionNotFound(id)
	}

	metrics.Closed.Inc(1)
	metrics.Sessions.Update(float64(n))

	var res *multierror.Error

	if err := s.close(ctx); err != nil {
		res = multierror.Append(res, err)
	}

	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			res = multierror.Append(res, err)
		}
	}

	if err := s.pool.Close(); err != nil {
		res = multierror.Append(res, fmt.Errorf("failed to close pool: %w", err))
	}

	if err := res.ErrorOrNil(); err != nil {
		logger.Warn("session closed with errors", "session_id", id, "error", err.Error())
		return err
	}

	logger.Info("session closed", "session_id", id)
	return nil
}

// CloseAll closes every registered session concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	var group errgroup.Group

	for _, id := range r.IDs() {
		group.Go(func() error {
			if err := r.Close(ctx, id); err != nil && !errors.Is(err, errs.ErrHandleNotFound) {
				return err
			}

			return nil
		})
	}

	return group.Wait()
}

func (r *Registry) IDs() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return lo.Keys(r.sessions)
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.sessions)
}

// Stats sums the pool statistics of every session.
func (r *Registry) Stats() pool.Stats {
	r.lock.RLock()
	var sessions = lo.Values(r.sessions)
	r.lock.RUnlock()

	return lo.Reduce(sessions, func(acc pool.Stats, s *Session, _ int) pool.Stats {
		return acc.Add(s.pool.Stats())
	}, pool.Stats{})
}
