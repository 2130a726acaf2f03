package metrics

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
	"github.com/uber-go/tally/v4"
	promreporter "github.com/uber-go/tally/v4/prometheus"
	slogctx "github.com/veqryn/slog-context"
)

const Prefix = "agnostic_sql_proxy"

// NewRootScope builds the process scope reported to the default Prometheus
// registry, which promhttp.Handler serves.
func NewRootScope(ctx context.Context, interval time.Duration) (tally.Scope, io.Closer) {
	var logger = slogctx.FromCtx(ctx)

	var reporter = promreporter.NewReporter(promreporter.Options{
		OnRegisterError: func(err error) {
			logger.Log(ctx, -30, "failed to register metric", "error", err.Error())
		},
	})

	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:         Prefix,
		CachedReporter: reporter,
		Separator:      promreporter.DefaultSeparator,
	}, interval)
}

type PoolMetrics struct {
	Active  tally.Gauge
	Idle    tally.Gauge
	Total   tally.Gauge
	Pending tally.Gauge
}

func NewPoolMetrics(scope tally.Scope) *PoolMetrics {
	return &PoolMetrics{
		Active:  scope.Gauge("pool_active_connections"),
		Idle:    scope.Gauge("pool_idle_connections"),
		Total:   scope.Gauge("pool_total_connections"),
		Pending: scope.Gauge("pool_pending_requests"),
	}
}

func (m *PoolMetrics) Update(stats pool.Stats) {
	m.Active.Update(float64(stats.Active))
	m.Idle.Update(float64(stats.Idle))
	m.Total.Update(float64(stats.Total))
	m.Pending.Update(float64(stats.Pending))
}

type StatsSource interface {
	Stats() pool.Stats
}

type StatsReporterConfig struct {
	Interval time.Duration
}

func (conf StatsReporterConfig) WithDefaults() StatsReporterConfig {
	if conf.Interval <= 0 {
		conf.Interval = time.Second * 5
	}

	return conf
}

// RunPoolStatsReporter publishes the aggregated pool statistics of source
// every interval until ctx is done.
func RunPoolStatsReporter(
	ctx context.Context,
	scope tally.Scope,
	source StatsSource,
	conf StatsReporterConfig,
) error {
	var (
		logger  = slogctx.FromCtx(ctx)
		metrics = NewPoolMetrics(scope)
	)

	conf = conf.WithDefaults()

	logger.Debug("started")
	defer logger.Debug("stopped")

	for {
		var stats = source.Stats()

		metrics.Update(stats)
		logger.Log(
			ctx,
			slog.Level(-10),
			"pool stats",
			"active", stats.Active,
			"idle", stats.Idle,
			"total", stats.Total,
			"pending", stats.Pending,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(conf.Interval):
		}
	}
}
