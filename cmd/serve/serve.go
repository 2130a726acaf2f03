package serve

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/api"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/engine"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/metrics"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/statement"
	"github.com/agnosticeng/cnf"
	"github.com/agnosticeng/cnf/providers/env"
	"github.com/agnosticeng/tallyctx"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	&cli.StringFlag{Name: "listen"},
	&cli.StringFlag{Name: "prom-addr"},
	&cli.StringFlag{Name: "default-driver"},
	&cli.IntFlag{Name: "pool-size"},
	&cli.DurationFlag{Name: "acquire-timeout"},
	&cli.IntFlag{Name: "fetch-size"},
	&cli.DurationFlag{Name: "stats-interval"},
}

type config struct {
	API      api.Config
	Session  session.Config
	Engine   engine.Config
	Stats    metrics.StatsReporterConfig
	PromAddr string
}

func (conf config) WithDefaults() config {
	conf.API = conf.API.WithDefaults()
	conf.Session = conf.Session.WithDefaults()
	conf.Engine = conf.Engine.WithDefaults()
	conf.Stats = conf.Stats.WithDefaults()

	if len(conf.PromAddr) == 0 {
		conf.PromAddr = ":9090"
	}

	return conf
}

func applyFlags(ctx *cli.Context, conf config) config {
	if ctx.IsSet("listen") {
		conf.API.Addr = ctx.String("listen")
	}

	if ctx.IsSet("prom-addr") {
		conf.PromAddr = ctx.String("prom-addr")
	}

	if ctx.IsSet("default-driver") {
		conf.Session.DefaultDriver = ctx.String("default-driver")
	}

	if ctx.IsSet("pool-size") {
		conf.Session.Pool.MaxSize = ctx.Int("pool-size")
	}

	if ctx.IsSet("acquire-timeout") {
		conf.Session.Pool.AcquireTimeout = ctx.Duration("acquire-timeout")
	}

	if ctx.IsSet("fetch-size") {
		conf.Engine.DefaultFetchSize = ctx.Int("fetch-size")
	}

	if ctx.IsSet("stats-interval") {
		conf.Stats.Interval = ctx.Duration("stats-interval")
	}

	return conf
}

func Command() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			var (
				logger = slogctx.FromCtx(ctx.Context)
				cfg    config
			)

			if err := cnf.Load(
				&cfg,
				cnf.WithProvider(env.NewEnvProvider("AGN")),
			); err != nil {
				return err
			}

			cfg = applyFlags(ctx, cfg).WithDefaults()

			var serveCtx, serveCancel = signal.NotifyContext(ctx.Context, syscall.SIGTERM, syscall.SIGINT)
			defer serveCancel()

			scope, scopeCloser := metrics.NewRootScope(serveCtx, time.Second)
			defer scopeCloser.Close()

			serveCtx = tallyctx.NewContext(serveCtx, scope)

			var (
				registry   = session.NewRegistry(cfg.Session)
				statements = statement.NewCache()
				eng        = engine.NewEngine(registry, statements, cfg.Engine)
				server     = api.NewServer(eng, cfg.API)
				promServer = &http.Server{
					Addr:              cfg.PromAddr,
					Handler:           promhttp.Handler(),
					ReadHeaderTimeout: cfg.API.ReadHeaderTimeout,
				}
			)

			registry.OnClose(statements.CloseSession)

			var group, groupCtx = errgroup.WithContext(serveCtx)

			group.Go(func() error {
				return server.Run(slogctx.With(groupCtx, "module", "api"))
			})

			group.Go(func() error {
				return metrics.RunPoolStatsReporter(
					slogctx.With(groupCtx, "module", "pool_stats"),
					scope,
					eng,
					cfg.Stats,
				)
			})

			group.Go(func() error {
				if err := promServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}

				return nil
			})

			group.Go(func() error {
				<-groupCtx.Done()
				return promServer.Shutdown(context.WithoutCancel(groupCtx))
			})

			var err = group.Wait()

			logger.Info("closing sessions", "count", registry.Len())

			if closeErr := registry.CloseAll(context.WithoutCancel(serveCtx)); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}

			return err
		},
	}
}
