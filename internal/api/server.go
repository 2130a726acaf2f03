package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/engine"
	slogctx "github.com/veqryn/slog-context"
)

type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (conf Config) WithDefaults() Config {
	if len(conf.Addr) == 0 {
		conf.Addr = ":50051"
	}

	if conf.ReadHeaderTimeout <= 0 {
		conf.ReadHeaderTimeout = time.Second * 10
	}

	if conf.ShutdownTimeout <= 0 {
		conf.ShutdownTimeout = time.Second * 30
	}

	return conf
}

type Server struct {
	conf   Config
	engine *engine.Engine
	mux    *http.ServeMux
}

func NewServer(e *engine.Engine, conf Config) *Server {
	var s = &Server{
		conf:   conf.WithDefaults(),
		engine: e,
		mux:    http.NewServeMux(),
	}

	s.route("POST /v1/connect", "connect", s.connect)
	s.route("POST /v1/disconnect", "disconnect", s.disconnect)
	s.route("POST /v1/ping", "ping", s.ping)
	s.route("POST /v1/query", "query", s.query)
	s.route("POST /v1/update", "update", s.update)
	s.route("POST /v1/batch", "batch", s.batch)
	s.route("POST /v1/prepare", "prepare", s.prepare)
	s.route("POST /v1/execute-prepared", "execute_prepared", s.executePrepared)
	s.route("POST /v1/close-prepared", "close_prepared", s.closePrepared)
	s.route("POST /v1/begin", "begin", s.begin)
	s.route("POST /v1/commit", "commit", s.commit)
	s.route("POST /v1/rollback", "rollback", s.rollback)
	s.route("POST /v1/metadata", "metadata", s.metadata)
	s.route("GET /v1/stats", "stats", s.stats)
	s.route("GET /healthz", "healthz", s.healthz)

	return s
}

func (s *Server) route(pattern string, method string, h handlerFunc) {
	s.mux.Handle(pattern, wrap(method, h))
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is done, then drains in-flight requests. Request
// contexts inherit ctx values (logger, metrics scope) but not its
// cancellation.
func (s *Server) Run(ctx context.Context) error {
	var (
		logger = slogctx.FromCtx(ctx)
		errch  = make(chan error, 1)
		srv    = &http.Server{
			Addr:              s.conf.Addr,
			Handler:           s.mux,
			ReadHeaderTimeout: s.conf.ReadHeaderTimeout,
			BaseContext: func(net.Listener) context.Context {
				return context.WithoutCancel(ctx)
			},
		}
	)

	go func() { errch <- srv.ListenAndServe() }()

	logger.Info("listening", "addr", s.conf.Addr)

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.conf.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errch; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
