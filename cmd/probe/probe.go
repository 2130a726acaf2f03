package probe

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/engine"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/statement"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/utils"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
)

var Flags = []cli.Flag{
	&cli.StringFlag{Name: "driver", Value: "postgres"},
	&cli.StringFlag{Name: "host", Value: "localhost"},
	&cli.IntFlag{Name: "port"},
	&cli.StringFlag{Name: "database"},
	&cli.StringFlag{Name: "username"},
	&cli.StringFlag{Name: "password", EnvVars: []string{"AGN_PROBE_PASSWORD"}},
	&cli.StringSliceFlag{Name: "property"},
	&cli.StringFlag{Name: "table"},
}

// Command opens a session the way the proxy would, then reports the server
// identification, the ping latency and the table metadata as JSON.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "check that a database is reachable through the proxy's session layer",
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			var (
				logger   = slogctx.FromCtx(ctx.Context)
				registry = session.NewRegistry(session.Config{})
				eng      = engine.NewEngine(registry, statement.NewCache(), engine.Config{})
			)

			defer registry.CloseAll(ctx.Context)

			s, err := eng.Connect(ctx.Context, session.ConnectParams{
				Driver:   ctx.String("driver"),
				PoolSize: 1,
				Params: dialect.Params{
					Host:       ctx.String("host"),
					Port:       ctx.Int("port"),
					Database:   ctx.String("database"),
					Username:   ctx.String("username"),
					Password:   ctx.String("password"),
					Properties: utils.ParseKeyValues(ctx.StringSlice("property"), "="),
				},
			})

			if err != nil {
				return err
			}

			latency, err := eng.Ping(ctx.Context, s.ID())

			if err != nil {
				return fmt.Errorf("failed to ping %s: %w", s.ID(), err)
			}

			tables, err := eng.Metadata(ctx.Context, engine.MetadataRequest{
				SessionID: s.ID(),
				TableName: ctx.String("table"),
			})

			if err != nil {
				return err
			}

			logger.Debug("probe succeeded", "session_id", s.ID(), "tables", len(tables))

			var enc = json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(map[string]any{
				"server_version": s.ServerVersion(),
				"latency_ms":     latency.Milliseconds(),
				"tables":         tables,
			})
		},
	}
}
