package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/agnosticeng/agnostic-sql-proxy/cmd/probe"
	"github.com/agnosticeng/agnostic-sql-proxy/cmd/serve"
	"github.com/agnosticeng/panicsafe"
	"github.com/agnosticeng/slogcli"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:   "agnostic-sql-proxy",
		Flags:  slogcli.SlogFlags(),
		Before: slogcli.SlogBefore,
		Commands: []*cli.Command{
			serve.Command(),
			probe.Command(),
		},
	}

	var err = panicsafe.Recover(func() error { return app.Run(os.Args) })

	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		os.Exit(1)
	}
}
