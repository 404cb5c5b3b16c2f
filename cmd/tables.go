package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/insight-query/internal/cache"
	"github.com/kyleking/insight-query/internal/formatter"
)

func TablesCommand() *cli.Command {
	return &cli.Command{
		Name:        "tables",
		Usage:       "List the registered table catalog",
		Description: `Show every table the pipeline can query, from the catalog file and/or warehouse introspection.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: string(formatter.FormatShort), Usage: "Output format: short or long"},
			&cli.BoolFlag{Name: "refresh", Usage: "Drop the cached introspected catalog before loading"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := formatter.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Bool("refresh") && cfg.Catalog.Introspect && cfg.Cache.Enabled {
				c, err := cache.New(cfg.Cache.Directory, cfg.Cache.TTLDuration())
				if err != nil {
					return err
				}

				c.Invalidate(cache.Key(cfg.Warehouse.Path, cfg.Security.AllowedSchemas))
			}

			env, err := newEnvironment(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer env.Close()

			return runTables(writer(cmd), env, format, isTerminal(os.Stdout))
		},
	}
}

func runTables(w io.Writer, env *environment, format formatter.OutputFormat, color bool) error {
	f := formatter.NewFormatter(formatter.WithColor(color))

	fmt.Fprintln(w, f.FormatTables(env.registry.Tables(), format))

	return nil
}
