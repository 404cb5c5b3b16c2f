package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/formatter"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/pipeline"
	"github.com/kyleking/insight-query/internal/warehouse"
)

const defaultCaller = "cli"

type queryOptions struct {
	caller  string
	execute bool
	format  formatter.OutputFormat
	color   bool
	// progress shows a spinner on stderr while the warehouse runs
	progress bool
}

func QueryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Classify a request and generate (optionally execute) its SQL",
		Description: `Classify a natural-language analytics request, build a SELECT over the
registered catalog and print it. Misspelled tables and columns are corrected when
the edit distance is small enough; otherwise a clarification is printed.

Examples:
  insight-query --catalog catalog.yaml query "Show me total sales by region"
  insight-query --warehouse shop.duckdb --introspect query --execute "top 5 sales by amount"`,
		ArgsUsage: " <request>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "caller", Usage: "Caller identity used for rate limiting and audit (default $USER)"},
			&cli.BoolFlag{Name: "execute", Aliases: []string{"x"}, Usage: "Run the generated query against the warehouse"},
			&cli.StringFlag{Name: "format", Value: string(formatter.FormatShort), Usage: "Output format: short or long"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			raw := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if raw == "" {
				return fmt.Errorf("expected a request argument")
			}

			format, err := formatter.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			execute := cmd.Bool("execute")

			env, err := newEnvironment(ctx, cfg, execute)
			if err != nil {
				return err
			}
			defer env.Close()

			return runQuery(ctx, env, writer(cmd), raw, queryOptions{
				caller:   callerIdentity(cmd.String("caller")),
				execute:  execute,
				format:   format,
				color:    isTerminal(os.Stdout),
				progress: isTerminal(os.Stderr),
			})
		},
	}
}

func runQuery(ctx context.Context, env *environment, w io.Writer, raw string, opts queryOptions) error {
	logger := logging.WithField("caller", opts.caller)
	f := formatter.NewFormatter(formatter.WithColor(opts.color))

	res, err := env.pipeline.ClassifyAndGenerate(ctx, raw, opts.caller)
	if err != nil {
		return err
	}

	logger.WithField("request_id", res.RequestID).Debugf("classified as %s", res.Intent.Strategy)

	fmt.Fprintln(w, f.FormatResult(res, opts.format))

	if !opts.execute || res.Plan == nil {
		return nil
	}

	if env.warehouse == nil {
		return errors.New(errors.ErrTypeConfig, "no warehouse configured").
			WithSuggestion("Pass --warehouse <db> to execute queries")
	}

	rs, ran, err := executeWithProgress(ctx, env, opts.caller, res, opts.progress)
	if err != nil {
		return err
	}

	// the warehouse schema drifted and the query was rebuilt
	if ran != res {
		fmt.Fprintln(w)
		fmt.Fprintln(w, f.FormatResult(ran, opts.format))
	}

	if rs == nil {
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, f.FormatRows(rs, opts.format))

	return nil
}

func executeWithProgress(ctx context.Context, env *environment, caller string, res *pipeline.Result, progress bool) (*warehouse.ResultSet, *pipeline.Result, error) {
	if progress {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
			spinner.WithWriter(os.Stderr),
			spinner.WithSuffix(" executing query"))
		s.Start()
		defer s.Stop()
	}

	return env.pipeline.Execute(ctx, caller, res, env.warehouse)
}

func callerIdentity(flag string) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}

	if user := os.Getenv("USER"); user != "" {
		return user
	}

	return defaultCaller
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
