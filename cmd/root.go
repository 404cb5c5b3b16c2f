package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/logging"
)

const appName = "insight-query"

// NewApp builds the command tree. Global flags are persistent so they may
// appear before or after the subcommand.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  appName,
		Usage: "Turn natural-language analytics requests into validated, read-only SQL",
		Description: `insight-query classifies a free-text analytics request, synthesizes a SELECT
statement constrained to a registered table catalog, auto-corrects misspelled
identifiers and validates the result before anything reaches the warehouse.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "catalog", Usage: "YAML catalog of table descriptors"},
			&cli.StringFlag{Name: "warehouse", Usage: "DuckDB database file (empty for in-memory)"},
			&cli.BoolFlag{Name: "introspect", Usage: "Load the catalog from the warehouse information_schema"},
			&cli.BoolFlag{Name: "no-cache", Usage: "Skip the introspected catalog cache"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.StringFlag{Name: "log-format", Usage: "Log format: text or json"},
		},
		Commands: []*cli.Command{
			QueryCommand(),
			ValidateCommand(),
			TablesCommand(),
			ConfigCommand(),
		},
	}
}

func Execute() error {
	ctx := context.Background()

	err := NewApp().Run(ctx, os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	if structErr, ok := errors.As(err); ok {
		for _, s := range structErr.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

var stringOverrides = []string{"catalog", "warehouse", "log-level", "log-format"}

var boolOverrides = []string{"introspect", "no-cache"}

// flagOverrides collects the global flags the user actually passed
func flagOverrides(cmd *cli.Command) map[string]interface{} {
	overrides := make(map[string]interface{})

	for _, name := range stringOverrides {
		if v := cmd.String(name); v != "" {
			overrides[name] = v
		}
	}

	for _, name := range boolOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	return overrides
}

// loadConfig layers file, environment and flags, then initializes logging
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigWithOverrides(flagOverrides(cmd))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration").
			WithSuggestion("Run 'insight-query config' to inspect the active settings")
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.Warnf("falling back to default logger: %v", err)
	}

	return cfg, nil
}

func writer(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}

	return os.Stdout
}
