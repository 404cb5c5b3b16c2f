package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the raw configuration as JSON"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			return runConfig(writer(cmd), cfg, cmd.Bool("json"))
		},
	}
}

func runConfig(w io.Writer, cfg *config.Config, raw bool) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	if raw {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(data))

		return nil
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nSecurity:")
	fmt.Fprintf(w, "  Max Query Length: %d\n", cfg.Security.MaxQueryLength)
	fmt.Fprintf(w, "  Rate Limit: %d/minute\n", cfg.Security.RateLimitPerMinute)
	fmt.Fprintf(w, "  Allowed Schemas: %s\n", strings.Join(cfg.Security.AllowedSchemas, ", "))
	fmt.Fprintf(w, "  Injection Protection: %t\n", cfg.Security.InjectionProtection)

	fmt.Fprintln(w, "\nClassifier:")
	fmt.Fprintf(w, "  Confidence: base %.2f, cue +%.2f, table +%.2f, max %.2f\n",
		cfg.Classifier.BaseConfidence, cfg.Classifier.CueWeight,
		cfg.Classifier.TableWeight, cfg.Classifier.MaxConfidence)
	fmt.Fprintf(w, "  Default Top Limit: %d\n", cfg.Classifier.DefaultTopLimit)

	fmt.Fprintln(w, "\nCorrection:")
	fmt.Fprintf(w, "  Max Attempts: %d\n", cfg.Correction.MaxAttempts)
	fmt.Fprintf(w, "  Threshold: max(%d, len/%d)\n", cfg.Correction.MinThreshold, cfg.Correction.LengthDivisor)

	fmt.Fprintln(w, "\nCatalog:")
	fmt.Fprintf(w, "  File: %s\n", valueOrNone(cfg.Catalog.File))
	fmt.Fprintf(w, "  Default Schema: %s\n", cfg.Catalog.DefaultSchema)
	fmt.Fprintf(w, "  Introspect: %t\n", cfg.Catalog.Introspect)

	fmt.Fprintln(w, "\nWarehouse:")
	fmt.Fprintf(w, "  Path: %s\n", valueOr(cfg.Warehouse.Path, "(in-memory)"))
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Warehouse.MaxConnections)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Warehouse.QueryTimeout)
	fmt.Fprintf(w, "  Retry Attempts: %d\n", cfg.Warehouse.RetryAttempts)
	fmt.Fprintf(w, "  Max Rows: %d\n", cfg.Warehouse.MaxRows)

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "  Directory: %s\n", cfg.Cache.Directory)
	fmt.Fprintf(w, "  TTL: %s\n", cfg.Cache.TTL)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	return nil
}

func valueOrNone(s string) string {
	return valueOr(s, "(none)")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}

	return s
}
