package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/security"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a SQL statement (or, with --input, request text) against the security policy",
		Description: `Without --input the argument is treated as a generated query: it must be a single
SELECT over tables in the allowed schemas. With --input it is treated as raw request
text and screened for injection patterns and mutating keywords.`,
		ArgsUsage: " <text>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "input", Usage: "Validate request text instead of SQL"},
			&cli.StringFlag{Name: "schemas", Usage: "Comma-separated allowed schemas (defaults to the policy)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("expected text to validate")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			policy := security.PolicyFromConfig(cfg)
			if s := cmd.String("schemas"); s != "" {
				policy = security.NewPolicy(security.Policy{
					MaxQueryLength:             policy.MaxQueryLength,
					RateLimitPerMinute:         policy.RateLimitPerMinute,
					AllowedSchemas:             strings.Split(s, ","),
					InjectionProtectionEnabled: policy.InjectionProtectionEnabled,
					DefaultSchema:              policy.DefaultSchema,
				})
			}

			return runValidate(ctx, writer(cmd), policy, text, cmd.Bool("input"))
		},
	}
}

func runValidate(ctx context.Context, w io.Writer, policy security.Policy, text string, input bool) error {
	if !input {
		if err := security.ValidateGeneratedQuery(text, policy.AllowedSchemas, policy.DefaultSchema); err != nil {
			return err
		}

		fmt.Fprintln(w, "OK: read-only query over allowed schemas")

		return nil
	}

	validator := security.NewValidator(policy, nil, audit.NewLoggerSink(logging.GetLogger()))

	normalized, err := validator.ValidateInput(ctx, defaultCaller, text)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "OK: %s\n", normalized)

	return nil
}
