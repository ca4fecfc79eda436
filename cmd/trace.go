// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaaveland/eugene/cmd/flags"
	"github.com/kaaveland/eugene/internal/pgpass"
	"github.com/kaaveland/eugene/pkg/db"
	"github.com/kaaveland/eugene/pkg/render"
	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/tracing"
)

func traceCmd() *cobra.Command {
	var ignores []string
	var vars []string
	var commit bool
	var quiet bool

	traceCmd := &cobra.Command{
		Use:   "trace <path> [path ...]",
		Short: "Run SQL migration scripts in a transaction and observe their effects",
		Long: `Execute every statement of the given scripts inside a transaction against
a live PostgreSQL server, snapshotting catalog state around each statement,
and check the observed locks, rewrites and catalog changes against the rule
catalog. Scripts roll back unless --commit is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			format, err := render.ParseFormat(flags.Format())
			if err != nil {
				return ExitError{Code: ExitUsageError, Message: err.Error()}
			}

			cfg, err := loadConfig(flags.ConfigFile())
			if err != nil {
				return operatorError(err)
			}
			variables, err := parseVariables(cfg, vars)
			if err != nil {
				return ExitError{Code: ExitUsageError, Message: err.Error()}
			}
			globalIgnores := append(cfg.Ignore, ignores...)

			paths, err := collectScriptPaths(args)
			if err != nil {
				return operatorError(err)
			}
			scripts, err := segmentScripts(paths, variables)
			if err != nil {
				return operatorError(err)
			}

			password, err := pgpass.Resolve(
				flags.Host(), fmt.Sprintf("%d", flags.Port()), flags.Database(), flags.User(),
			)
			if err != nil {
				return operatorError(err)
			}

			params := db.ConnectionParams{
				Host:     flags.Host(),
				Port:     flags.Port(),
				User:     flags.User(),
				Database: flags.Database(),
				Password: password,
			}
			conn, err := db.Connect(ctx, params.DSN())
			if err != nil {
				return operatorError(err)
			}
			defer conn.Close()

			logger := tracing.NewLogger()
			if quiet || format != render.FormatPlain {
				logger = tracing.NewNoopLogger()
			}

			// each script runs in its own transaction on the shared
			// single-connection handle, strictly one at a time
			reports := make([]report.Report, 0, len(scripts))
			for _, s := range scripts {
				reports = append(reports, tracing.Run(ctx, conn, s, tracing.Options{
					Commit:        commit,
					GlobalIgnores: globalIgnores,
					Logger:        logger,
				}))
			}

			if err := render.Reports(os.Stdout, format, reports); err != nil {
				return operatorError(err)
			}

			for _, r := range reports {
				if r.Error != "" {
					return operatorError(fmt.Errorf("script %s: %s", r.Name, r.Error))
				}
				if !r.PassedAllChecks && !flags.AcceptFailures() {
					return failedChecksError()
				}
			}
			return nil
		},
	}

	flags.PgConnectionFlags(traceCmd)
	flags.OutputFlags(traceCmd)
	traceCmd.Flags().StringArrayVar(&ignores, "ignore", nil, "Rule IDs to ignore in every statement (repeatable)")
	traceCmd.Flags().StringArrayVarP(&vars, "var", "V", nil, "Variable binding name=value for ${name} substitution (repeatable)")
	traceCmd.Flags().BoolVarP(&commit, "commit", "c", false, "Commit each script instead of rolling back")
	traceCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress logging")

	return traceCmd
}
