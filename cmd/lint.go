// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kaaveland/eugene/cmd/flags"
	"github.com/kaaveland/eugene/pkg/lint"
	"github.com/kaaveland/eugene/pkg/render"
	"github.com/kaaveland/eugene/pkg/report"
)

func lintCmd() *cobra.Command {
	var ignores []string
	var vars []string

	lintCmd := &cobra.Command{
		Use:   "lint <path> [path ...]",
		Short: "Statically check SQL migration scripts for dangerous lock patterns",
		Long: `Parse the given migration scripts and check each statement against the
rule catalog without connecting to a database. Directories are expanded to
their .sql files, ordered by version prefix.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// scripts are independent; lint them in parallel, keeping
			// input order in the output
			reports := make([]report.Report, len(scripts))
			done := make(chan int, len(scripts))
			for i, s := range scripts {
				go func() {
					reports[i] = lint.Run(s, globalIgnores)
					done <- i
				}()
			}
			for range scripts {
				<-done
			}

			if err := render.Reports(os.Stdout, format, reports); err != nil {
				return operatorError(err)
			}

			for _, r := range reports {
				if !r.PassedAllChecks && !flags.AcceptFailures() {
					return failedChecksError()
				}
			}
			return nil
		},
	}

	flags.OutputFlags(lintCmd)
	lintCmd.Flags().StringArrayVar(&ignores, "ignore", nil, "Rule IDs to ignore in every statement (repeatable)")
	lintCmd.Flags().StringArrayVarP(&vars, "var", "V", nil, "Variable binding name=value for ${name} substitution (repeatable)")

	return lintCmd
}
