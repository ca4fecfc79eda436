// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the eugene version
var Version = "development"

func init() {
	viper.SetEnvPrefix("EUGENE")
	viper.AutomaticEnv()
}

var rootCmd = &cobra.Command{
	Use:          "eugene",
	Short:        "Careful with that lock, Eugene: analyze SQL migration scripts for dangerous locks",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(lintCmd())
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(hintsCmd())

	return rootCmd.Execute()
}
