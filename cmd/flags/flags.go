// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Host() string {
	return viper.GetString("HOST")
}

func Port() int {
	return viper.GetInt("PORT")
}

func User() string {
	return viper.GetString("USER")
}

func Database() string {
	return viper.GetString("DATABASE")
}

func Format() string {
	return viper.GetString("FORMAT")
}

func ConfigFile() string {
	return viper.GetString("CONFIG")
}

func AcceptFailures() bool {
	return viper.GetBool("ACCEPT_FAILURES")
}

// PgConnectionFlags registers the connection flags trace-style commands use.
func PgConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "localhost", "Hostname of the postgres server")
	cmd.Flags().Int("port", 5432, "Port of the postgres server")
	cmd.Flags().StringP("user", "U", "postgres", "Username to connect as")
	cmd.Flags().StringP("database", "d", "postgres", "Database to connect to")

	viper.BindPFlag("HOST", cmd.Flags().Lookup("host"))
	viper.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	viper.BindPFlag("USER", cmd.Flags().Lookup("user"))
	viper.BindPFlag("DATABASE", cmd.Flags().Lookup("database"))
}

// OutputFlags registers the flags shared by every report-producing command.
func OutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "plain", "Output format: plain, json or markdown")
	cmd.Flags().Bool("accept-failures", false, "Exit successfully even when checks fail")
	cmd.Flags().String("config", ".eugene.yaml", "Path to an optional configuration file")

	viper.BindPFlag("FORMAT", cmd.Flags().Lookup("format"))
	viper.BindPFlag("ACCEPT_FAILURES", cmd.Flags().Lookup("accept-failures"))
	viper.BindPFlag("CONFIG", cmd.Flags().Lookup("config"))
}
