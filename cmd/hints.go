// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaaveland/eugene/pkg/hints"
)

func hintsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hints",
		Short: "Show the rule catalog as markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, hint := range hints.All() {
				detectors := "lint"
				switch {
				case hint.Lintable() && hint.Traceable():
					detectors = "lint, trace"
				case hint.Traceable():
					detectors = "trace"
				}

				fmt.Fprintf(os.Stdout, "## %s: %s\n\n", hint.ID, hint.Name)
				fmt.Fprintf(os.Stdout, "Triggered when: %s.\n\n", hint.Condition)
				fmt.Fprintf(os.Stdout, "Effect: %s.\n\n", hint.Effect)
				fmt.Fprintf(os.Stdout, "Workaround: %s.\n\n", hint.Workaround)
				fmt.Fprintf(os.Stdout, "Detected by: %s.\n\n", detectors)
			}
			return nil
		},
	}
}
