// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kaaveland/eugene/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var exit cmd.ExitError
		if errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, exit.Message)
			os.Exit(exit.Code)
		}
		os.Exit(cmd.ExitUsageError)
	}
}
