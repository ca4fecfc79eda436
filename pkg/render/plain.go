// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/kaaveland/eugene/pkg/report"
)

func renderPlain(w io.Writer, reports []report.Report) error {
	for _, r := range reports {
		if err := renderPlainReport(w, r); err != nil {
			return err
		}
	}
	return nil
}

func renderPlainReport(w io.Writer, r report.Report) error {
	verdict := pterm.Green("ok")
	if !r.PassedAllChecks {
		verdict = pterm.Red("failed")
	}
	if _, err := fmt.Fprintf(w, "%s: %s\n", pterm.Bold.Sprint(r.Name), verdict); err != nil {
		return err
	}

	if r.Error != "" {
		_, err := fmt.Fprintf(w, "  error: %s\n", r.Error)
		return err
	}

	for _, stmt := range r.Statements {
		if len(stmt.TriggeredRules) == 0 {
			continue
		}
		header := fmt.Sprintf("  statement %d, line %d:", stmt.StatementNumberInTransaction, stmt.LineNumber)
		if _, err := fmt.Fprintf(w, "%s\n    %s\n", header, condense(stmt.SQL)); err != nil {
			return err
		}
		for _, rule := range stmt.TriggeredRules {
			badge := pterm.Red(rule.ID)
			if strings.HasPrefix(rule.ID, "W") {
				badge = pterm.Yellow(rule.ID)
			}
			if _, err := fmt.Fprintf(w, "    %s %s: %s\n", badge, rule.Name, rule.Message); err != nil {
				return err
			}
			if rule.Workaround != "" {
				if _, err := fmt.Fprintf(w, "      workaround: %s\n", rule.Workaround); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// condense renders a statement on one line for terminal output.
func condense(sql string) string {
	fields := strings.Fields(sql)
	condensed := strings.Join(fields, " ")
	if len(condensed) > 100 {
		condensed = condensed[:97] + "..."
	}
	return condensed
}
