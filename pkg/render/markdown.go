// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/kaaveland/eugene/pkg/report"
)

func renderMarkdown(w io.Writer, reports []report.Report) error {
	for _, r := range reports {
		if err := renderMarkdownReport(w, r); err != nil {
			return err
		}
	}
	return nil
}

func renderMarkdownReport(w io.Writer, r report.Report) error {
	verdict := "✅ passed all checks"
	if !r.PassedAllChecks {
		verdict = "❌ failed checks"
	}
	if _, err := fmt.Fprintf(w, "# `%s`\n\n%s\n\n", r.Name, verdict); err != nil {
		return err
	}

	if r.Error != "" {
		_, err := fmt.Fprintf(w, "Script failed: %s\n\n", r.Error)
		return err
	}

	for _, stmt := range r.Statements {
		if _, err := fmt.Fprintf(w, "## Statement %d, line %d\n\n```sql\n%s;\n```\n\n",
			stmt.StatementNumberInTransaction, stmt.LineNumber, stmt.SQL); err != nil {
			return err
		}

		if len(stmt.NewLocksTaken) > 0 {
			if _, err := fmt.Fprint(w, "Locks taken:\n\n"); err != nil {
				return err
			}
			for _, lock := range stmt.NewLocksTaken {
				danger := ""
				if lock.MaybeDangerous {
					danger = fmt.Sprintf(", blocks `%s`", strings.Join(lock.BlockedQueries, "`, `"))
				}
				if _, err := fmt.Fprintf(w, "- `%s` on `%s.%s`%s\n", lock.Mode, lock.Schema, lock.ObjectName, danger); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return err
			}
		}

		if len(stmt.TriggeredRules) == 0 {
			if _, err := fmt.Fprint(w, "No rules triggered.\n\n"); err != nil {
				return err
			}
			continue
		}

		for _, rule := range stmt.TriggeredRules {
			if _, err := fmt.Fprintf(w, "### %s: %s\n\n%s\n\n", rule.ID, rule.Name, rule.Message); err != nil {
				return err
			}
			if rule.Effect != "" {
				if _, err := fmt.Fprintf(w, "Effect: %s.\n\n", rule.Effect); err != nil {
					return err
				}
			}
			if rule.Workaround != "" {
				if _, err := fmt.Fprintf(w, "Workaround: %s.\n\n", rule.Workaround); err != nil {
					return err
				}
			}
			if rule.Help != "" {
				if _, err := fmt.Fprintf(w, "%s\n\n", rule.Help); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
