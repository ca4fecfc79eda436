// SPDX-License-Identifier: Apache-2.0

package lint

import (
	"fmt"
	"time"

	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/script"
	"github.com/kaaveland/eugene/pkg/sqlast"
)

// Run statically analyzes one segmented script and assembles its report.
// Statements are folded in order: rules see the context as it was before
// their statement, then the context absorbs the statement.
func Run(s script.Script, globalIgnores []string) report.Report {
	startTime := time.Now()
	ctx := NewContext()

	results := make([]report.StatementResult, 0, len(s.Statements))
	for _, stmt := range s.Statements {
		result := report.StatementResult{
			Index:        stmt.Index,
			SQL:          stmt.SQL,
			LineNumber:   stmt.LineNumber,
			IgnoredRules: stmt.IgnoredRules,
			IgnoreAll:    stmt.IgnoreAll,
		}

		semantic, err := lower(stmt)
		if err != nil {
			result.Triggers = []report.Trigger{{
				RuleID:         "parse_error",
				Message:        fmt.Sprintf("statement %d could not be parsed: %v", stmt.Index, err),
				StatementIndex: stmt.Index,
			}}
			results = append(results, result)
			continue
		}

		result.Triggers = Evaluate(semantic, stmt.Index, ctx)
		ctx.Update(semantic, stmt.Index)
		results = append(results, result)
	}

	// E15 can only be decided once the whole script is known: an index
	// created later satisfies an earlier foreign key.
	for _, t := range checkMissingForeignKeyIndexes(ctx) {
		for i := range results {
			if results[i].Index == t.StatementIndex {
				results[i].Triggers = append(results[i].Triggers, t)
			}
		}
	}

	return report.Assemble(s.Name, startTime, results, globalIgnores)
}

// Evaluate runs every rule against a statement, in ascending rule-ID order.
func Evaluate(semantic sqlast.Statement, index int, ctx *Context) []report.Trigger {
	var triggers []report.Trigger
	for _, rule := range rules {
		triggers = append(triggers, rule.check(semantic, index, ctx)...)
	}
	return triggers
}

func lower(stmt script.Statement) (sqlast.Statement, error) {
	if stmt.Err != nil {
		return nil, stmt.Err
	}
	return sqlast.Lower(stmt.SQL)
}
