// SPDX-License-Identifier: Apache-2.0

// Package report assembles per-statement rule triggers into the report that
// renderers consume. Field names on the JSON form are a stable contract.
package report

import (
	"sort"
	"time"

	"github.com/kaaveland/eugene/pkg/hints"
)

// Report is the result of analyzing one script.
type Report struct {
	Name                string      `json:"name"`
	StartTime           time.Time   `json:"start_time"`
	TotalDurationMillis int64       `json:"total_duration_millis"`
	PassedAllChecks     bool        `json:"passed_all_checks"`
	Statements          []Statement `json:"statements"`
	// Error is set when the script failed before or during analysis, such as
	// a database error during tracing. A script with an Error never passes.
	Error string `json:"error,omitempty"`
}

// Statement is the per-statement section of a report.
type Statement struct {
	StatementNumberInTransaction int             `json:"statement_number_in_transaction"`
	SQL                          string          `json:"sql"`
	LineNumber                   int             `json:"line_number"`
	DurationMillis               int64           `json:"duration_millis"`
	LocksAtStart                 []Lock          `json:"locks_at_start"`
	NewLocksTaken                []Lock          `json:"new_locks_taken"`
	NewColumns                   []Column        `json:"new_columns"`
	AlteredColumns               []ColumnChange  `json:"altered_columns"`
	NewConstraints               []Constraint    `json:"new_constraints"`
	AlteredConstraints           []Constraint    `json:"altered_constraints"`
	TriggeredRules               []TriggeredRule `json:"triggered_rules"`
}

// Lock is a lock held or taken by the traced transaction.
type Lock struct {
	Schema         string   `json:"schema"`
	ObjectName     string   `json:"object_name"`
	Mode           string   `json:"mode"`
	Relkind        string   `json:"relkind"`
	OID            uint32   `json:"oid"`
	MaybeDangerous bool     `json:"maybe_dangerous"`
	BlockedQueries []string `json:"blocked_queries"`
	BlockedDDL     []string `json:"blocked_ddl"`
}

// Column describes a column observed by the tracer.
type Column struct {
	Schema   string `json:"schema"`
	Table    string `json:"table"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// ColumnChange pairs the before and after state of an altered column.
type ColumnChange struct {
	Before Column `json:"before"`
	After  Column `json:"after"`
}

// Constraint describes a constraint observed by the tracer.
type Constraint struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Valid      bool   `json:"valid"`
	Definition string `json:"definition"`
}

// TriggeredRule is one rule trigger, combined with its catalog metadata.
type TriggeredRule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Condition  string `json:"condition"`
	Effect     string `json:"effect"`
	Workaround string `json:"workaround"`
	Help       string `json:"help"`
	Message    string `json:"message"`
}

// Trigger is a single application of a rule to a statement, before catalog
// metadata is attached.
type Trigger struct {
	RuleID         string
	Message        string
	Help           string
	StatementIndex int
}

// StatementResult carries everything an analyzer observed about a statement.
// Lint results leave the tracer-only fields zero.
type StatementResult struct {
	Index              int
	SQL                string
	LineNumber         int
	Duration           time.Duration
	LocksAtStart       []Lock
	NewLocksTaken      []Lock
	NewColumns         []Column
	AlteredColumns     []ColumnChange
	NewConstraints     []Constraint
	AlteredConstraints []Constraint
	Triggers           []Trigger

	IgnoredRules []string
	IgnoreAll    bool
}

func (r StatementResult) ignores(ruleID string) bool {
	if r.IgnoreAll {
		return true
	}
	for _, id := range r.IgnoredRules {
		if id == ruleID {
			return true
		}
	}
	return false
}

// Assemble filters triggers by inline and global ignore directives, attaches
// rule metadata and computes the overall verdict: a report passes iff no
// surviving trigger has an E-prefixed ID.
func Assemble(name string, startTime time.Time, results []StatementResult, globalIgnores []string) Report {
	ignored := make(map[string]bool, len(globalIgnores))
	for _, id := range globalIgnores {
		ignored[id] = true
	}

	report := Report{
		Name:            name,
		StartTime:       startTime,
		PassedAllChecks: true,
		Statements:      make([]Statement, 0, len(results)),
	}

	var total time.Duration
	for _, result := range results {
		total += result.Duration

		stmt := Statement{
			StatementNumberInTransaction: result.Index,
			SQL:                          result.SQL,
			LineNumber:                   result.LineNumber,
			DurationMillis:               result.Duration.Milliseconds(),
			LocksAtStart:                 result.LocksAtStart,
			NewLocksTaken:                result.NewLocksTaken,
			NewColumns:                   result.NewColumns,
			AlteredColumns:               result.AlteredColumns,
			NewConstraints:               result.NewConstraints,
			AlteredConstraints:           result.AlteredConstraints,
		}

		triggers := append([]Trigger(nil), result.Triggers...)
		sort.SliceStable(triggers, func(i, j int) bool {
			return hints.Less(triggers[i].RuleID, triggers[j].RuleID)
		})
		for _, trigger := range triggers {
			if ignored[trigger.RuleID] || result.ignores(trigger.RuleID) {
				continue
			}
			stmt.TriggeredRules = append(stmt.TriggeredRules, renderTrigger(trigger))
			if hint, ok := hints.ByID(trigger.RuleID); !ok || hint.IsError() {
				report.PassedAllChecks = false
			}
		}

		report.Statements = append(report.Statements, stmt)
	}

	report.TotalDurationMillis = total.Milliseconds()
	return report
}

// Errored builds a report for a script that failed before analysis finished.
func Errored(name string, startTime time.Time, err error) Report {
	return Report{
		Name:            name,
		StartTime:       startTime,
		PassedAllChecks: false,
		Error:           err.Error(),
	}
}

func renderTrigger(trigger Trigger) TriggeredRule {
	rendered := TriggeredRule{
		ID:      trigger.RuleID,
		Message: trigger.Message,
		Help:    trigger.Help,
	}
	if hint, ok := hints.ByID(trigger.RuleID); ok {
		rendered.Name = hint.Name
		rendered.Condition = hint.Condition
		rendered.Effect = hint.Effect
		rendered.Workaround = hint.Workaround
	}
	return rendered
}
