// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/script"
	"github.com/kaaveland/eugene/pkg/sqlast"
)

// Options configure one trace session.
type Options struct {
	// Commit the transaction at end of script instead of rolling back.
	Commit bool
	// GlobalIgnores lists rule IDs suppressed for every statement.
	GlobalIgnores []string
	// Parameters are applied with SET LOCAL after the transaction opens.
	Parameters map[string]string
	// Logger reports progress; defaults to the noop logger.
	Logger Logger
}

// Run traces one script over its own transaction. The session owns a single
// connection for its entire lifetime: statements execute strictly in order,
// with a catalog snapshot before and after each one.
//
// On statement failure the transaction is rolled back, remaining statements
// are skipped and the script is reported as errored. At end of script the
// transaction rolls back unless Options.Commit is set.
func Run(ctx context.Context, db *sql.DB, s script.Script, opts Options) report.Report {
	logger := opts.Logger
	if logger == nil {
		logger = NewNoopLogger()
	}

	startTime := time.Now()

	conn, err := db.Conn(ctx)
	if err != nil {
		return report.Errored(s.Name, startTime, err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return report.Errored(s.Name, startTime, err)
	}

	logger.LogScriptStart(s.Name, len(s.Statements))

	r, err := trace(ctx, tx, s, startTime, opts, logger)
	if err != nil {
		tx.Rollback()
		return report.Errored(s.Name, startTime, err)
	}

	if opts.Commit {
		err = tx.Commit()
	} else {
		err = tx.Rollback()
	}
	if err != nil {
		return report.Errored(s.Name, startTime, err)
	}

	logger.LogScriptComplete(s.Name, r.PassedAllChecks)
	return r
}

func trace(ctx context.Context, tx *sql.Tx, s script.Script, startTime time.Time, opts Options, logger Logger) (report.Report, error) {
	if err := applyParameters(ctx, tx, opts.Parameters); err != nil {
		return report.Report{}, err
	}

	before, err := TakeSnapshot(ctx, tx)
	if err != nil {
		return report.Report{}, err
	}
	traceCtx := NewContext(before)

	results := make([]report.StatementResult, 0, len(s.Statements))
	for _, stmt := range s.Statements {
		if stmt.Err != nil {
			return report.Report{}, fmt.Errorf("statement %d at line %d: %w", stmt.Index, stmt.LineNumber, stmt.Err)
		}

		timeoutZero, err := lockTimeoutIsZero(ctx, tx)
		if err != nil {
			return report.Report{}, err
		}

		// a statement the lowering cannot handle still executes; rules
		// that need the semantic form skip it
		semantic, lowerErr := sqlast.Lower(stmt.SQL)
		if lowerErr != nil {
			semantic = sqlast.Other{Raw: stmt.SQL}
		}

		executionStart := time.Now()
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			return report.Report{}, fmt.Errorf("statement %d failed: %w", stmt.Index, err)
		}
		duration := time.Since(executionStart)

		after, err := TakeSnapshot(ctx, tx)
		if err != nil {
			return report.Report{}, err
		}

		exec := &StatementExecution{
			Statement:       stmt,
			Semantic:        semantic,
			Duration:        duration,
			LocksAtStart:    before.Locks,
			Diff:            Diff(before, after),
			LockTimeoutZero: timeoutZero,
			Before:          &before,
			After:           &after,
		}

		triggers := evaluateRules(exec, traceCtx)
		traceCtx.Absorb(exec)
		logger.LogStatement(stmt.Index, stmt.SQL, duration, len(triggers))

		results = append(results, statementResult(exec, triggers))
		before = after
	}

	// E15 needs the final catalog state: an index created by a later
	// statement satisfies an earlier foreign key.
	for _, t := range checkForeignKeyIndexes(traceCtx, &before) {
		for i := range results {
			if results[i].Index == t.StatementIndex {
				results[i].Triggers = append(results[i].Triggers, t)
			}
		}
	}

	return report.Assemble(s.Name, startTime, results, opts.GlobalIgnores), nil
}

func applyParameters(ctx context.Context, tx *sql.Tx, parameters map[string]string) error {
	for name, value := range parameters {
		stmt := fmt.Sprintf("SET LOCAL %s = %s", pq.QuoteIdentifier(name), pq.QuoteLiteral(value))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("setting %s: %w", name, err)
		}
	}
	return nil
}

// lockTimeoutIsZero reads the server's effective lock_timeout, which the
// tracer deliberately never overrides: it observes whatever the script sets.
func lockTimeoutIsZero(ctx context.Context, tx *sql.Tx) (bool, error) {
	var value string
	if err := tx.QueryRowContext(ctx, "SELECT current_setting('lock_timeout')").Scan(&value); err != nil {
		return false, err
	}
	for _, r := range value {
		if r >= '1' && r <= '9' {
			return false, nil
		}
	}
	return true, nil
}

func statementResult(exec *StatementExecution, triggers []report.Trigger) report.StatementResult {
	return report.StatementResult{
		Index:              exec.Statement.Index,
		SQL:                exec.Statement.SQL,
		LineNumber:         exec.Statement.LineNumber,
		Duration:           exec.Duration,
		LocksAtStart:       renderLocks(exec.LocksAtStart),
		NewLocksTaken:      renderLocks(exec.Diff.NewLocks),
		NewColumns:         renderColumns(exec.Diff.NewColumns),
		AlteredColumns:     renderColumnChanges(exec.Diff.AlteredColumns),
		NewConstraints:     renderConstraints(exec.Diff.NewConstraints),
		AlteredConstraints: renderConstraints(exec.Diff.AlteredConstraints),
		Triggers:           triggers,
		IgnoredRules:       exec.Statement.IgnoredRules,
		IgnoreAll:          exec.Statement.IgnoreAll,
	}
}

func renderLocks(locks []Lock) []report.Lock {
	rendered := make([]report.Lock, 0, len(locks))
	for _, lock := range locks {
		rendered = append(rendered, report.Lock{
			Schema:         lock.Schema,
			ObjectName:     lock.ObjectName,
			Mode:           lock.Mode.String(),
			Relkind:        lock.Relkind,
			OID:            lock.OID,
			MaybeDangerous: lock.Mode.IsDangerous(),
			BlockedQueries: lock.Mode.BlockedQueries(),
			BlockedDDL:     lock.Mode.BlockedDDL(),
		})
	}
	return rendered
}

func renderColumns(columns []Column) []report.Column {
	rendered := make([]report.Column, 0, len(columns))
	for _, column := range columns {
		rendered = append(rendered, renderColumn(column))
	}
	return rendered
}

func renderColumn(column Column) report.Column {
	return report.Column{
		Schema:   column.Schema,
		Table:    column.Table,
		Name:     column.Name,
		DataType: column.DataType,
		Nullable: column.Nullable,
	}
}

func renderColumnChanges(changes []ColumnChange) []report.ColumnChange {
	rendered := make([]report.ColumnChange, 0, len(changes))
	for _, change := range changes {
		rendered = append(rendered, report.ColumnChange{
			Before: renderColumn(change.Before),
			After:  renderColumn(change.After),
		})
	}
	return rendered
}

var constraintKinds = map[string]string{
	"c": "CHECK",
	"f": "FOREIGN KEY",
	"u": "UNIQUE",
	"p": "PRIMARY KEY",
	"x": "EXCLUSION",
	"t": "TRIGGER",
}

func renderConstraints(constraints []Constraint) []report.Constraint {
	rendered := make([]report.Constraint, 0, len(constraints))
	for _, constraint := range constraints {
		kind, ok := constraintKinds[constraint.Contype]
		if !ok {
			kind = "CONSTRAINT"
		}
		rendered = append(rendered, report.Constraint{
			Schema:     constraint.Schema,
			Table:      constraint.Table,
			Name:       constraint.Name,
			Kind:       kind,
			Valid:      constraint.Valid,
			Definition: constraint.Definition,
		})
	}
	return rendered
}
