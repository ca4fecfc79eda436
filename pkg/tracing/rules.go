// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"fmt"

	"github.com/kaaveland/eugene/pkg/lockmodes"
	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/sqlast"
)

// traceRule evaluates one rule against an executed statement and the
// accumulated context.
type traceRule func(exec *StatementExecution, ctx *Context) []report.Trigger

// traceRules lists every trace rule in ascending rule-ID order.
var traceRules = []struct {
	id    string
	check traceRule
}{
	{"E1", traceConstraintAddedAsValid},
	{"E2", traceNotNullWithoutCheck},
	{"E3", traceJSONColumn},
	{"E4", traceStatementAfterAccessExclusive},
	{"E5", traceTypeChangeRewrite},
	{"E6", traceNonConcurrentIndex},
	{"E7", traceUniqueConstraintWithIndex},
	{"E8", traceExclusionConstraint},
	{"E9", traceDangerousLockWithoutTimeout},
	{"E10", traceRewriteUnderDangerousLock},
	{"E11", traceSerialColumn},
	{"W12", traceRepeatedAlterTable},
	{"W13", traceEnumCreation},
	{"W14", tracePrimaryKeyUsingIndex},
}

func traceTrigger(id string, exec *StatementExecution, message, help string) report.Trigger {
	return report.Trigger{
		RuleID:         id,
		Message:        message,
		Help:           help,
		StatementIndex: exec.Statement.Index,
	}
}

// evaluateRules runs every trace rule against a statement execution.
func evaluateRules(exec *StatementExecution, ctx *Context) []report.Trigger {
	var triggers []report.Trigger
	for _, rule := range traceRules {
		triggers = append(triggers, rule.check(exec, ctx)...)
	}
	return triggers
}

func qualified(schema, name string) string {
	if schema == "" {
		schema = "public"
	}
	return schema + "." + name
}

// E1: a new CHECK or FOREIGN KEY constraint appeared already validated on a
// table other backends can see.
func traceConstraintAddedAsValid(exec *StatementExecution, ctx *Context) []report.Trigger {
	var triggers []report.Trigger
	for _, constraint := range exec.Diff.NewConstraints {
		if !constraint.Valid || (constraint.Contype != "c" && constraint.Contype != "f") {
			continue
		}
		if !ctx.PreExisting(constraint.Schema, constraint.Table) {
			continue
		}
		name := qualified(constraint.Schema, constraint.Table)
		triggers = append(triggers, traceTrigger("E1", exec,
			fmt.Sprintf("New constraint %s on %s is already VALID: %s", constraint.Name, name, constraint.Definition),
			fmt.Sprintf("Add the constraint as NOT VALID, then run `ALTER TABLE %s VALIDATE CONSTRAINT %s` in a later transaction", name, constraint.Name),
		))
	}
	return triggers
}

// E2: a column on a pre-existing table went from nullable to NOT NULL, or
// appeared as NOT NULL, without a validated CHECK backing it up.
func traceNotNullWithoutCheck(exec *StatementExecution, ctx *Context) []report.Trigger {
	var triggers []report.Trigger

	flag := func(column Column) {
		if !ctx.PreExisting(column.Schema, column.Table) || ctx.HasValidatedNotNull(column) {
			return
		}
		name := qualified(column.Schema, column.Table)
		constraint := fmt.Sprintf("%s_%s_not_null", column.Table, column.Name)
		triggers = append(triggers, traceTrigger("E2", exec,
			fmt.Sprintf("Column %s on %s was made NOT NULL without a validated CHECK constraint", column.Name, name),
			fmt.Sprintf("Run `ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID`, validate it in a later transaction, then set NOT NULL", name, constraint, column.Name),
		))
	}

	for _, change := range exec.Diff.AlteredColumns {
		if change.Before.Nullable && !change.After.Nullable {
			flag(change.After)
		}
	}
	for _, column := range exec.Diff.NewColumns {
		if !column.Nullable && !isSerialOrGeneratedColumn(exec.Semantic, column.Name) {
			flag(column)
		}
	}
	return triggers
}

// E3: a new json column appeared.
func traceJSONColumn(exec *StatementExecution, _ *Context) []report.Trigger {
	var triggers []report.Trigger
	for _, column := range exec.Diff.NewColumns {
		if column.DataType != "json" {
			continue
		}
		triggers = append(triggers, traceTrigger("E3", exec,
			fmt.Sprintf("Column %s on %s has type json", column.Name, qualified(column.Schema, column.Table)),
			fmt.Sprintf("Declare %s as jsonb instead; it supports equality checks and is more compact", column.Name),
		))
	}
	return triggers
}

// E4: the transaction already held AccessExclusiveLock on a visible relation
// when this statement started.
func traceStatementAfterAccessExclusive(exec *StatementExecution, _ *Context) []report.Trigger {
	for _, lock := range exec.LocksAtStart {
		if lock.Mode == lockmodes.AccessExclusive {
			return []report.Trigger{traceTrigger("E4", exec,
				fmt.Sprintf("Statement ran while already holding AccessExclusiveLock on %s", qualified(lock.Schema, lock.ObjectName)),
				"Run this statement in its own transaction",
			)}
		}
	}
	return nil
}

// E5: a column type change rewrote the table.
func traceTypeChangeRewrite(exec *StatementExecution, _ *Context) []report.Trigger {
	alter, ok := exec.Semantic.(sqlast.AlterTable)
	if !ok {
		return nil
	}

	var change sqlast.AlterColumnType
	var found bool
	for _, action := range alter.Actions {
		if c, ok := action.(sqlast.AlterColumnType); ok {
			change, found = c, true
		}
	}
	if !found {
		return nil
	}

	for _, rewrite := range exec.Diff.Rewrites {
		if rewrite.After.Name != alter.Table.Name || rewrite.After.Relkind == "i" {
			continue
		}
		name := qualified(rewrite.After.Schema, rewrite.After.Name)
		return []report.Trigger{traceTrigger("E5", exec,
			fmt.Sprintf("Changing column %s to type %s rewrote the whole table %s", change.Column, change.NewType, name),
			fmt.Sprintf("Add a new %s column, backfill it in batches, then drop and rename", change.NewType),
		)}
	}
	return nil
}

// E6: an index appeared on a pre-existing table while the statement held
// ShareLock on it, blocking writes for the build.
func traceNonConcurrentIndex(exec *StatementExecution, ctx *Context) []report.Trigger {
	shareLocked := map[uint32]bool{}
	for _, lock := range exec.Diff.NewLocks {
		if lock.Mode == lockmodes.Share {
			shareLocked[lock.OID] = true
		}
	}

	var triggers []report.Trigger
	for _, index := range exec.Diff.NewIndexes {
		if !ctx.PreExistingOID(index.TableOID) || !shareLocked[index.TableOID] {
			continue
		}
		triggers = append(triggers, traceTrigger("E6", exec,
			fmt.Sprintf("New index %s on %s blocked writes while it was built", index.Name, qualified(index.Schema, index.Table)),
			fmt.Sprintf("Run `CREATE INDEX CONCURRENTLY %s ...` outside a transaction instead", index.Name),
		))
	}
	return triggers
}

// E7: a unique constraint and its backing index appeared in the same
// statement on a pre-existing table, so the index was built under lock.
func traceUniqueConstraintWithIndex(exec *StatementExecution, ctx *Context) []report.Trigger {
	if len(exec.Diff.NewIndexes) == 0 {
		return nil
	}

	var triggers []report.Trigger
	for _, constraint := range exec.Diff.NewConstraints {
		if constraint.Contype != "u" || !ctx.PreExisting(constraint.Schema, constraint.Table) {
			continue
		}
		name := qualified(constraint.Schema, constraint.Table)
		triggers = append(triggers, traceTrigger("E7", exec,
			fmt.Sprintf("New unique constraint %s on %s created its index while blocking all table access", constraint.Name, name),
			fmt.Sprintf("Create a unique index CONCURRENTLY first, then run `ALTER TABLE %s ADD CONSTRAINT %s UNIQUE USING INDEX ...`", name, constraint.Name),
		))
	}
	return triggers
}

// E8: a new exclusion constraint appeared on a pre-existing table.
func traceExclusionConstraint(exec *StatementExecution, ctx *Context) []report.Trigger {
	var triggers []report.Trigger
	for _, constraint := range exec.Diff.NewConstraints {
		if constraint.Contype != "x" || !ctx.PreExisting(constraint.Schema, constraint.Table) {
			continue
		}
		triggers = append(triggers, traceTrigger("E8", exec,
			fmt.Sprintf("New exclusion constraint %s on %s blocked reads and writes while it was built", constraint.Name, qualified(constraint.Schema, constraint.Table)),
			"",
		))
	}
	return triggers
}

// E9: the statement took a dangerous lock while lock_timeout was zero.
func traceDangerousLockWithoutTimeout(exec *StatementExecution, _ *Context) []report.Trigger {
	if !exec.LockTimeoutZero {
		return nil
	}
	for _, lock := range exec.Diff.NewLocks {
		if lock.Mode.IsDangerous() {
			return []report.Trigger{traceTrigger("E9", exec,
				fmt.Sprintf("Statement took %s on %s without a lock_timeout", lock.Mode, qualified(lock.Schema, lock.ObjectName)),
				"Run `SET LOCAL lock_timeout = '2s';` before the statement and retry the migration if it times out",
			)}
		}
	}
	return nil
}

// E10: a relation was rewritten while the transaction held or took a
// dangerous lock.
func traceRewriteUnderDangerousLock(exec *StatementExecution, _ *Context) []report.Trigger {
	if len(exec.Diff.Rewrites) == 0 {
		return nil
	}

	dangerous := false
	for _, lock := range exec.LocksAtStart {
		dangerous = dangerous || lock.Mode.IsDangerous()
	}
	for _, lock := range exec.Diff.NewLocks {
		dangerous = dangerous || lock.Mode.IsDangerous()
	}
	if !dangerous {
		return nil
	}

	var triggers []report.Trigger
	for _, rewrite := range exec.Diff.Rewrites {
		triggers = append(triggers, traceTrigger("E10", exec,
			fmt.Sprintf("%s was rewritten while holding a lock that blocks other backends", qualified(rewrite.After.Schema, rewrite.After.Name)),
			"Build a new table or index, write to both, then swap them",
		))
	}
	return triggers
}

// E11: the statement added a serial or generated stored column.
func traceSerialColumn(exec *StatementExecution, _ *Context) []report.Trigger {
	alter, ok := exec.Semantic.(sqlast.AlterTable)
	if !ok {
		return nil
	}

	var triggers []report.Trigger
	for _, action := range alter.Actions {
		add, ok := action.(sqlast.AddColumn)
		if !ok || (!add.Column.Serial && !add.Column.GeneratedStored) {
			continue
		}
		kind := "serial"
		if add.Column.GeneratedStored {
			kind = "generated stored"
		}
		triggers = append(triggers, traceTrigger("E11", exec,
			fmt.Sprintf("Column %s on %s is a %s column, which rewrites the whole table when added", add.Column.Name, qualified(alter.Table.Schema, alter.Table.Name), kind),
			"Add the column without a default, then attach the sequence or generate values in batches",
		))
	}
	return triggers
}

// W12: repeated ALTER TABLE on the same target.
func traceRepeatedAlterTable(exec *StatementExecution, ctx *Context) []report.Trigger {
	alter, ok := exec.Semantic.(sqlast.AlterTable)
	if !ok || ctx.AlterCount(alter.Table) == 0 {
		return nil
	}
	name := qualified(alter.Table.Schema, alter.Table.Name)
	return []report.Trigger{traceTrigger("W12", exec,
		fmt.Sprintf("Table %s is altered more than once in this script", name),
		fmt.Sprintf("Combine the statements into one `ALTER TABLE %s` with multiple actions", name),
	)}
}

// W13: a new enum type was created.
func traceEnumCreation(exec *StatementExecution, _ *Context) []report.Trigger {
	create, ok := exec.Semantic.(sqlast.CreateType)
	if !ok || create.Kind != sqlast.TypeEnum {
		return nil
	}
	return []report.Trigger{traceTrigger("W13", exec,
		fmt.Sprintf("New enum %s was created", qualified(create.Type.Schema, create.Type.Name)),
		"Consider a foreign key to a lookup table instead; enum values are hard to remove",
	)}
}

// W14: a primary key was added using an index whose columns were not all
// NOT NULL before the statement ran.
func tracePrimaryKeyUsingIndex(exec *StatementExecution, _ *Context) []report.Trigger {
	alter, ok := exec.Semantic.(sqlast.AlterTable)
	if !ok || exec.Before == nil {
		return nil
	}

	var triggers []report.Trigger
	for _, action := range alter.Actions {
		pk, ok := action.(sqlast.AddPrimaryKeyUsingIndex)
		if !ok {
			continue
		}
		if indexColumnsAllNotNull(exec.Before, alter.Table, pk.IndexName) {
			continue
		}
		triggers = append(triggers, traceTrigger("W14", exec,
			fmt.Sprintf("Primary key %s on %s uses index %s over columns that were not all NOT NULL", pk.ConstraintName, qualified(alter.Table.Schema, alter.Table.Name), pk.IndexName),
			"Make every indexed column NOT NULL first, using a validated CHECK constraint to avoid a blocking scan",
		))
	}
	return triggers
}

func indexColumnsAllNotNull(before *Snapshot, table sqlast.Relation, indexName string) bool {
	schema := table.Schema
	if schema == "" {
		schema = "public"
	}
	index, ok := before.Indexes[schema+"."+indexName]
	if !ok || len(index.Columns) == 0 {
		return false
	}
	for _, columnName := range index.Columns {
		column, ok := before.Columns[schema+"."+index.Table+"."+columnName]
		if !ok || column.Nullable {
			return false
		}
	}
	return true
}

// isSerialOrGeneratedColumn reports whether the statement's lowered form
// declares the named column as serial or generated; those rewrites are E11's
// business, not E2's.
func isSerialOrGeneratedColumn(semantic sqlast.Statement, column string) bool {
	alter, ok := semantic.(sqlast.AlterTable)
	if !ok {
		return false
	}
	for _, action := range alter.Actions {
		if add, ok := action.(sqlast.AddColumn); ok && add.Column.Name == column {
			return add.Column.Serial || add.Column.GeneratedStored
		}
	}
	return false
}

// checkForeignKeyIndexes is E15: once the script has run, every foreign key
// it created must have a complete, non-partial index over its referencing
// columns in the final catalog state.
func checkForeignKeyIndexes(ctx *Context, final *Snapshot) []report.Trigger {
	var triggers []report.Trigger
	for _, fk := range ctx.newForeignKeys {
		if len(fk.columns) == 0 || hasCoveringIndex(final, fk) {
			continue
		}
		name := qualified(fk.constraint.Schema, fk.constraint.Table)
		triggers = append(triggers, report.Trigger{
			RuleID:         "E15",
			Message:        fmt.Sprintf("Foreign key %s on %s has no complete index over its referencing columns", fk.constraint.Name, name),
			Help:           fmt.Sprintf("Create an index on %s covering the foreign key columns", name),
			StatementIndex: fk.statementIndex,
		})
	}
	return triggers
}

func hasCoveringIndex(final *Snapshot, fk observedForeignKey) bool {
	for _, index := range final.Indexes {
		if index.Schema != fk.constraint.Schema || index.Table != fk.constraint.Table {
			continue
		}
		if index.Partial || !index.Valid || len(index.Columns) < len(fk.columns) {
			continue
		}
		prefix := map[string]bool{}
		for _, column := range index.Columns[:len(fk.columns)] {
			prefix[column] = true
		}
		covered := true
		for _, column := range fk.columns {
			covered = covered && prefix[column]
		}
		if covered {
			return true
		}
	}
	return false
}
