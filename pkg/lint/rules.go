// SPDX-License-Identifier: Apache-2.0

package lint

import (
	"fmt"

	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/sqlast"
)

// ruleFunc evaluates one rule against a statement and the context as it was
// before the statement.
type ruleFunc func(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger

// rules lists every lint rule in ascending rule-ID order; triggers for a
// statement are emitted in this order.
var rules = []struct {
	id    string
	check ruleFunc
}{
	{"E1", checkConstraintAddedAsValid},
	{"E2", checkNotNullWithoutCheck},
	{"E3", checkJSONColumn},
	{"E4", checkStatementAfterDangerousLock},
	{"E5", checkTypeChangeRewrite},
	{"E6", checkNonConcurrentIndex},
	{"E7", checkUniqueConstraintWithoutIndex},
	{"E8", checkExclusionConstraint},
	{"E9", checkDangerousLockWithoutTimeout},
	{"E11", checkSerialColumn},
	{"W12", checkRepeatedAlterTable},
	{"W13", checkEnumCreation},
	{"W14", checkPrimaryKeyUsingIndex},
}

func trigger(id string, index int, message, help string) report.Trigger {
	return report.Trigger{
		RuleID:         id,
		Message:        message,
		Help:           help,
		StatementIndex: index,
	}
}

// E1: a CHECK or FOREIGN KEY constraint on a table other backends can see was
// added without NOT VALID, so every existing row is validated under
// AccessExclusiveLock.
func checkConstraintAddedAsValid(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok || ctx.CreatedInTransaction(alter.Table) {
		return nil
	}

	var triggers []report.Trigger
	for _, action := range alter.Actions {
		add, ok := action.(sqlast.AddConstraint)
		if !ok || !add.Constraint.Valid {
			continue
		}
		// only constraint kinds that support NOT VALID
		if add.Constraint.Kind != sqlast.ConstraintCheck && add.Constraint.Kind != sqlast.ConstraintForeignKey {
			continue
		}
		name := QualifiedName(alter.Table)
		triggers = append(triggers, trigger("E1", index,
			fmt.Sprintf("New constraint %s on %s is immediately VALID, forcing a full validation scan under lock", add.Constraint.Name, name),
			fmt.Sprintf("Add the constraint as NOT VALID, then run `ALTER TABLE %s VALIDATE CONSTRAINT %s` in a later transaction", name, add.Constraint.Name),
		))
	}
	return triggers
}

// E2: a column on a pre-existing table was made NOT NULL without a previously
// validated CHECK (col IS NOT NULL).
func checkNotNullWithoutCheck(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok || ctx.CreatedInTransaction(alter.Table) {
		return nil
	}

	name := QualifiedName(alter.Table)
	var triggers []report.Trigger
	for _, action := range alter.Actions {
		var column string
		switch a := action.(type) {
		case sqlast.SetNotNull:
			column = a.Column
		case sqlast.AddColumn:
			if a.Column.NotNull && !a.Column.Serial && !a.Column.GeneratedStored {
				column = a.Column.Name
			}
		}
		if column == "" || ctx.HasValidatedNotNull(alter.Table, column) {
			continue
		}
		constraint := fmt.Sprintf("%s_%s_not_null", alter.Table.Name, column)
		triggers = append(triggers, trigger("E2", index,
			fmt.Sprintf("Column %s on %s was made NOT NULL without a validated CHECK constraint, forcing a full table scan under lock", column, name),
			fmt.Sprintf("Run `ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID`, validate it in a later transaction, then set NOT NULL", name, constraint, column),
		))
	}
	return triggers
}

// E3: a new column of type json, which has no equality operator.
func checkJSONColumn(stmt sqlast.Statement, index int, _ *Context) []report.Trigger {
	var triggers []report.Trigger
	flag := func(table sqlast.Relation, column sqlast.ColumnDef) {
		if sqlast.IsJSONType(column.Type) {
			triggers = append(triggers, trigger("E3", index,
				fmt.Sprintf("Column %s on %s has type json", column.Name, QualifiedName(table)),
				fmt.Sprintf("Declare %s as jsonb instead; it supports equality checks and is more compact", column.Name),
			))
		}
	}

	switch s := stmt.(type) {
	case sqlast.CreateTable:
		for _, column := range s.Columns {
			flag(s.Table, column)
		}
	case sqlast.AlterTable:
		for _, action := range s.Actions {
			if add, ok := action.(sqlast.AddColumn); ok {
				flag(s.Table, add.Column)
			}
		}
	}
	return triggers
}

// E4: any statement run while the transaction already holds a lock that
// blocks other backends extends the time they stay blocked.
func checkStatementAfterDangerousLock(_ sqlast.Statement, index int, ctx *Context) []report.Trigger {
	if !ctx.dangerousLockHeld {
		return nil
	}
	return []report.Trigger{trigger("E4", index,
		"Statement ran in a transaction that already holds a lock blocking other backends, extending the time they stay blocked",
		"Run this statement in its own transaction",
	)}
}

// E5: a column type change that is not known binary compatible rewrites the
// whole table under AccessExclusiveLock.
func checkTypeChangeRewrite(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok || ctx.CreatedInTransaction(alter.Table) {
		return nil
	}

	name := QualifiedName(alter.Table)
	var triggers []report.Trigger
	for _, action := range alter.Actions {
		change, ok := action.(sqlast.AlterColumnType)
		if !ok {
			continue
		}
		oldType := ctx.columnTypes[columnKey(alter.Table, change.Column)]
		if binaryCompatible(oldType, change.NewType) {
			continue
		}
		triggers = append(triggers, trigger("E5", index,
			fmt.Sprintf("Column %s on %s was changed to type %s, which may rewrite the whole table under lock", change.Column, name, change.NewType),
			fmt.Sprintf("Add a new %s column, backfill it in batches, then drop and rename", change.NewType),
		))
	}
	return triggers
}

// E6: CREATE INDEX without CONCURRENTLY on a table other backends can see
// blocks their writes for the duration of the build.
func checkNonConcurrentIndex(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	create, ok := stmt.(sqlast.CreateIndex)
	if !ok || create.Concurrent || ctx.CreatedInTransaction(create.Table) {
		return nil
	}
	return []report.Trigger{trigger("E6", index,
		fmt.Sprintf("New index %s on %s blocks writes while it builds", create.Index.Name, QualifiedName(create.Table)),
		fmt.Sprintf("Run `CREATE INDEX CONCURRENTLY %s ...` outside a transaction instead", create.Index.Name),
	)}
}

// E7: ADD CONSTRAINT ... UNIQUE without USING INDEX builds the backing index
// while holding AccessExclusiveLock.
func checkUniqueConstraintWithoutIndex(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok || ctx.CreatedInTransaction(alter.Table) {
		return nil
	}

	name := QualifiedName(alter.Table)
	var triggers []report.Trigger
	for _, action := range alter.Actions {
		add, ok := action.(sqlast.AddConstraint)
		if !ok || add.Constraint.Kind != sqlast.ConstraintUnique || add.Constraint.UsingIndex != "" {
			continue
		}
		triggers = append(triggers, trigger("E7", index,
			fmt.Sprintf("New unique constraint %s on %s builds its index while blocking all table access", add.Constraint.Name, name),
			fmt.Sprintf("Create a unique index CONCURRENTLY first, then run `ALTER TABLE %s ADD CONSTRAINT %s UNIQUE USING INDEX ...`", name, add.Constraint.Name),
		))
	}
	return triggers
}

// E8: exclusion constraints on pre-existing tables cannot be added without
// blocking reads and writes.
func checkExclusionConstraint(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok || ctx.CreatedInTransaction(alter.Table) {
		return nil
	}

	var triggers []report.Trigger
	for _, action := range alter.Actions {
		add, ok := action.(sqlast.AddConstraint)
		if !ok || add.Constraint.Kind != sqlast.ConstraintExclusion {
			continue
		}
		triggers = append(triggers, trigger("E8", index,
			fmt.Sprintf("New exclusion constraint %s on %s blocks reads and writes while it builds", add.Constraint.Name, QualifiedName(alter.Table)),
			"",
		))
	}
	return triggers
}

// E9: a statement that takes a dangerous lock while lock_timeout is zero can
// queue behind any long-running transaction and block everyone else while it
// waits.
func checkDangerousLockWithoutTimeout(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	if ctx.lockTimeoutSet {
		return nil
	}

	mode, target, takes := takesDangerousLock(stmt, ctx)
	if !takes {
		return nil
	}
	return []report.Trigger{trigger("E9", index,
		fmt.Sprintf("Statement takes %s on %s without a lock_timeout", mode, target),
		"Run `SET LOCAL lock_timeout = '2s';` before the statement and retry the migration if it times out",
	)}
}

// takesDangerousLock reports the dangerous lock a statement acquires on a
// relation other backends can see, if any.
func takesDangerousLock(stmt sqlast.Statement, ctx *Context) (mode, target string, takes bool) {
	switch s := stmt.(type) {
	case sqlast.AlterTable:
		if !ctx.CreatedInTransaction(s.Table) && !validateOnly(s.Actions) {
			return "AccessExclusiveLock", QualifiedName(s.Table), true
		}
	case sqlast.CreateIndex:
		if !s.Concurrent && !ctx.CreatedInTransaction(s.Table) {
			return "ShareLock", QualifiedName(s.Table), true
		}
	}
	return "", "", false
}

// E11: ADD COLUMN with a serial or generated stored column rewrites the whole
// table.
func checkSerialColumn(stmt sqlast.Statement, index int, _ *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok {
		return nil
	}

	name := QualifiedName(alter.Table)
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
		triggers = append(triggers, trigger("E11", index,
			fmt.Sprintf("Column %s on %s is a %s column, which rewrites the whole table when added", add.Column.Name, name, kind),
			"Add the column without a default, then attach the sequence or generate values in batches",
		))
	}
	return triggers
}

// W12: repeated ALTER TABLE on the same target is a missed chance to hold the
// lock once.
func checkRepeatedAlterTable(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok || ctx.alterCounts[relationKey(alter.Table)] == 0 {
		return nil
	}
	name := QualifiedName(alter.Table)
	return []report.Trigger{trigger("W12", index,
		fmt.Sprintf("Table %s is altered more than once in this script", name),
		fmt.Sprintf("Combine the statements into one `ALTER TABLE %s` with multiple actions", name),
	)}
}

// W13: enums are hard to migrate away from.
func checkEnumCreation(stmt sqlast.Statement, index int, _ *Context) []report.Trigger {
	create, ok := stmt.(sqlast.CreateType)
	if !ok || create.Kind != sqlast.TypeEnum {
		return nil
	}
	return []report.Trigger{trigger("W13", index,
		fmt.Sprintf("New enum %s was created", QualifiedName(create.Type)),
		"Consider a foreign key to a lookup table instead; enum values are hard to remove",
	)}
}

// W14: promoting an index to a primary key validates NOT NULL on its columns
// unless they are already known non-nullable.
func checkPrimaryKeyUsingIndex(stmt sqlast.Statement, index int, ctx *Context) []report.Trigger {
	alter, ok := stmt.(sqlast.AlterTable)
	if !ok {
		return nil
	}

	var triggers []report.Trigger
	for _, action := range alter.Actions {
		pk, ok := action.(sqlast.AddPrimaryKeyUsingIndex)
		if !ok {
			continue
		}
		indexKey := relationKey(sqlast.Relation{Schema: alter.Table.Schema, Name: pk.IndexName})
		columns, known := ctx.indexColumns[indexKey]
		if known && allNotNull(ctx, alter.Table, columns) {
			continue
		}
		triggers = append(triggers, trigger("W14", index,
			fmt.Sprintf("Primary key %s on %s uses index %s over columns not known to be NOT NULL", pk.ConstraintName, QualifiedName(alter.Table), pk.IndexName),
			"Make every indexed column NOT NULL first, using a validated CHECK constraint to avoid a blocking scan",
		))
	}
	return triggers
}

func allNotNull(ctx *Context, table sqlast.Relation, columns []string) bool {
	for _, column := range columns {
		if !ctx.HasValidatedNotNull(table, column) {
			return false
		}
	}
	return len(columns) > 0
}

// checkMissingForeignKeyIndexes is E15; it runs once the whole script has
// been folded, because an index later in the script satisfies an earlier
// foreign key. Only tables created by the script are checked: for tables that
// already exist the linter cannot see the database's indexes, so the tracer
// owns that case.
func checkMissingForeignKeyIndexes(ctx *Context) []report.Trigger {
	var triggers []report.Trigger
	for _, fk := range ctx.pendingForeignKeys {
		if !ctx.createdTables[relationKey(fk.table)] {
			continue
		}
		if len(fk.columns) == 0 || ctx.hasFullIndexOn(fk.table, fk.columns) {
			continue
		}
		triggers = append(triggers, trigger("E15", fk.statementIndex,
			fmt.Sprintf("Foreign key %s on %s has no complete index over its referencing columns", fk.constraintName, QualifiedName(fk.table)),
			fmt.Sprintf("Create an index on %s covering the foreign key columns", QualifiedName(fk.table)),
		))
	}
	return triggers
}

// binaryCompatible is the conservative whitelist of type changes that do not
// rewrite the table. An unknown old type is never compatible.
func binaryCompatible(oldType, newType string) bool {
	if oldType == "" || newType == "" {
		return false
	}
	if oldType == newType {
		return true
	}

	oldBase, oldMod := splitTypeMod(oldType)
	newBase, newMod := splitTypeMod(newType)
	oldBase, newBase = normalizeTypeAlias(oldBase), normalizeTypeAlias(newBase)

	// varchar and text share their on-disk representation
	if oldBase == "varchar" && newBase == "text" {
		return true
	}
	if oldBase == newBase {
		switch oldBase {
		case "varchar", "bit varying", "numeric":
			// widening the modifier never rewrites
			return newMod == 0 || (oldMod != 0 && newMod >= oldMod)
		default:
			// spelled differently via an alias
			return oldMod == newMod
		}
	}
	return false
}

func splitTypeMod(typeString string) (base string, mod int) {
	open := -1
	for i := 0; i < len(typeString); i++ {
		if typeString[i] == '(' {
			open = i
			break
		}
	}
	if open < 0 {
		return typeString, 0
	}
	base = typeString[:open]
	for i := open + 1; i < len(typeString) && typeString[i] >= '0' && typeString[i] <= '9'; i++ {
		mod = mod*10 + int(typeString[i]-'0')
	}
	return base, mod
}

func normalizeTypeAlias(base string) string {
	switch base {
	case "character varying":
		return "varchar"
	case "character":
		return "char"
	case "int", "int4":
		return "integer"
	case "int8":
		return "bigint"
	case "int2":
		return "smallint"
	case "decimal":
		return "numeric"
	default:
		return base
	}
}
