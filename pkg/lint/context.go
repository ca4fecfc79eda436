// SPDX-License-Identifier: Apache-2.0

// Package lint is the static analyzer: it folds lowered statements through a
// per-script context and evaluates the migration safety rules against each
// statement before the context absorbs it.
package lint

import (
	"fmt"

	"github.com/kaaveland/eugene/pkg/sqlast"
)

// Context is the accumulated knowledge about the transaction a script runs
// in. It is updated only after the rules for a statement have fired, so every
// rule sees the state as it was when its statement started.
type Context struct {
	// relations created by earlier statements in this script, keyed by
	// schema-qualified name; operations on these cannot block other
	// backends.
	createdTables  map[string]bool
	createdObjects map[string]bool

	// columns known to carry a validated CHECK (col IS NOT NULL), keyed by
	// "table.column".
	validatedNotNull map[string]bool

	// check constraints added by this script that are a bare
	// CHECK (col IS NOT NULL), keyed by "table\x00name", so a later
	// VALIDATE CONSTRAINT can promote the column.
	notNullChecks map[string]string

	// dangerousLockHeld is set once a statement has taken a lock that
	// blocks reads or writes on a relation other backends can see.
	dangerousLockHeld bool

	// lockTimeoutSet is true when SET [LOCAL] lock_timeout set a non-zero
	// timeout at or before the current statement.
	lockTimeoutSet bool

	// alterCounts tracks ALTER TABLE statements per target.
	alterCounts map[string]int

	// fullIndexes lists the column sets of complete, non-partial indexes
	// created by this script, per table.
	fullIndexes map[string][][]string

	// pendingForeignKeys are foreign keys created by this script that still
	// need a supporting index on the referencing side.
	pendingForeignKeys []pendingForeignKey

	// columnTypes remembers the declared type of columns created or altered
	// by this script, keyed like validatedNotNull.
	columnTypes map[string]string

	// indexColumns remembers the column list of every index created by this
	// script, keyed by schema-qualified index name.
	indexColumns map[string][]string
}

type pendingForeignKey struct {
	table          sqlast.Relation
	constraintName string
	columns        []string
	statementIndex int
}

// NewContext returns an empty per-script context.
func NewContext() *Context {
	return &Context{
		createdTables:    map[string]bool{},
		createdObjects:   map[string]bool{},
		validatedNotNull: map[string]bool{},
		notNullChecks:    map[string]string{},
		alterCounts:      map[string]int{},
		fullIndexes:      map[string][][]string{},
		columnTypes:      map[string]string{},
		indexColumns:     map[string][]string{},
	}
}

// relationKey normalizes a relation to its schema-qualified form; unqualified
// names resolve to the public schema.
func relationKey(r sqlast.Relation) string {
	schema := r.Schema
	if schema == "" {
		schema = "public"
	}
	return schema + "." + r.Name
}

func columnKey(r sqlast.Relation, column string) string {
	return relationKey(r) + "." + column
}

func constraintKey(r sqlast.Relation, name string) string {
	return relationKey(r) + "\x00" + name
}

// CreatedInTransaction reports whether the relation was created by an earlier
// statement of this script.
func (c *Context) CreatedInTransaction(r sqlast.Relation) bool {
	return c.createdTables[relationKey(r)] || c.createdObjects[relationKey(r)]
}

// HasValidatedNotNull reports whether the column is known to carry a
// validated CHECK (col IS NOT NULL).
func (c *Context) HasValidatedNotNull(r sqlast.Relation, column string) bool {
	return c.validatedNotNull[columnKey(r, column)]
}

// Update absorbs a statement into the context. Called after rules fire.
func (c *Context) Update(stmt sqlast.Statement, index int) {
	switch s := stmt.(type) {
	case sqlast.CreateTable:
		c.createdTables[relationKey(s.Table)] = true
		for _, col := range s.Columns {
			c.columnTypes[columnKey(s.Table, col.Name)] = col.Type
			if col.NotNull {
				c.validatedNotNull[columnKey(s.Table, col.Name)] = true
			}
		}
		for _, constraint := range s.Constraints {
			c.absorbConstraint(s.Table, constraint, index)
		}
	case sqlast.CreateIndex:
		c.createdObjects[relationKey(s.Index)] = true
		c.indexColumns[relationKey(s.Index)] = s.Columns
		if !s.Partial {
			key := relationKey(s.Table)
			c.fullIndexes[key] = append(c.fullIndexes[key], s.Columns)
		}
		if !s.Concurrent && !c.CreatedInTransaction(s.Table) {
			// CREATE INDEX holds ShareLock on the table
			c.dangerousLockHeld = true
		}
	case sqlast.CreateType:
		c.createdObjects[relationKey(s.Type)] = true
	case sqlast.CreateSequence:
		c.createdObjects[relationKey(s.Sequence)] = true
	case sqlast.SetParameter:
		if s.Name == "lock_timeout" {
			c.lockTimeoutSet = !isZeroDuration(s.Value)
		}
	case sqlast.AlterTable:
		c.alterCounts[relationKey(s.Table)]++
		c.absorbAlterTable(s, index)
	}
}

func (c *Context) absorbAlterTable(s sqlast.AlterTable, index int) {
	txnLocal := c.CreatedInTransaction(s.Table)
	for _, action := range s.Actions {
		switch a := action.(type) {
		case sqlast.AddColumn:
			c.columnTypes[columnKey(s.Table, a.Column.Name)] = a.Column.Type
			if a.Column.NotNull {
				c.validatedNotNull[columnKey(s.Table, a.Column.Name)] = true
			}
		case sqlast.SetNotNull:
			c.validatedNotNull[columnKey(s.Table, a.Column)] = true
		case sqlast.DropNotNull:
			delete(c.validatedNotNull, columnKey(s.Table, a.Column))
		case sqlast.AlterColumnType:
			c.columnTypes[columnKey(s.Table, a.Column)] = a.NewType
		case sqlast.AddConstraint:
			c.absorbConstraint(s.Table, a.Constraint, index)
		case sqlast.ValidateConstraint:
			if column, ok := c.notNullChecks[constraintKey(s.Table, a.Name)]; ok {
				c.validatedNotNull[columnKey(s.Table, column)] = true
			}
		}
	}
	if !txnLocal && !validateOnly(s.Actions) {
		// most ALTER TABLE forms hold AccessExclusiveLock until commit;
		// VALIDATE CONSTRAINT alone only takes ShareUpdateExclusiveLock
		c.dangerousLockHeld = true
	}
}

func (c *Context) absorbConstraint(table sqlast.Relation, constraint sqlast.ConstraintDef, index int) {
	if constraint.Kind == sqlast.ConstraintCheck && constraint.CheckNotNullColumn != "" {
		c.notNullChecks[constraintKey(table, constraint.Name)] = constraint.CheckNotNullColumn
		if constraint.Valid {
			c.validatedNotNull[columnKey(table, constraint.CheckNotNullColumn)] = true
		}
	}
	if constraint.Kind == sqlast.ConstraintForeignKey {
		c.pendingForeignKeys = append(c.pendingForeignKeys, pendingForeignKey{
			table:          table,
			constraintName: constraint.Name,
			columns:        constraint.Columns,
			statementIndex: index,
		})
	}
	// unique and primary key constraints are backed by a full index
	if (constraint.Kind == sqlast.ConstraintUnique || constraint.Kind == sqlast.ConstraintPrimaryKey) && len(constraint.Columns) > 0 {
		key := relationKey(table)
		c.fullIndexes[key] = append(c.fullIndexes[key], constraint.Columns)
	}
}

func validateOnly(actions []sqlast.AlterAction) bool {
	for _, action := range actions {
		if _, ok := action.(sqlast.ValidateConstraint); !ok {
			return false
		}
	}
	return len(actions) > 0
}

// hasFullIndexOn reports whether this script created a complete, non-partial
// index whose leading columns cover exactly the given column set.
func (c *Context) hasFullIndexOn(table sqlast.Relation, columns []string) bool {
	for _, indexColumns := range c.fullIndexes[relationKey(table)] {
		if coversAsPrefix(indexColumns, columns) {
			return true
		}
	}
	return false
}

// coversAsPrefix reports whether the first len(want) index columns are
// exactly the wanted set, in any order.
func coversAsPrefix(indexColumns, want []string) bool {
	if len(indexColumns) < len(want) {
		return false
	}
	prefix := map[string]bool{}
	for _, col := range indexColumns[:len(want)] {
		prefix[col] = true
	}
	for _, col := range want {
		if !prefix[col] {
			return false
		}
	}
	return true
}

// isZeroDuration reports whether a lock_timeout value means "no timeout".
func isZeroDuration(value string) bool {
	if value == "" {
		return true
	}
	for _, r := range value {
		if r >= '1' && r <= '9' {
			return false
		}
	}
	return true
}

// QualifiedName renders a relation the way messages refer to it.
func QualifiedName(r sqlast.Relation) string {
	if r.Schema == "" {
		return fmt.Sprintf("public.%s", r.Name)
	}
	return fmt.Sprintf("%s.%s", r.Schema, r.Name)
}
