// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"strings"
	"time"

	"github.com/kaaveland/eugene/pkg/script"
	"github.com/kaaveland/eugene/pkg/sqlast"
)

// StatementExecution is everything observed about one executed statement:
// the statement itself, its lowered form, lock state, timing and the catalog
// diff around it.
type StatementExecution struct {
	Statement script.Statement
	// Semantic is the lowered statement; nil when the statement could not
	// be lowered, which does not stop tracing since the statement already
	// ran.
	Semantic sqlast.Statement
	Duration time.Duration

	LocksAtStart []Lock
	Diff         StatementDiff

	// LockTimeoutZero reports whether the server's lock_timeout setting was
	// zero when read just before the statement ran.
	LockTimeoutZero bool

	Before *Snapshot
	After  *Snapshot
}

// Context is the accumulated knowledge of a trace session across the
// statements of one script.
type Context struct {
	// relations that existed before the transaction started, by
	// schema-qualified name and by oid; everything else is
	// transaction-local.
	initialRelations map[string]bool
	initialOIDs      map[uint32]bool

	// columns carrying a validated CHECK (col IS NOT NULL), observed from
	// constraint diffs.
	validatedNotNull map[string]bool

	alterCounts map[string]int

	// foreign keys created during the script, checked against the final
	// snapshot's indexes at end of script.
	newForeignKeys []observedForeignKey
}

type observedForeignKey struct {
	constraint     Constraint
	columns        []string
	statementIndex int
}

// NewContext derives the pre-existing relation sets from the snapshot taken
// before the first statement.
func NewContext(initial Snapshot) *Context {
	ctx := &Context{
		initialRelations: map[string]bool{},
		initialOIDs:      map[uint32]bool{},
		validatedNotNull: map[string]bool{},
		alterCounts:      map[string]int{},
	}
	for oid, identity := range initial.Identities {
		ctx.initialOIDs[oid] = true
		ctx.initialRelations[identity.Schema+"."+identity.Name] = true
	}
	return ctx
}

// PreExisting reports whether the named relation existed before the
// transaction started. Operations on relations created by the transaction
// cannot block other backends.
func (c *Context) PreExisting(schema, name string) bool {
	if schema == "" {
		schema = "public"
	}
	return c.initialRelations[schema+"."+name]
}

// PreExistingOID is PreExisting for relations identified by oid.
func (c *Context) PreExistingOID(oid uint32) bool {
	return c.initialOIDs[oid]
}

// HasValidatedNotNull reports whether the column was observed to carry a
// validated CHECK (col IS NOT NULL).
func (c *Context) HasValidatedNotNull(column Column) bool {
	return c.validatedNotNull[columnKey(column)]
}

// Absorb updates the context with a statement's observed effects. Called
// after the rules for the statement have fired.
func (c *Context) Absorb(exec *StatementExecution) {
	for _, constraint := range exec.Diff.NewConstraints {
		c.absorbConstraint(constraint, exec.Statement.Index)
	}
	for _, constraint := range exec.Diff.AlteredConstraints {
		c.absorbConstraint(constraint, exec.Statement.Index)
	}

	if alter, ok := exec.Semantic.(sqlast.AlterTable); ok {
		schema := alter.Table.Schema
		if schema == "" {
			schema = "public"
		}
		c.alterCounts[schema+"."+alter.Table.Name]++
	}
}

func (c *Context) absorbConstraint(constraint Constraint, index int) {
	switch constraint.Contype {
	case "c":
		column := notNullCheckColumnFromDefinition(constraint.Definition)
		if column != "" && constraint.Valid {
			c.validatedNotNull[columnKey(Column{
				Schema: constraint.Schema,
				Table:  constraint.Table,
				Name:   column,
			})] = true
		}
	case "f":
		// only record each foreign key once
		for _, fk := range c.newForeignKeys {
			if fk.constraint.Schema == constraint.Schema &&
				fk.constraint.Table == constraint.Table &&
				fk.constraint.Name == constraint.Name {
				return
			}
		}
		c.newForeignKeys = append(c.newForeignKeys, observedForeignKey{
			constraint:     constraint,
			columns:        foreignKeyColumnsFromDefinition(constraint.Definition),
			statementIndex: index,
		})
	}
}

// AlterCount returns how many ALTER TABLE statements have targeted the
// relation so far.
func (c *Context) AlterCount(table sqlast.Relation) int {
	schema := table.Schema
	if schema == "" {
		schema = "public"
	}
	return c.alterCounts[schema+"."+table.Name]
}

// notNullCheckColumnFromDefinition extracts the column of a bare
// `CHECK ((col IS NOT NULL))` definition as rendered by
// pg_get_constraintdef, or "" when the check is anything else.
func notNullCheckColumnFromDefinition(definition string) string {
	body, ok := strings.CutPrefix(definition, "CHECK (")
	if !ok {
		return ""
	}
	body = strings.TrimSuffix(body, ")")
	body = strings.Trim(body, "()")

	column, ok := strings.CutSuffix(body, " IS NOT NULL")
	if !ok {
		return ""
	}
	if len(column) >= 2 && strings.HasPrefix(column, `"`) && strings.HasSuffix(column, `"`) {
		return column[1 : len(column)-1]
	}
	if column == "" || strings.ContainsAny(column, ` ()"`) {
		return ""
	}
	return column
}

// foreignKeyColumnsFromDefinition extracts the referencing columns of a
// `FOREIGN KEY (a, b) REFERENCES ...` definition.
func foreignKeyColumnsFromDefinition(definition string) []string {
	open := strings.Index(definition, "(")
	if open < 0 {
		return nil
	}
	end := strings.Index(definition[open:], ")")
	if end < 0 {
		return nil
	}

	var columns []string
	for _, part := range strings.Split(definition[open+1:open+end], ",") {
		column := strings.Trim(strings.TrimSpace(part), `"`)
		if column != "" {
			columns = append(columns, column)
		}
	}
	return columns
}
