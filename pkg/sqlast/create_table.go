// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	"fmt"

	pgq "github.com/xataio/pg_query_go/v6"
)

// lowerCreateStmt lowers a CREATE TABLE statement, keeping the column and
// constraint details the rules inspect.
func lowerCreateStmt(stmt *pgq.CreateStmt) (Statement, error) {
	table := CreateTable{
		Table:     relationFromRangeVar(stmt.GetRelation()),
		Temporary: stmt.GetRelation().GetRelpersistence() == "t",
	}

	for _, elt := range stmt.GetTableElts() {
		switch node := elt.GetNode().(type) {
		case *pgq.Node_ColumnDef:
			column, err := lowerColumnDef(node.ColumnDef)
			if err != nil {
				return nil, err
			}
			table.Columns = append(table.Columns, column)
		case *pgq.Node_Constraint:
			constraint, err := lowerConstraint(node.Constraint)
			if err != nil {
				return nil, err
			}
			table.Constraints = append(table.Constraints, constraint)
		}
	}

	return table, nil
}

func lowerColumnDef(col *pgq.ColumnDef) (ColumnDef, error) {
	typeString, err := lowerTypeName(col.GetTypeName())
	if err != nil {
		return ColumnDef{}, fmt.Errorf("column %q: %w", col.GetColname(), err)
	}

	column := ColumnDef{
		Name:   col.GetColname(),
		Type:   typeString,
		Serial: IsSerialType(typeString),
	}

	for _, c := range col.GetConstraints() {
		switch c.GetConstraint().GetContype() {
		case pgq.ConstrType_CONSTR_NOTNULL, pgq.ConstrType_CONSTR_PRIMARY:
			column.NotNull = true
		case pgq.ConstrType_CONSTR_NULL:
			column.NotNull = false
		case pgq.ConstrType_CONSTR_GENERATED:
			// GENERATED ALWAYS AS (...) STORED; identity columns come
			// through as CONSTR_IDENTITY and do not rewrite the table.
			column.GeneratedStored = true
		}
	}

	return column, nil
}

// lowerConstraint lowers a table-level constraint from CREATE TABLE or
// ALTER TABLE ... ADD CONSTRAINT.
func lowerConstraint(c *pgq.Constraint) (ConstraintDef, error) {
	constraint := ConstraintDef{
		Name:       c.GetConname(),
		Kind:       constraintKind(c.GetContype()),
		Valid:      !c.GetSkipValidation(),
		UsingIndex: c.GetIndexname(),
	}

	switch constraint.Kind {
	case ConstraintUnique, ConstraintPrimaryKey:
		for _, key := range c.GetKeys() {
			constraint.Columns = append(constraint.Columns, key.GetString_().GetSval())
		}
	case ConstraintForeignKey:
		for _, attr := range c.GetFkAttrs() {
			constraint.Columns = append(constraint.Columns, attr.GetString_().GetSval())
		}
		constraint.ReferencedTable = relationFromRangeVar(c.GetPktable())
	case ConstraintCheck:
		constraint.CheckNotNullColumn = notNullCheckColumn(c.GetRawExpr())
	}

	return constraint, nil
}

func constraintKind(contype pgq.ConstrType) ConstraintKind {
	switch contype {
	case pgq.ConstrType_CONSTR_CHECK:
		return ConstraintCheck
	case pgq.ConstrType_CONSTR_FOREIGN:
		return ConstraintForeignKey
	case pgq.ConstrType_CONSTR_UNIQUE:
		return ConstraintUnique
	case pgq.ConstrType_CONSTR_PRIMARY:
		return ConstraintPrimaryKey
	case pgq.ConstrType_CONSTR_EXCLUSION:
		return ConstraintExclusion
	default:
		return ConstraintOther
	}
}

// notNullCheckColumn returns the column name when the check expression is a
// bare `col IS NOT NULL`, otherwise the empty string.
func notNullCheckColumn(expr *pgq.Node) string {
	nullTest := expr.GetNullTest()
	if nullTest == nil || nullTest.GetNulltesttype() != pgq.NullTestType_IS_NOT_NULL {
		return ""
	}
	fields := nullTest.GetArg().GetColumnRef().GetFields()
	if len(fields) != 1 {
		return ""
	}
	return fields[0].GetString_().GetSval()
}
