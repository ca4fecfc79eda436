// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	"fmt"

	pgq "github.com/xataio/pg_query_go/v6"
)

// lowerAlterTableStmt lowers an ALTER TABLE statement into its list of
// actions. Actions with no rule-relevant structure lower to OtherAction.
func lowerAlterTableStmt(stmt *pgq.AlterTableStmt, sql string) (Statement, error) {
	if stmt.GetObjtype() != pgq.ObjectType_OBJECT_TABLE {
		return Other{Raw: sql}, nil
	}

	alter := AlterTable{Table: relationFromRangeVar(stmt.GetRelation())}

	for _, cmd := range stmt.GetCmds() {
		alterTableCmd := cmd.GetAlterTableCmd()
		if alterTableCmd == nil {
			alter.Actions = append(alter.Actions, OtherAction{})
			continue
		}

		action, err := lowerAlterTableCmd(alterTableCmd)
		if err != nil {
			return nil, err
		}
		alter.Actions = append(alter.Actions, action)
	}

	return alter, nil
}

func lowerAlterTableCmd(cmd *pgq.AlterTableCmd) (AlterAction, error) {
	switch cmd.GetSubtype() {
	case pgq.AlterTableType_AT_AddColumn:
		return lowerAddColumn(cmd)
	case pgq.AlterTableType_AT_SetNotNull:
		return SetNotNull{Column: cmd.GetName()}, nil
	case pgq.AlterTableType_AT_DropNotNull:
		return DropNotNull{Column: cmd.GetName()}, nil
	case pgq.AlterTableType_AT_AlterColumnType:
		return lowerAlterColumnType(cmd)
	case pgq.AlterTableType_AT_AddConstraint:
		return lowerAddConstraint(cmd)
	case pgq.AlterTableType_AT_ValidateConstraint:
		return ValidateConstraint{Name: cmd.GetName()}, nil
	case pgq.AlterTableType_AT_DropColumn:
		return DropColumn{Name: cmd.GetName()}, nil
	default:
		return OtherAction{}, nil
	}
}

func lowerAddColumn(cmd *pgq.AlterTableCmd) (AlterAction, error) {
	node, ok := cmd.GetDef().GetNode().(*pgq.Node_ColumnDef)
	if !ok {
		return nil, fmt.Errorf("expected column definition, got %T", cmd.GetDef().GetNode())
	}

	column, err := lowerColumnDef(node.ColumnDef)
	if err != nil {
		return nil, err
	}

	return AddColumn{Column: column}, nil
}

func lowerAlterColumnType(cmd *pgq.AlterTableCmd) (AlterAction, error) {
	node, ok := cmd.GetDef().GetNode().(*pgq.Node_ColumnDef)
	if !ok {
		return nil, fmt.Errorf("expected column definition, got %T", cmd.GetDef().GetNode())
	}

	newType, err := lowerTypeName(node.ColumnDef.GetTypeName())
	if err != nil {
		return nil, err
	}

	// ALTER COLUMN ... TYPE ... USING expr carries the expression in the
	// column definition's raw default.
	var using string
	if raw := node.ColumnDef.GetRawDefault(); raw != nil {
		using, err = pgq.DeparseExpr(raw)
		if err != nil {
			return nil, fmt.Errorf("deparsing USING expression: %w", err)
		}
	}

	return AlterColumnType{
		Column:  cmd.GetName(),
		NewType: newType,
		Using:   using,
	}, nil
}

func lowerAddConstraint(cmd *pgq.AlterTableCmd) (AlterAction, error) {
	node, ok := cmd.GetDef().GetNode().(*pgq.Node_Constraint)
	if !ok {
		return nil, fmt.Errorf("expected constraint definition, got %T", cmd.GetDef().GetNode())
	}

	// ADD CONSTRAINT ... PRIMARY KEY USING INDEX promotes an existing index.
	if node.Constraint.GetContype() == pgq.ConstrType_CONSTR_PRIMARY && node.Constraint.GetIndexname() != "" {
		return AddPrimaryKeyUsingIndex{
			ConstraintName: node.Constraint.GetConname(),
			IndexName:      node.Constraint.GetIndexname(),
		}, nil
	}

	constraint, err := lowerConstraint(node.Constraint)
	if err != nil {
		return nil, err
	}

	return AddConstraint{Constraint: constraint}, nil
}
