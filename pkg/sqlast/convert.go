// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	"fmt"
	"strings"

	pgq "github.com/xataio/pg_query_go/v6"
)

var ErrStatementCount = fmt.Errorf("expected exactly one statement")

// Lower parses a single SQL statement and lowers it to its compact form.
// Statements with no rule-relevant structure lower to Other.
func Lower(sql string) (Statement, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return nil, fmt.Errorf("%w: got %d statements", ErrStatementCount, len(stmts))
	}

	switch node := stmts[0].GetStmt().GetNode().(type) {
	case *pgq.Node_CreateStmt:
		return lowerCreateStmt(node.CreateStmt)
	case *pgq.Node_IndexStmt:
		return lowerIndexStmt(node.IndexStmt)
	case *pgq.Node_AlterTableStmt:
		return lowerAlterTableStmt(node.AlterTableStmt, sql)
	case *pgq.Node_CreateEnumStmt:
		return CreateType{Type: relationFromAnyName(node.CreateEnumStmt.GetTypeName()), Kind: TypeEnum}, nil
	case *pgq.Node_CompositeTypeStmt:
		return CreateType{Type: relationFromRangeVar(node.CompositeTypeStmt.GetTypevar()), Kind: TypeOther}, nil
	case *pgq.Node_CreateRangeStmt:
		return CreateType{Type: relationFromAnyName(node.CreateRangeStmt.GetTypeName()), Kind: TypeOther}, nil
	case *pgq.Node_VariableSetStmt:
		return lowerVariableSetStmt(node.VariableSetStmt, sql)
	case *pgq.Node_RenameStmt:
		return lowerRenameStmt(node.RenameStmt, sql)
	case *pgq.Node_CreateSeqStmt:
		return CreateSequence{Sequence: relationFromRangeVar(node.CreateSeqStmt.GetSequence())}, nil
	default:
		return Other{Raw: sql}, nil
	}
}

func relationFromRangeVar(rv *pgq.RangeVar) Relation {
	return Relation{
		Schema: rv.GetSchemaname(),
		Name:   rv.GetRelname(),
	}
}

// relationFromAnyName converts a qualified-name node list, such as the type
// name of CREATE TYPE, to a Relation.
func relationFromAnyName(names []*pgq.Node) Relation {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n.GetString_().GetSval())
	}
	switch len(parts) {
	case 0:
		return Relation{}
	case 1:
		return Relation{Name: parts[0]}
	default:
		return Relation{Schema: parts[0], Name: parts[len(parts)-1]}
	}
}

// lowerTypeName deparses a column type and strips the pg_catalog qualifier the
// grammar inserts for built-in types.
func lowerTypeName(typeName *pgq.TypeName) (string, error) {
	typeString, err := pgq.DeparseTypeName(typeName)
	if err != nil {
		return "", fmt.Errorf("deparsing type name: %w", err)
	}
	return strings.TrimPrefix(typeString, "pg_catalog."), nil
}

// baseTypeName reduces a deparsed type to its bare name: lower-cased, without
// type modifiers or array bounds.
func baseTypeName(typeString string) string {
	s := strings.ToLower(typeString)
	if i := strings.IndexAny(s, "(["); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

var serialTypes = map[string]bool{
	"smallserial": true,
	"serial2":     true,
	"serial":      true,
	"serial4":     true,
	"bigserial":   true,
	"serial8":     true,
}

// IsSerialType reports whether a type name is one of the serial pseudo-types.
func IsSerialType(typeString string) bool {
	return serialTypes[baseTypeName(typeString)]
}

// IsJSONType reports whether a type name resolves to json (not jsonb).
func IsJSONType(typeString string) bool {
	return baseTypeName(typeString) == "json"
}

func lowerVariableSetStmt(stmt *pgq.VariableSetStmt, sql string) (Statement, error) {
	switch stmt.GetKind() {
	case pgq.VariableSetKind_VAR_SET_VALUE:
		var value string
		if args := stmt.GetArgs(); len(args) > 0 {
			value = constantValue(args[0])
		}
		return SetParameter{Name: stmt.GetName(), Value: value, Local: stmt.GetIsLocal()}, nil
	case pgq.VariableSetKind_VAR_SET_DEFAULT, pgq.VariableSetKind_VAR_RESET:
		return SetParameter{Name: stmt.GetName(), Local: stmt.GetIsLocal()}, nil
	default:
		return Other{Raw: sql}, nil
	}
}

// constantValue extracts the literal value of a SET argument.
func constantValue(node *pgq.Node) string {
	c := node.GetAConst()
	if c == nil {
		return ""
	}
	switch v := c.GetVal().(type) {
	case *pgq.A_Const_Sval:
		return v.Sval.GetSval()
	case *pgq.A_Const_Ival:
		return fmt.Sprintf("%d", v.Ival.GetIval())
	case *pgq.A_Const_Fval:
		return v.Fval.GetFval()
	case *pgq.A_Const_Boolval:
		return fmt.Sprintf("%t", v.Boolval.GetBoolval())
	default:
		return ""
	}
}

func lowerRenameStmt(stmt *pgq.RenameStmt, sql string) (Statement, error) {
	if stmt.GetRenameType() != pgq.ObjectType_OBJECT_COLUMN {
		return Other{Raw: sql}, nil
	}
	return AlterTable{
		Table: relationFromRangeVar(stmt.GetRelation()),
		Actions: []AlterAction{
			RenameColumn{From: stmt.GetSubname(), To: stmt.GetNewname()},
		},
	}, nil
}
