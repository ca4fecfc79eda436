// SPDX-License-Identifier: Apache-2.0

package sqlast

import (
	pgq "github.com/xataio/pg_query_go/v6"
)

// lowerIndexStmt lowers CREATE [UNIQUE] INDEX [CONCURRENTLY].
func lowerIndexStmt(stmt *pgq.IndexStmt) (Statement, error) {
	table := relationFromRangeVar(stmt.GetRelation())

	// Indexes live in the schema of their table.
	index := Relation{Schema: table.Schema, Name: stmt.GetIdxname()}

	var columns []string
	for _, param := range stmt.GetIndexParams() {
		if name := param.GetIndexElem().GetName(); name != "" {
			columns = append(columns, name)
		}
	}

	return CreateIndex{
		Index:      index,
		Table:      table,
		Concurrent: stmt.GetConcurrent(),
		Unique:     stmt.GetUnique(),
		Partial:    stmt.GetWhereClause() != nil,
		Columns:    columns,
	}, nil
}
