// SPDX-License-Identifier: Apache-2.0

// Package tracing executes migration scripts inside a transaction against a
// live PostgreSQL server, snapshots catalog state around every statement and
// evaluates the migration safety rules against the observed effects.
package tracing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/kaaveland/eugene/pkg/lockmodes"
)

// Lock is a relation lock granted to the traced transaction. Two locks are
// the same lock iff they agree on (OID, Mode).
type Lock struct {
	Schema     string
	ObjectName string
	Relkind    string
	OID        uint32
	Mode       lockmodes.LockMode
}

// Column is one attribute of a user relation.
type Column struct {
	Schema   string
	Table    string
	Name     string
	DataType string
	Nullable bool
}

// Constraint is a table constraint and its validity.
type Constraint struct {
	Schema     string
	Table      string
	Name       string
	Contype    string
	Valid      bool
	Definition string
}

// Index is an index over a user relation.
type Index struct {
	Schema   string
	Name     string
	Table    string
	TableOID uint32
	Unique   bool
	Valid    bool
	Partial  bool
	Columns  []string
}

// RelationIdentity ties a relation's oid to its on-disk file node; a change
// of Relfilenode for the same OID means the relation was rewritten.
type RelationIdentity struct {
	OID         uint32
	Relfilenode uint32
	Schema      string
	Name        string
	Relkind     string
}

// Snapshot is the catalog state visible to the transaction at one point in
// time. Snapshots are immutable once captured.
type Snapshot struct {
	Locks       []Lock
	Columns     map[string]Column
	Constraints map[string]Constraint
	Indexes     map[string]Index
	Identities  map[uint32]RelationIdentity
}

const systemSchemas = `('pg_catalog', 'pg_toast', 'information_schema')`

// The lock query excludes relations created by the current transaction:
// their pg_class row carries our own xid, and locks on relations no other
// backend can see cannot block anyone.
const locksQuery = `
SELECT n.nspname, c.relname, c.relkind::text, c.oid, l.mode
FROM pg_locks l
JOIN pg_class c ON c.oid = l.relation
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE l.pid = pg_backend_pid()
  AND l.locktype = 'relation'
  AND l.granted
  AND c.xmin <> pg_current_xact_id()::xid
  AND n.nspname NOT IN ` + systemSchemas + `
ORDER BY n.nspname, c.relname, l.mode`

const columnsQuery = `
SELECT n.nspname, c.relname, a.attname,
       format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE a.attnum > 0
  AND NOT a.attisdropped
  AND c.relkind IN ('r', 'p')
  AND n.nspname NOT IN ` + systemSchemas

const constraintsQuery = `
SELECT n.nspname, c.relname, con.conname, con.contype::text, con.convalidated,
       pg_get_constraintdef(con.oid)
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname NOT IN ` + systemSchemas

const indexesQuery = `
SELECT n.nspname, ic.relname, tc.relname, tc.oid, i.indisunique, i.indisvalid,
       i.indpred IS NOT NULL,
       COALESCE((
         SELECT array_agg(a.attname ORDER BY k.ord)
         FROM unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord)
         JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
         WHERE k.attnum > 0
       ), '{}')
FROM pg_index i
JOIN pg_class ic ON ic.oid = i.indexrelid
JOIN pg_class tc ON tc.oid = i.indrelid
JOIN pg_namespace n ON n.oid = tc.relnamespace
WHERE n.nspname NOT IN ` + systemSchemas

const identitiesQuery = `
SELECT c.oid, c.relfilenode, n.nspname, c.relname, c.relkind::text
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p', 'i', 't', 'm', 'S')
  AND n.nspname NOT IN ` + systemSchemas

// TakeSnapshot captures catalog state using the transaction's own
// connection. The queries only take AccessShareLock on system catalogs, so
// capturing a snapshot does not perturb what it observes.
func TakeSnapshot(ctx context.Context, tx *sql.Tx) (Snapshot, error) {
	snapshot := Snapshot{
		Columns:     map[string]Column{},
		Constraints: map[string]Constraint{},
		Indexes:     map[string]Index{},
		Identities:  map[uint32]RelationIdentity{},
	}

	if err := snapshot.readLocks(ctx, tx); err != nil {
		return Snapshot{}, fmt.Errorf("reading locks: %w", err)
	}
	if err := snapshot.readColumns(ctx, tx); err != nil {
		return Snapshot{}, fmt.Errorf("reading columns: %w", err)
	}
	if err := snapshot.readConstraints(ctx, tx); err != nil {
		return Snapshot{}, fmt.Errorf("reading constraints: %w", err)
	}
	if err := snapshot.readIndexes(ctx, tx); err != nil {
		return Snapshot{}, fmt.Errorf("reading indexes: %w", err)
	}
	if err := snapshot.readIdentities(ctx, tx); err != nil {
		return Snapshot{}, fmt.Errorf("reading relation identities: %w", err)
	}

	return snapshot, nil
}

func (s *Snapshot) readLocks(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, locksQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var lock Lock
		var mode string
		if err := rows.Scan(&lock.Schema, &lock.ObjectName, &lock.Relkind, &lock.OID, &mode); err != nil {
			return err
		}
		lock.Mode, err = lockmodes.Parse(mode)
		if err != nil {
			return err
		}
		s.Locks = append(s.Locks, lock)
	}
	return rows.Err()
}

func (s *Snapshot) readColumns(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, columnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var column Column
		if err := rows.Scan(&column.Schema, &column.Table, &column.Name, &column.DataType, &column.Nullable); err != nil {
			return err
		}
		s.Columns[columnKey(column)] = column
	}
	return rows.Err()
}

func (s *Snapshot) readConstraints(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, constraintsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var constraint Constraint
		if err := rows.Scan(&constraint.Schema, &constraint.Table, &constraint.Name,
			&constraint.Contype, &constraint.Valid, &constraint.Definition); err != nil {
			return err
		}
		s.Constraints[constraintKey(constraint)] = constraint
	}
	return rows.Err()
}

func (s *Snapshot) readIndexes(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, indexesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var index Index
		if err := rows.Scan(&index.Schema, &index.Name, &index.Table, &index.TableOID,
			&index.Unique, &index.Valid, &index.Partial, pq.Array(&index.Columns)); err != nil {
			return err
		}
		s.Indexes[indexKey(index)] = index
	}
	return rows.Err()
}

func (s *Snapshot) readIdentities(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, identitiesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var identity RelationIdentity
		if err := rows.Scan(&identity.OID, &identity.Relfilenode,
			&identity.Schema, &identity.Name, &identity.Relkind); err != nil {
			return err
		}
		s.Identities[identity.OID] = identity
	}
	return rows.Err()
}

func columnKey(c Column) string {
	return c.Schema + "." + c.Table + "." + c.Name
}

func constraintKey(c Constraint) string {
	return c.Schema + "." + c.Table + "\x00" + c.Name
}

func indexKey(i Index) string {
	return i.Schema + "." + i.Name
}
