// SPDX-License-Identifier: Apache-2.0

package tracing_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/script"
	"github.com/kaaveland/eugene/pkg/testutils"
	"github.com/kaaveland/eugene/pkg/tracing"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func traceSQL(t *testing.T, db *sql.DB, setup, sql string) report.Report {
	t.Helper()
	ctx := context.Background()

	if setup != "" {
		_, err := db.ExecContext(ctx, setup)
		require.NoError(t, err)
	}

	s, err := script.Segment("trace.sql", sql, nil)
	require.NoError(t, err)

	return tracing.Run(ctx, db, s, tracing.Options{})
}

func triggeredIDs(r report.Report) map[int][]string {
	ids := map[int][]string{}
	for _, stmt := range r.Statements {
		for _, rule := range stmt.TriggeredRules {
			ids[stmt.StatementNumberInTransaction] = append(ids[stmt.StatementNumberInTransaction], rule.ID)
		}
	}
	return ids
}

func TestTraceValidConstraintOnExistingTable(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE authors (id int, name text)",
			"ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL);",
		)

		ids := triggeredIDs(r)
		assert.Contains(t, ids[1], "E1")
		assert.Contains(t, ids[1], "E9")
		assert.False(t, r.PassedAllChecks)
	})
}

func TestTraceNotValidConstraintWithTimeout(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE authors (id int, name text)",
			"SET LOCAL lock_timeout = '2s'; ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL) NOT VALID;",
		)

		assert.Empty(t, triggeredIDs(r))
		assert.True(t, r.PassedAllChecks)
	})
}

func TestTraceStatementAfterAccessExclusive(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE books (id int, title text)",
			"ALTER TABLE books ADD CONSTRAINT c CHECK (title IS NOT NULL) NOT VALID; ALTER TABLE books VALIDATE CONSTRAINT c;",
		)

		assert.Contains(t, triggeredIDs(r)[2], "E4")
	})
}

func TestTraceNonConcurrentIndexOnExistingTable(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE books (id int, author_id int)",
			"SET LOCAL lock_timeout = '2s'; CREATE INDEX books_author_idx ON books (author_id);",
		)

		assert.Contains(t, triggeredIDs(r)[2], "E6")
	})
}

func TestTraceIndexOnTableCreatedInTransaction(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db, "",
			"CREATE TABLE books (id int, author_id int); CREATE INDEX books_author_idx ON books (author_id);",
		)

		assert.Empty(t, triggeredIDs(r))
		assert.True(t, r.PassedAllChecks)
	})
}

func TestTraceTypeChangeRewrite(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE prices (price int)",
			"SET LOCAL lock_timeout = '2s'; ALTER TABLE prices ALTER COLUMN price TYPE bigint;",
		)

		ids := triggeredIDs(r)
		assert.Contains(t, ids[2], "E5")
		assert.Contains(t, ids[2], "E10")
	})
}

func TestTraceSetNotNullOnExistingTable(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE authors (id int, name text)",
			"SET LOCAL lock_timeout = '2s'; ALTER TABLE authors ALTER COLUMN name SET NOT NULL;",
		)

		assert.Contains(t, triggeredIDs(r)[2], "E2")
	})
}

func TestTraceRollsBackByDefault(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		traceSQL(t, db, "", "CREATE TABLE ephemeral (id int);")

		var exists bool
		err := db.QueryRow(
			"SELECT EXISTS (SELECT FROM pg_class WHERE relname = 'ephemeral')",
		).Scan(&exists)
		require.NoError(t, err)
		assert.False(t, exists, "trace must roll back unless commit was requested")
	})
}

func TestTraceCommitWhenRequested(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		ctx := context.Background()

		s, err := script.Segment("commit.sql", "CREATE TABLE durable (id int);", nil)
		require.NoError(t, err)

		r := tracing.Run(ctx, db, s, tracing.Options{Commit: true})
		assert.True(t, r.PassedAllChecks)

		var exists bool
		err = db.QueryRow(
			"SELECT EXISTS (SELECT FROM pg_class WHERE relname = 'durable')",
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestTraceStatementFailureAbortsScript(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db, "",
			"ALTER TABLE missing ADD COLUMN x int; CREATE TABLE never_created (id int);",
		)

		assert.NotEmpty(t, r.Error)
		assert.False(t, r.PassedAllChecks)
		assert.Empty(t, r.Statements)
	})
}

func TestTraceRecordsLocksAndColumns(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE books (id int)",
			"ALTER TABLE books ADD COLUMN title text;",
		)

		require.Len(t, r.Statements, 1)
		stmt := r.Statements[0]

		var modes []string
		for _, lock := range stmt.NewLocksTaken {
			if lock.ObjectName == "books" {
				modes = append(modes, lock.Mode)
			}
		}
		assert.Contains(t, modes, "AccessExclusiveLock")

		require.Len(t, stmt.NewColumns, 1)
		assert.Equal(t, "title", stmt.NewColumns[0].Name)
	})
}

func TestTraceForeignKeyWithoutIndex(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(db *sql.DB, _ string) {
		r := traceSQL(t, db,
			"CREATE TABLE authors (id int PRIMARY KEY); CREATE TABLE books (id int, author_id int)",
			"SET LOCAL lock_timeout = '2s'; ALTER TABLE books ADD CONSTRAINT books_author_fkey FOREIGN KEY (author_id) REFERENCES authors (id) NOT VALID;",
		)

		assert.Contains(t, triggeredIDs(r)[2], "E15")
	})
}
