// SPDX-License-Identifier: Apache-2.0

package lint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaaveland/eugene/pkg/lint"
	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/script"
)

func lintSQL(t *testing.T, sql string) report.Report {
	t.Helper()
	s, err := script.Segment("test.sql", sql, nil)
	require.NoError(t, err)
	return lint.Run(s, nil)
}

// triggeredIDs returns the rule IDs triggered per statement, 1-indexed.
func triggeredIDs(r report.Report) map[int][]string {
	ids := map[int][]string{}
	for _, stmt := range r.Statements {
		for _, rule := range stmt.TriggeredRules {
			ids[stmt.StatementNumberInTransaction] = append(ids[stmt.StatementNumberInTransaction], rule.ID)
		}
	}
	return ids
}

func TestSerialColumnOnFreshTable(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE TABLE prices (price int NOT NULL); ALTER TABLE prices ADD COLUMN id serial;")

	assert.Equal(t, map[int][]string{2: {"E11"}}, triggeredIDs(r))
	assert.False(t, r.PassedAllChecks)
}

func TestConstraintAddedAsValid(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL);")

	assert.Equal(t, map[int][]string{1: {"E1", "E9"}}, triggeredIDs(r))
	assert.False(t, r.PassedAllChecks)
}

func TestNotValidConstraintWithTimeoutIsClean(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout = '2s'; ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL) NOT VALID;")

	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestValidateConstraintAfterDangerousLock(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "ALTER TABLE books ADD CONSTRAINT c CHECK (title IS NOT NULL) NOT VALID; ALTER TABLE books VALIDATE CONSTRAINT c;")

	ids := triggeredIDs(r)
	assert.Contains(t, ids[2], "E4")
	assert.NotContains(t, ids[2], "E9")
}

func TestEnumCreation(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE TYPE document_type AS ENUM ('presentation', 'report'); CREATE TABLE document (type document_type);")

	assert.Equal(t, map[int][]string{1: {"W13"}}, triggeredIDs(r))
	// W-prefixed rules do not fail the run
	assert.True(t, r.PassedAllChecks)
}

func TestRepeatedSetNotNull(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; "+
		"ALTER TABLE authors ALTER COLUMN name SET NOT NULL; "+
		"ALTER TABLE authors ALTER COLUMN email SET NOT NULL;")

	assert.Equal(t, map[int][]string{
		2: {"E2"},
		3: {"E2", "E4", "W12"},
	}, triggeredIDs(r))
}

func TestValidatedCheckSuppressesSetNotNull(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; "+
		"ALTER TABLE authors ADD CONSTRAINT name_nn CHECK (name IS NOT NULL) NOT VALID; "+
		"ALTER TABLE authors VALIDATE CONSTRAINT name_nn; "+
		"ALTER TABLE authors ALTER COLUMN name SET NOT NULL;")

	ids := triggeredIDs(r)
	assert.NotContains(t, ids[4], "E2", "validated CHECK makes SET NOT NULL safe")
	assert.Contains(t, ids[4], "E4")
}

func TestNonConcurrentIndex(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE INDEX books_author_idx ON books (author_id);")
	assert.Equal(t, map[int][]string{1: {"E6", "E9"}}, triggeredIDs(r))
}

func TestIndexOnFreshTableIsSafe(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE TABLE books (id int); CREATE INDEX books_id_idx ON books (id);")
	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestUniqueConstraintWithoutUsingIndex(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; ALTER TABLE books ADD CONSTRAINT books_isbn_key UNIQUE (isbn);")
	ids := triggeredIDs(r)
	assert.Contains(t, ids[2], "E7")
	assert.NotContains(t, ids[2], "E1", "unique constraints cannot be NOT VALID")
}

func TestExclusionConstraint(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; ALTER TABLE rooms ADD CONSTRAINT no_overlap EXCLUDE USING gist (room_id WITH =, booked WITH &&);")
	assert.Contains(t, triggeredIDs(r)[2], "E8")
}

func TestJSONColumn(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE TABLE events (payload json);")
	assert.Equal(t, map[int][]string{1: {"E3"}}, triggeredIDs(r))

	r = lintSQL(t, "CREATE TABLE events (payload jsonb);")
	assert.Empty(t, triggeredIDs(r))
}

func TestAlterColumnTypeRewrite(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; ALTER TABLE authors ALTER COLUMN name TYPE int;")
	assert.Contains(t, triggeredIDs(r)[2], "E5")
}

func TestCompatibleTypeChangeInScript(t *testing.T) {
	t.Parallel()

	// the column type is known because the script added the column
	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; "+
		"ALTER TABLE authors ADD COLUMN nickname varchar(20); "+
		"ALTER TABLE authors ALTER COLUMN nickname TYPE text;")
	assert.NotContains(t, triggeredIDs(r)[3], "E5")
}

func TestPrimaryKeyUsingIndex(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET LOCAL lock_timeout='2s'; ALTER TABLE authors ADD CONSTRAINT authors_pkey PRIMARY KEY USING INDEX authors_id_idx;")
	assert.Contains(t, triggeredIDs(r)[2], "W14")
}

func TestMissingForeignKeyIndex(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE TABLE books (id int PRIMARY KEY, author_id int, "+
		"CONSTRAINT books_author_fkey FOREIGN KEY (author_id) REFERENCES authors (id));")
	assert.Contains(t, triggeredIDs(r)[1], "E15")

	// a later index in the same script satisfies the foreign key
	r = lintSQL(t, "CREATE TABLE books (id int PRIMARY KEY, author_id int, "+
		"CONSTRAINT books_author_fkey FOREIGN KEY (author_id) REFERENCES authors (id)); "+
		"CREATE INDEX books_author_idx ON books (author_id);")
	assert.NotContains(t, triggeredIDs(r)[1], "E15")
}

func TestInlineIgnoreDirective(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "-- eugene: ignore E6, E9\nCREATE INDEX books_author_idx ON books (author_id);")
	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestBareIgnoreSuppressesEverything(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "-- eugene: ignore\nALTER TABLE authors ADD CONSTRAINT c CHECK (name IS NOT NULL);")
	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestGlobalIgnores(t *testing.T) {
	t.Parallel()

	s, err := script.Segment("test.sql", "CREATE INDEX books_author_idx ON books (author_id);", nil)
	require.NoError(t, err)

	r := lint.Run(s, []string{"E6", "E9"})
	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestIgnoringUnknownRuleIsANoOp(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "-- eugene: ignore E999\nSELECT 1;")
	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestEmptyScriptPasses(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "")
	assert.Empty(t, r.Statements)
	assert.True(t, r.PassedAllChecks)
}

func TestOnlySetStatementsPass(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "SET lock_timeout = '2s'; SET statement_timeout = '10s';")
	assert.Empty(t, triggeredIDs(r))
	assert.True(t, r.PassedAllChecks)
}

func TestParseErrorIsRecoverablePerStatement(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "CREATE TABEL nope (id int); CREATE TABLE ok (id int);")

	require.Len(t, r.Statements, 2)
	require.Len(t, r.Statements[0].TriggeredRules, 1)
	assert.Equal(t, "parse_error", r.Statements[0].TriggeredRules[0].ID)
	assert.Empty(t, r.Statements[1].TriggeredRules)
	assert.False(t, r.PassedAllChecks)
}

func TestLintIsDeterministic(t *testing.T) {
	t.Parallel()

	sql := "CREATE TABLE prices (price int NOT NULL); ALTER TABLE prices ADD COLUMN id serial; CREATE INDEX p ON other (x);"
	first := lintSQL(t, sql)
	second := lintSQL(t, sql)

	assert.Equal(t, triggeredIDs(first), triggeredIDs(second))
	assert.Equal(t, first.PassedAllChecks, second.PassedAllChecks)
}

func TestTriggerOrderWithinStatement(t *testing.T) {
	t.Parallel()

	r := lintSQL(t, "ALTER TABLE books ADD CONSTRAINT c CHECK (title IS NOT NULL) NOT VALID; "+
		"ALTER TABLE books ALTER COLUMN title SET NOT NULL;")

	ids := triggeredIDs(r)[2]
	assert.Equal(t, []string{"E2", "E4", "E9", "W12"}, ids)
}
