// SPDX-License-Identifier: Apache-2.0

package pgpass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePgpass(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgpass")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PGPASSFILE", path)
}

func TestEnvironmentWins(t *testing.T) {
	t.Setenv("EUGENE_PASSWORD", "from-env")
	writePgpass(t, "localhost:5432:mydb:me:from-file\n")

	password, err := Resolve("localhost", "5432", "mydb", "me")
	require.NoError(t, err)
	assert.Equal(t, "from-env", password)
}

func TestExactMatch(t *testing.T) {
	os.Unsetenv("EUGENE_PASSWORD")
	writePgpass(t, "# a comment\nlocalhost:5432:mydb:me:sekret\nother:5432:*:*:nope\n")

	password, err := Resolve("localhost", "5432", "mydb", "me")
	require.NoError(t, err)
	assert.Equal(t, "sekret", password)
}

func TestWildcards(t *testing.T) {
	os.Unsetenv("EUGENE_PASSWORD")
	writePgpass(t, "*:*:*:me:anywhere\n")

	password, err := Resolve("db.example.com", "5433", "whatever", "me")
	require.NoError(t, err)
	assert.Equal(t, "anywhere", password)
}

func TestEscapedColon(t *testing.T) {
	os.Unsetenv("EUGENE_PASSWORD")
	writePgpass(t, `localhost:5432:mydb:me:pa\:ss` + "\n")

	password, err := Resolve("localhost", "5432", "mydb", "me")
	require.NoError(t, err)
	assert.Equal(t, "pa:ss", password)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	os.Unsetenv("EUGENE_PASSWORD")
	t.Setenv("PGPASSFILE", filepath.Join(t.TempDir(), "does-not-exist"))

	password, err := Resolve("localhost", "5432", "mydb", "me")
	require.NoError(t, err)
	assert.Empty(t, password)
}
