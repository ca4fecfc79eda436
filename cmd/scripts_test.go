// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareScriptNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b  string
		aWins bool
	}{
		{"V2__one.sql", "V10__two.sql", true},
		{"V10__two.sql", "V2__one.sql", false},
		{"0001_init.sql", "0002_more.sql", true},
		{"b.sql", "a.sql", false},
		{"V1__a.sql", "V1__b.sql", true},
	}

	for _, tc := range tests {
		t.Run(tc.a+" vs "+tc.b, func(t *testing.T) {
			assert.Equal(t, tc.aWins, compareScriptNames(tc.a, tc.b) < 0)
		})
	}
}

func TestCollectScriptPathsFromDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"V10__b.sql", "V2__a.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	paths, err := collectScriptPaths([]string{dir})
	require.NoError(t, err)

	require.Len(t, paths, 2)
	assert.Equal(t, "V2__a.sql", filepath.Base(paths[0]))
	assert.Equal(t, "V10__b.sql", filepath.Base(paths[1]))
}

func TestParseVariables(t *testing.T) {
	t.Parallel()

	cfg := config{Variables: map[string]string{"schema": "public", "index": "old"}}

	bindings, err := parseVariables(cfg, []string{"index=new"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"schema": "public", "index": "new"}, bindings)

	_, err = parseVariables(cfg, []string{"broken"})
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "eugene.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ignore:\n  - E9\nvariables:\n  schema: public\n"), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"E9"}, cfg.Ignore)
	assert.Equal(t, map[string]string{"schema": "public"}, cfg.Variables)
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Ignore)
	assert.Empty(t, cfg.Variables)
}
