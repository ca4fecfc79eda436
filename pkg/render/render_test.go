// SPDX-License-Identifier: Apache-2.0

package render_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaaveland/eugene/pkg/lint"
	"github.com/kaaveland/eugene/pkg/render"
	"github.com/kaaveland/eugene/pkg/report"
	"github.com/kaaveland/eugene/pkg/script"
)

func sampleReport(t *testing.T) report.Report {
	t.Helper()
	s, err := script.Segment("migration.sql", "CREATE INDEX books_idx ON books (author_id);", nil)
	require.NoError(t, err)
	return lint.Run(s, nil)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"plain", "json", "markdown"} {
		_, err := render.ParseFormat(valid)
		assert.NoError(t, err)
	}

	_, err := render.ParseFormat("yaml")
	assert.Error(t, err)
}

func TestJSONOutputHasContractFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, render.Reports(&buf, render.FormatJSON, []report.Report{sampleReport(t)}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	for _, field := range []string{"name", "start_time", "total_duration_millis", "passed_all_checks", "statements"} {
		assert.Contains(t, decoded, field)
	}

	statements := decoded["statements"].([]any)
	require.Len(t, statements, 1)
	stmt := statements[0].(map[string]any)
	for _, field := range []string{"statement_number_in_transaction", "sql", "triggered_rules"} {
		assert.Contains(t, stmt, field)
	}

	rules := stmt["triggered_rules"].([]any)
	require.NotEmpty(t, rules)
	rule := rules[0].(map[string]any)
	for _, field := range []string{"id", "name", "condition", "effect", "workaround", "help", "message"} {
		assert.Contains(t, rule, field)
	}
}

func TestMarkdownOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, render.Reports(&buf, render.FormatMarkdown, []report.Report{sampleReport(t)}))

	out := buf.String()
	assert.Contains(t, out, "# `migration.sql`")
	assert.Contains(t, out, "### E6:")
	assert.Contains(t, out, "```sql")
}

func TestPlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, render.Reports(&buf, render.FormatPlain, []report.Report{sampleReport(t)}))

	out := buf.String()
	assert.Contains(t, out, "migration.sql")
	assert.True(t, strings.Contains(out, "E6") && strings.Contains(out, "E9"))
}

func TestErroredReportRenders(t *testing.T) {
	t.Parallel()

	errored := report.Errored("bad.sql", time.Now(), assert.AnError)

	for _, format := range []render.Format{render.FormatPlain, render.FormatJSON, render.FormatMarkdown} {
		var buf bytes.Buffer
		require.NoError(t, render.Reports(&buf, format, []report.Report{errored}))
		assert.NotEmpty(t, buf.String())
	}
}
