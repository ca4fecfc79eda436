// SPDX-License-Identifier: Apache-2.0

package report_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaaveland/eugene/pkg/report"
)

func TestAssembleFiltersIgnoredTriggers(t *testing.T) {
	t.Parallel()

	results := []report.StatementResult{
		{
			Index: 1,
			SQL:   "CREATE INDEX i ON t (a)",
			Triggers: []report.Trigger{
				{RuleID: "E6", Message: "non-concurrent index", StatementIndex: 1},
				{RuleID: "E9", Message: "no lock_timeout", StatementIndex: 1},
			},
			IgnoredRules: []string{"E6"},
		},
	}

	r := report.Assemble("s.sql", time.Now(), results, nil)

	require.Len(t, r.Statements, 1)
	require.Len(t, r.Statements[0].TriggeredRules, 1)
	assert.Equal(t, "E9", r.Statements[0].TriggeredRules[0].ID)
	assert.False(t, r.PassedAllChecks)
}

func TestAssembleGlobalIgnores(t *testing.T) {
	t.Parallel()

	results := []report.StatementResult{
		{
			Index:    1,
			Triggers: []report.Trigger{{RuleID: "E6", StatementIndex: 1}},
		},
	}

	r := report.Assemble("s.sql", time.Now(), results, []string{"E6"})
	assert.Empty(t, r.Statements[0].TriggeredRules)
	assert.True(t, r.PassedAllChecks)
}

func TestAssembleIgnoreAll(t *testing.T) {
	t.Parallel()

	results := []report.StatementResult{
		{
			Index: 1,
			Triggers: []report.Trigger{
				{RuleID: "E6", StatementIndex: 1},
				{RuleID: "W12", StatementIndex: 1},
			},
			IgnoreAll: true,
		},
	}

	r := report.Assemble("s.sql", time.Now(), results, nil)
	assert.Empty(t, r.Statements[0].TriggeredRules)
	assert.True(t, r.PassedAllChecks)
}

func TestWarningsDoNotFail(t *testing.T) {
	t.Parallel()

	results := []report.StatementResult{
		{Index: 1, Triggers: []report.Trigger{{RuleID: "W13", StatementIndex: 1}}},
	}

	r := report.Assemble("s.sql", time.Now(), results, nil)
	require.Len(t, r.Statements[0].TriggeredRules, 1)
	assert.True(t, r.PassedAllChecks)
}

func TestTriggersSortedByRuleID(t *testing.T) {
	t.Parallel()

	results := []report.StatementResult{
		{
			Index: 1,
			Triggers: []report.Trigger{
				{RuleID: "W12", StatementIndex: 1},
				{RuleID: "E10", StatementIndex: 1},
				{RuleID: "E2", StatementIndex: 1},
			},
		},
	}

	r := report.Assemble("s.sql", time.Now(), results, nil)

	var ids []string
	for _, rule := range r.Statements[0].TriggeredRules {
		ids = append(ids, rule.ID)
	}
	assert.Equal(t, []string{"E2", "E10", "W12"}, ids)
}

func TestTriggerCarriesCatalogMetadata(t *testing.T) {
	t.Parallel()

	results := []report.StatementResult{
		{Index: 1, Triggers: []report.Trigger{{RuleID: "E6", Message: "msg", Help: "help", StatementIndex: 1}}},
	}

	r := report.Assemble("s.sql", time.Now(), results, nil)

	rule := r.Statements[0].TriggeredRules[0]
	assert.Equal(t, "E6", rule.ID)
	assert.NotEmpty(t, rule.Name)
	assert.NotEmpty(t, rule.Condition)
	assert.NotEmpty(t, rule.Effect)
	assert.NotEmpty(t, rule.Workaround)
	assert.Equal(t, "msg", rule.Message)
	assert.Equal(t, "help", rule.Help)
}

func TestReportJSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := report.Assemble("s.sql", time.Unix(1700000000, 0).UTC(), []report.StatementResult{
		{
			Index:      1,
			SQL:        "ALTER TABLE t ADD COLUMN c json",
			LineNumber: 3,
			Duration:   42 * time.Millisecond,
			LocksAtStart: []report.Lock{},
			NewLocksTaken: []report.Lock{{
				Schema:         "public",
				ObjectName:     "t",
				Mode:           "AccessExclusiveLock",
				Relkind:        "r",
				OID:            4242,
				MaybeDangerous: true,
				BlockedQueries: []string{"SELECT", "INSERT"},
				BlockedDDL:     []string{"CREATE INDEX"},
			}},
			NewColumns: []report.Column{{Schema: "public", Table: "t", Name: "c", DataType: "json", Nullable: true}},
			Triggers:   []report.Trigger{{RuleID: "E3", Message: "json column", StatementIndex: 1}},
		},
	}, nil)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded report.Report
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, original, decoded)
}

func TestErroredReportNeverPasses(t *testing.T) {
	t.Parallel()

	r := report.Errored("s.sql", time.Now(), assert.AnError)
	assert.False(t, r.PassedAllChecks)
	assert.NotEmpty(t, r.Error)
}
