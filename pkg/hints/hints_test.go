// SPDX-License-Identifier: Apache-2.0

package hints_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaaveland/eugene/pkg/hints"
)

func TestCatalogIsComplete(t *testing.T) {
	t.Parallel()

	expected := []string{"E1", "E2", "E3", "E4", "E5", "E6", "E7", "E8", "E9", "E10", "E11", "E15", "W12", "W13", "W14"}

	all := hints.All()
	var ids []string
	for _, hint := range all {
		ids = append(ids, hint.ID)
		assert.NotEmpty(t, hint.Name, hint.ID)
		assert.NotEmpty(t, hint.Condition, hint.ID)
		assert.NotEmpty(t, hint.Effect, hint.ID)
		assert.NotEmpty(t, hint.Workaround, hint.ID)
		assert.True(t, hint.Lintable() || hint.Traceable(), hint.ID)
	}
	assert.Equal(t, expected, ids)
}

func TestRewriteDetectionIsTracerOnly(t *testing.T) {
	t.Parallel()

	hint, ok := hints.ByID("E10")
	require.True(t, ok)
	assert.False(t, hint.Lintable())
	assert.True(t, hint.Traceable())
}

func TestErrorsAndWarnings(t *testing.T) {
	t.Parallel()

	e6, _ := hints.ByID("E6")
	w13, _ := hints.ByID("W13")
	assert.True(t, e6.IsError())
	assert.False(t, w13.IsError())
}

func TestLessOrdersNumerically(t *testing.T) {
	t.Parallel()

	assert.True(t, hints.Less("E2", "E10"))
	assert.True(t, hints.Less("E15", "W12"))
	assert.False(t, hints.Less("W13", "E1"))
}
