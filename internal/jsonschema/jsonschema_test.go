// SPDX-License-Identifier: Apache-2.0

// Package jsonschema pins the report serialization contract: reports
// rendered as JSON must validate against schema/report.json.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"github.com/kaaveland/eugene/pkg/lint"
	"github.com/kaaveland/eugene/pkg/script"
)

const schemaPath = "../../schema/report.json"

func TestReportsValidateAgainstSchema(t *testing.T) {
	t.Parallel()

	compiler := jsonschema.NewCompiler()
	sch, err := compiler.Compile(schemaPath)
	require.NoError(t, err)

	scripts := []string{
		"",
		"SET lock_timeout = '2s';",
		"CREATE TABLE prices (price int NOT NULL); ALTER TABLE prices ADD COLUMN id serial;",
		"ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL);",
		"CREATE TABEL broken (id int);",
		"-- eugene: ignore E6\nCREATE INDEX i ON books (author_id);",
	}

	for _, sql := range scripts {
		t.Run(sql, func(t *testing.T) {
			s, err := script.Segment("sample.sql", sql, nil)
			require.NoError(t, err)

			encoded, err := json.Marshal(lint.Run(s, nil))
			require.NoError(t, err)

			decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
			require.NoError(t, err)

			require.NoError(t, sch.Validate(decoded))
		})
	}
}
