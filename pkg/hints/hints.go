// SPDX-License-Identifier: Apache-2.0

// Package hints holds the catalog of migration safety rules. Both the static
// linter and the transaction tracer consult this table; they share rule IDs
// but not detection logic.
package hints

import "sort"

// Detector identifies which analyzer is able to detect a rule.
type Detector int

const (
	DetectedByLint Detector = 1 << iota
	DetectedByTrace
)

// Hint is the metadata for a single rule. The ID is stable: E-prefixed rules
// fail a run, W-prefixed rules only warn.
type Hint struct {
	ID         string
	Name       string
	Condition  string
	Effect     string
	Workaround string
	Detectors  Detector
}

// Lintable reports whether the static linter implements this rule.
func (h Hint) Lintable() bool { return h.Detectors&DetectedByLint != 0 }

// Traceable reports whether the tracer implements this rule.
func (h Hint) Traceable() bool { return h.Detectors&DetectedByTrace != 0 }

// IsError reports whether a trigger of this rule fails the run.
func (h Hint) IsError() bool { return len(h.ID) > 0 && h.ID[0] == 'E' }

var catalog = map[string]Hint{
	"E1": {
		ID:         "E1",
		Name:       "Validating table with a new constraint",
		Condition:  "A new constraint was added and it is already VALID",
		Effect:     "This blocks all table access until all rows are validated",
		Workaround: "Add the constraint as NOT VALID and validate it with ALTER TABLE ... VALIDATE CONSTRAINT later",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E2": {
		ID:         "E2",
		Name:       "Validating table with a new NOT NULL column",
		Condition:  "A column was changed from NULL to NOT NULL",
		Effect:     "This blocks all table access until all rows are validated",
		Workaround: "Add a CHECK constraint as NOT VALID, validate it later, then make the column NOT NULL",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E3": {
		ID:         "E3",
		Name:       "Add a new JSON column",
		Condition:  "A new column of type json was added to a table",
		Effect:     "This breaks SELECT DISTINCT queries and other operations that need equality checks on the column",
		Workaround: "Use the jsonb type instead, it supports all use-cases of json and is more robust and compact",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E4": {
		ID:         "E4",
		Name:       "Running more statements after taking AccessExclusiveLock",
		Condition:  "A transaction that holds an AccessExclusiveLock started a new statement",
		Effect:     "This blocks all access to the table for the duration of this statement",
		Workaround: "Run this statement in a new transaction",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E5": {
		ID:         "E5",
		Name:       "Type change requiring table rewrite",
		Condition:  "A column was changed to a data type that isn't binary compatible",
		Effect:     "This causes a full table rewrite while holding a lock that prevents all other use of the table",
		Workaround: "Add a new column, update it in batches, and drop the old column",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E6": {
		ID:         "E6",
		Name:       "Creating a new index on an existing table",
		Condition:  "A new index was created on an existing table without the CONCURRENTLY keyword",
		Effect:     "This blocks all writes to the table while the index is being created",
		Workaround: "Run CREATE INDEX CONCURRENTLY instead of CREATE INDEX",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E7": {
		ID:         "E7",
		Name:       "Creating a new unique constraint",
		Condition:  "Adding a new unique constraint implicitly creates an index",
		Effect:     "This blocks all writes to the table while the index is being created and validated",
		Workaround: "Create a unique index CONCURRENTLY, then add the constraint using ALTER TABLE ... ADD CONSTRAINT ... UNIQUE USING INDEX",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E8": {
		ID:         "E8",
		Name:       "Creating a new exclusion constraint",
		Condition:  "A new exclusion constraint was added to an existing table",
		Effect:     "This blocks all reads and writes to the table while the constraint index is being created",
		Workaround: "There is no safe way to add an exclusion constraint to an existing table",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E9": {
		ID:         "E9",
		Name:       "Taking dangerous lock without timeout",
		Condition:  "A lock that would block many common operations was taken without a lock_timeout",
		Effect:     "This can block all other operations on the table indefinitely if any other transaction holds a conflicting lock",
		Workaround: "Run SET LOCAL lock_timeout = '2s'; before the statement and retry the migration if it times out",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E10": {
		ID:         "E10",
		Name:       "Rewrote table or index while holding dangerous lock",
		Condition:  "A table or index was rewritten while holding a lock that blocks many operations",
		Effect:     "This blocks many operations on the table or index while the rewrite is in progress",
		Workaround: "Build a new table or index, write to both, then swap them",
		Detectors:  DetectedByTrace,
	},
	"E11": {
		ID:         "E11",
		Name:       "Adding a SERIAL or GENERATED ... STORED column",
		Condition:  "A new column with a SERIAL or GENERATED type was added with ALTER TABLE",
		Effect:     "This blocks all table access until the table is rewritten",
		Workaround: "Can not be done without a table rewrite in the current PostgreSQL version",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"E15": {
		ID:         "E15",
		Name:       "Missing index on foreign key",
		Condition:  "A foreign key was created without a complete index on the referencing column set",
		Effect:     "This can cause sequential scans of the referencing table when rows in the referenced table are updated or deleted",
		Workaround: "Create an index covering every column of the foreign key on the referencing table",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"W12": {
		ID:         "W12",
		Name:       "Multiple ALTER TABLE statements where one will do",
		Condition:  "Multiple ALTER TABLE statements target the same table in one script",
		Effect:     "This is a missed opportunity to reduce the time spent holding a lock on the table",
		Workaround: "Combine the statements into one ALTER TABLE statement with multiple actions",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"W13": {
		ID:         "W13",
		Name:       "Creating an enum",
		Condition:  "A new enum type was created",
		Effect:     "Removing values from an enum type later requires difficult migrations",
		Workaround: "Use a foreign key to a lookup table instead",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
	"W14": {
		ID:         "W14",
		Name:       "Adding a primary key using an index",
		Condition:  "A primary key was added using an index on columns that are not all known to be NOT NULL",
		Effect:     "This can block all table access until all rows are validated as NOT NULL",
		Workaround: "Make every column of the index NOT NULL first, using a validated CHECK constraint to avoid a long validation scan",
		Detectors:  DetectedByLint | DetectedByTrace,
	},
}

// ByID returns the hint for a rule ID.
func ByID(id string) (Hint, bool) {
	h, ok := catalog[id]
	return h, ok
}

// All returns every hint in the catalog, ordered by ID with errors before
// warnings and numeric suffixes compared as numbers.
func All() []Hint {
	hints := make([]Hint, 0, len(catalog))
	for _, h := range catalog {
		hints = append(hints, h)
	}
	sort.Slice(hints, func(i, j int) bool {
		return Less(hints[i].ID, hints[j].ID)
	})
	return hints
}

// Less orders rule IDs with errors before warnings and numeric suffixes
// compared numerically, so E2 sorts before E10.
func Less(a, b string) bool {
	if a[0] != b[0] {
		return a[0] == 'E'
	}
	an, bn := numericSuffix(a), numericSuffix(b)
	if an != bn {
		return an < bn
	}
	return a < b
}

func numericSuffix(id string) int {
	n := 0
	for _, r := range id[1:] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
