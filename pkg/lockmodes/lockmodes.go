// SPDX-License-Identifier: Apache-2.0

package lockmodes

import "fmt"

// LockMode is one of the eight relation-level lock modes PostgreSQL can hold.
type LockMode int

const (
	AccessShare LockMode = iota
	RowShare
	RowExclusive
	ShareUpdateExclusive
	Share
	ShareRowExclusive
	Exclusive
	AccessExclusive
)

// All lists every lock mode, weakest first.
var All = []LockMode{
	AccessShare,
	RowShare,
	RowExclusive,
	ShareUpdateExclusive,
	Share,
	ShareRowExclusive,
	Exclusive,
	AccessExclusive,
}

func (m LockMode) String() string {
	switch m {
	case AccessShare:
		return "AccessShareLock"
	case RowShare:
		return "RowShareLock"
	case RowExclusive:
		return "RowExclusiveLock"
	case ShareUpdateExclusive:
		return "ShareUpdateExclusiveLock"
	case Share:
		return "ShareLock"
	case ShareRowExclusive:
		return "ShareRowExclusiveLock"
	case Exclusive:
		return "ExclusiveLock"
	case AccessExclusive:
		return "AccessExclusiveLock"
	default:
		return "UnknownLock"
	}
}

// Parse maps a pg_locks.mode value to a LockMode.
func Parse(mode string) (LockMode, error) {
	for _, m := range All {
		if m.String() == mode {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unrecognized lock mode %q", mode)
}

// conflicts holds, per mode, the set of modes it cannot coexist with. This is
// the conflict table from the PostgreSQL explicit-locking documentation.
var conflicts = map[LockMode][]LockMode{
	AccessShare:          {AccessExclusive},
	RowShare:             {Exclusive, AccessExclusive},
	RowExclusive:         {Share, ShareRowExclusive, Exclusive, AccessExclusive},
	ShareUpdateExclusive: {ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive},
	Share:                {RowExclusive, ShareUpdateExclusive, ShareRowExclusive, Exclusive, AccessExclusive},
	ShareRowExclusive:    {RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive},
	Exclusive:            {RowShare, RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive},
	AccessExclusive:      {AccessShare, RowShare, RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive},
}

// queriesByMode holds the DML that acquires each of the weak modes.
var queriesByMode = map[LockMode][]string{
	AccessShare:  {"SELECT"},
	RowShare:     {"SELECT FOR UPDATE", "SELECT FOR SHARE"},
	RowExclusive: {"INSERT", "UPDATE", "DELETE", "MERGE"},
}

// ddlByMode holds common DDL and maintenance commands that acquire each of the
// stronger modes.
var ddlByMode = map[LockMode][]string{
	ShareUpdateExclusive: {"VACUUM", "ANALYZE", "CREATE INDEX CONCURRENTLY", "CREATE STATISTICS", "ALTER INDEX (RENAME)"},
	Share:                {"CREATE INDEX"},
	ShareRowExclusive:    {"CREATE TRIGGER", "ALTER TABLE (some forms)"},
	Exclusive:            {"REFRESH MATERIALIZED VIEW CONCURRENTLY"},
	AccessExclusive:      {"ALTER TABLE", "DROP TABLE", "TRUNCATE", "REINDEX", "CLUSTER", "VACUUM FULL", "REFRESH MATERIALIZED VIEW"},
}

// ConflictsWith reports whether holding m blocks acquisition of other.
func (m LockMode) ConflictsWith(other LockMode) bool {
	for _, c := range conflicts[m] {
		if c == other {
			return true
		}
	}
	return false
}

// IsDangerous reports whether holding m can block ordinary reads or writes:
// true iff m conflicts with AccessShare (blocks SELECT) or RowExclusive
// (blocks INSERT, UPDATE, DELETE).
func (m LockMode) IsDangerous() bool {
	return m.ConflictsWith(AccessShare) || m.ConflictsWith(RowExclusive)
}

// BlockedQueries returns the DML blocked by holding m, in a stable order.
func (m LockMode) BlockedQueries() []string {
	var blocked []string
	for _, weak := range []LockMode{AccessShare, RowShare, RowExclusive} {
		if m.ConflictsWith(weak) {
			blocked = append(blocked, queriesByMode[weak]...)
		}
	}
	return blocked
}

// BlockedDDL returns the DDL and maintenance commands blocked by holding m, in
// a stable order.
func (m LockMode) BlockedDDL() []string {
	var blocked []string
	for _, strong := range []LockMode{ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive} {
		if m.ConflictsWith(strong) {
			blocked = append(blocked, ddlByMode[strong]...)
		}
	}
	return blocked
}
