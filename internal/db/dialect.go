package db

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported backends.
// Queries are written with '?' placeholders and rebound per dialect.
type Dialect struct {
	name       string
	dollarArgs bool
	rowLocks   bool
}

var (
	DialectSQLite   = Dialect{name: "sqlite"}
	DialectPostgres = Dialect{name: "postgres", dollarArgs: true, rowLocks: true}
)

func (d Dialect) Name() string { return d.name }

// Rebind rewrites '?' placeholders to $n where the backend requires it.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// LockClause locks the selected rows for the rest of the transaction.
// SQLite has no row locks; its immediate transactions already hold the write lock.
func (d Dialect) LockClause() string {
	if d.rowLocks {
		return " FOR UPDATE"
	}
	return ""
}

// ShareLockClause keeps the selected rows from being updated or locked for
// update by others until the transaction ends. After waiting on a conflicting
// lock, postgres re-evaluates the WHERE clause against the committed row.
func (d Dialect) ShareLockClause() string {
	if d.rowLocks {
		return " FOR SHARE"
	}
	return ""
}

// ClaimClause locks selected rows and skips rows another transaction holds.
func (d Dialect) ClaimClause() string {
	if d.rowLocks {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// Placeholders returns n comma separated placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
