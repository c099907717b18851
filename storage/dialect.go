package storage

import (
	"strconv"
	"strings"
)

// dialect captures the few differences between the Postgres and SQLite backends.
// Queries are written with "?" placeholders and rebound per dialect.
type dialect struct {
	name       string
	driver     string
	dollarArgs bool
	schema     string
}

// rebind rewrites "?" placeholders to "$n" for drivers that require it.
// Queries must not contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
