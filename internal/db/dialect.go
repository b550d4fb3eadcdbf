package db

import (
	"strconv"
	"strings"
)

// Rebind rewrites '?' placeholders into the form the driver expects.
// Postgres uses $1..$n; sqlite3 and mysql keep '?'. Placeholders inside
// single-quoted literals are left alone.
func Rebind(driverName, query string) string {
	if driverName != "postgres" {
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
