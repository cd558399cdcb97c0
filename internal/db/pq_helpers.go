package db

import "github.com/lib/pq"

// pqStringArray adapts a []string for use as a Postgres text[] query
// parameter (ANY($1) style IN-clauses).
func pqStringArray(values []string) interface{} {
	return pq.Array(values)
}
