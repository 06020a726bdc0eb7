package database

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// uuidArray converts a []uuid.UUID into a pq array parameter suitable for
// ANY($n) predicates.
func uuidArray(ids []uuid.UUID) interface{} {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}

// int64Array converts a []int64 into a pq array parameter suitable for
// ANY($n) predicates.
func int64Array(ids []int64) interface{} {
	return pq.Array(ids)
}
