package relay

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// pqUUIDArray adapts a uuid slice for use with = ANY($1).
func pqUUIDArray(ids []uuid.UUID) any {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	return pq.Array(raw)
}
