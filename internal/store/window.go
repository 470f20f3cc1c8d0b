package store

import (
	"sort"

	"github.com/adi-253/livefeed/internal/models"
)

// Window returns the last limit records of set when ordered by CreatedAt
// ascending. Records sharing a CreatedAt are ordered by key.
func Window(set map[string]models.Record, limit int) map[string]models.Record {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := set[keys[i]], set[keys[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := make(map[string]models.Record, len(keys))
	for _, k := range keys {
		out[k] = set[k]
	}
	return out
}
