package storage

import (
	"sort"

	"gatekeeper/internal/models"
)

// selectViolations applies filter to all and returns copies ordered newest
// first together with the total match count.
func selectViolations(all []*models.Violation, filter models.ViolationFilter) ([]*models.Violation, int) {
	filter = filter.Normalize()

	matched := make([]*models.Violation, 0)
	for _, v := range all {
		if filter.Matches(v) {
			vCopy := *v
			matched = append(matched, &vCopy)
		}
	}
	sortNewestFirst(matched)

	total := len(matched)
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total
}

func sortNewestFirst(vs []*models.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if !vs[i].OccurredAt.Equal(vs[j].OccurredAt) {
			return vs[i].OccurredAt.After(vs[j].OccurredAt)
		}
		return vs[i].ID > vs[j].ID
	})
}
