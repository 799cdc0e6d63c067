package combo

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
)

// SecondaryCounters derives per-user secondary totals from the live records.
// There is no separate counter for the secondary category.
func (s Snapshot) SecondaryCounters() Counters {
	users := lo.MapValues(lo.GroupBy(s.Records, func(r Record) string { return r.Username }),
		func(rs []Record, _ string) int { return len(rs) })
	return Counters{Total: len(s.Records), Users: users}
}

// Totals returns the channel totals for both categories.
func (s Snapshot) Totals() (primary, secondary int) {
	return s.Aggregate.Total, len(s.Records)
}

// Standing is one leaderboard row.
type Standing struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// Leaderboard sorts users by count descending (ties by name) and keeps the
// first n rows. n <= 0 keeps every row.
func Leaderboard(c Counters, n int) []Standing {
	rows := lo.Map(lo.Entries(c.Users), func(e lo.Entry[string, int], _ int) Standing {
		return Standing{Username: e.Key, Count: e.Value}
	})
	slices.SortFunc(rows, func(a, b Standing) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Username, b.Username)
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Conserved reports whether Total equals the sum of the per-user counts.
func (c Counters) Conserved() bool {
	return c.Total == lo.Sum(lo.Values(c.Users))
}
