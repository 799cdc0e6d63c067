package combo

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

const (
	// EntityExpiry is the idle time after which a persistent entity starts expiring.
	EntityExpiry = time.Hour
	// RemovalDelay is how long an expiring entity stays before the sweep removes it.
	RemovalDelay = 2 * time.Second
	// RecordExpiry is the window after which a secondary record stops counting.
	RecordExpiry = 12 * time.Hour
)

// SweepResult lists what a sweep changed.
type SweepResult struct {
	MarkedExpiring []string
	Removed        []string
	RemovedCount   int
	RecordsPruned  int
}

// Changed reports whether the sweep produced a different snapshot.
func (r SweepResult) Changed() bool {
	return len(r.MarkedExpiring) > 0 || len(r.Removed) > 0 || r.RecordsPruned > 0
}

// Sweep advances every entity and record by wall-clock age and returns the
// resulting snapshot in one piece. now is epoch milliseconds. When nothing is
// due the input snapshot is returned unchanged.
func (s Snapshot) Sweep(now int64) (Snapshot, SweepResult) {
	var res SweepResult
	idle := EntityExpiry.Milliseconds()
	removal := RemovalDelay.Milliseconds()

	for name, e := range s.Entities {
		switch {
		case e.Expiring && now-e.ExpiryStartTimestamp >= removal:
			res.Removed = append(res.Removed, name)
		case !e.Expiring && now-e.LastUpdateTimestamp >= idle:
			res.MarkedExpiring = append(res.MarkedExpiring, name)
		}
	}

	slices.Sort(res.MarkedExpiring)
	slices.Sort(res.Removed)

	keep := lo.Filter(s.Records, func(r Record, _ int) bool {
		return now-r.Timestamp < RecordExpiry.Milliseconds()
	})
	res.RecordsPruned = len(s.Records) - len(keep)

	if !res.Changed() {
		return s, res
	}

	next := s.Clone()
	next.Records = keep
	for _, name := range res.MarkedExpiring {
		e := next.Entities[name]
		e.Expiring = true
		e.ExpiryStartTimestamp = now
		next.Entities[name] = e
	}
	for _, name := range res.Removed {
		e := next.Entities[name]
		res.RemovedCount += e.Count
		delete(next.Entities, name)
		next.Aggregate.subtract(name, e.Count)
	}
	return next, res
}
