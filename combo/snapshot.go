package combo

import (
	"maps"
	"slices"

	"github.com/onnwee/combo-overlay/backend/placement"
)

// Counters aggregates the primary category for one channel.
// Total always equals the sum of Users.
type Counters struct {
	Total int            `json:"total"`
	Users map[string]int `json:"users"`
}

func (c Counters) clone() Counters {
	users := make(map[string]int, len(c.Users))
	maps.Copy(users, c.Users)
	return Counters{Total: c.Total, Users: users}
}

// Entity is the persistent per-user visual object of the primary category.
// X and Y are field percentages. ExpiryStartTimestamp is set exactly once,
// when Expiring becomes true.
type Entity struct {
	Color                Color   `json:"color"`
	Count                int     `json:"count"`
	X                    float64 `json:"x"`
	Y                    float64 `json:"y"`
	LastUpdateTimestamp  int64   `json:"lastUpdateTimestamp"`
	Expiring             bool    `json:"isExpiring,omitempty"`
	ExpiryStartTimestamp int64   `json:"expiryStartTimestamp,omitempty"`
}

// Record is one secondary-category event. Records are never removed
// individually; they drop out once older than the record expiry window.
type Record struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// Snapshot is the complete overlay state of a channel.
type Snapshot struct {
	Records   []Record          `json:"records"`
	Aggregate Counters          `json:"aggregate"`
	Entities  map[string]Entity `json:"entities"`
}

// Empty returns the reset state.
func Empty() Snapshot {
	return Snapshot{
		Records:   []Record{},
		Aggregate: Counters{Users: map[string]int{}},
		Entities:  map[string]Entity{},
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	ents := make(map[string]Entity, len(s.Entities))
	maps.Copy(ents, s.Entities)
	recs := slices.Clone(s.Records)
	if recs == nil {
		recs = []Record{}
	}
	return Snapshot{Records: recs, Aggregate: s.Aggregate.clone(), Entities: ents}
}

// IsEmpty reports whether the snapshot holds no state at all.
func (s Snapshot) IsEmpty() bool {
	return len(s.Records) == 0 && len(s.Entities) == 0 && s.Aggregate.Total == 0 && len(s.Aggregate.Users) == 0
}

// Entity returns the entity for username, if any.
func (s Snapshot) Entity(username string) (Entity, bool) {
	e, ok := s.Entities[username]
	return e, ok
}

// Placer proposes a position for a new entity given the reserved corner.
type Placer interface {
	Place(c placement.Corner) placement.Position
}

// Mode carries the channel configuration the store needs to route events.
type Mode struct {
	// Persistent routes primary events to per-user entities instead of
	// plain counters (ephemeral fall mode).
	Persistent bool
	Corner     placement.Corner
}

// AddEvent applies one event. Secondary events append a record; primary
// events bump the counters and, in persistent mode, upsert the user's entity.
// Events with an unknown category leave the snapshot unchanged.
func (s Snapshot) AddEvent(ev Event, mode Mode, placer Placer) Snapshot {
	switch ev.Type {
	case CategorySecondary:
		next := s.Clone()
		next.Records = append(next.Records, Record{Username: ev.Username, Timestamp: ev.Timestamp})
		return next
	case CategoryPrimary:
		if mode.Persistent {
			return s.UpsertEntity(ev.Username, ev.Color, mode.Corner, ev.Timestamp, placer)
		}
		next := s.Clone()
		next.Aggregate.Users[ev.Username]++
		next.Aggregate.Total++
		return next
	}
	return s
}

// UpsertEntity increments an existing, non-expiring entity in place (count,
// colour, timestamp; position unchanged; a late event never moves the
// timestamp back) or creates a new one at a position
// proposed by placer. An expiring entity is replaced: its recorded count is
// removed from the counters before the fresh entity starts at count 1.
func (s Snapshot) UpsertEntity(username string, color Color, corner placement.Corner, now int64, placer Placer) Snapshot {
	next := s.Clone()
	if cur, ok := next.Entities[username]; ok && !cur.Expiring {
		cur.Count++
		cur.Color = color.Or(cur.Color)
		cur.LastUpdateTimestamp = max(cur.LastUpdateTimestamp, now)
		next.Entities[username] = cur
		next.Aggregate.Users[username]++
		next.Aggregate.Total++
		return next
	} else if ok {
		next.Aggregate.subtract(username, cur.Count)
	}
	pos := placer.Place(corner)
	next.Entities[username] = Entity{
		Color:               color.Or(DefaultColor),
		Count:               1,
		X:                   pos.X,
		Y:                   pos.Y,
		LastUpdateTimestamp: now,
	}
	next.Aggregate.Users[username]++
	next.Aggregate.Total++
	return next
}

// RemoveEntity deletes the user's entity and subtracts the entity's own
// recorded count from the counters.
func (s Snapshot) RemoveEntity(username string) Snapshot {
	cur, ok := s.Entities[username]
	if !ok {
		return s
	}
	next := s.Clone()
	delete(next.Entities, username)
	next.Aggregate.subtract(username, cur.Count)
	return next
}

// MarkExpiring flags the entity as expiring from now on. Calling it again
// keeps the original expiry start.
func (s Snapshot) MarkExpiring(username string, now int64) Snapshot {
	cur, ok := s.Entities[username]
	if !ok || cur.Expiring {
		return s
	}
	next := s.Clone()
	cur.Expiring = true
	cur.ExpiryStartTimestamp = now
	next.Entities[username] = cur
	return next
}

// subtract removes up to n from the user's counter and the same amount from
// the total, keeping Total == sum(Users).
func (c *Counters) subtract(username string, n int) {
	have := c.Users[username]
	d := min(n, have)
	if d < 0 {
		d = 0
	}
	if have-d <= 0 {
		delete(c.Users, username)
	} else {
		c.Users[username] = have - d
	}
	c.Total = max(0, c.Total-d)
}
