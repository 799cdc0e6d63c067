package combo

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Sequence hands out strictly increasing identifiers for events and spawned
// bodies. One Sequence is created per process and shared by reference.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next identifier. The first call returns 1.
func (s *Sequence) Next() uint64 { return s.n.Add(1) }

// Last returns the most recently issued identifier.
func (s *Sequence) Last() uint64 { return s.n.Load() }

// maxTracked bounds the membership set. When it overflows, the smallest
// identifiers are dropped until maxTracked/2 remain and the floor moves to
// the largest dropped one; identifiers at or below the floor count as seen.
// Only identifiers consumed by the same set move the floor, so a late event
// is treated as a replay only after at least maxTracked/2 newer events of its
// own channel were applied first. Identifiers handed to other channels or to
// bodies do not count.
const maxTracked = 4096

// IDSet remembers consumed identifiers so that a re-delivered identifier is a
// no-op. The zero value is ready to use.
type IDSet struct {
	mu    sync.Mutex
	ids   map[uint64]struct{}
	floor uint64
}

// Add records id and reports whether it was new. The zero id is never tracked
// and always reported as new.
func (s *IDSet) Add(id uint64) bool {
	if id == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id <= s.floor {
		return false
	}
	if s.ids == nil {
		s.ids = make(map[uint64]struct{})
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	if len(s.ids) > maxTracked {
		s.compact()
	}
	return true
}

// Seen reports whether id was already consumed.
func (s *IDSet) Seen(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != 0 && id <= s.floor {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// Reset forgets every identifier.
func (s *IDSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.floor = 0
}

// Len returns the number of identifiers held in the set.
func (s *IDSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// compact drops the smallest identifiers. Called with mu held.
func (s *IDSet) compact() {
	ids := slices.Sorted(maps.Keys(s.ids))
	drop := ids[:len(ids)-maxTracked/2]
	for _, id := range drop {
		delete(s.ids, id)
	}
	s.floor = drop[len(drop)-1]
}
