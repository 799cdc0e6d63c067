package lifecycle

import (
	"maps"
	"slices"

	"github.com/onnwee/combo-overlay/backend/combo"
)

// Transition is a state change of one entity.
type Transition struct {
	Key   string `json:"key"`
	From  State  `json:"from"`
	To    State  `json:"to"`
	At    int64  `json:"at"`
	Reset bool   `json:"reset,omitempty"`
}

type tracked struct {
	m     Machine
	count int
}

// Animator keeps one Machine per entity and reconciles them with the store.
// It is not safe for concurrent use.
type Animator struct {
	entries map[string]*tracked
}

// NewAnimator returns an empty animator.
func NewAnimator() *Animator { return &Animator{entries: map[string]*tracked{}} }

// Seed replaces every machine with one per entity in a restored snapshot:
// resting entities start Landed, expiring ones resume their burst from the
// stored expiry start.
func (a *Animator) Seed(entities map[string]combo.Entity, now int64) {
	a.entries = make(map[string]*tracked, len(entities))
	for name, e := range entities {
		m := NewLanded(now)
		if e.Expiring {
			m.State, m.Since = Expiring, min(now, e.ExpiryStartTimestamp)
		}
		a.entries[name] = &tracked{m: m, count: e.Count}
	}
}

// Sync reconciles machines with the store's entities after a state change:
//   - a new entity gets a fresh machine in Initial;
//   - an entity whose count grew while resting jumps;
//   - an entity the store marked expiring starts its burst;
//   - an entity that is no longer expiring while its machine is expiring or
//     gone was recreated, and its machine resets to Initial;
//   - machines of entities that left the store are dropped.
func (a *Animator) Sync(entities map[string]combo.Entity, now int64) []Transition {
	var out []Transition
	for _, name := range sortedKeys(entities) {
		e := entities[name]
		t, ok := a.entries[name]
		if !ok {
			a.entries[name] = &tracked{m: New(now), count: e.Count}
			continue
		}
		switch {
		case e.Expiring:
			if st, ok := t.m.Expire(now); ok {
				out = append(out, transition(name, st, false))
			}
		case t.m.State >= Expiring:
			out = append(out, transition(name, t.m.Reset(now), true))
		case e.Count > t.count:
			if st, ok := t.m.Jump(now); ok {
				out = append(out, transition(name, st, false))
			}
		}
		t.count = e.Count
	}
	for name := range a.entries {
		if _, ok := entities[name]; !ok {
			delete(a.entries, name)
		}
	}
	return out
}

// Advance applies every timed transition due at now. gone lists the entities
// whose burst finished; the owner removes them from the store.
func (a *Animator) Advance(now int64) (out []Transition, gone []string) {
	for _, name := range sortedKeys(a.entries) {
		t := a.entries[name]
		for _, st := range t.m.Advance(now) {
			out = append(out, transition(name, st, false))
			if st.To == Gone {
				gone = append(gone, name)
			}
		}
	}
	return out, gone
}

// State returns the current state of an entity.
func (a *Animator) State(name string) (State, bool) {
	t, ok := a.entries[name]
	if !ok {
		return 0, false
	}
	return t.m.State, true
}

// States returns a copy of every entity state.
func (a *Animator) States() map[string]State {
	out := make(map[string]State, len(a.entries))
	for name, t := range a.entries {
		out[name] = t.m.State
	}
	return out
}

// Clear drops every machine.
func (a *Animator) Clear() { a.entries = map[string]*tracked{} }

func transition(key string, st Step, reset bool) Transition {
	return Transition{Key: key, From: st.From, To: st.To, At: st.At, Reset: reset}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
