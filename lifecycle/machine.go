// Package lifecycle drives the visual states of persistent entities:
// initial, falling, landed (with short jumping pulses), expiring and gone.
//
// Machines are advanced by explicit timestamps (epoch milliseconds), never by
// their own timers, so the owner decides when time passes.
package lifecycle

import "time"

// State is a lifecycle state.
type State int

const (
	Initial State = iota
	Falling
	Landed
	Jumping
	Expiring
	Gone
)

var stateNames = [...]string{"initial", "falling", "landed", "jumping", "expiring", "gone"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Rank orders states for monotonicity checks. Landed and Jumping share a
// rank because the jump pulse returns to landed.
func (s State) Rank() int {
	switch s {
	case Initial:
		return 0
	case Falling:
		return 1
	case Landed, Jumping:
		return 2
	case Expiring:
		return 3
	default:
		return 4
	}
}

const (
	// FallDelay lets the renderer commit the starting pose before motion.
	FallDelay = 50 * time.Millisecond
	// FallDuration is measured from spawn and does not depend on the depth.
	FallDuration = 900 * time.Millisecond
	// JumpDuration is the length of the pulse on a repeat event.
	JumpDuration = 300 * time.Millisecond
	// ExplosionDuration is how long the expiring burst plays before removal.
	ExplosionDuration = 800 * time.Millisecond
)

// Machine is the state of one entity.
type Machine struct {
	State   State
	Spawned int64
	Since   int64
}

// New returns a machine spawned at now.
func New(now int64) Machine { return Machine{State: Initial, Spawned: now, Since: now} }

// NewLanded returns a machine for an entity that is already resting, used
// when state is restored from storage.
func NewLanded(now int64) Machine {
	return Machine{State: Landed, Spawned: now - FallDuration.Milliseconds(), Since: now}
}

// Step is one state change and the time it took effect.
type Step struct {
	From, To State
	At       int64
}

// Advance applies every timed transition due at now, cascading, and returns
// them in order.
func (m *Machine) Advance(now int64) []Step {
	var steps []Step
	for {
		to, at, ok := m.due(now)
		if !ok {
			return steps
		}
		steps = append(steps, Step{From: m.State, To: to, At: at})
		m.State, m.Since = to, at
	}
}

func (m *Machine) due(now int64) (State, int64, bool) {
	switch m.State {
	case Initial:
		if at := m.Spawned + FallDelay.Milliseconds(); now >= at {
			return Falling, at, true
		}
	case Falling:
		if at := m.Spawned + FallDuration.Milliseconds(); now >= at {
			return Landed, at, true
		}
	case Jumping:
		if at := m.Since + JumpDuration.Milliseconds(); now >= at {
			return Landed, at, true
		}
	case Expiring:
		if at := m.Since + ExplosionDuration.Milliseconds(); now >= at {
			return Gone, at, true
		}
	}
	return m.State, 0, false
}

// Jump starts (or restarts) the pulse. Only a resting entity can jump.
func (m *Machine) Jump(now int64) (Step, bool) {
	if m.State != Landed && m.State != Jumping {
		return Step{}, false
	}
	st := Step{From: m.State, To: Jumping, At: now}
	m.State, m.Since = Jumping, now
	return st, true
}

// Expire moves the machine to Expiring. It is a no-op once expiring or gone.
func (m *Machine) Expire(now int64) (Step, bool) {
	if m.State >= Expiring {
		return Step{}, false
	}
	st := Step{From: m.State, To: Expiring, At: now}
	m.State, m.Since = Expiring, now
	return st, true
}

// Reset restarts the fall-in sequence. This is the only transition that
// lowers the rank.
func (m *Machine) Reset(now int64) Step {
	st := Step{From: m.State, To: Initial, At: now}
	*m = New(now)
	return st
}
