package physics

import (
	"math/rand/v2"
	"slices"

	"github.com/onnwee/combo-overlay/backend/combo"
)

// Simulator owns the ephemeral bodies of one channel. It is not safe for
// concurrent use; the overlay channel loop is its only caller.
type Simulator struct {
	field  Field
	size   float64
	rng    *rand.Rand
	bodies []Body
}

// NewSimulator returns a simulator for the field. sizeMultiplier scales every
// spawned body.
func NewSimulator(f Field, sizeMultiplier float64, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{field: f, size: sizeMultiplier, rng: rng}
}

// Spawn adds a body and returns it.
func (s *Simulator) Spawn(id uint64, color combo.Color) Body {
	b := Spawn(id, color, s.field, s.size, s.rng)
	s.bodies = append(s.bodies, b)
	return b
}

// Step advances the simulation by dt seconds.
func (s *Simulator) Step(dt float64) []Update {
	var updates []Update
	s.bodies, updates = Step(s.bodies, s.field, dt)
	return updates
}

// Clear removes every body.
func (s *Simulator) Clear() { s.bodies = nil }

// Bodies returns a copy of the current bodies.
func (s *Simulator) Bodies() []Body { return slices.Clone(s.bodies) }

// Len returns the number of live bodies.
func (s *Simulator) Len() int { return len(s.bodies) }

// Field returns the simulated field.
func (s *Simulator) Field() Field { return s.field }
