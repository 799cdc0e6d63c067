package physics

import (
	"math"
	"slices"
)

// Update describes what changed for one body during a Step.
type Update struct {
	ID      uint64  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Settled bool    `json:"settled,omitempty"`
	Removed bool    `json:"removed,omitempty"`
}

// Step advances every falling body by dt seconds and returns the new bodies
// with one Update per moved, pinned or removed body. The input slice is not
// modified.
//
// A falling body accelerates under Gravity with air friction. While its
// collision box overlaps a pinned body it is pushed sideways, never upwards,
// so y is non-decreasing. Once y reaches the settle depth (or the floor, if
// closer) the body is pinned there and never moves again. Bodies that end up
// entirely outside the field are dropped.
func Step(bodies []Body, f Field, dt float64) ([]Body, []Update) {
	if dt <= 0 || len(bodies) == 0 {
		return slices.Clone(bodies), nil
	}
	next := make([]Body, 0, len(bodies))
	var updates []Update
	drag := math.Pow(1-AirFriction, dt*60)

	for _, b := range bodies {
		if b.Settled {
			if offField(b, f) {
				updates = append(updates, Update{ID: b.ID, X: b.X, Y: b.Y, Removed: true})
				continue
			}
			next = append(next, b)
			continue
		}

		b.VY = (b.VY + Gravity*dt) * drag
		b.Y += b.VY * dt
		b.X = avoid(b, bodies, f)

		if target := pinDepth(b, f); b.Y >= target {
			b.Y = target
			b.VY = 0
			b.Settled = true
		}
		if offField(b, f) {
			updates = append(updates, Update{ID: b.ID, X: b.X, Y: b.Y, Removed: true})
			continue
		}
		next = append(next, b)
		updates = append(updates, Update{ID: b.ID, X: b.X, Y: b.Y, Settled: b.Settled})
	}
	return next, updates
}

// pinDepth is the settle depth, capped so the body stays inside the field.
func pinDepth(b Body, f Field) float64 {
	return min(b.SettleY, f.Height-b.CollisionHeight()/2)
}

// avoid pushes a falling body sideways out of every pinned body its collision
// box overlaps and clamps it to the padded walls.
func avoid(b Body, all []Body, f Field) float64 {
	x := b.X
	for _, o := range all {
		if !o.Settled || o.ID == b.ID {
			continue
		}
		if math.Abs(b.Y-o.Y) >= (b.CollisionHeight()+o.CollisionHeight())/2 {
			continue
		}
		reach := (b.CollisionWidth() + o.CollisionWidth()) / 2
		dx := x - o.X
		if math.Abs(dx) >= reach {
			continue
		}
		if dx < 0 || (dx == 0 && b.ID%2 == 0) {
			x = o.X - reach
		} else {
			x = o.X + reach
		}
	}
	lo := EdgePadding + b.CollisionWidth()/2
	hi := f.Width - EdgePadding - b.CollisionWidth()/2
	if lo > hi {
		return f.Width / 2
	}
	return max(lo, min(hi, x))
}

func offField(b Body, f Field) bool {
	return b.X+b.Size/2 < 0 || b.X-b.Size/2 > f.Width || b.Y-b.Size/2 > f.Height
}
