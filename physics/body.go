// Package physics simulates the ephemeral falling entities of the overlay.
//
// The simulation is pure: Step takes the current bodies and returns the next
// bodies plus one Update per change. Nothing here touches rendering state; the
// overlay package turns updates into frames for whoever draws them.
//
// Coordinates are pixels in a Field, origin top-left, y growing downwards.
// Body X/Y is the centre of the body.
package physics

import (
	"math/rand/v2"

	"github.com/onnwee/combo-overlay/backend/combo"
)

const (
	// BaseSize is the visual size of a body at scale 1, in pixels.
	BaseSize = 80.0
	MinScale = 1.5
	MaxScale = 5.0

	// SafeZoneFraction is the width of the centred band bodies never spawn in.
	SafeZoneFraction = 0.4
	// EdgePadding keeps bodies off the left and right field edges.
	EdgePadding = 60.0

	// The collision footprint is a fraction of the visual size so that bodies
	// stack densely without fully overlapping.
	CollisionWidthFraction  = 0.2
	CollisionHeightFraction = 0.5

	// Gravity in px/s².
	Gravity = 1000.0
	// AirFriction is the velocity loss per 1/60s step.
	AirFriction = 0.01
)

// Field is the pixel size of the overlay viewport.
type Field struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultField is a 1080p viewport.
var DefaultField = Field{Width: 1920, Height: 1080}

// Body is one ephemeral falling entity.
type Body struct {
	ID      uint64      `json:"id"`
	Color   combo.Color `json:"color"`
	Hue     float64     `json:"hue"`
	Scale   float64     `json:"scale"`
	Size    float64     `json:"size"`
	X       float64     `json:"x"`
	Y       float64     `json:"y"`
	VY      float64     `json:"vy"`
	SettleY float64     `json:"settleY"`
	Settled bool        `json:"settled"`
}

// CollisionWidth is the horizontal extent used for avoidance.
func (b Body) CollisionWidth() float64 { return b.Size * CollisionWidthFraction }

// CollisionHeight is the vertical extent used for avoidance.
func (b Body) CollisionHeight() float64 { return b.Size * CollisionHeightFraction }

// Spawn creates a body above the top edge. Its scale is uniform in
// [MinScale, MaxScale] times sizeMultiplier, its settle depth is uniform in
// the lower half of the field and its x lies outside the centred safe zone
// and inside the edge padding. When the field is too narrow to leave any room
// outside the safe zone, the body spawns flush against one of the padded
// edges with equal probability.
func Spawn(id uint64, color combo.Color, f Field, sizeMultiplier float64, rng *rand.Rand) Body {
	if sizeMultiplier <= 0 {
		sizeMultiplier = 1
	}
	scale := (MinScale + rng.Float64()*(MaxScale-MinScale)) * sizeMultiplier
	size := BaseSize * scale

	hue := color.Hue()
	if color == "" {
		hue = rng.Float64() * 360
	}

	b := Body{
		ID:      id,
		Color:   color,
		Hue:     hue,
		Scale:   scale,
		Size:    size,
		SettleY: f.Height*0.5 + rng.Float64()*f.Height*0.5,
	}
	b.X = spawnX(f, size, rng)
	b.Y = -size - rng.Float64()*100
	return b
}

func spawnX(f Field, size float64, rng *rand.Rand) float64 {
	safeStart := f.Width * (0.5 - SafeZoneFraction/2)
	safeEnd := f.Width * (0.5 + SafeZoneFraction/2)
	leftEdge := EdgePadding + size/2
	rightEdge := f.Width - EdgePadding - size/2
	leftWidth := safeStart - leftEdge
	rightWidth := rightEdge - safeEnd

	if leftWidth <= 0 || rightWidth <= 0 {
		if rng.Float64() < 0.5 {
			return leftEdge
		}
		return rightEdge
	}
	pos := rng.Float64() * (leftWidth + rightWidth)
	if pos < leftWidth {
		return leftEdge + pos
	}
	return safeEnd + (pos - leftWidth)
}
