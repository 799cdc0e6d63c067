package physics

import (
	"math/rand/v2"
	"time"

	"github.com/onnwee/combo-overlay/backend/combo"
)

const (
	// DropBaseSize is the visual size of a secondary drop at scale 1.
	DropBaseSize = 50.0
	DropFallMin  = 3 * time.Second
	DropFallMax  = 5 * time.Second
	// DropTilt bounds the random rotation in degrees, both directions.
	DropTilt = 15.0
)

// Drop is one falling secondary effect. It falls linearly from just above
// the field to just below it and is discarded after Duration.
type Drop struct {
	ID       uint64        `json:"id"`
	Color    combo.Color   `json:"color"`
	Hue      float64       `json:"hue"`
	Size     float64       `json:"size"`
	X        float64       `json:"x"`
	Rotation float64       `json:"rotation"`
	Start    int64         `json:"start"`
	Duration time.Duration `json:"duration"`
}

// NewDrop creates a drop spawned at start (epoch ms).
func NewDrop(id uint64, color combo.Color, f Field, sizeMultiplier float64, start int64, rng *rand.Rand) Drop {
	if sizeMultiplier <= 0 {
		sizeMultiplier = 1
	}
	size := DropBaseSize * (MinScale + rng.Float64()*(MaxScale-MinScale)) * sizeMultiplier
	hue := color.Hue()
	if color == "" {
		hue = rng.Float64() * 360
	}
	return Drop{
		ID:       id,
		Color:    color,
		Hue:      hue,
		Size:     size,
		X:        size/2 + rng.Float64()*max(0, f.Width-size),
		Rotation: -DropTilt + rng.Float64()*2*DropTilt,
		Start:    start,
		Duration: DropFallMin + time.Duration(rng.Float64()*float64(DropFallMax-DropFallMin)),
	}
}

// Progress is the completed fraction of the fall at now, in [0,1].
func (d Drop) Progress(now int64) float64 {
	if d.Duration <= 0 {
		return 1
	}
	p := float64(now-d.Start) / float64(d.Duration.Milliseconds())
	return max(0, min(1, p))
}

// YAt returns the top edge of the drop at now.
func (d Drop) YAt(now int64, f Field) float64 {
	from := -d.Size
	to := f.Height + d.Size
	return from + (to-from)*d.Progress(now)
}

// Done reports whether the fall has finished.
func (d Drop) Done(now int64) bool { return now-d.Start >= d.Duration.Milliseconds() }
