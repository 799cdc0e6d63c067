// Package placement picks spawn positions for persistent entities on the
// overlay field. Coordinates are percentages of the field (0-100 on both
// axes, y growing downwards).
//
// The engine reserves space for the counter display with a static rectangle
// per corner. It does not look at existing entities, so two entities may
// overlap visually.
package placement

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Corner identifies the field corner occupied by the counter/leaderboard display.
type Corner string

const (
	BottomLeft  Corner = "bl"
	BottomRight Corner = "br"
	TopLeft     Corner = "tl"
	TopRight    Corner = "tr"
)

// Corners lists every valid corner.
var Corners = []Corner{BottomLeft, BottomRight, TopLeft, TopRight}

// ParseCorner converts a query/env value into a Corner, defaulting to bottom-left.
func ParseCorner(s string) Corner {
	switch Corner(strings.ToLower(strings.TrimSpace(s))) {
	case BottomRight:
		return BottomRight
	case TopLeft:
		return TopLeft
	case TopRight:
		return TopRight
	default:
		return BottomLeft
	}
}

// Bottom reports whether the corner sits in the lower half of the field.
func (c Corner) Bottom() bool { return c == BottomLeft || c == BottomRight }

// Left reports whether the corner sits on the left edge.
func (c Corner) Left() bool { return c == BottomLeft || c == TopLeft }

// Position is a field-relative point in percent.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned sampling rectangle in percent.
type Rect struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Contains reports whether p lies inside r (bounds inclusive).
func (r Rect) Contains(p Position) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

const (
	defaultMinX = 15.0
	defaultMaxX = 85.0
	defaultMinY = 55.0
	defaultMaxY = 85.0

	narrowedMinX = 35.0
	narrowedMaxX = 65.0
	bottomMaxY   = 80.0
)

// Bounds returns the sampling rectangle left free by the given reserved corner.
func Bounds(c Corner) Rect {
	r := Rect{MinX: defaultMinX, MaxX: defaultMaxX, MinY: defaultMinY, MaxY: defaultMaxY}
	if c.Left() {
		r.MinX = narrowedMinX
	} else {
		r.MaxX = narrowedMaxX
	}
	if c.Bottom() {
		r.MaxY = bottomMaxY
	}
	return r
}

// Engine samples uniformly inside Bounds. Safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns an engine seeded from the runtime's random source.
func New() *Engine {
	return &Engine{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns an engine with a deterministic sequence, for tests and replays.
func NewSeeded(seed uint64) *Engine {
	return &Engine{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Place proposes a position for a new entity. It never mutates caller state.
func (e *Engine) Place(c Corner) Position {
	r := Bounds(c)
	e.mu.Lock()
	fx, fy := e.rng.Float64(), e.rng.Float64()
	e.mu.Unlock()
	return Position{
		X: r.MinX + fx*(r.MaxX-r.MinX),
		Y: r.MinY + fy*(r.MaxY-r.MinY),
	}
}
