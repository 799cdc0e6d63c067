package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCorner(t *testing.T) {
	tests := []struct {
		in   string
		want Corner
	}{
		{"bl", BottomLeft},
		{"BR", BottomRight},
		{" tl ", TopLeft},
		{"tr", TopRight},
		{"", BottomLeft},
		{"middle", BottomLeft},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCorner(tt.in), "ParseCorner(%q)", tt.in)
	}
}

func TestBounds(t *testing.T) {
	assert.Equal(t, Rect{MinX: 35, MaxX: 85, MinY: 55, MaxY: 80}, Bounds(BottomLeft))
	assert.Equal(t, Rect{MinX: 15, MaxX: 65, MinY: 55, MaxY: 80}, Bounds(BottomRight))
	assert.Equal(t, Rect{MinX: 35, MaxX: 85, MinY: 55, MaxY: 85}, Bounds(TopLeft))
	assert.Equal(t, Rect{MinX: 15, MaxX: 65, MinY: 55, MaxY: 85}, Bounds(TopRight))
}

func TestPlaceContainment(t *testing.T) {
	e := NewSeeded(42)
	for _, c := range Corners {
		r := Bounds(c)
		for i := 0; i < 1000; i++ {
			p := e.Place(c)
			require.True(t, r.Contains(p), "corner %s sample %d: %+v outside %+v", c, i, p, r)
			require.GreaterOrEqual(t, p.X, 0.0)
			require.LessOrEqual(t, p.X, 100.0)
			// persistent entities live in the lower half of the field
			require.GreaterOrEqual(t, p.Y, 50.0)
			require.LessOrEqual(t, p.Y, 100.0)
		}
	}
}

func TestPlaceDeterministicWithSeed(t *testing.T) {
	a, b := NewSeeded(7), NewSeeded(7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Place(BottomLeft), b.Place(BottomLeft))
	}
}
