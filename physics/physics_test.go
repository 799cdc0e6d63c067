package physics

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(n uint64) *rand.Rand { return rand.New(rand.NewPCG(n, n+1)) }

func TestSpawnBounds(t *testing.T) {
	f := DefaultField
	rng := seeded(1)
	safeStart := f.Width * (0.5 - SafeZoneFraction/2)
	safeEnd := f.Width * (0.5 + SafeZoneFraction/2)
	for i := range 1000 {
		b := Spawn(uint64(i+1), "", f, 1, rng)
		require.GreaterOrEqual(t, b.Scale, MinScale)
		require.LessOrEqual(t, b.Scale, MaxScale)
		require.InDelta(t, BaseSize*b.Scale, b.Size, 1e-9)
		require.GreaterOrEqual(t, b.SettleY, f.Height/2)
		require.LessOrEqual(t, b.SettleY, f.Height)
		require.Less(t, b.Y, -b.Size+1e-9)
		require.GreaterOrEqual(t, b.X, EdgePadding+b.Size/2)
		require.LessOrEqual(t, b.X, f.Width-EdgePadding-b.Size/2)
		require.True(t, b.X <= safeStart || b.X >= safeEnd, "x %.1f inside safe zone", b.X)
		require.GreaterOrEqual(t, b.Hue, 0.0)
		require.Less(t, b.Hue, 360.0)
	}
}

func TestSpawnSizeMultiplierAndColor(t *testing.T) {
	b := Spawn(1, "#00ff00", DefaultField, 2, seeded(2))
	assert.GreaterOrEqual(t, b.Scale, 2*MinScale)
	assert.LessOrEqual(t, b.Scale, 2*MaxScale)
	assert.InDelta(t, 120, b.Hue, 1e-9)
}

func TestSpawnNarrowFieldFallsBackToEdges(t *testing.T) {
	f := Field{Width: 400, Height: 600}
	left, right := 0, 0
	rng := seeded(3)
	for i := range 200 {
		b := Spawn(uint64(i), "", f, 1, rng)
		switch b.X {
		case EdgePadding + b.Size/2:
			left++
		case f.Width - EdgePadding - b.Size/2:
			right++
		default:
			t.Fatalf("x %.2f is not on an edge", b.X)
		}
	}
	assert.Positive(t, left)
	assert.Positive(t, right)
}

func TestStepSettleInvariant(t *testing.T) {
	f := DefaultField
	rng := seeded(4)
	var bodies []Body
	for i := range 40 {
		bodies = append(bodies, Spawn(uint64(i+1), "", f, 1, rng))
	}
	lastY := map[uint64]float64{}
	pinned := map[uint64]Body{}
	for _, b := range bodies {
		lastY[b.ID] = b.Y
	}

	for range 600 {
		bodies, _ = Step(bodies, f, 1.0/60)
		for _, b := range bodies {
			require.GreaterOrEqual(t, b.Y, lastY[b.ID], "body %d moved up", b.ID)
			lastY[b.ID] = b.Y
			if p, ok := pinned[b.ID]; ok {
				require.Equal(t, p, b, "pinned body %d changed", b.ID)
			}
			if b.Settled {
				pinned[b.ID] = b
				require.LessOrEqual(t, b.Y, b.SettleY)
			}
		}
	}
	assert.Len(t, pinned, 40, "every body settles within ten seconds")
}

func TestStepAvoidsPinnedBodies(t *testing.T) {
	f := DefaultField
	pinned := Body{ID: 1, Size: 200, X: 400, Y: 900, SettleY: 900, Settled: true}
	falling := Body{ID: 2, Size: 200, X: 400, Y: 880, VY: 10, SettleY: 1000}
	out, updates := Step([]Body{pinned, falling}, f, 1.0/60)
	require.Len(t, out, 2)
	require.Len(t, updates, 1)
	reach := (pinned.CollisionWidth() + falling.CollisionWidth()) / 2
	assert.InDelta(t, reach, abs(out[1].X-pinned.X), 1e-9)
	assert.Equal(t, pinned, out[0])
}

func TestStepDoesNotModifyInput(t *testing.T) {
	in := []Body{{ID: 1, Size: 80, X: 300, Y: -100, SettleY: 700}}
	out, _ := Step(in, DefaultField, 0.1)
	assert.Equal(t, -100.0, in[0].Y)
	assert.Greater(t, out[0].Y, -100.0)
}

func TestSimulatorClear(t *testing.T) {
	s := NewSimulator(DefaultField, 1, seeded(5))
	s.Spawn(1, "")
	s.Spawn(2, "#ff0000")
	assert.Equal(t, 2, s.Len())
	s.Step(0.5)
	s.Clear()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Bodies())
}

func TestDropFall(t *testing.T) {
	f := DefaultField
	d := NewDrop(1, "", f, 1, 1000, seeded(6))
	assert.GreaterOrEqual(t, d.Duration, DropFallMin)
	assert.LessOrEqual(t, d.Duration, DropFallMax)
	assert.GreaterOrEqual(t, d.Rotation, -DropTilt)
	assert.LessOrEqual(t, d.Rotation, DropTilt)
	assert.GreaterOrEqual(t, d.X, d.Size/2)

	assert.Equal(t, -d.Size, d.YAt(1000, f))
	assert.False(t, d.Done(1000))
	end := 1000 + d.Duration.Milliseconds()
	assert.InDelta(t, f.Height+d.Size, d.YAt(end, f), 1e-9)
	assert.True(t, d.Done(end))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
