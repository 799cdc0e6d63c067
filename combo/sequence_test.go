package combo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceStrictlyIncreasing(t *testing.T) {
	var seq Sequence
	const workers, per = 8, 500
	out := make(chan uint64, workers*per)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range per {
				out <- seq.Next()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint64]bool, workers*per)
	for id := range out {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*per)
	assert.Equal(t, uint64(workers*per), seq.Last())
}

func TestIDSetReplayIsNoOp(t *testing.T) {
	var set IDSet
	assert.True(t, set.Add(1))
	assert.True(t, set.Add(2))
	assert.False(t, set.Add(1))
	assert.True(t, set.Seen(2))
	assert.False(t, set.Seen(3))
	assert.True(t, set.Add(0))
	assert.True(t, set.Add(0))

	set.Reset()
	assert.True(t, set.Add(1))
}

func TestIDSetCompactsBelowFloor(t *testing.T) {
	var set IDSet
	for id := uint64(1); id <= maxTracked+1; id++ {
		assert.True(t, set.Add(id))
	}
	assert.LessOrEqual(t, set.Len(), maxTracked/2)
	assert.False(t, set.Add(1))
	assert.True(t, set.Seen(10))
	assert.False(t, set.Add(maxTracked+1))
	assert.True(t, set.Add(maxTracked+2))
}

func TestIDSetFloorIgnoresForeignIDs(t *testing.T) {
	// Odd ids reach this set; even ids went to other channels or bodies.
	var set IDSet
	const last = 2*maxTracked + 1
	for id := uint64(1); id <= last; id += 2 {
		require.True(t, set.Add(id))
	}
	assert.Equal(t, maxTracked/2, set.Len())

	// An even id issued 2049 sequence numbers ago still gets in: only 1024
	// of the ids above it belong to this set.
	assert.True(t, set.Add(last-maxTracked/2-1))
	assert.False(t, set.Add(maxTracked+1))
	assert.False(t, set.Add(2))
}

func TestLeaderboardAndSecondaryCounters(t *testing.T) {
	c := Counters{Total: 6, Users: map[string]int{"a": 1, "b": 3, "c": 1, "d": 1}}
	rows := Leaderboard(c, 3)
	assert.Equal(t, []Standing{{"b", 3}, {"a", 1}, {"c", 1}}, rows)
	assert.Len(t, Leaderboard(c, 0), 4)

	s := Empty()
	s.Records = []Record{{"x", 1}, {"y", 2}, {"x", 3}}
	sec := s.SecondaryCounters()
	assert.Equal(t, 3, sec.Total)
	assert.Equal(t, map[string]int{"x": 2, "y": 1}, sec.Users)
	assert.True(t, sec.Conserved())
}
