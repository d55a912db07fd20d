package buffer

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtconnect-agent/backend/internal/models"
)

func fill(b *ObservationBuffer, n int, keys ...int) {
	for i := 0; i < n; i++ {
		key := keys[i%len(keys)]
		b.AddObservation(sample(key, strconv.Itoa(i+1), t0.Add(time.Duration(i)*time.Second)))
	}
}

func sequences(recs []*models.ObservationRecord) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.Sequence
	}
	return out
}

func TestObservationBufferSequence(t *testing.T) {
	b := NewObservationBuffer(8)
	w := b.Window()
	assert.Equal(t, Window{FirstSequence: 1, LastSequence: 0, NextSequence: 1}, w)

	first := b.AddObservation(sample(1, "a", t0))
	second := b.AddObservation(sample(1, "b", t0))
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)

	empty := NewObservationBuffer(0)
	assert.Nil(t, empty.AddObservation(sample(1, "a", t0)))
}

func TestObservationBufferConcurrentSequence(t *testing.T) {
	b := NewObservationBuffer(1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rec := b.AddObservation(sample(w, strconv.Itoa(i), t0))
				mu.Lock()
				seen[rec.Sequence] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seen, 800)
	res := b.GetObservations(nil, 1, 0, 800)
	require.Len(t, res.Observations, 800)
	for i, rec := range res.Observations {
		assert.Equal(t, int64(i+1), rec.Sequence)
	}
}

func TestObservationBufferEviction(t *testing.T) {
	b := NewObservationBuffer(5)
	fill(b, 8, 1)

	w := b.Window()
	assert.Equal(t, int64(4), w.FirstSequence)
	assert.Equal(t, int64(8), w.LastSequence)

	res := b.GetObservations(nil, 1, 0, 10)
	assert.True(t, res.OutOfRange)
	assert.Empty(t, res.Observations)

	res = b.GetObservations(nil, 4, 0, 10)
	assert.False(t, res.OutOfRange)
	assert.Equal(t, []int64{4, 5, 6, 7, 8}, sequences(res.Observations))
	assert.Equal(t, "4", res.Observations[0].Values.Result())
}

func TestGetObservationsRanges(t *testing.T) {
	b := NewObservationBuffer(100)
	fill(b, 20, 1, 2)

	tests := []struct {
		name     string
		keys     []int
		from, to int64
		count    int
		want     []int64
		resume   int64
		outRange bool
	}{
		{name: "from only", from: 5, count: 3, want: []int64{5, 6, 7}, resume: 8},
		{name: "from and to", from: 5, to: 8, count: 10, want: []int64{5, 6, 7, 8}, resume: 9},
		{name: "from and to capped", from: 5, to: 15, count: 2, want: []int64{5, 6}, resume: 7},
		{name: "to only", to: 10, count: 3, want: []int64{8, 9, 10}, resume: 11},
		{name: "neither", count: 2, want: []int64{1, 2}, resume: 3},
		{name: "negative count", count: -3, want: []int64{18, 19, 20}, resume: 21},
		{name: "negative count with to", to: 6, count: -2, want: []int64{5, 6}, resume: 7},
		{name: "key filter", keys: []int{2}, from: 1, count: 3, want: []int64{2, 4, 6}, resume: 7},
		{name: "to past last sequence is clamped", from: 18, to: 50, count: 10, want: []int64{18, 19, 20}, resume: 21},
		{name: "from at next sequence", from: 21, count: 5, want: nil, resume: 21},
		{name: "from past next sequence", from: 22, count: 5, outRange: true, resume: 21},
		{name: "zero from is first", from: 0, to: 3, count: 0, want: []int64{1, 2, 3}, resume: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := b.GetObservations(tt.keys, tt.from, tt.to, tt.count)
			assert.Equal(t, tt.outRange, res.OutOfRange)
			assert.Equal(t, len(tt.want), len(res.Observations))
			if len(tt.want) > 0 {
				assert.Equal(t, tt.want, sequences(res.Observations))
			}
			assert.Equal(t, tt.resume, res.Resume)
		})
	}
}

func TestGetCurrentObservationsAt(t *testing.T) {
	b := NewObservationBuffer(50)
	b.AddObservation(sample(1, "10", t0))                        // 1
	b.AddObservation(sample(2, "20", t0))                        // 2
	b.AddObservation(sample(1, "11", t0))                        // 3
	b.AddObservation(condition(3, models.ConditionWarning, "A")) // 4
	b.AddObservation(condition(3, models.ConditionFault, "B"))   // 5
	b.AddObservation(sample(2, "21", t0))                        // 6
	b.AddObservation(condition(3, models.ConditionNormal, ""))   // 7

	t.Run("latest", func(t *testing.T) {
		res := b.GetCurrentObservations(nil, 0)
		require.Len(t, res.Observations, 3)
		assert.Equal(t, "11", res.Observations[0].Values.Result())
		assert.Equal(t, "21", res.Observations[1].Values.Result())
		assert.Equal(t, models.ConditionNormal, res.Observations[2].Values.Level())
	})

	t.Run("at sequence", func(t *testing.T) {
		res := b.GetCurrentObservations(nil, 5)
		require.Len(t, res.Observations, 4)
		assert.Equal(t, "11", res.Observations[0].Values.Result())
		assert.Equal(t, "20", res.Observations[1].Values.Result())
		assert.Equal(t, "B", res.Observations[2].Values.NativeCode())
		assert.Equal(t, "A", res.Observations[3].Values.NativeCode())
		assert.Equal(t, int64(6), res.Resume)
	})

	t.Run("key filter", func(t *testing.T) {
		res := b.GetCurrentObservations([]int{2}, 2)
		require.Len(t, res.Observations, 1)
		assert.Equal(t, "20", res.Observations[0].Values.Result())
	})

	t.Run("out of range", func(t *testing.T) {
		assert.True(t, b.GetCurrentObservations(nil, 8).OutOfRange)
	})
}
