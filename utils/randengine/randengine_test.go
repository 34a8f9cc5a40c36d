package randengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameSeedSameSequence(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64Safe(), b.Float64Safe())
	}
}

func TestRangeSafe(t *testing.T) {
	e := New(1)
	for i := 0; i < 1000; i++ {
		v := e.RangeSafe(2, 3)
		assert.GreaterOrEqual(t, v, 2.0)
		assert.Less(t, v, 3.0)
	}
}

func TestBoolSafeBothOutcomes(t *testing.T) {
	e := New(7)
	seen := map[bool]int{}
	for i := 0; i < 200; i++ {
		seen[e.BoolSafe()]++
	}
	assert.Greater(t, seen[true], 0)
	assert.Greater(t, seen[false], 0)
}

func TestDiscreteDistribution(t *testing.T) {
	e := New(3)
	for i := 0; i < 100; i++ {
		assert.Equal(t, int32(1), e.DiscreteDistribution([]float64{0, 1, 0}))
	}
	assert.Equal(t, int32(2), e.DiscreteDistributionSafe([]float64{0, 0}))
}
