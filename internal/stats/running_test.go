package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

// twoPass 直接两遍计算的总体均值/方差
func twoPass(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mean, sampleVar := stat.MeanVariance(xs, nil)
	if len(xs) < 2 {
		return mean, 0
	}
	n := float64(len(xs))
	return mean, sampleVar * (n - 1) / n
}

func relClose(t *testing.T, want, got float64) {
	t.Helper()
	scale := math.Max(1, math.Abs(want))
	assert.LessOrEqual(t, math.Abs(want-got)/scale, 1e-9, "want %g got %g", want, got)
}

func TestAddMatchesTwoPass(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		name string
		xs   []float64
	}{
		{name: "single", xs: []float64{3.5}},
		{name: "constant", xs: []float64{2, 2, 2, 2, 2}},
		{name: "small ints", xs: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "large offset", xs: []float64{1e6 + 4, 1e6 + 7, 1e6 + 13, 1e6 + 16}},
	}

	random := make([]float64, 10000)
	for i := range random {
		random[i] = rng.NormFloat64()*3 + 9.81
	}
	tests = append(tests, struct {
		name string
		xs   []float64
	}{name: "random normal", xs: random})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Of(tt.xs...)
			mean, variance := twoPass(tt.xs)

			require.Equal(t, uint64(len(tt.xs)), s.Count)
			relClose(t, mean, s.Mean)
			relClose(t, variance, s.Variance())
			require.NoError(t, s.Validate())
		})
	}
}

func TestAccelYExample(t *testing.T) {
	s := Of(0.1, -0.2, 0.05)

	assert.Equal(t, uint64(3), s.Count)
	assert.InDelta(t, -0.016667, s.Mean, 1e-6)

	_, variance := twoPass([]float64{0.1, -0.2, 0.05})
	relClose(t, variance, s.Variance())
}

func TestAddRejectsNonFinite(t *testing.T) {
	s := Of(1, 2)

	for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		next, err := s.Add(x)
		require.ErrorIs(t, err, ErrNonFinite)
		assert.Equal(t, s, next)
	}
}

func TestEmptyAccumulator(t *testing.T) {
	var s RunningStats

	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0.0, s.Variance())
	assert.Equal(t, 0.0, s.StdDev())
	assert.Equal(t, 0.0, s.SampleVariance())
	assert.False(t, math.IsNaN(s.StdDev()))
	require.NoError(t, s.Validate())
}

func TestSampleVariance(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	s := Of(xs...)

	relClose(t, 4.0, s.Variance())
	relClose(t, stat.Variance(xs, nil), s.SampleVariance())
	relClose(t, 2.0, s.StdDev())
}

func TestMergeLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	xs := make([]float64, 2000)
	for i := range xs {
		xs[i] = rng.Float64()*40 - 20
	}

	for _, split := range []int{0, 1, 17, 1000, 1999, 2000} {
		a := Of(xs[:split]...)
		b := Of(xs[split:]...)
		merged := Merge(a, b)
		whole := Of(xs...)

		require.Equal(t, whole.Count, merged.Count, "split %d", split)
		relClose(t, whole.Mean, merged.Mean)
		relClose(t, whole.Variance(), merged.Variance())
	}
}

func TestMergeIdentity(t *testing.T) {
	a := Of(1, 5, 9)
	var empty RunningStats

	assert.Equal(t, a, Merge(a, empty))
	assert.Equal(t, a, Merge(empty, a))
	assert.Equal(t, empty, Merge(empty, empty))
}

func TestValidate(t *testing.T) {
	assert.Error(t, RunningStats{Count: 0, Mean: 1}.Validate())
	assert.Error(t, RunningStats{Count: 2, M2: -1}.Validate())
	assert.Error(t, RunningStats{Count: 2, Mean: math.NaN()}.Validate())
	assert.NoError(t, RunningStats{Count: 2, Mean: 1, M2: 0.5}.Validate())
}
