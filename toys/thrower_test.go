package toys

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/decomp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func decomposed(t *testing.T, data []float64) *decomp.Decomposer {
	n := int(math.Sqrt(float64(len(data))))
	d, err := decomp.New(mat.NewSymDense(n, data))
	require.NoError(t, err)
	require.True(t, d.Decompose(decomp.DefaultTolerance))
	return d
}

func TestNewThrowerNeedsDecomposition(t *testing.T) {
	d, err := decomp.New(mat.NewSymDense(2, []float64{4, 2, 2, 3}))
	require.NoError(t, err)
	_, err = NewThrower(d, 1, 0)
	assert.ErrorIs(t, err, common.ErrorNotDecomposed)
}

func TestThrowDeterministic(t *testing.T) {
	d := decomposed(t, []float64{4, 2, 2, 3})

	draw := func(seed, stream uint64) []float64 {
		th, err := NewThrower(d, seed, stream)
		require.NoError(t, err)
		res := []float64{}
		out := make([]float64, 2)
		for i := 0; i < 5; i++ {
			require.NoError(t, th.Throw(out))
			res = append(res, out...)
			res = append(res, th.ThrowSinglePar(10, 1))
		}
		return res
	}

	assert.Equal(t, draw(42, 3), draw(42, 3))
	assert.NotEqual(t, draw(42, 3), draw(42, 4))
	assert.NotEqual(t, draw(42, 3), draw(43, 3))
}

func TestThrowLengthMismatch(t *testing.T) {
	th, err := NewThrower(decomposed(t, []float64{4, 2, 2, 3}), 1, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, th.Throw(make([]float64, 3)), common.ErrorDimensionMismatch)
}

func TestThrowConvergesToCovariance(t *testing.T) {
	const n = 10000
	th, err := NewThrower(decomposed(t, []float64{4, 2, 2, 3}), 12345, 0)
	require.NoError(t, err)

	x := make([]float64, n)
	y := make([]float64, n)
	out := make([]float64, 2)
	for i := 0; i < n; i++ {
		require.NoError(t, th.Throw(out))
		x[i], y[i] = out[0], out[1]
	}

	assert.InDelta(t, 0, stat.Mean(x, nil), 0.1)
	assert.InDelta(t, 0, stat.Mean(y, nil), 0.1)
	assert.InEpsilon(t, 4.0, stat.Variance(x, nil), 0.05)
	assert.InEpsilon(t, 3.0, stat.Variance(y, nil), 0.05)
	assert.InEpsilon(t, 2.0, stat.Covariance(x, y, nil), 0.1)
	assert.InDelta(t, 2/math.Sqrt(12), stat.Correlation(x, y, nil), 0.03)
}

func TestThrowSinglePar(t *testing.T) {
	th, err := NewThrower(decomposed(t, []float64{1}), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, th.ThrowSinglePar(5, 0))

	const n = 5000
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = th.ThrowSinglePar(100, 2)
	}
	assert.InDelta(t, 100, stat.Mean(vals, nil), 0.2)
	assert.InEpsilon(t, 2, stat.StdDev(vals, nil), 0.05)
}
