package estimator

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"gonum.org/v1/gonum/mat"
)

func ensemble(contents ...[]float64) []model.Histogram {
	res := make([]model.Histogram, len(contents))
	for i, c := range contents {
		res[i] = model.NewHistogram("toy", len(c))
		copy(res[i].Content, c)
	}
	return res
}

func TestMeanAndAccumulate(t *testing.T) {
	toys := ensemble([]float64{1, 2}, []float64{3, 6})

	mean, err := Mean(toys)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, mean)

	cov, err := Accumulate(toys, mean)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0, cov.At(1, 1), 1e-12)
	assert.InDelta(t, 2.0, cov.At(0, 1), 1e-12)

	cov, err = Accumulate(toys, []float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, cov.At(0, 0), 1e-12)

	_, err = Accumulate(toys, []float64{0})
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
	_, err = Mean(nil)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
	_, err = Mean(ensemble([]float64{1}, []float64{1, 2}))
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestCovarianceProperties(t *testing.T) {
	rnd := rand.New(rand.NewPCG(5, 0))
	contents := make([][]float64, 200)
	for i := range contents {
		x := rnd.NormFloat64()
		contents[i] = []float64{x, 2*x + rnd.NormFloat64(), rnd.NormFloat64(), 7}
	}
	toys := ensemble(contents...)
	mean, err := Mean(toys)
	require.NoError(t, err)

	res, err := Estimate(toys, mean, nil, nil, 1)
	require.NoError(t, err)
	n := res.Dim()
	require.Equal(t, 4, n)
	for i := 0; i < n; i++ {
		assert.GreaterOrEqual(t, res.Cov.At(i, i), 0.0)
		for j := 0; j < n; j++ {
			assert.Equal(t, res.Cov.At(i, j), res.Cov.At(j, i))
			c := res.Cor.At(i, j)
			assert.False(t, math.IsNaN(c))
			assert.LessOrEqual(t, math.Abs(c), 1+1e-12)
		}
	}
	// constant bin has zero variance; its correlations are set to 0
	assert.Zero(t, res.Cor.At(3, 3))
	assert.Zero(t, res.Cor.At(0, 3))
	assert.InDelta(t, 1.0, res.Cor.At(0, 0), 1e-12)
}

func TestEstimateIsDeterministic(t *testing.T) {
	toys := ensemble([]float64{1, 2, 3}, []float64{0.5, 2.5, 2}, []float64{1.5, 1, 4})
	a, err := Estimate(toys, []float64{1, 2, 3}, nil, nil, 1)
	require.NoError(t, err)
	b, err := Estimate(toys, []float64{1, 2, 3}, nil, nil, 1)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Cov, b.Cov))
	assert.True(t, mat.Equal(a.Cor, b.Cor))
}

func TestInjectDiagonal(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 2})
	source := mat.NewSymDense(3, []float64{
		0.1, 9, 9,
		9, 0.2, 9,
		9, 9, 0.3,
	})

	require.NoError(t, InjectDiagonal(cov, source, []float64{10, 5}, 2))
	assert.InDelta(t, 1+2*0.1*100, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 2+2*0.2*25, cov.At(1, 1), 1e-12)
	assert.Equal(t, 0.5, cov.At(0, 1))

	assert.ErrorIs(t, InjectDiagonal(cov, source, []float64{1}, 1), common.ErrorDimensionMismatch)
	assert.ErrorIs(t, InjectDiagonal(mat.NewSymDense(4, nil), source, make([]float64, 4), 1), common.ErrorDimensionMismatch)
}

func TestEstimateRecomputesCorrelationAfterInjection(t *testing.T) {
	toys := ensemble([]float64{1, 2}, []float64{3, 6})
	source := mat.NewSymDense(2, []float64{1, 0, 0, 0})

	res, err := Estimate(toys, []float64{2, 4}, source, []float64{1, 1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Cov.At(0, 0), 1e-12)
	assert.InDelta(t, 2/math.Sqrt(2*4), res.Cor.At(0, 1), 1e-12)
	assert.Equal(t, []float64{math.Sqrt2, 2}, BinErrors(res.Cov))
}

func TestChiSquare(t *testing.T) {
	a := model.Histogram{Name: "a", Content: []float64{1, 2}}
	b := model.Histogram{Name: "b", Content: []float64{0, 0}}

	res, err := ChiSquare(a, b, mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.ChiSquare, 1e-12)
	assert.Equal(t, 2, res.NDF)
	assert.InDelta(t, math.Exp(-2.5), res.PValue, 1e-9)

	res, err = ChiSquare(a, b, mat.NewSymDense(2, []float64{4, 0, 0, 4}))
	require.NoError(t, err)
	assert.InDelta(t, 1.25, res.ChiSquare, 1e-12)

	_, err = ChiSquare(a, b, mat.NewSymDense(2, []float64{0, 0, 0, 0}))
	assert.Error(t, err)

	_, err = ChiSquare(a, b, mat.NewSymDense(3, nil))
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}
