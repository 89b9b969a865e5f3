package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/xsec-errprop/common"
)

func TestHistogramScaleDoesNotAlias(t *testing.T) {
	h := NewHistogram("h", 3)
	copy(h.Content, []float64{1, 2, 3})
	copy(h.Errors, []float64{0.1, 0.2, 0.3})

	s := h.Scale(2)
	assert.Equal(t, []float64{2, 4, 6}, s.Content)
	assert.InDeltaSlice(t, []float64{0.2, 0.4, 0.6}, s.Errors, 1e-12)
	assert.Equal(t, []float64{1, 2, 3}, h.Content)
}

func TestHistogramDivideZeroDenominator(t *testing.T) {
	a := NewHistogram("a", 3)
	b := NewHistogram("b", 3)
	copy(a.Content, []float64{2, 4, 6})
	copy(b.Content, []float64{1, 0, 3})

	res, err := a.Divide(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 2}, res.Content)
	assert.Equal(t, "a", res.Name)

	_, err = a.Divide(NewHistogram("c", 2))
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestConcatAndIntegral(t *testing.T) {
	a := NewHistogram("a", 2)
	b := NewHistogram("b", 1)
	copy(a.Content, []float64{1, 2})
	copy(b.Content, []float64{3})

	c := Concat("ab", a, b)
	assert.Equal(t, "ab", c.Name)
	assert.Equal(t, []float64{1, 2, 3}, c.Content)
	assert.Equal(t, 6.0, c.Integral())
}

func TestWithErrors(t *testing.T) {
	h := NewHistogram("h", 2)
	res, err := h.WithErrors([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, res.Errors)
	assert.Equal(t, []float64{0, 0}, h.Errors)

	_, err = h.WithErrors([]float64{1})
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestCovarianceResultDim(t *testing.T) {
	var r *CovarianceResult
	assert.Equal(t, 0, r.Dim())
}

func TestThrowHistogram(t *testing.T) {
	th := NewThrowHistogram(10, 1)
	require.Len(t, th.Edges, ThrowHistBins+1)
	assert.InDelta(t, 5.0, th.Edges[0], 1e-12)
	assert.InDelta(t, 15.0, th.Edges[ThrowHistBins], 1e-12)

	for _, v := range []float64{9, 10, 10, 11, 2, 20} {
		th.Fill(v)
	}
	counts, under, over := th.Counts()
	assert.Equal(t, 1, under)
	assert.Equal(t, 1, over)

	total := 0.0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 4.0, total)

	h := th.Histogram("throws")
	assert.Equal(t, ThrowHistBins, h.Len())
	assert.Len(t, h.Edges, ThrowHistBins+1)

	s, err := th.Summary()
	require.NoError(t, err)
	assert.Equal(t, 6, s.Count)
	assert.InDelta(t, 62.0/6, s.Mean, 1e-12)
	assert.InDelta(t, 10.0, s.Median, 1e-12)
	assert.False(t, math.IsNaN(s.StdDev))
}

func TestThrowHistogramZeroSigma(t *testing.T) {
	th := NewThrowHistogram(3, 0)
	assert.InDelta(t, 2.5, th.Edges[0], 1e-12)
	assert.InDelta(t, 3.5, th.Edges[len(th.Edges)-1], 1e-12)

	_, err := th.Summary()
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}
