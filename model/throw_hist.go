package model

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/utils"
	"gonum.org/v1/gonum/stat"
)

const (
	ThrowHistBins   = 100
	ThrowHistZScore = 5.0
)

// ThrowHistogram records single-parameter throws over mean ± 5 sigma
// for checking the throw distribution after a run.
type ThrowHistogram struct {
	Mean   float64
	Sigma  float64
	Edges  []float64
	values []float64
}

type ThrowSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
}

func NewThrowHistogram(mean, sigma float64) *ThrowHistogram {
	half := ThrowHistZScore * math.Abs(sigma)
	if half == 0 {
		half = 0.5
	}
	return &ThrowHistogram{
		Mean:   mean,
		Sigma:  sigma,
		Edges:  utils.Linspace(mean-half, mean+half, ThrowHistBins+1),
		values: []float64{},
	}
}

func (t *ThrowHistogram) Fill(x float64) {
	t.values = append(t.values, x)
}

func (t *ThrowHistogram) Values() []float64 {
	return t.values
}

func (t *ThrowHistogram) Entries() int {
	return len(t.values)
}

// Counts bins the recorded throws. Throws outside the edges are
// returned as underflow and overflow.
func (t *ThrowHistogram) Counts() (counts []float64, underflow, overflow int) {
	lo, hi := t.Edges[0], t.Edges[len(t.Edges)-1]
	inRange := []float64{}
	for _, v := range t.values {
		switch {
		case v < lo:
			underflow++
		case v >= hi:
			overflow++
		default:
			inRange = append(inRange, v)
		}
	}
	sort.Float64s(inRange)
	counts = make([]float64, len(t.Edges)-1)
	if len(inRange) == 0 {
		return counts, underflow, overflow
	}
	counts = stat.Histogram(counts, t.Edges, inRange, nil)
	return counts, underflow, overflow
}

func (t *ThrowHistogram) Histogram(name string) Histogram {
	counts, _, _ := t.Counts()
	h := NewHistogram(name, len(counts))
	copy(h.Content, counts)
	for i, c := range counts {
		h.Errors[i] = math.Sqrt(c)
	}
	h.Edges = append([]float64(nil), t.Edges...)
	return h
}

func (t *ThrowHistogram) Summary() (*ThrowSummary, error) {
	if len(t.values) == 0 {
		return nil, common.ErrorInvalidValue
	}
	mean, err := stats.Mean(t.values)
	if err != nil {
		return nil, err
	}
	stdDev, err := stats.StandardDeviation(t.values)
	if err != nil {
		return nil, err
	}
	median, err := stats.Median(t.values)
	if err != nil {
		return nil, err
	}
	return &ThrowSummary{
		Count:  len(t.values),
		Mean:   mean,
		StdDev: stdDev,
		Median: median,
	}, nil
}
