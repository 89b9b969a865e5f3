package toys

import (
	"fmt"
	"math/rand/v2"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/decomp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Thrower draws zero-mean correlated Gaussian vectors L·z from a
// decomposition, plus independent single-parameter throws, from one
// seeded stream. The stream is never reset between throws.
type Thrower struct {
	factor *mat.Dense
	dim    int
	rank   int

	src    rand.Source
	normal distuv.Normal
}

func NewThrower(d *decomp.Decomposer, seed uint64, stream uint64) (*Thrower, error) {
	if d == nil || !d.Decomposed() {
		return nil, common.ErrorNotDecomposed
	}
	src := rand.NewPCG(seed, stream)
	return &Thrower{
		factor: d.Factor(),
		dim:    d.Dim(),
		rank:   d.Rank(),
		src:    src,
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

func (t *Thrower) Dim() int {
	return t.dim
}

// Throw fills out with L·z, z a vector of independent standard normal draws.
func (t *Thrower) Throw(out []float64) error {
	if len(out) != t.dim {
		return fmt.Errorf("throw into %d values, want %d: %w", len(out), t.dim, common.ErrorDimensionMismatch)
	}

	z := make([]float64, t.rank)
	for i := range z {
		z[i] = t.normal.Rand()
	}

	res := mat.NewVecDense(t.dim, out)
	res.MulVec(t.factor, mat.NewVecDense(t.rank, z))
	return nil
}

// ThrowSinglePar draws from Normal(mean, sigma) using the same stream.
func (t *Thrower) ThrowSinglePar(mean, sigma float64) float64 {
	if sigma == 0 {
		return mean
	}
	return mean + sigma*t.normal.Rand()
}
