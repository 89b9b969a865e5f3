package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type ChiSquareResult struct {
	ChiSquare float64 `json:"chisq"`
	NDF       int     `json:"ndf"`
	PValue    float64 `json:"p_value"`
}

// ChiSquare compares two histograms with covariance cov:
// (a-b)ᵀ·cov⁻¹·(a-b), with ndf equal to the number of bins.
func ChiSquare(a, b model.Histogram, cov mat.Symmetric) (*ChiSquareResult, error) {
	n := a.Len()
	if b.Len() != n || cov.SymmetricDim() != n {
		return nil, fmt.Errorf("chi-square of %q (%d) and %q (%d) with %d x %d covariance: %w",
			a.Name, a.Len(), b.Name, b.Len(), cov.SymmetricDim(), cov.SymmetricDim(), common.ErrorDimensionMismatch)
	}

	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		// ill-conditioned matrices still invert; only a singular one is fatal
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("invert covariance: %w", err)
		}
	}

	diff := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		diff.SetVec(i, a.Content[i]-b.Content[i])
	}
	chisq := mat.Inner(diff, &inv, diff)

	dist := distuv.ChiSquared{K: float64(n)}
	return &ChiSquareResult{
		ChiSquare: chisq,
		NDF:       n,
		PValue:    dist.Survival(chisq),
	}, nil
}
