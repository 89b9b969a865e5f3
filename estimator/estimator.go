package estimator

import (
	"fmt"
	"math"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mean returns the bin-wise mean over the ensemble.
func Mean(ensemble []model.Histogram) ([]float64, error) {
	n, err := checkEnsemble(ensemble)
	if err != nil {
		return nil, err
	}
	mean := make([]float64, n)
	for _, h := range ensemble {
		floats.Add(mean, h.Content)
	}
	floats.Scale(1.0/float64(len(ensemble)), mean)
	return mean, nil
}

// Accumulate returns the population covariance (divided by N) of the
// ensemble around center. Toys are summed in index order.
func Accumulate(ensemble []model.Histogram, center []float64) (*mat.SymDense, error) {
	n, err := checkEnsemble(ensemble)
	if err != nil {
		return nil, err
	}
	if len(center) != n {
		return nil, fmt.Errorf("center has %d bins, ensemble %d: %w", len(center), n, common.ErrorDimensionMismatch)
	}

	numToys := float64(len(ensemble))
	cov := mat.NewSymDense(n, nil)
	diff := make([]float64, n)
	for _, h := range ensemble {
		floats.SubTo(diff, h.Content, center)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				cov.SetSym(i, j, cov.At(i, j)+diff[i]*diff[j]/numToys)
			}
		}
	}
	return cov, nil
}

// Correlation returns cov_ij/sqrt(cov_ii*cov_jj), with non-finite entries
// set to zero.
func Correlation(cov mat.Symmetric) *mat.SymDense {
	n := cov.SymmetricDim()
	cor := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := cov.At(i, j) / math.Sqrt(cov.At(i, i)*cov.At(j, j))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			cor.SetSym(i, j, v)
		}
	}
	return cor
}

// InjectDiagonal adds factor*source_ii*bestFit_i^2 to the diagonal of cov.
// Off-diagonal elements are left alone, so the correlation has to be
// recomputed afterwards.
func InjectDiagonal(cov *mat.SymDense, source mat.Symmetric, bestFit []float64, factor float64) error {
	n := cov.SymmetricDim()
	if len(bestFit) != n {
		return fmt.Errorf("best fit has %d bins, covariance %d: %w", len(bestFit), n, common.ErrorDimensionMismatch)
	}
	if source.SymmetricDim() < n {
		return fmt.Errorf("source covariance dim %d < %d: %w", source.SymmetricDim(), n, common.ErrorDimensionMismatch)
	}
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, cov.At(i, i)+factor*source.At(i, i)*bestFit[i]*bestFit[i])
	}
	return nil
}

// Estimate accumulates the ensemble covariance around center, adds the
// optional source variance and derives the correlation.
func Estimate(ensemble []model.Histogram, center []float64, source mat.Symmetric, bestFit []float64, factor float64) (*model.CovarianceResult, error) {
	cov, err := Accumulate(ensemble, center)
	if err != nil {
		return nil, err
	}
	if source != nil {
		if err := InjectDiagonal(cov, source, bestFit, factor); err != nil {
			return nil, err
		}
	}
	return &model.CovarianceResult{
		Cov: cov,
		Cor: Correlation(cov),
	}, nil
}

func BinErrors(cov mat.Symmetric) []float64 {
	n := cov.SymmetricDim()
	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		errs[i] = math.Sqrt(cov.At(i, i))
	}
	return errs
}

func checkEnsemble(ensemble []model.Histogram) (int, error) {
	if len(ensemble) == 0 {
		return 0, fmt.Errorf("empty ensemble: %w", common.ErrorInvalidValue)
	}
	n := ensemble[0].Len()
	for i, h := range ensemble {
		if h.Len() != n {
			return 0, fmt.Errorf("toy %d has %d bins, want %d: %w", i, h.Len(), n, common.ErrorDimensionMismatch)
		}
	}
	return n, nil
}
