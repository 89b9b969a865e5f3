package decomp

import (
	"fmt"
	"math"

	"github.com/uyouii/xsec-errprop/common"
	"gonum.org/v1/gonum/mat"
)

// Decomposer factors a covariance matrix M into L with L·Lᵀ ≈ M so that
// correlated Gaussian vectors can be drawn as L·z.
type Decomposer struct {
	matrix *mat.SymDense

	factor      *mat.Dense // n x rank
	rank        int
	relResidual float64
	decomposed  bool
}

func New(cov mat.Symmetric) (*Decomposer, error) {
	if cov == nil {
		return nil, fmt.Errorf("nil covariance: %w", common.ErrorInvalidValue)
	}
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("empty covariance: %w", common.ErrorInvalidValue)
	}

	m := mat.NewSymDense(n, nil)
	m.CopySym(cov)

	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("covariance element (%d,%d) = %v: %w", i, j, v, common.ErrorInvalidValue)
			}
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
	}
	if maxAbs < DegenerateFloor {
		return nil, fmt.Errorf("max |element| %v below floor %v: %w", maxAbs, DegenerateFloor, common.ErrorDegenerateMatrix)
	}

	return &Decomposer{matrix: m}, nil
}

func (d *Decomposer) Dim() int {
	return d.matrix.SymmetricDim()
}

// Matrix returns the matrix being decomposed, after any ForcePosDef adjustment.
func (d *Decomposer) Matrix() *mat.SymDense {
	return d.matrix
}

func (d *Decomposer) Decomposed() bool {
	return d.decomposed
}

// Factor returns the n x Rank() factor L.
func (d *Decomposer) Factor() *mat.Dense {
	return d.factor
}

func (d *Decomposer) Rank() int {
	return d.rank
}

// RelResidual is trace(M - L·Lᵀ)/trace(M); zero for the full decomposition.
func (d *Decomposer) RelResidual() float64 {
	return d.relResidual
}

// ForcePosDef raises every eigenvalue below tolerance to padding and
// rebuilds the matrix, until it passes a Cholesky check or the iteration
// limit is reached. Returns false when the matrix is still not positive
// definite.
func (d *Decomposer) ForcePosDef(padding, tolerance float64) bool {
	d.reset()

	for iter := 0; iter < MaxForceIterations; iter++ {
		var eig mat.EigenSym
		if ok := eig.Factorize(d.matrix, true); !ok {
			return false
		}

		values := eig.Values(nil)
		adjusted := false
		for i, v := range values {
			if v < tolerance {
				values[i] = padding
				adjusted = true
			}
		}
		if !adjusted && isPosDef(d.matrix) {
			return true
		}

		var vecs mat.Dense
		eig.VectorsTo(&vecs)
		d.matrix = rebuild(&vecs, values)

		if isPosDef(d.matrix) {
			return true
		}
	}
	return false
}

// Decompose runs a full Cholesky decomposition. It fails when the matrix
// cannot be factored or a squared pivot falls below tolerance.
func (d *Decomposer) Decompose(tolerance float64) bool {
	d.reset()

	var chol mat.Cholesky
	if ok := chol.Factorize(d.matrix); !ok {
		return false
	}
	var l mat.TriDense
	chol.LTo(&l)

	n := d.Dim()
	for i := 0; i < n; i++ {
		piv := l.At(i, i)
		if piv*piv < tolerance {
			return false
		}
	}

	d.factor = mat.DenseCopyOf(&l)
	d.rank = n
	d.relResidual = 0
	d.decomposed = true
	return true
}

// IncompleteDecompose runs a pivoted incomplete Cholesky decomposition. At
// each step the largest remaining diagonal pivot is taken; the
// decomposition stops once it drops below dropTolerance times the largest
// initial diagonal element. The truncation is refused when the relative
// trace residual exceeds maxResidual.
func (d *Decomposer) IncompleteDecompose(dropTolerance, maxResidual float64) error {
	d.reset()

	n := d.Dim()
	diag := make([]float64, n)
	maxDiag, trace := 0.0, 0.0
	for i := 0; i < n; i++ {
		diag[i] = d.matrix.At(i, i)
		maxDiag = math.Max(maxDiag, diag[i])
		trace += math.Max(diag[i], 0)
	}
	if maxDiag <= 0 {
		return fmt.Errorf("no positive diagonal element: %w", common.ErrorNotPositiveDefinite)
	}

	l := mat.NewDense(n, n, nil)
	used := make([]bool, n)
	threshold := dropTolerance * maxDiag

	rank := 0
	for k := 0; k < n; k++ {
		// 1. pick the largest remaining pivot
		p, best := -1, 0.0
		for i := 0; i < n; i++ {
			if !used[i] && diag[i] > best {
				p, best = i, diag[i]
			}
		}
		if p < 0 || best < threshold {
			break
		}

		// 2. fill column k
		used[p] = true
		piv := math.Sqrt(best)
		l.Set(p, k, piv)
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			s := d.matrix.At(i, p)
			for j := 0; j < k; j++ {
				s -= l.At(i, j) * l.At(p, j)
			}
			v := s / piv
			l.Set(i, k, v)
			diag[i] -= v * v
		}
		rank++
	}

	if rank == 0 {
		return fmt.Errorf("all pivots below drop tolerance %v: %w", dropTolerance, common.ErrorDecompositionFailed)
	}

	residual := 0.0
	for i := 0; i < n; i++ {
		if !used[i] {
			residual += math.Max(diag[i], 0)
		}
	}
	relResidual := 0.0
	if trace > 0 {
		relResidual = residual / trace
	}
	if relResidual > maxResidual {
		return fmt.Errorf("relative residual %v with %d of %d directions exceeds %v: %w",
			relResidual, rank, n, maxResidual, common.ErrorTruncationResidual)
	}

	d.factor = mat.DenseCopyOf(l.Slice(0, n, 0, rank))
	d.rank = rank
	d.relResidual = relResidual
	d.decomposed = true
	return nil
}

// Reconstruct returns L·Lᵀ.
func (d *Decomposer) Reconstruct() (*mat.SymDense, error) {
	if !d.decomposed {
		return nil, common.ErrorNotDecomposed
	}
	n := d.Dim()
	res := mat.NewSymDense(n, nil)
	res.SymOuterK(1, d.factor)
	return res, nil
}

// MaxAbsResidual returns max |(L·Lᵀ - M)_ij|.
func (d *Decomposer) MaxAbsResidual() (float64, error) {
	rec, err := d.Reconstruct()
	if err != nil {
		return 0, err
	}
	n := d.Dim()
	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			maxAbs = math.Max(maxAbs, math.Abs(rec.At(i, j)-d.matrix.At(i, j)))
		}
	}
	return maxAbs, nil
}

func (d *Decomposer) reset() {
	d.factor = nil
	d.rank = 0
	d.relResidual = 0
	d.decomposed = false
}

func isPosDef(m *mat.SymDense) bool {
	var chol mat.Cholesky
	return chol.Factorize(m)
}

// rebuild returns V·diag(values)·Vᵀ, symmetrized.
func rebuild(vecs *mat.Dense, values []float64) *mat.SymDense {
	n := len(values)
	scaled := mat.NewDense(n, n, nil)
	scaled.Apply(func(i, j int, v float64) float64 {
		return v * values[j]
	}, vecs)

	var full mat.Dense
	full.Mul(scaled, vecs.T())

	res := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			res.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return res
}
