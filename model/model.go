package model

import (
	"fmt"

	"github.com/uyouii/xsec-errprop/common"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Histogram is an ordered sequence of bin contents. Transforms return new
// histograms and never write into the receiver's buffers.
type Histogram struct {
	Name    string
	Content []float64
	Errors  []float64
	// Edges is optional; when set it holds Len()+1 ascending bin edges.
	Edges []float64
}

func NewHistogram(name string, nbins int) Histogram {
	return Histogram{
		Name:    name,
		Content: make([]float64, nbins),
		Errors:  make([]float64, nbins),
	}
}

func (h Histogram) Len() int {
	return len(h.Content)
}

func (h Histogram) DebugString() string {
	return fmt.Sprintf("name: %v, bins: %v, integral: %v", h.Name, h.Len(), h.Integral())
}

func (h Histogram) Clone() Histogram {
	res := Histogram{
		Name:    h.Name,
		Content: append([]float64(nil), h.Content...),
		Errors:  append([]float64(nil), h.Errors...),
	}
	if h.Edges != nil {
		res.Edges = append([]float64(nil), h.Edges...)
	}
	if len(res.Errors) != len(res.Content) {
		res.Errors = make([]float64, len(res.Content))
	}
	return res
}

func (h Histogram) Named(name string) Histogram {
	res := h.Clone()
	res.Name = name
	return res
}

func (h Histogram) Integral() float64 {
	return floats.Sum(h.Content)
}

// Scale multiplies contents and errors by f.
func (h Histogram) Scale(f float64) Histogram {
	res := h.Clone()
	floats.Scale(f, res.Content)
	floats.Scale(f, res.Errors)
	return res
}

// Divide returns h/d bin by bin. Bins where d is zero are set to zero.
func (h Histogram) Divide(d Histogram) (Histogram, error) {
	if h.Len() != d.Len() {
		return Histogram{}, fmt.Errorf("divide %q by %q: %w", h.Name, d.Name, common.ErrorDimensionMismatch)
	}
	res := h.Clone()
	for i := range res.Content {
		if d.Content[i] == 0 {
			res.Content[i] = 0
			res.Errors[i] = 0
			continue
		}
		res.Content[i] = h.Content[i] / d.Content[i]
		res.Errors[i] = 0
	}
	return res, nil
}

func (h Histogram) WithErrors(errs []float64) (Histogram, error) {
	if len(errs) != h.Len() {
		return Histogram{}, fmt.Errorf("set errors on %q: %w", h.Name, common.ErrorDimensionMismatch)
	}
	res := h.Clone()
	copy(res.Errors, errs)
	return res, nil
}

// Concat joins the bin contents of hists, in order, into one histogram.
func Concat(name string, hists ...Histogram) Histogram {
	n := 0
	for _, h := range hists {
		n += h.Len()
	}
	res := NewHistogram(name, n)
	offset := 0
	for _, h := range hists {
		copy(res.Content[offset:], h.Content)
		copy(res.Errors[offset:], h.Errors)
		offset += h.Len()
	}
	return res
}

// BinWidther gives the physical width of a bin by its id.
type BinWidther interface {
	NBins() int
	BinWidth(bin int) (float64, error)
}

// SignalNorm is one signal definition and its normalization inputs.
// Errors are absolute once loaded.
type SignalNorm struct {
	Name     string
	Detector string
	NBins    int
	Binning  BinWidther

	FluxHist      Histogram
	FluxInt       float64
	FluxErr       float64
	UseFluxFit    bool
	NumTargetsVal float64
	NumTargetsErr float64
	RelativeErr   bool

	FluxThrows   *ThrowHistogram
	TargetThrows *ThrowHistogram
}

// FitResult holds the objects read from the upstream fit output.
type FitResult struct {
	PostfitParam   []float64
	PrefitOriginal []float64
	PrefitDecomp   []float64
	PrefitToy      []float64 // only for throw-type fits

	PostfitCov *mat.SymDense
	PostfitCor *mat.SymDense
	PrefitCov  *mat.SymDense // optional
}

type CovarianceResult struct {
	Cov *mat.SymDense
	Cor *mat.SymDense
}

func (r *CovarianceResult) Dim() int {
	if r == nil || r.Cov == nil {
		return 0
	}
	return r.Cov.SymmetricDim()
}

// ToyRecord keeps the nuisance draws made while evaluating one toy.
// Slices are indexed by signal.
type ToyRecord struct {
	Targets      []float64
	Fluxes       []float64
	RatioTargets []float64
}
