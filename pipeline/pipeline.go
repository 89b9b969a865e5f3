package pipeline

import (
	"fmt"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
)

// EventSample is a reweightable event population.
type EventSample interface {
	// Reweight always starts from the original MC weights.
	Reweight(params []float64) error
	ReweightNominal()
	SignalHists() []model.Histogram
	RatioHist() (model.Histogram, error)
}

type FluxReweighter interface {
	FluxIntegral(params []float64, nominal model.Histogram, detector string) (float64, error)
}

type ParThrower interface {
	ThrowSinglePar(mean, sigma float64) float64
}

// Samples are the event populations one pipeline owns. The ratio samples
// are optional; without them no ratio observable is produced.
type Samples struct {
	Selected      EventSample
	True          EventSample
	SelectedRatio EventSample
	TrueRatio     EventSample
}

func (s Samples) hasRatio() bool {
	return s.SelectedRatio != nil && s.TrueRatio != nil
}

type Options struct {
	// UnitScale converts bin widths, e.g. 1000 for MeV edges to per-GeV.
	UnitScale float64
}

// Pipeline turns a parameter vector into normalized cross-section
// histograms. It mutates the weights of its own samples and must not be
// shared between goroutines.
type Pipeline struct {
	opts    Options
	samples Samples
	flux    FluxReweighter
	norms   []*model.SignalNorm

	totalBins int
}

// TruthParams selects the weights of the truth comparison histograms.
// A nil Weights means nominal MC weights. Norm is the vector used for a
// fit-derived flux integral.
type TruthParams struct {
	Weights []float64
	Norm    []float64
}

type BestFitResult struct {
	Selected   []model.Histogram
	Truth      []model.Histogram
	SelConcat  model.Histogram
	TruConcat  model.Histogram
	Efficiency model.Histogram

	SelRatio model.Histogram
	TruRatio model.Histogram
	EffRatio model.Histogram
	HasRatio bool
}

type ToyResult struct {
	Index      int
	Selected   model.Histogram
	Truth      model.Histogram
	Efficiency model.Histogram

	SelRatio model.Histogram
	TruRatio model.Histogram
	EffRatio model.Histogram

	Record model.ToyRecord
}

type DataResult struct {
	Signals  []model.Histogram
	Concat   model.Histogram
	Ratio    model.Histogram
	HasRatio bool
}

func New(opts Options, samples Samples, flux FluxReweighter, norms []*model.SignalNorm) (*Pipeline, error) {
	if samples.Selected == nil || samples.True == nil {
		return nil, fmt.Errorf("selected and true samples are required: %w", common.ErrorInvalidValue)
	}
	if len(norms) == 0 {
		return nil, fmt.Errorf("no signal normalizations: %w", common.ErrorInvalidValue)
	}
	if opts.UnitScale <= 0 {
		return nil, fmt.Errorf("unit scale %v: %w", opts.UnitScale, common.ErrorInvalidValue)
	}

	total := 0
	for _, n := range norms {
		if n.Binning == nil || n.Binning.NBins() != n.NBins {
			return nil, fmt.Errorf("signal %q binning: %w", n.Name, common.ErrorDimensionMismatch)
		}
		if n.UseFluxFit && flux == nil {
			return nil, fmt.Errorf("signal %q uses flux fit without flux parameters: %w", n.Name, common.ErrorInvalidValue)
		}
		total += n.NBins
	}
	if samples.hasRatio() && (len(norms) != 2 || norms[0].NBins != norms[1].NBins) {
		return nil, common.ErrorRatioLayout
	}

	return &Pipeline{
		opts:      opts,
		samples:   samples,
		flux:      flux,
		norms:     norms,
		totalBins: total,
	}, nil
}

// WithSamples returns a pipeline sharing configuration with p but working
// on other samples.
func (p *Pipeline) WithSamples(samples Samples) (*Pipeline, error) {
	return New(p.opts, samples, p.flux, p.norms)
}

func (p *Pipeline) TotalBins() int {
	return p.totalBins
}

func (p *Pipeline) HasRatio() bool {
	return p.samples.hasRatio()
}

func (p *Pipeline) reweightAll(params []float64) error {
	for _, s := range p.all() {
		if err := s.Reweight(params); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) all() []EventSample {
	res := []EventSample{p.samples.Selected, p.samples.True}
	if p.samples.hasRatio() {
		res = append(res, p.samples.SelectedRatio, p.samples.TrueRatio)
	}
	return res
}

// BestFit evaluates the best-fit cross section. Selected and true events
// both carry the postfit weights for the efficiency; the true events are
// then reweighted with truth weights for the comparison histograms.
func (p *Pipeline) BestFit(postfit []float64, truth TruthParams) (*BestFitResult, error) {
	// 1. reweight with postfit parameters
	if err := p.reweightAll(postfit); err != nil {
		return nil, err
	}

	// 2. raw histograms
	selHists := p.samples.Selected.SignalHists()
	truHists := p.samples.True.SignalHists()

	res := &BestFitResult{HasRatio: p.samples.hasRatio()}

	// 3. ratio: efficiency correction and target normalization
	if res.HasRatio {
		selRatio, err := p.samples.SelectedRatio.RatioHist()
		if err != nil {
			return nil, err
		}
		selRatio, effRatio, err := ApplyEffRatio(selRatio, selHists, truHists)
		if err != nil {
			return nil, err
		}
		res.SelRatio = p.ratioTargets(selRatio, nil, nil).Named("sel_best_fit_ratio")
		res.EffRatio = effRatio.Named("eff_best_fit_ratio")
	}

	// 4. efficiency, then targets, flux and bin width
	selHists, eff, err := ApplyEff(selHists, truHists)
	if err != nil {
		return nil, err
	}
	res.Efficiency = ConcatHist(eff, "eff_best_fit")

	selHists, err = p.ApplyNorm(selHists, postfit, nil, nil)
	if err != nil {
		return nil, err
	}

	// 5. truth comparison with nominal or prefit toy weights
	for _, s := range p.truthSamples() {
		if truth.Weights == nil {
			s.ReweightNominal()
		} else if err := s.Reweight(truth.Weights); err != nil {
			return nil, err
		}
	}
	truHists = p.samples.True.SignalHists()
	truHists, err = p.ApplyNorm(truHists, truth.Norm, nil, nil)
	if err != nil {
		return nil, err
	}
	if res.HasRatio {
		truRatio, err := p.samples.TrueRatio.RatioHist()
		if err != nil {
			return nil, err
		}
		res.TruRatio = p.ratioTargets(truRatio, nil, nil).Named("tru_best_fit_ratio")
	}

	res.Selected = selHists
	res.Truth = truHists
	res.SelConcat = ConcatHist(selHists, "sel_best_fit")
	res.TruConcat = ConcatHist(truHists, "tru_best_fit")
	return res, nil
}

func (p *Pipeline) truthSamples() []EventSample {
	res := []EventSample{p.samples.True}
	if p.samples.hasRatio() {
		res = append(res, p.samples.TrueRatio)
	}
	return res
}

// Toy evaluates one toy parameter vector. Nuisance parameters are drawn
// from thrower in a fixed order: ratio targets (signal 1, signal 0), then
// per signal the target count followed by the flux integral.
func (p *Pipeline) Toy(index int, params []float64, thrower ParThrower) (*ToyResult, error) {
	if thrower == nil {
		return nil, fmt.Errorf("toy %d without thrower: %w", index, common.ErrorInvalidValue)
	}
	if err := p.reweightAll(params); err != nil {
		return nil, err
	}

	rec := model.ToyRecord{
		Targets: make([]float64, len(p.norms)),
		Fluxes:  make([]float64, len(p.norms)),
	}
	res := &ToyResult{Index: index}

	selHists := p.samples.Selected.SignalHists()
	truHists := p.samples.True.SignalHists()

	if p.samples.hasRatio() {
		selRatio, err := p.samples.SelectedRatio.RatioHist()
		if err != nil {
			return nil, err
		}
		truRatio, err := p.samples.TrueRatio.RatioHist()
		if err != nil {
			return nil, err
		}
		selRatio, effRatio, err := ApplyEffRatio(selRatio, selHists, truHists)
		if err != nil {
			return nil, err
		}
		res.SelRatio = p.ratioTargets(selRatio, thrower, &rec).Named(fmt.Sprintf("sel_ratio_toy%d", index))
		res.TruRatio = truRatio.Named(fmt.Sprintf("tru_ratio_toy%d", index))
		res.EffRatio = effRatio.Named(fmt.Sprintf("eff_ratio_toy%d", index))
	}

	selHists, eff, err := ApplyEff(selHists, truHists)
	if err != nil {
		return nil, err
	}
	selHists, err = p.ApplyNorm(selHists, params, thrower, &rec)
	if err != nil {
		return nil, err
	}

	res.Selected = ConcatHist(selHists, fmt.Sprintf("sel_signal_toy%d", index))
	res.Truth = ConcatHist(truHists, fmt.Sprintf("tru_signal_toy%d", index))
	res.Efficiency = ConcatHist(eff, fmt.Sprintf("eff_combined_toy%d", index))
	res.Record = rec
	return res, nil
}

// DataHists builds the fake-data histograms from a data sample at nominal
// weights, normalized with the fixed constants.
func (p *Pipeline) DataHists(data EventSample, norm []float64) (*DataResult, error) {
	data.ReweightNominal()
	hists, err := p.ApplyNorm(data.SignalHists(), norm, nil, nil)
	if err != nil {
		return nil, err
	}
	for i := range hists {
		hists[i].Name = p.norms[i].Name + "_data"
	}
	res := &DataResult{
		Signals: hists,
		Concat:  ConcatHist(hists, "fake_data_concat"),
	}
	if p.samples.hasRatio() {
		ratio, err := data.RatioHist()
		if err != nil {
			return nil, err
		}
		res.Ratio = p.ratioTargets(ratio, nil, nil).Named("fake_data_ratio")
		res.HasRatio = true
	}
	return res, nil
}

// ApplyNorm divides each signal histogram by its target count, its flux
// integral and its bin widths, in that order. With a thrower the target
// count and any non-fit flux integral are drawn and recorded into rec.
func (p *Pipeline) ApplyNorm(hists []model.Histogram, params []float64, thrower ParThrower, rec *model.ToyRecord) ([]model.Histogram, error) {
	if len(hists) != len(p.norms) {
		return nil, fmt.Errorf("%d histograms for %d signals: %w", len(hists), len(p.norms), common.ErrorDimensionMismatch)
	}
	res := make([]model.Histogram, len(hists))
	for i, h := range hists {
		norm := p.norms[i]

		targets := norm.NumTargetsVal
		if thrower != nil {
			targets = thrower.ThrowSinglePar(norm.NumTargetsVal, norm.NumTargetsErr)
			rec.Targets[i] = targets
		}
		h = ApplyTargets(h, targets)

		fluxInt, err := p.fluxIntegral(norm, params, thrower)
		if err != nil {
			return nil, err
		}
		if thrower != nil {
			rec.Fluxes[i] = fluxInt
		}
		h = ApplyFlux(h, fluxInt)

		h, err = ApplyBinWidth(h, norm.Binning, p.opts.UnitScale)
		if err != nil {
			return nil, err
		}
		res[i] = h
	}
	return res, nil
}

func (p *Pipeline) fluxIntegral(norm *model.SignalNorm, params []float64, thrower ParThrower) (float64, error) {
	if norm.UseFluxFit {
		return p.flux.FluxIntegral(params, norm.FluxHist, norm.Detector)
	}
	if thrower != nil {
		return thrower.ThrowSinglePar(norm.FluxInt, norm.FluxErr), nil
	}
	return norm.FluxInt, nil
}

// ratioTargets scales the ratio by targets[0]/targets[1].
func (p *Pipeline) ratioTargets(h model.Histogram, thrower ParThrower, rec *model.ToyRecord) model.Histogram {
	targetsC, targetsO := p.norms[0].NumTargetsVal, p.norms[1].NumTargetsVal
	if thrower != nil {
		targetsO = thrower.ThrowSinglePar(p.norms[1].NumTargetsVal, p.norms[1].NumTargetsErr)
		targetsC = thrower.ThrowSinglePar(p.norms[0].NumTargetsVal, p.norms[0].NumTargetsErr)
		rec.RatioTargets = []float64{targetsC, targetsO}
	}
	return h.Scale(targetsC / targetsO)
}
