package xsec

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uyouii/xsec-errprop/binning"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/config"
	"github.com/uyouii/xsec-errprop/decomp"
	"github.com/uyouii/xsec-errprop/events"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/pipeline"
	"github.com/uyouii/xsec-errprop/store"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	CovSourcePostfit = "postfit"
	CovSourcePrefit  = "prefit"
)

// Calculator owns everything one run needs: the signal definitions, the
// event samples, the fit result and the decomposed covariance the toys are
// thrown from. It is not safe for concurrent use; GenerateToys parallelizes
// internally.
type Calculator struct {
	cfg   *config.Config
	runID string

	norms    []*model.SignalNorm
	binnings []*binning.Binning
	flux     *events.FluxModel

	samples     samples
	data        *events.Sample
	pipe        *pipeline.Pipeline
	fit         *model.FitResult
	fsiCov      *mat.SymDense
	decomposer  *decomp.Decomposer
	covSource   string
	ratioThrows []*model.ThrowHistogram // signal 0, signal 1

	bestFit  *pipeline.BestFitResult
	dataHist *pipeline.DataResult
	toys     []*pipeline.ToyResult
	xsecCov  *model.CovarianceResult
	ratioCov *model.CovarianceResult
}

type samples struct {
	sel, tru           *events.Sample
	selRatio, truRatio *events.Sample
}

func (s samples) pipelineSamples() pipeline.Samples {
	res := pipeline.Samples{Selected: s.sel, True: s.tru}
	if s.selRatio != nil && s.truRatio != nil {
		res.SelectedRatio = s.selRatio
		res.TrueRatio = s.truRatio
	}
	return res
}

func (s samples) clone() samples {
	res := samples{sel: s.sel.Clone(), tru: s.tru.Clone()}
	if s.selRatio != nil && s.truRatio != nil {
		res.selRatio = s.selRatio.Clone()
		res.truRatio = s.truRatio.Clone()
	}
	return res
}

func NewCalculator(ctx context.Context, cfg *config.Config) (*Calculator, error) {
	logger := utils.GetLogger(ctx)

	c := &Calculator{
		cfg:   cfg,
		runID: uuid.NewString(),
	}
	logger.Info("new calculator", zap.String("run_id", c.runID), zap.Uint64("seed", cfg.RNGSeed))

	// 1. signal definitions and normalizations
	specs, err := c.loadSignals(ctx)
	if err != nil {
		return nil, err
	}

	// 2. flux parameter blocks
	blocks := make([]events.FluxBlock, 0, len(cfg.FluxParams))
	for _, b := range cfg.FluxParams {
		blocks = append(blocks, events.FluxBlock{Detector: b.Detector, Offset: b.Offset, Edges: b.Edges})
	}
	if c.flux, err = events.NewFluxModel(blocks); err != nil {
		return nil, err
	}

	// 3. event samples
	if err := c.loadSamples(ctx, specs); err != nil {
		return nil, err
	}
	c.pipe, err = pipeline.New(pipeline.Options{UnitScale: cfg.UnitScale}, c.samples.pipelineSamples(), c.flux, c.norms)
	if err != nil {
		return nil, err
	}

	// 4. upstream fit result and optional secondary covariance
	if err := c.loadFitResult(ctx); err != nil {
		return nil, err
	}
	if cfg.ProtonFSICov.Enabled() {
		if c.fsiCov, err = readMatrix(ctx, cfg.ProtonFSICov.File, cfg.ProtonFSICov.Matrix); err != nil {
			return nil, err
		}
	}

	// 5. toy thrower from the postfit covariance
	if err := c.InitToyThrower(ctx, c.fit.PostfitCov); err != nil {
		return nil, err
	}
	c.covSource = CovSourcePostfit
	return c, nil
}

func (c *Calculator) RunID() string {
	return c.runID
}

func (c *Calculator) Norms() []*model.SignalNorm {
	return c.norms
}

func (c *Calculator) loadSignals(ctx context.Context) ([]events.SignalSpec, error) {
	logger := utils.GetLogger(ctx)

	fluxStores := map[string]*store.Store{}
	defer func() {
		for _, s := range fluxStores {
			s.Close()
		}
	}()

	specs := []events.SignalSpec{}
	for _, sig := range c.cfg.UsedSignals() {
		if sig.Norm == nil {
			return nil, fmt.Errorf("signal %q: %w", sig.Name, common.ErrorMissingSignalNorm)
		}
		bins, err := binning.Load(ctx, sig.Binning)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", sig.Name, err)
		}

		fs, ok := fluxStores[sig.Norm.FluxFile]
		if !ok {
			if fs, err = store.Open(ctx, sig.Norm.FluxFile); err != nil {
				return nil, fmt.Errorf("signal %q: %w", sig.Name, err)
			}
			fluxStores[sig.Norm.FluxFile] = fs
		}
		fluxHist, err := fs.GetHist(ctx, sig.Norm.FluxHist)
		if err != nil {
			return nil, fmt.Errorf("signal %q flux: %w", sig.Name, err)
		}

		norm := newSignalNorm(sig, bins, fluxHist)
		c.norms = append(c.norms, norm)
		c.binnings = append(c.binnings, bins)
		specs = append(specs, events.SignalSpec{Name: sig.Name, Detector: sig.Detector, Binning: bins})

		logger.Info("signal loaded",
			zap.String("name", sig.Name),
			zap.String("detector", sig.Detector),
			zap.Int("bins", bins.NBins()),
			zap.Float64("flux_int", norm.FluxInt),
			zap.Float64("flux_err", norm.FluxErr),
			zap.Float64("num_targets", norm.NumTargetsVal),
			zap.Float64("num_targets_err", norm.NumTargetsErr),
			zap.Bool("use_flux_fit", norm.UseFluxFit))
	}

	if c.cfg.Ratio.Enabled {
		c.ratioThrows = []*model.ThrowHistogram{
			model.NewThrowHistogram(c.norms[0].NumTargetsVal, c.norms[0].NumTargetsErr),
			model.NewThrowHistogram(c.norms[1].NumTargetsVal, c.norms[1].NumTargetsErr),
		}
	}
	return specs, nil
}

func newSignalNorm(sig config.SignalConfig, bins *binning.Binning, fluxHist model.Histogram) *model.SignalNorm {
	n := sig.Norm
	fluxErr, targetsErr := n.AbsFluxErr(), n.AbsTargetsErr()
	return &model.SignalNorm{
		Name:          sig.Name,
		Detector:      sig.Detector,
		NBins:         bins.NBins(),
		Binning:       bins,
		FluxHist:      fluxHist.Named(sig.Name + "_flux_nominal"),
		FluxInt:       n.FluxInt,
		FluxErr:       fluxErr,
		UseFluxFit:    n.UseFluxFit,
		NumTargetsVal: n.NumTargetsVal,
		NumTargetsErr: targetsErr,
		RelativeErr:   n.RelativeErr,
		FluxThrows:    model.NewThrowHistogram(n.FluxInt, fluxErr),
		TargetThrows:  model.NewThrowHistogram(n.NumTargetsVal, targetsErr),
	}
}

func (c *Calculator) loadSamples(ctx context.Context, specs []events.SignalSpec) error {
	var err error
	load := func(name, path string) (*events.Sample, error) {
		recs, err := store.ReadEvents(ctx, path)
		if err != nil {
			return nil, err
		}
		return events.NewSample(ctx, name, recs, specs, c.flux)
	}

	if c.samples.sel, err = load("sel", c.cfg.SelEvents); err != nil {
		return err
	}
	if c.samples.tru, err = load("tru", c.cfg.TruEvents); err != nil {
		return err
	}
	if c.cfg.Ratio.Enabled {
		// the ratio samples need their own weights even when read from the same store
		if c.cfg.Ratio.SelEvents == c.cfg.SelEvents {
			c.samples.selRatio = c.samples.sel.Clone()
		} else if c.samples.selRatio, err = load("sel_ratio", c.cfg.Ratio.SelEvents); err != nil {
			return err
		}
		if c.cfg.Ratio.TruEvents == c.cfg.TruEvents {
			c.samples.truRatio = c.samples.tru.Clone()
		} else if c.samples.truRatio, err = load("tru_ratio", c.cfg.Ratio.TruEvents); err != nil {
			return err
		}
	}
	if c.cfg.ReadDataEvents {
		if c.data, err = load("data", c.cfg.DataEvents); err != nil {
			return err
		}
	}
	return nil
}

func (c *Calculator) loadFitResult(ctx context.Context) error {
	fs, err := store.Open(ctx, c.cfg.InputFitFile)
	if err != nil {
		return err
	}
	defer fs.Close()

	if c.fit, err = store.ReadFitResult(ctx, fs, c.cfg.ThrowFit, c.cfg.UsePrefitCov); err != nil {
		return err
	}
	if len(c.fit.PostfitParam) < c.pipe.TotalBins() {
		return fmt.Errorf("%d fit parameters for %d signal bins: %w",
			len(c.fit.PostfitParam), c.pipe.TotalBins(), common.ErrorDimensionMismatch)
	}
	return nil
}

func readMatrix(ctx context.Context, path, name string) (*mat.SymDense, error) {
	s, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.GetMatrix(ctx, name)
}

// InitToyThrower decomposes cov with the configured strategy. The matrix is
// made positive definite first when asked for; failing that is fatal.
func (c *Calculator) InitToyThrower(ctx context.Context, cov *mat.SymDense) error {
	logger := utils.GetLogger(ctx)
	opts := c.cfg.Decomposition

	d, err := decomp.New(cov)
	if err != nil {
		return err
	}

	if opts.DoForcePosDef {
		if !d.ForcePosDef(opts.ForcePosDefVal, opts.Tolerance) {
			return fmt.Errorf("force positive definite with padding %v: %w", opts.ForcePosDefVal, common.ErrorNotPositiveDefinite)
		}
	}

	if opts.IncompleteChol {
		if err := d.IncompleteDecompose(opts.DropTolerance, opts.MaxResidual); err != nil {
			return err
		}
	} else if !d.Decompose(opts.Tolerance) {
		return fmt.Errorf("cholesky of %d x %d covariance: %w", d.Dim(), d.Dim(), common.ErrorDecompositionFailed)
	}

	c.decomposer = d
	logger.Info("toy thrower initialized",
		zap.Int("dim", d.Dim()),
		zap.Int("rank", d.Rank()),
		zap.Float64("rel_residual", d.RelResidual()),
		zap.Bool("incomplete", opts.IncompleteChol),
		zap.Bool("force_posdef", opts.DoForcePosDef))
	return nil
}

// UsePrefitCov throws toys from the prefit covariance instead of the
// postfit one.
func (c *Calculator) UsePrefitCov(ctx context.Context) error {
	if c.fit.PrefitCov == nil {
		return fmt.Errorf("%s: %w", store.FitPrefitCov, common.ErrorObjectNotFound)
	}
	if err := c.InitToyThrower(ctx, c.fit.PrefitCov); err != nil {
		return err
	}
	c.covSource = CovSourcePrefit
	return nil
}

// ReweightBestFit evaluates the best-fit cross section and, with a data
// sample, the fake-data histograms.
func (c *Calculator) ReweightBestFit(ctx context.Context) error {
	logger := utils.GetLogger(ctx)

	truth := pipeline.TruthParams{Norm: c.fit.PrefitOriginal}
	if c.cfg.ThrowFit {
		truth = pipeline.TruthParams{Weights: c.fit.PrefitToy, Norm: c.fit.PrefitToy}
	}

	res, err := c.pipe.BestFit(c.fit.PostfitParam, truth)
	if err != nil {
		return fmt.Errorf("best fit: %w", err)
	}
	c.bestFit = res

	if c.data != nil {
		if c.dataHist, err = c.pipe.DataHists(c.data, c.fit.PrefitOriginal); err != nil {
			return fmt.Errorf("data histograms: %w", err)
		}
	}

	for _, h := range res.Selected {
		logger.Debug("best fit signal", zap.String("hist", h.DebugString()))
	}
	logger.Info("best fit evaluated",
		zap.Int("bins", res.SelConcat.Len()),
		zap.Float64("sel_integral", res.SelConcat.Integral()),
		zap.Float64("tru_integral", res.TruConcat.Integral()),
		zap.Bool("ratio", res.HasRatio))
	return nil
}

// Run performs a complete calculation and writes the output store.
func (c *Calculator) Run(ctx context.Context) error {
	if c.cfg.UsePrefitCov {
		if err := c.UsePrefitCov(ctx); err != nil {
			return err
		}
	}
	if err := c.ReweightBestFit(ctx); err != nil {
		return err
	}
	if err := c.GenerateToys(ctx, c.cfg.NumToys); err != nil {
		return err
	}
	if err := c.CalcCovariance(ctx, c.cfg.UseBestFit); err != nil {
		return err
	}
	return c.SaveOutput(ctx, c.cfg.SaveToys)
}
