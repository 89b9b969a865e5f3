package xsec

import (
	"context"
	"fmt"
	"time"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/estimator"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/store"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
)

// RunInfo is stored as the run_info meta object of every output store.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Seed        uint64    `json:"seed"`
	Toys        int       `json:"toys"`
	Workers     int       `json:"workers"`
	CovSource   string    `json:"cov_source"`
	Rank        int       `json:"rank"`
	RelResidual float64   `json:"rel_residual"`
	UseBestFit  bool      `json:"use_best_fit"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveOutput recreates the output store and writes every result object.
// Per-toy histograms are only written with saveToys.
func (c *Calculator) SaveOutput(ctx context.Context, saveToys bool) error {
	logger := utils.GetLogger(ctx)

	if c.bestFit == nil || c.xsecCov == nil {
		return fmt.Errorf("nothing to save, run the best fit and covariance first: %w", common.ErrorInvalidValue)
	}

	out, err := store.Create(ctx, c.cfg.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	hists, err := c.outputHists(saveToys)
	if err != nil {
		return err
	}

	err = out.Tx(ctx, func(w *store.Writer) error {
		if err := w.PutHists(ctx, hists...); err != nil {
			return err
		}
		if err := c.putMatrices(ctx, w); err != nil {
			return err
		}
		if err := c.putVectors(ctx, w); err != nil {
			return err
		}
		return c.putMeta(ctx, w)
	})
	if err != nil {
		return fmt.Errorf("save output %s: %w", c.cfg.OutputFile, err)
	}

	if c.cfg.ExtraHists != "" {
		if err := c.copyExtra(ctx, out); err != nil {
			return err
		}
	}

	if c.cfg.XlsxOutput != "" {
		if err := store.WriteWorkbook(ctx, c.cfg.XlsxOutput, c.workbook()); err != nil {
			return err
		}
	}

	logger.Info("output saved", zap.String("path", c.cfg.OutputFile), zap.Int("hists", len(hists)),
		zap.Bool("save_toys", saveToys))
	return nil
}

func (c *Calculator) outputHists(saveToys bool) ([]model.Histogram, error) {
	bf := c.bestFit
	res := []model.Histogram{bf.SelConcat, bf.TruConcat, bf.Efficiency}
	if bf.HasRatio {
		res = append(res, bf.SelRatio, bf.TruRatio, bf.EffRatio)
	}

	// per signal histograms and their slices along the secondary axis
	for k, norm := range c.norms {
		bins := c.binnings[k]
		for _, h := range []struct {
			hist   model.Histogram
			suffix string
		}{
			{bf.Selected[k], "postfit"},
			{bf.Truth[k], "nominal"},
		} {
			res = append(res, h.hist.Named(norm.Name+"_"+h.suffix))
			slices, err := bins.Slices(h.hist, norm.Name, h.suffix)
			if err != nil {
				return nil, err
			}
			res = append(res, slices...)
		}

		res = append(res,
			norm.FluxHist.Named(norm.Name+"_flux_nominal"),
			norm.FluxThrows.Histogram(norm.Name+"_flux_throws"),
			norm.TargetThrows.Histogram(norm.Name+"_target_throws"))
	}

	if bf.HasRatio {
		name, bins := c.norms[0].Name, c.binnings[0]
		for _, h := range []struct {
			hist   model.Histogram
			suffix string
		}{
			{bf.SelRatio, "ratio_postfit"},
			{bf.TruRatio, "ratio_nominal"},
		} {
			res = append(res, h.hist.Named(name+"_"+h.suffix))
			slices, err := bins.Slices(h.hist, name, h.suffix)
			if err != nil {
				return nil, err
			}
			res = append(res, slices...)
		}
		for k, t := range c.ratioThrows {
			res = append(res, t.Histogram(c.norms[k].Name+"_ratio_target_throws"))
		}
	}

	if c.dataHist != nil {
		res = append(res, c.dataHist.Concat)
		for k, h := range c.dataHist.Signals {
			slices, err := c.binnings[k].Slices(h, c.norms[k].Name, "data")
			if err != nil {
				return nil, err
			}
			res = append(res, h)
			res = append(res, slices...)
		}
		if c.dataHist.HasRatio {
			slices, err := c.binnings[0].Slices(c.dataHist.Ratio, c.norms[0].Name, "ratio_data")
			if err != nil {
				return nil, err
			}
			res = append(res, c.dataHist.Ratio)
			res = append(res, slices...)
		}
	}

	if saveToys {
		for _, t := range c.toys {
			res = append(res, t.Selected, t.Truth, t.Efficiency)
			if bf.HasRatio {
				res = append(res, t.SelRatio, t.TruRatio, t.EffRatio)
			}
		}
	}
	return res, nil
}

func (c *Calculator) putMatrices(ctx context.Context, w *store.Writer) error {
	if err := w.PutMatrix(ctx, "xsec_cov", c.xsecCov.Cov); err != nil {
		return err
	}
	if err := w.PutMatrix(ctx, "xsec_cor", c.xsecCov.Cor); err != nil {
		return err
	}
	if c.ratioCov != nil {
		if err := w.PutMatrix(ctx, "ratio_cov", c.ratioCov.Cov); err != nil {
			return err
		}
		if err := w.PutMatrix(ctx, "ratio_cor", c.ratioCov.Cor); err != nil {
			return err
		}
	}
	if err := w.PutMatrix(ctx, "postfit_cov", c.fit.PostfitCov); err != nil {
		return err
	}
	if err := w.PutMatrix(ctx, "postfit_cor", c.fit.PostfitCor); err != nil {
		return err
	}
	if c.covSource == CovSourcePrefit {
		return w.PutMatrix(ctx, "prefit_cov", c.fit.PrefitCov)
	}
	return nil
}

func (c *Calculator) putVectors(ctx context.Context, w *store.Writer) error {
	vectors := []struct {
		name string
		vec  []float64
	}{
		{"postfit_param", c.fit.PostfitParam},
		{"prefit_param_original", c.fit.PrefitOriginal},
		{"prefit_param_decomp", c.fit.PrefitDecomp},
	}
	if c.cfg.ThrowFit {
		vectors = append(vectors, struct {
			name string
			vec  []float64
		}{"prefit_param_toy", c.fit.PrefitToy})
	}
	for _, v := range vectors {
		if err := w.PutVector(ctx, v.name, v.vec); err != nil {
			return err
		}
	}
	return nil
}

func (c *Calculator) putMeta(ctx context.Context, w *store.Writer) error {
	logger := utils.GetLogger(ctx)

	info := RunInfo{
		RunID:       c.runID,
		Seed:        c.cfg.RNGSeed,
		Toys:        len(c.toys),
		Workers:     c.cfg.Workers,
		CovSource:   c.covSource,
		Rank:        c.decomposer.Rank(),
		RelResidual: c.decomposer.RelResidual(),
		UseBestFit:  c.cfg.UseBestFit,
		CreatedAt:   time.Now().UTC(),
	}
	if err := w.PutMeta(ctx, "run_info", info); err != nil {
		return err
	}

	summaries := map[string]*model.ThrowSummary{}
	for _, norm := range c.norms {
		if s, err := norm.TargetThrows.Summary(); err == nil {
			summaries[norm.Name+"_target_throws"] = s
		}
		if s, err := norm.FluxThrows.Summary(); err == nil {
			summaries[norm.Name+"_flux_throws"] = s
		}
	}
	if err := w.PutMeta(ctx, "throw_summary", summaries); err != nil {
		return err
	}

	// goodness of fit of the truth and, with data, the fake data against
	// the best fit; a singular covariance only loses this diagnostic
	compare := map[string]*estimator.ChiSquareResult{}
	targets := []model.Histogram{c.bestFit.TruConcat}
	if c.dataHist != nil {
		targets = append(targets, c.dataHist.Concat)
	}
	for _, h := range targets {
		res, err := estimator.ChiSquare(h, c.bestFit.SelConcat, c.xsecCov.Cov)
		if err != nil || !utils.IsFinite(res.ChiSquare) {
			logger.Warn("chi-square skipped", zap.String("hist", h.Name), zap.Error(err))
			continue
		}
		logger.Info("chi-square", zap.String("hist", h.Name), zap.Float64("chisq", res.ChiSquare),
			zap.Int("ndf", res.NDF), zap.Float64("p_value", res.PValue))
		compare[h.Name] = res
	}
	return w.PutMeta(ctx, "chisq_best_fit", compare)
}

func (c *Calculator) copyExtra(ctx context.Context, out *store.Store) error {
	fit, err := store.Open(ctx, c.cfg.InputFitFile)
	if err != nil {
		return err
	}
	defer fit.Close()
	store.CopyExtra(ctx, c.cfg.ExtraHists, fit, out)
	return nil
}

func (c *Calculator) workbook() *store.Workbook {
	wb := &store.Workbook{
		Matrices: []store.NamedMatrix{
			{Name: "xsec_cov", Matrix: c.xsecCov.Cov},
			{Name: "xsec_cor", Matrix: c.xsecCov.Cor},
		},
		Histograms: []model.Histogram{c.bestFit.SelConcat, c.bestFit.TruConcat, c.bestFit.Efficiency},
	}
	if c.ratioCov != nil {
		wb.Matrices = append(wb.Matrices,
			store.NamedMatrix{Name: "ratio_cov", Matrix: c.ratioCov.Cov},
			store.NamedMatrix{Name: "ratio_cor", Matrix: c.ratioCov.Cor})
		wb.Histograms = append(wb.Histograms, c.bestFit.SelRatio, c.bestFit.EffRatio)
	}
	return wb
}

// ChiSquare compares two histograms of a result store using a covariance
// matrix from the same store.
func ChiSquare(ctx context.Context, path, histA, histB, covName string) (*estimator.ChiSquareResult, error) {
	s, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	a, err := s.GetHist(ctx, histA)
	if err != nil {
		return nil, err
	}
	b, err := s.GetHist(ctx, histB)
	if err != nil {
		return nil, err
	}
	cov, err := s.GetMatrix(ctx, covName)
	if err != nil {
		return nil, err
	}
	return estimator.ChiSquare(a, b, cov)
}
