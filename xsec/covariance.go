package xsec

import (
	"context"
	"fmt"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/estimator"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	xsecInjectFactor  = 1.0
	ratioInjectFactor = 2.0
)

// CalcCovariance estimates the covariance of the cross section and, with
// ratio samples, of the ratio. The toys are centered on their mean, or on
// the best fit when useBestFit is set. Bin errors of the best-fit
// histograms are set from the diagonal.
func (c *Calculator) CalcCovariance(ctx context.Context, useBestFit bool) error {
	logger := utils.GetLogger(ctx)

	if len(c.toys) == 0 {
		return fmt.Errorf("no toys generated: %w", common.ErrorInvalidValue)
	}
	if c.bestFit == nil {
		return fmt.Errorf("best fit not evaluated: %w", common.ErrorInvalidValue)
	}

	// 1. cross section
	ensemble := make([]model.Histogram, len(c.toys))
	for i, t := range c.toys {
		ensemble[i] = t.Selected
	}
	res, err := c.estimate(ensemble, c.bestFit.SelConcat, useBestFit, xsecInjectFactor)
	if err != nil {
		return fmt.Errorf("cross section covariance: %w", err)
	}
	c.xsecCov = res

	errs := estimator.BinErrors(res.Cov)
	if c.bestFit.SelConcat, err = c.bestFit.SelConcat.WithErrors(errs); err != nil {
		return err
	}
	offset := 0
	for k, h := range c.bestFit.Selected {
		if c.bestFit.Selected[k], err = h.WithErrors(errs[offset : offset+h.Len()]); err != nil {
			return err
		}
		offset += h.Len()
	}

	// 2. ratio
	if c.bestFit.HasRatio {
		ensemble := make([]model.Histogram, len(c.toys))
		for i, t := range c.toys {
			ensemble[i] = t.SelRatio
		}
		res, err := c.estimate(ensemble, c.bestFit.SelRatio, useBestFit, ratioInjectFactor)
		if err != nil {
			return fmt.Errorf("ratio covariance: %w", err)
		}
		c.ratioCov = res
		if c.bestFit.SelRatio, err = c.bestFit.SelRatio.WithErrors(estimator.BinErrors(res.Cov)); err != nil {
			return err
		}
	}

	logger.Info("covariance calculated",
		zap.Int("toys", len(c.toys)),
		zap.Int("dim", c.xsecCov.Dim()),
		zap.Int("ratio_dim", c.ratioCov.Dim()),
		zap.Bool("use_best_fit", useBestFit),
		zap.Bool("proton_fsi", c.fsiCov != nil))
	return nil
}

func (c *Calculator) estimate(ensemble []model.Histogram, bestFit model.Histogram, useBestFit bool, factor float64) (*model.CovarianceResult, error) {
	center := bestFit.Content
	if !useBestFit {
		mean, err := estimator.Mean(ensemble)
		if err != nil {
			return nil, err
		}
		center = mean
	}

	var source mat.Symmetric
	if c.fsiCov != nil {
		source = c.fsiCov
	}
	return estimator.Estimate(ensemble, center, source, bestFit.Content, factor)
}

func (c *Calculator) XsecCovariance() *model.CovarianceResult {
	return c.xsecCov
}

func (c *Calculator) RatioCovariance() *model.CovarianceResult {
	return c.ratioCov
}

func (c *Calculator) BestFit() *BestFit {
	if c.bestFit == nil {
		return nil
	}
	return &BestFit{Selected: c.bestFit.SelConcat, Truth: c.bestFit.TruConcat, Ratio: c.bestFit.SelRatio}
}

// BestFit is the best-fit summary exposed to callers.
type BestFit struct {
	Selected model.Histogram
	Truth    model.Histogram
	Ratio    model.Histogram
}
