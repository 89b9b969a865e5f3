package xsec

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/pipeline"
	"github.com/uyouii/xsec-errprop/toys"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 10

// GenerateToys throws n toys on the configured number of workers. Toy i
// draws from stream i of the run seed and its result is kept at index i,
// so the ensemble does not depend on the worker count.
func (c *Calculator) GenerateToys(ctx context.Context, n int) error {
	logger := utils.GetLogger(ctx)

	if n <= 0 {
		return fmt.Errorf("num toys %d: %w", n, common.ErrorInvalidValue)
	}
	if c.decomposer == nil {
		return common.ErrorNotDecomposed
	}

	workers := utils.IntMax(1, min(c.cfg.Workers, n))

	// every worker owns a pipeline over its own copy of the event weights
	pipes := make(chan *pipeline.Pipeline, workers)
	for w := 0; w < workers; w++ {
		p, err := c.pipe.WithSamples(c.samples.clone().pipelineSamples())
		if err != nil {
			return err
		}
		pipes <- p
	}

	logger.Info("generating toys", zap.Int("toys", n), zap.Int("workers", workers),
		zap.String("cov_source", c.covSource))

	c.toys = make([]*pipeline.ToyResult, n)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := <-pipes
			defer func() { pipes <- p }()

			res, err := c.throwToy(p, i)
			if err != nil {
				return fmt.Errorf("toy %d: %w", i, err)
			}
			c.toys[i] = res

			if d := done.Add(1); d%progressEvery == 0 || d == int64(n) {
				logger.Info("toy progress", zap.Int64("done", d), zap.Int("toys", n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.toys = nil
		return err
	}

	c.replayThrows()
	c.logThrowSummaries(ctx)
	return nil
}

func (c *Calculator) throwToy(p *pipeline.Pipeline, index int) (*pipeline.ToyResult, error) {
	thrower, err := toys.NewThrower(c.decomposer, c.cfg.RNGSeed, uint64(index))
	if err != nil {
		return nil, err
	}

	params := make([]float64, thrower.Dim())
	if err := thrower.Throw(params); err != nil {
		return nil, err
	}
	if len(c.fit.PostfitParam) != len(params) {
		return nil, fmt.Errorf("%d postfit parameters for a %d dim throw: %w",
			len(c.fit.PostfitParam), len(params), common.ErrorDimensionMismatch)
	}
	for i, v := range c.fit.PostfitParam {
		params[i] += v
	}
	return p.Toy(index, params, thrower)
}

// replayThrows refills the diagnostic throw histograms in toy order.
func (c *Calculator) replayThrows() {
	for _, norm := range c.norms {
		norm.TargetThrows = model.NewThrowHistogram(norm.NumTargetsVal, norm.NumTargetsErr)
		norm.FluxThrows = model.NewThrowHistogram(norm.FluxInt, norm.FluxErr)
	}
	for k, t := range c.ratioThrows {
		c.ratioThrows[k] = model.NewThrowHistogram(t.Mean, t.Sigma)
	}

	for _, t := range c.toys {
		rec := t.Record
		for k, norm := range c.norms {
			norm.TargetThrows.Fill(rec.Targets[k])
			norm.FluxThrows.Fill(rec.Fluxes[k])
		}
		if len(rec.RatioTargets) == len(c.ratioThrows) {
			for k, v := range rec.RatioTargets {
				c.ratioThrows[k].Fill(v)
			}
		}
	}
}

func (c *Calculator) logThrowSummaries(ctx context.Context) {
	logger := utils.GetLogger(ctx)

	for _, norm := range c.norms {
		if s, err := norm.TargetThrows.Summary(); err == nil {
			logger.Info("target throws", zap.String("signal", norm.Name), zap.Any("summary", s),
				zap.Float64("nominal", norm.NumTargetsVal), zap.Float64("sigma", norm.NumTargetsErr))
		}
		if s, err := norm.FluxThrows.Summary(); err == nil {
			logger.Info("flux throws", zap.String("signal", norm.Name), zap.Any("summary", s),
				zap.Float64("nominal", norm.FluxInt), zap.Float64("sigma", norm.FluxErr),
				zap.Bool("use_flux_fit", norm.UseFluxFit))
		}
	}
}
