package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
)

// object names written by the upstream fit
const (
	FitPostfitParam   = "res_vector"
	FitPostfitCov     = "res_cov_matrix"
	FitPostfitCor     = "res_cor_matrix"
	FitPrefitOriginal = "vec_prefit_original"
	FitPrefitDecomp   = "vec_prefit_decomp"
	FitPrefitToy      = "vec_par_all_iter0"
	FitPrefitCov      = "prefit_cov_matrix"
)

// ReadFitResult loads the upstream fit. The prefit toy vector is only
// read for throw-type fits, the prefit covariance only when asked for.
func ReadFitResult(ctx context.Context, s *Store, throwFit, withPrefitCov bool) (*model.FitResult, error) {
	logger := utils.GetLogger(ctx)

	var err error
	res := &model.FitResult{}

	vectors := []struct {
		name string
		dst  *[]float64
	}{
		{FitPostfitParam, &res.PostfitParam},
		{FitPrefitOriginal, &res.PrefitOriginal},
		{FitPrefitDecomp, &res.PrefitDecomp},
	}
	if throwFit {
		vectors = append(vectors, struct {
			name string
			dst  *[]float64
		}{FitPrefitToy, &res.PrefitToy})
	}
	for _, v := range vectors {
		if *v.dst, err = s.GetVector(ctx, v.name); err != nil {
			return nil, fmt.Errorf("read fit result %s: %w", s.Path(), err)
		}
	}

	if res.PostfitCov, err = s.GetMatrix(ctx, FitPostfitCov); err != nil {
		return nil, fmt.Errorf("read fit result %s: %w", s.Path(), err)
	}
	if res.PostfitCor, err = s.GetMatrix(ctx, FitPostfitCor); err != nil {
		return nil, fmt.Errorf("read fit result %s: %w", s.Path(), err)
	}
	if n := res.PostfitCov.SymmetricDim(); n != len(res.PostfitParam) {
		return nil, fmt.Errorf("postfit covariance is %d x %d for %d parameters: %w",
			n, n, len(res.PostfitParam), common.ErrorDimensionMismatch)
	}

	if withPrefitCov {
		res.PrefitCov, err = s.GetMatrix(ctx, FitPrefitCov)
		if err != nil {
			return nil, fmt.Errorf("read fit result %s: %w", s.Path(), err)
		}
	}

	logger.Info("read fit result",
		zap.String("path", s.Path()),
		zap.Int("params", len(res.PostfitParam)),
		zap.Bool("throw_fit", throwFit),
		zap.Bool("prefit_cov", res.PrefitCov != nil))
	return res, nil
}

// WriteFitResult stores a fit result under the upstream names.
func WriteFitResult(ctx context.Context, s *Store, res *model.FitResult) error {
	if res == nil || res.PostfitCov == nil || res.PostfitCor == nil {
		return fmt.Errorf("incomplete fit result: %w", common.ErrorInvalidValue)
	}
	return s.Tx(ctx, func(w *Writer) error {
		for name, v := range map[string][]float64{
			FitPostfitParam:   res.PostfitParam,
			FitPrefitOriginal: res.PrefitOriginal,
			FitPrefitDecomp:   res.PrefitDecomp,
		} {
			if err := w.PutVector(ctx, name, v); err != nil {
				return err
			}
		}
		if res.PrefitToy != nil {
			if err := w.PutVector(ctx, FitPrefitToy, res.PrefitToy); err != nil {
				return err
			}
		}
		if err := w.PutMatrix(ctx, FitPostfitCov, res.PostfitCov); err != nil {
			return err
		}
		if err := w.PutMatrix(ctx, FitPostfitCor, res.PostfitCor); err != nil {
			return err
		}
		if res.PrefitCov != nil {
			return w.PutMatrix(ctx, FitPrefitCov, res.PrefitCov)
		}
		return nil
	})
}

// IsNotFound reports whether err comes from a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrorObjectNotFound)
}
