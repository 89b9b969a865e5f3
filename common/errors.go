package common

import "errors"

var (
	ErrorInvalidValue         = errors.New("invalid value")
	ErrorDimensionMismatch    = errors.New("dimension mismatch")
	ErrorObjectNotFound       = errors.New("object not found in result store")
	ErrorMissingSignalNorm    = errors.New("signal normalization not found in config")
	ErrorNotPositiveDefinite  = errors.New("matrix is not positive definite")
	ErrorDegenerateMatrix     = errors.New("matrix is degenerate")
	ErrorDecompositionFailed  = errors.New("matrix decomposition failed")
	ErrorTruncationResidual   = errors.New("incomplete decomposition residual too large")
	ErrorRatioLayout          = errors.New("ratio needs two signals with equal binning")
	ErrorParamIndexOutOfRange = errors.New("parameter index out of range")
	ErrorNotDecomposed        = errors.New("decomposition not set up")
	ErrorNonFiniteValue       = errors.New("non-finite value")
)
