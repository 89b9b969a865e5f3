package decomp

const (
	// Matrices whose largest absolute element is below DegenerateFloor are
	// treated as degenerate.
	DegenerateFloor = 1e-48

	DefaultTolerance     = 1e-48
	DefaultForcePadding  = 1e-9
	DefaultDropTolerance = 1e-3
	DefaultMaxResidual   = 1e-2

	MaxForceIterations = 10
)
