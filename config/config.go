package config

import (
	"path/filepath"
)

// Config is the immutable run configuration. Paths are absolute after Load.
type Config struct {
	InputDir     string `mapstructure:"input_dir"`
	InputFitFile string `mapstructure:"input_fit_file"`
	OutputFile   string `mapstructure:"output_file"`
	XlsxOutput   string `mapstructure:"xlsx_output"`
	ExtraHists   string `mapstructure:"extra_hists"`

	NumToys   int     `mapstructure:"num_toys"`
	RNGSeed   uint64  `mapstructure:"rng_seed"`
	Workers   int     `mapstructure:"workers"`
	UnitScale float64 `mapstructure:"unit_scale"`
	LogLevel  string  `mapstructure:"log_level"`

	ThrowFit     bool `mapstructure:"throw_fit"`
	SaveToys     bool `mapstructure:"save_toys"`
	UseBestFit   bool `mapstructure:"use_best_fit"`
	UsePrefitCov bool `mapstructure:"use_prefit_cov"`

	SelEvents      string      `mapstructure:"sel_events"`
	TruEvents      string      `mapstructure:"tru_events"`
	ReadDataEvents bool        `mapstructure:"read_data_events"`
	DataEvents     string      `mapstructure:"data_events"`
	Ratio          RatioConfig `mapstructure:"ratio"`

	ProtonFSICov  SecondaryCov       `mapstructure:"proton_fsi_cov"`
	Decomposition DecompositionConfig `mapstructure:"decomposition"`
	FluxParams    []FluxParamConfig   `mapstructure:"flux_params"`
	Signals       []SignalConfig      `mapstructure:"signals"`
}

type RatioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SelEvents string `mapstructure:"sel_events"`
	TruEvents string `mapstructure:"tru_events"`
}

// SecondaryCov names a covariance matrix injected on the diagonal of the
// toy covariance. An empty File disables the injection.
type SecondaryCov struct {
	File   string `mapstructure:"file"`
	Matrix string `mapstructure:"matrix"`
}

func (s SecondaryCov) Enabled() bool {
	return s.File != ""
}

type DecompositionConfig struct {
	IncompleteChol bool    `mapstructure:"incomplete_chol"`
	DropTolerance  float64 `mapstructure:"drop_tolerance"`
	DoForcePosDef  bool    `mapstructure:"do_force_posdef"`
	ForcePosDefVal float64 `mapstructure:"force_posdef_val"`
	Tolerance      float64 `mapstructure:"tolerance"`
	MaxResidual    float64 `mapstructure:"max_residual"`
}

// FluxParamConfig maps the neutrino energy bins of one detector to a block
// of flux parameters starting at Offset.
type FluxParamConfig struct {
	Detector string    `mapstructure:"detector"`
	Offset   int       `mapstructure:"offset"`
	Edges    []float64 `mapstructure:"edges"`
}

type SignalConfig struct {
	Name      string      `mapstructure:"name"`
	Detector  string      `mapstructure:"detector"`
	Binning   string      `mapstructure:"binning"`
	UseSignal bool        `mapstructure:"use_signal"`
	Norm      *NormConfig `mapstructure:"norm"`
}

type NormConfig struct {
	FluxFile      string  `mapstructure:"flux_file"`
	FluxHist      string  `mapstructure:"flux_hist"`
	FluxInt       float64 `mapstructure:"flux_int"`
	FluxErr       float64 `mapstructure:"flux_err"`
	UseFluxFit    bool    `mapstructure:"use_flux_fit"`
	NumTargetsVal float64 `mapstructure:"num_targets_val"`
	NumTargetsErr float64 `mapstructure:"num_targets_err"`
	RelativeErr   bool    `mapstructure:"relative_err"`
}

// AbsFluxErr is the flux integral error in absolute units.
func (n *NormConfig) AbsFluxErr() float64 {
	if n.RelativeErr {
		return n.FluxInt * n.FluxErr
	}
	return n.FluxErr
}

// AbsTargetsErr is the target count error in absolute units.
func (n *NormConfig) AbsTargetsErr() float64 {
	if n.RelativeErr {
		return n.NumTargetsVal * n.NumTargetsErr
	}
	return n.NumTargetsErr
}

// UsedSignals returns the signals that take part in the measurement, in
// configuration order.
func (c *Config) UsedSignals() []SignalConfig {
	res := []SignalConfig{}
	for _, s := range c.Signals {
		if s.UseSignal {
			res = append(res, s)
		}
	}
	return res
}

// resolve makes p absolute relative to the input directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.InputDir == "" {
		return p
	}
	return filepath.Join(c.InputDir, p)
}

func (c *Config) resolvePaths() {
	c.InputFitFile = c.resolve(c.InputFitFile)
	c.ExtraHists = c.resolve(c.ExtraHists)
	c.SelEvents = c.resolve(c.SelEvents)
	c.TruEvents = c.resolve(c.TruEvents)
	c.DataEvents = c.resolve(c.DataEvents)
	c.Ratio.SelEvents = c.resolve(c.Ratio.SelEvents)
	c.Ratio.TruEvents = c.resolve(c.Ratio.TruEvents)
	c.ProtonFSICov.File = c.resolve(c.ProtonFSICov.File)
	for i := range c.Signals {
		c.Signals[i].Binning = c.resolve(c.Signals[i].Binning)
		if c.Signals[i].Norm != nil {
			c.Signals[i].Norm.FluxFile = c.resolve(c.Signals[i].Norm.FluxFile)
		}
	}
}
