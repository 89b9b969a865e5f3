package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/decomp"
)

const testConfig = `
input_dir: %s
input_fit_file: fit.db
output_file: /tmp/out.db
sel_events: sel.db
tru_events: tru.db
num_toys: 200
rng_seed: 17
flux_params:
  - detector: nd280
    offset: 4
    edges: [0, 400, 800]
ratio:
  enabled: true
signals:
  - name: carbon
    detector: nd280
    binning: carbon_bins.txt
    use_signal: true
    norm:
      flux_file: flux.db
      flux_hist: nd280_numu
      flux_int: 5.0e13
      flux_err: 0.1
      num_targets_val: 2.0e30
      num_targets_err: 0.01
      relative_err: true
  - name: oxygen
    detector: nd280
    binning: /abs/oxygen_bins.txt
    use_signal: true
    norm:
      flux_file: flux.db
      flux_hist: nd280_numu
      flux_int: 5.0e13
      flux_err: 1.0e12
      use_flux_fit: true
      num_targets_val: 1.0e30
      num_targets_err: 1.0e28
  - name: unused
    use_signal: false
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfigPath(t *testing.T, inputDir string) string {
	return writeConfig(t, fmt.Sprintf(testConfig, inputDir))
}

func TestLoad(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "/data"), nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/fit.db", cfg.InputFitFile)
	assert.Equal(t, "/tmp/out.db", cfg.OutputFile)
	assert.Equal(t, "/data/sel.db", cfg.SelEvents)
	assert.Equal(t, "/data/sel.db", cfg.Ratio.SelEvents)
	assert.Equal(t, "/data/tru.db", cfg.Ratio.TruEvents)
	assert.Equal(t, 200, cfg.NumToys)
	assert.Equal(t, uint64(17), cfg.RNGSeed)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1000.0, cfg.UnitScale)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, decomp.DefaultDropTolerance, cfg.Decomposition.DropTolerance)
	assert.Equal(t, decomp.DefaultForcePadding, cfg.Decomposition.ForcePosDefVal)
	assert.Equal(t, decomp.DefaultTolerance, cfg.Decomposition.Tolerance)
	assert.Equal(t, decomp.DefaultMaxResidual, cfg.Decomposition.MaxResidual)

	require.Len(t, cfg.FluxParams, 1)
	assert.Equal(t, []float64{0, 400, 800}, cfg.FluxParams[0].Edges)

	used := cfg.UsedSignals()
	require.Len(t, used, 2)
	assert.Equal(t, "/data/carbon_bins.txt", used[0].Binning)
	assert.Equal(t, "/abs/oxygen_bins.txt", used[1].Binning)
	assert.Equal(t, "/data/flux.db", used[0].Norm.FluxFile)

	// relative errors become absolute
	assert.InDelta(t, 5e12, used[0].Norm.AbsFluxErr(), 1)
	assert.InDelta(t, 2e28, used[0].Norm.AbsTargetsErr(), 1e14)
	assert.Equal(t, 1e12, used[1].Norm.AbsFluxErr())
}

func TestLoadPrecedence(t *testing.T) {
	path := testConfigPath(t, "/data")
	t.Setenv("XSECPROP_NUM_TOYS", "50")
	t.Setenv("XSECPROP_WORKERS", "3")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.NumToys)
	assert.Equal(t, 3, cfg.Workers)

	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	flags.Int("num-toys", 0, "")
	flags.Int("workers", 1, "")
	require.NoError(t, flags.Parse([]string{"--num-toys=7"}))

	cfg, err = Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.NumToys)
	assert.Equal(t, 3, cfg.Workers)
}

func TestInputDirFromDotEnv(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(testConfig, "''"))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte("XSECPROP_INPUT_DIR=/from/env\n"), 0o644))
	t.Setenv("XSECPROP_INPUT_DIR", "")
	os.Unsetenv("XSECPROP_INPUT_DIR")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/from/env/fit.db", cfg.InputFitFile)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load(testConfigPath(t, "/data"), nil)
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   error
		field  string
	}{
		{"missing norm", func(c *Config) { c.Signals[1].Norm = nil }, common.ErrorMissingSignalNorm, "oxygen"},
		{"unused signal without norm", func(c *Config) { c.Signals[2].Norm = nil }, nil, ""},
		{"no toys", func(c *Config) { c.NumToys = 0 }, common.ErrorInvalidValue, "num_toys"},
		{"no output", func(c *Config) { c.OutputFile = "" }, common.ErrorInvalidValue, "output_file"},
		{"zero targets", func(c *Config) { c.Signals[0].Norm.NumTargetsVal = 0 }, common.ErrorInvalidValue, "num_targets_val"},
		{"zero flux", func(c *Config) { c.Signals[0].Norm.FluxInt = 0 }, common.ErrorInvalidValue, "flux_int"},
		{"flux fit without block", func(c *Config) { c.FluxParams = nil }, common.ErrorInvalidValue, "use_flux_fit"},
		{"ratio with one signal", func(c *Config) { c.Signals[1].UseSignal = false }, common.ErrorRatioLayout, "ratio"},
		{"bad drop tolerance", func(c *Config) {
			c.Decomposition.IncompleteChol = true
			c.Decomposition.DropTolerance = 2
		}, common.ErrorInvalidValue, "drop_tolerance"},
		{"flux edges", func(c *Config) { c.FluxParams[0].Edges = []float64{0, 800, 400} }, common.ErrorInvalidValue, "edges"},
		{"duplicate signal", func(c *Config) { c.Signals[2].Name = "carbon" }, common.ErrorInvalidValue, "duplicates"},
		{"data events", func(c *Config) { c.ReadDataEvents = true }, common.ErrorInvalidValue, "data_events"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, common.ErrorInvalidValue, "log_level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), nil)
	assert.Error(t, err)
}
