package config

import (
	"fmt"
	"sort"

	"github.com/uyouii/xsec-errprop/common"
	"go.uber.org/zap/zapcore"
)

// Validate checks every field eagerly and names the first offending one.
func Validate(c *Config) error {
	required := map[string]string{
		"input_fit_file": c.InputFitFile,
		"output_file":    c.OutputFile,
		"sel_events":     c.SelEvents,
		"tru_events":     c.TruEvents,
	}
	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if required[k] == "" {
			return fmt.Errorf("%s is required: %w", k, common.ErrorInvalidValue)
		}
	}
	if c.ReadDataEvents && c.DataEvents == "" {
		return fmt.Errorf("data_events is required with read_data_events: %w", common.ErrorInvalidValue)
	}

	if c.NumToys <= 0 {
		return fmt.Errorf("num_toys %d must be positive: %w", c.NumToys, common.ErrorInvalidValue)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers %d must be positive: %w", c.Workers, common.ErrorInvalidValue)
	}
	if c.UnitScale <= 0 {
		return fmt.Errorf("unit_scale %v must be positive: %w", c.UnitScale, common.ErrorInvalidValue)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, common.ErrorInvalidValue)
	}
	if c.ProtonFSICov.Enabled() && c.ProtonFSICov.Matrix == "" {
		return fmt.Errorf("proton_fsi_cov.matrix is required with proton_fsi_cov.file: %w", common.ErrorInvalidValue)
	}

	if err := validateDecomposition(c.Decomposition); err != nil {
		return err
	}
	if err := validateFluxParams(c.FluxParams); err != nil {
		return err
	}
	return validateSignals(c)
}

func validateDecomposition(d DecompositionConfig) error {
	if d.IncompleteChol && (d.DropTolerance <= 0 || d.DropTolerance >= 1) {
		return fmt.Errorf("decomposition.drop_tolerance %v must be in (0, 1): %w", d.DropTolerance, common.ErrorInvalidValue)
	}
	if d.IncompleteChol && d.MaxResidual <= 0 {
		return fmt.Errorf("decomposition.max_residual %v must be positive: %w", d.MaxResidual, common.ErrorInvalidValue)
	}
	if d.DoForcePosDef && d.ForcePosDefVal <= 0 {
		return fmt.Errorf("decomposition.force_posdef_val %v must be positive: %w", d.ForcePosDefVal, common.ErrorInvalidValue)
	}
	if d.Tolerance < 0 {
		return fmt.Errorf("decomposition.tolerance %v must not be negative: %w", d.Tolerance, common.ErrorInvalidValue)
	}
	return nil
}

func validateFluxParams(blocks []FluxParamConfig) error {
	seen := map[string]bool{}
	for i, b := range blocks {
		if b.Detector == "" {
			return fmt.Errorf("flux_params[%d].detector is required: %w", i, common.ErrorInvalidValue)
		}
		if seen[b.Detector] {
			return fmt.Errorf("flux_params[%d] duplicates detector %q: %w", i, b.Detector, common.ErrorInvalidValue)
		}
		seen[b.Detector] = true
		if b.Offset < 0 {
			return fmt.Errorf("flux_params[%d].offset %d: %w", i, b.Offset, common.ErrorInvalidValue)
		}
		if len(b.Edges) < 2 {
			return fmt.Errorf("flux_params[%d].edges needs at least two edges: %w", i, common.ErrorInvalidValue)
		}
		for k := 1; k < len(b.Edges); k++ {
			if b.Edges[k] <= b.Edges[k-1] {
				return fmt.Errorf("flux_params[%d].edges not increasing at %d: %w", i, k, common.ErrorInvalidValue)
			}
		}
	}
	return nil
}

func validateSignals(c *Config) error {
	seen := map[string]bool{}
	fluxDetectors := map[string]bool{}
	for _, b := range c.FluxParams {
		fluxDetectors[b.Detector] = true
	}

	used := 0
	for i, s := range c.Signals {
		if s.Name == "" {
			return fmt.Errorf("signals[%d].name is required: %w", i, common.ErrorInvalidValue)
		}
		if seen[s.Name] {
			return fmt.Errorf("signals[%d] duplicates %q: %w", i, s.Name, common.ErrorInvalidValue)
		}
		seen[s.Name] = true
		if !s.UseSignal {
			continue
		}
		used++

		if s.Binning == "" {
			return fmt.Errorf("signal %q: binning is required: %w", s.Name, common.ErrorInvalidValue)
		}
		n := s.Norm
		if n == nil {
			return fmt.Errorf("signal %q: %w", s.Name, common.ErrorMissingSignalNorm)
		}
		if n.FluxFile == "" || n.FluxHist == "" {
			return fmt.Errorf("signal %q: norm.flux_file and norm.flux_hist are required: %w", s.Name, common.ErrorInvalidValue)
		}
		if n.FluxInt <= 0 {
			return fmt.Errorf("signal %q: norm.flux_int %v must be positive: %w", s.Name, n.FluxInt, common.ErrorInvalidValue)
		}
		if n.NumTargetsVal <= 0 {
			return fmt.Errorf("signal %q: norm.num_targets_val %v must be positive: %w", s.Name, n.NumTargetsVal, common.ErrorInvalidValue)
		}
		if n.FluxErr < 0 || n.NumTargetsErr < 0 {
			return fmt.Errorf("signal %q: norm errors must not be negative: %w", s.Name, common.ErrorInvalidValue)
		}
		if n.UseFluxFit && !fluxDetectors[s.Detector] {
			return fmt.Errorf("signal %q: use_flux_fit without flux_params for detector %q: %w",
				s.Name, s.Detector, common.ErrorInvalidValue)
		}
	}
	if used == 0 {
		return fmt.Errorf("no signal with use_signal: %w", common.ErrorInvalidValue)
	}
	if c.Ratio.Enabled && used != 2 {
		return fmt.Errorf("ratio needs exactly two used signals, got %d: %w", used, common.ErrorRatioLayout)
	}
	return nil
}
