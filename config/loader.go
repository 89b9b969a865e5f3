package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/uyouii/xsec-errprop/decomp"
)

const EnvPrefix = "XSECPROP"

// flagBindings maps config keys to pflag names.
var flagBindings = map[string]string{
	"input_fit_file": "input",
	"output_file":    "output",
	"xlsx_output":    "xlsx",
	"num_toys":       "num-toys",
	"rng_seed":       "seed",
	"workers":        "workers",
	"save_toys":      "save-toys",
	"use_prefit_cov": "use-prefit-cov",
	"use_best_fit":   "use-best-fit",
	"log_level":      "log-level",
}

// Load reads the configuration document at path (JSON or YAML, may be
// empty). Precedence: flags > env > document > defaults. A .env file next
// to the document or in the working directory is loaded first and never
// overrides variables already set. flagSet may be nil.
func Load(path string, flagSet *flag.FlagSet) (*Config, error) {
	loadDotEnv(path)

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flagSet != nil {
		for key, name := range flagBindings {
			if f := flagSet.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.resolvePaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) {
	files := []string{}
	if path != "" {
		files = append(files, filepath.Join(filepath.Dir(path), ".env"))
	}
	files = append(files, ".env")
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input_dir", "")
	v.SetDefault("input_fit_file", "")
	v.SetDefault("output_file", "xsec_errprop.db")
	v.SetDefault("xlsx_output", "")
	v.SetDefault("extra_hists", "")
	v.SetDefault("num_toys", 1000)
	v.SetDefault("rng_seed", 0)
	v.SetDefault("workers", 1)
	v.SetDefault("unit_scale", 1000.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("throw_fit", false)
	v.SetDefault("save_toys", false)
	v.SetDefault("use_best_fit", false)
	v.SetDefault("use_prefit_cov", false)
	v.SetDefault("sel_events", "")
	v.SetDefault("tru_events", "")
	v.SetDefault("read_data_events", false)
	v.SetDefault("data_events", "")
	v.SetDefault("ratio.enabled", false)
	v.SetDefault("ratio.sel_events", "")
	v.SetDefault("ratio.tru_events", "")
	v.SetDefault("proton_fsi_cov.file", "")
	v.SetDefault("proton_fsi_cov.matrix", "proton_fsi_cov")
	v.SetDefault("decomposition.incomplete_chol", false)
	v.SetDefault("decomposition.drop_tolerance", decomp.DefaultDropTolerance)
	v.SetDefault("decomposition.do_force_posdef", false)
	v.SetDefault("decomposition.force_posdef_val", decomp.DefaultForcePadding)
	v.SetDefault("decomposition.tolerance", decomp.DefaultTolerance)
	v.SetDefault("decomposition.max_residual", decomp.DefaultMaxResidual)
}

func (c *Config) applyDefaults() {
	if c.Ratio.Enabled {
		if c.Ratio.SelEvents == "" {
			c.Ratio.SelEvents = c.SelEvents
		}
		if c.Ratio.TruEvents == "" {
			c.Ratio.TruEvents = c.TruEvents
		}
	}
}
