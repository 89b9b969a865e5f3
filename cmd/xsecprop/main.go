package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/uyouii/xsec-errprop/config"
	"github.com/uyouii/xsec-errprop/utils"
	"github.com/uyouii/xsec-errprop/xsec"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "xsecprop",
		Short:        "Cross-section extraction and toy covariance propagation",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newChiSquareCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Throw toys from the fit covariance and write the cross-section covariance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := utils.InitLogger(cfg.LogLevel); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "j", "", "configuration file (JSON or YAML)")
	flags.StringP("input", "i", "", "fit result store")
	flags.StringP("output", "o", "", "output result store")
	flags.String("xlsx", "", "optional spreadsheet export of the covariance")
	flags.IntP("num-toys", "n", 0, "number of toys")
	flags.Uint64P("seed", "r", 0, "random seed")
	flags.IntP("workers", "w", 1, "parallel toy workers")
	flags.BoolP("save-toys", "t", false, "write every toy histogram")
	flags.BoolP("use-prefit-cov", "p", false, "throw toys from the prefit covariance")
	flags.BoolP("use-best-fit", "m", false, "center the covariance on the best fit instead of the toy mean")
	flags.String("log-level", "info", "log level")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logger := utils.GetLogger(ctx)
	defer logger.Sync()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("xsecprop panic", zap.Any("panic", r), zap.String("stack", utils.GetPanicInfo()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	calc, err := xsec.NewCalculator(ctx, cfg)
	if err != nil {
		logger.Error("init calculator failed", zap.Error(err))
		return err
	}
	if err := calc.Run(ctx); err != nil {
		logger.Error("calculation failed", zap.String("run_id", calc.RunID()), zap.Error(err))
		return err
	}
	logger.Info("finished", zap.String("run_id", calc.RunID()), zap.String("output", cfg.OutputFile))
	return nil
}

func newChiSquareCmd() *cobra.Command {
	var covName string

	cmd := &cobra.Command{
		Use:   "chisq <store> <hist-a> <hist-b>",
		Short: "Chi-square between two histograms of a result store",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := xsec.ChiSquare(cmd.Context(), args[0], args[1], args[2], covName)
			if err != nil {
				return err
			}
			fmt.Printf("chisq: %v ndf: %d p-value: %v\n",
				utils.FormatFloat(res.ChiSquare, 4), res.NDF, utils.FormatFloat(res.PValue, 6))
			return nil
		},
	}
	cmd.Flags().StringVar(&covName, "cov", "xsec_cov", "covariance matrix in the store")
	return cmd
}
