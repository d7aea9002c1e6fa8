package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sofmeright/r13y/src/config"
	"github.com/sofmeright/r13y/src/logging"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
	cfg       *config.Config
	logger    = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "r13y",
	Short: "Build reproducibility reports",
	Long: `r13y turns the outcomes of building every definition twice into a
reproducibility report: the share of bit-identical rebuilds, and for each
unreproducible definition a diff of the differing outputs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		logger, err = logging.New(os.Stderr, verbose, cfg.Log.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .r13y.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default: from config, then text)")
}

// validateConfig runs after command flags are folded into cfg.
func validateConfig() error {
	warnings, err := config.Validate(cfg)
	for _, w := range warnings {
		logger.Warn("config", "warning", w)
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
