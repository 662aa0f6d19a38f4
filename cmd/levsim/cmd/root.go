package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "levsim",
	Short: "A leveraged crypto position and margin simulator",
	Long: `Levsim simulates leveraged crypto trading against a single cash account.

It provides tools for:
  - Sizing leveraged orders by quantity or by margin
  - Running simulations from a config file against scripted, replayed or live Binance prices
  - Take-profit, stop-loss and liquidation triggers
  - Journaling trades, equity and cash movements to CSV or SQLite
  - Querying the journal afterwards

Complete documentation is available at https://github.com/rustyeddy/levsim`,
	SilenceUsage: true,
}

var (
	envFiles []string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files with LEVSIM_* overrides (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}
