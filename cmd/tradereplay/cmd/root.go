package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradereplay/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tradereplay",
	Short: "Replay candle data through a simulated trading account",
	Long: `Tradereplay plays historical or synthetic candles through a simulated
account at a chosen pace, runs a strategy on every tick and journals the
trades it takes.

It provides tools for:
  - Replaying CSV candle files or generated random walks
  - Bracket, EMA cross and scripted strategies
  - Trade and equity journals in CSV or SQLite
  - Run summaries as tables or Org-mode entries`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logLevel, logFormat, cmd.ErrOrStderr())
	},
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text|json")
}
