package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oasisprotocol/twopc/internal/logging"
)

var (
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "twopcsim",
	Short: "Simulate a Two-Phase Commit run over an in-memory transport",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := logging.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		format, err := logging.ParseFormat(flagLogFormat)
		if err != nil {
			return err
		}
		return logging.Initialize(os.Stderr, lvl, format)
	},
}

// Execute runs the twopcsim root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagLogLevel, "log-level", "l", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "logfmt",
		"log output format (logfmt, json)")

	rootCmd.AddCommand(runCmd)
}
