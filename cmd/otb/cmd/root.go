package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "otb",
	Short: "OpenTraceBits - bitstream reverse engineering by bit differences",
	Long: `OpenTraceBits (otb) learns the configuration bits of a device by
realizing small design variations with the vendor toolchain and
attributing every changed bit to the variation that caused it.

Examples:
  otb plan clb.plan                                  # Show the batches a plan needs
  otb run --config otb.yaml clb.plan -o results.json # Run the toolchain
  otb collect clb.plan --results results.json --out db.json.zst
  otb verify --db db.json.zst --topology topologies/
  otb decode --db db.json.zst --topology topologies/ design.bits
  otb diff a.bits b.bits`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// newLogger returns a development logger with --verbose, otherwise a
// production logger that only reports warnings and errors.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	return cfg.Build()
}
