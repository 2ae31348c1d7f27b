package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/toolchain"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

var (
	// Flags for run command
	runConfig      string
	runOutput      string
	runDryRun      bool
	runWorkers     int
	runMetricsFile string
	runTimeout     int // timeout in seconds
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Realize the fuzzers of a plan and save the measured diffs",
	Long: `Run every fuzzer of a plan through the vendor toolchain.

Fuzzers are packed into batches; each batch is realized as a baseline plus
a few variant runs, and every changed bit is attributed to the fuzz bit
that caused it. The measured diffs are saved for 'otb collect'.

A toolchain failure loses only its batch; the failed batches are listed
and the command exits non-zero after saving the rest. Inconsistent
measurements stop the run.

The toolchain command and the session settings come from the config file:

  device: xc2064
  workers: 4
  seed: 1
  cache_dir: .otb-cache
  toolchain: [vendor-build, --part, "{device}", "{design}", "{out}"]

Examples:
  otb run --config otb.yaml clb.plan -o results.json
  otb run --config otb.yaml clb.plan -o results.json --metrics-file otb.prom
  otb run --dry-run clb.plan -o /dev/null    # exercise the plan without a toolchain`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfig, "config", "c", "", "session config file (YAML)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "results.json", "results file")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "realize every design as an empty bitstream instead of running the toolchain")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "concurrent batches (overrides config)")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write prometheus metrics to this file when done")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "timeout in seconds (0 = no timeout)")
}

func runRun(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	f, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	fuzzers, err := f.Fuzzers()
	if err != nil {
		return err
	}

	cfg := session.DefaultConfig()
	if runConfig != "" {
		if cfg, err = session.LoadConfig(runConfig); err != nil {
			return err
		}
	}
	if cfg.Device == "" {
		cfg.Device = f.Device
	}
	if cfg.Device != f.Device {
		return fmt.Errorf("config is for device %q, plan for %q", cfg.Device, f.Device)
	}
	if runWorkers > 0 {
		cfg.Workers = runWorkers
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg.Logger = logger

	var reg *prometheus.Registry
	if runMetricsFile != "" {
		reg = prometheus.NewRegistry()
		cfg.Registerer = reg
	}

	var tc toolchain.Toolchain
	if runDryRun {
		tc = toolchain.NewSimToolchain(toolchain.NewModel(cfg.Device))
	} else {
		if len(cfg.Toolchain) == 0 {
			return fmt.Errorf("no toolchain command configured (set 'toolchain' in the config or use --dry-run)")
		}
		ct, err := toolchain.NewCommandToolchain(cfg.Toolchain, logger)
		if err != nil {
			return err
		}
		tc = ct
	}

	s, err := session.New(cfg, tc)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(runTimeout)*time.Second)
		defer cancel()
	}

	fmt.Printf("Device:  %s\n", cfg.Device)
	fmt.Printf("Fuzzers: %d\n", len(fuzzers))
	fmt.Printf("Workers: %d\n\n", cfg.Workers)

	results := trial.NewResults()
	progressCh := make(chan session.Progress, 16)
	done := make(chan struct{})
	go func() {
		displayProgress(progressCh)
		close(done)
	}()
	rep, err := s.Run(ctx, fuzzers, results, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}

	if err := results.Save(runOutput); err != nil {
		return err
	}

	fmt.Println()
	printReport(rep, time.Since(startTime))
	fmt.Printf("\n✓ Results saved to: %s\n", runOutput)

	if reg != nil {
		if err := prometheus.WriteToTextfile(runMetricsFile, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if len(rep.Failures) > 0 {
		return fmt.Errorf("%d of %d batches failed", len(rep.Failures), rep.Batches)
	}
	return nil
}

func displayProgress(progressCh <-chan session.Progress) {
	lastPercent := -1
	for p := range progressCh {
		switch p.Phase {
		case "init":
			fmt.Println("Planning batches...")
			continue
		case "finalizing":
			fmt.Printf("\r%-60s\r", "")
			fmt.Println("Finalizing...")
			continue
		}

		percent := 0
		if p.Total > 0 {
			percent = p.Index * 100 / p.Total
		}
		if percent == lastPercent {
			continue
		}
		lastPercent = percent

		barWidth := 30
		filled := percent * barWidth / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		fmt.Printf("\r[%s] %3d%% %d/%d batches", bar, percent, p.Index, p.Total)
		if p.Failed > 0 {
			fmt.Printf(", %d failed", p.Failed)
		}
	}
}

func printReport(rep *session.Report, elapsed time.Duration) {
	fmt.Println("╔════════════════════════════════════════════════════════════════╗")
	fmt.Println("║ Session Summary                                                ║")
	fmt.Println("╚════════════════════════════════════════════════════════════════╝")
	fmt.Printf("Run ID:         %s\n", rep.RunID)
	fmt.Printf("Fuzzers:        %d (%d skipped)\n", rep.Fuzzers, len(rep.Skipped))
	fmt.Printf("Batches:        %d\n", rep.Batches)
	fmt.Printf("Toolchain runs: %d (%d cached)\n", rep.Runs, rep.CacheHits)
	fmt.Printf("Elapsed:        %s\n", elapsed.Round(time.Millisecond))

	if len(rep.Failures) == 0 {
		return
	}
	fmt.Printf("\nFailed batches:\n")
	for _, f := range rep.Failures {
		var te *toolchain.Error
		reason := f.Err.Error()
		if errors.As(f.Err, &te) {
			reason = fmt.Sprintf("run %d: %v", te.Run, te.Err)
		}
		fmt.Printf("  [%d] %s\n", f.Batch, reason)
		for _, feat := range f.Features {
			fmt.Printf("        %s\n", feat)
		}
	}
}
