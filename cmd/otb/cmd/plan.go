package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/plan"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/session"
)

var (
	// Flags for plan command
	planSeed     uint64
	planMaxBatch int
)

var planCmd = &cobra.Command{
	Use:   "plan <plan-file>",
	Short: "Parse a plan and show the batches it needs",
	Long: `Parse a plan file, check every fuzzer for specification conflicts,
pack the fuzzers into batches and print how many toolchain runs each
batch needs. Nothing is realized.

Collect rules that consume features no fuzzer measures are listed, since
collection would fail on them.

Examples:
  otb plan clb.plan
  otb plan clb.plan --seed 7 --max-batch 16`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().Uint64Var(&planSeed, "seed", 1, "planner seed")
	planCmd.Flags().IntVar(&planMaxBatch, "max-batch", 0, "maximum fuzzers per batch (0 = no limit)")
}

func loadPlan(path string) (*plan.File, error) {
	parser, err := plan.NewParser()
	if err != nil {
		return nil, err
	}
	f, err := parser.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return f, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	f, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	fuzzers, err := f.Fuzzers()
	if err != nil {
		return err
	}
	rules, err := f.Rules()
	if err != nil {
		return err
	}

	cfg := session.DefaultConfig()
	cfg.Device = f.Device
	cfg.Seed = planSeed
	cfg.MaxFuzzersPerBatch = planMaxBatch
	planner := session.NewPlanner(cfg)
	for _, fz := range fuzzers {
		if err := planner.Add(fz); err != nil {
			return err
		}
	}
	batches, err := planner.Plan()
	if err != nil {
		return err
	}

	fmt.Printf("Device:  %s\n", f.Device)
	fmt.Printf("Fuzzers: %d\n", len(fuzzers))
	fmt.Printf("Rules:   %d\n", len(rules))
	fmt.Printf("Batches: %d\n\n", len(batches))

	total := 0
	for _, b := range batches {
		total += b.Runs()
		fmt.Printf("  [%d] %d fuzzer(s), %d run(s)\n", b.ID, len(b.Fuzzers), b.Runs())
		if verbose {
			for _, fz := range b.Fuzzers {
				fmt.Printf("        %s\n", fz.Feature)
			}
		}
	}
	fmt.Printf("\nToolchain runs: %d\n", total)

	uncovered, err := f.Uncovered()
	if err != nil {
		return err
	}
	if len(uncovered) > 0 {
		fmt.Printf("\nRules with unmeasured features:\n")
		for _, r := range slices.Sorted(maps.Keys(uncovered)) {
			names := make([]string, len(uncovered[r]))
			for i, feat := range uncovered[r] {
				names[i] = feat.String()
			}
			fmt.Printf("  %s: %s\n", r, strings.Join(names, ", "))
		}
	}
	return nil
}
