package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/collect"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

var (
	// Flags for collect command
	collectResults       string
	collectOutput        string
	collectSexp          string
	collectWorkers       int
	collectAllowLeftover bool
)

var collectCmd = &cobra.Command{
	Use:   "collect <plan-file>",
	Short: "Turn measured diffs into a bit database",
	Long: `Apply the collect rules of a plan to the diffs saved by 'otb run'
and write the resulting bit database.

Every rule consumes the features it needs; a diff that does not reduce
cleanly aborts collection with an inconsistency. Features left over after
all rules ran are an error unless --allow-leftover is given.

A database path ending in .zst is zstd-compressed.

Examples:
  otb collect clb.plan --results results.json -o clb.db.json
  otb collect clb.plan --results results.json -o clb.db.json.zst --sexp clb.db.sexp`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().StringVarP(&collectResults, "results", "r", "results.json", "results file written by 'otb run'")
	collectCmd.Flags().StringVarP(&collectOutput, "output", "o", "bitdb.json", "database file")
	collectCmd.Flags().StringVar(&collectSexp, "sexp", "", "also write an s-expression listing of the database")
	collectCmd.Flags().IntVarP(&collectWorkers, "workers", "w", 4, "rules applied concurrently")
	collectCmd.Flags().BoolVar(&collectAllowLeftover, "allow-leftover", false, "do not fail on features no rule consumed")
}

func runCollect(cmd *cobra.Command, args []string) error {
	f, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	rules, err := f.Rules()
	if err != nil {
		return err
	}
	results, err := trial.LoadResults(collectResults)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db := bitdb.NewDatabase(f.Device)
	c := collect.New(results, db, logger)
	if err := c.CollectAll(context.Background(), rules, collectWorkers); err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}
	left := results.Remaining()
	if err := c.Finish(); err != nil {
		if !collectAllowLeftover || !errors.Is(err, bitdiff.ErrInconsistent) {
			return err
		}
	}

	if err := db.SaveFile(collectOutput); err != nil {
		return err
	}
	if collectSexp != "" {
		if err := os.WriteFile(collectSexp, []byte(db.ExportSexp()), 0o644); err != nil {
			return fmt.Errorf("failed to write listing: %w", err)
		}
	}

	fmt.Printf("Device:  %s\n", db.Device)
	fmt.Printf("Rules:   %d\n", len(rules))
	fmt.Printf("Keys:    %d\n", db.Len())
	for _, kind := range db.TileKinds() {
		fmt.Printf("  %-12s %d\n", kind, len(db.Tile(kind)))
	}
	if len(left) > 0 {
		fmt.Printf("\nUnconsumed features: %d\n", len(left))
		for _, feat := range left {
			fmt.Printf("  %s\n", feat)
		}
	}
	fmt.Printf("\n✓ Database saved to: %s\n", collectOutput)
	return nil
}
