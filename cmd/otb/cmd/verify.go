package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/topology"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/verify"
)

var (
	// Flags for verify command
	verifyDB           string
	verifyTopology     string
	verifySkipResidual bool
	verifySharedBits   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a bit database against the device topology",
	Long: `Check every routing claim of a bit database against the device
topology: pips and their wires must exist, no pip may be claimed twice,
driven wires need exactly one driver, and declared connections and naming
groups must each resolve to one node.

The topology is looked up by the database's device name among the .topo
files under --topology.

Examples:
  otb verify --db clb.db.json --topology topo/
  otb verify --db clb.db.json --topology topo/ --skip-residual --shared-bits`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyDB, "db", "bitdb.json", "database file")
	verifyCmd.Flags().StringVarP(&verifyTopology, "topology", "t", "", "directory of topology files (required)")
	verifyCmd.Flags().BoolVar(&verifySkipResidual, "skip-residual", false, "do not report topology pips no key claims")
	verifyCmd.Flags().BoolVar(&verifySharedBits, "shared-bits", false, "report bits used by two keys of one tile kind")
	verifyCmd.MarkFlagRequired("topology")
}

func loadTopology(dir, device string) (*topology.Topology, error) {
	repo := topology.NewMemoryRepository()
	if err := repo.LoadDir(dir); err != nil {
		return nil, err
	}
	return repo.Lookup(device)
}

func runVerify(cmd *cobra.Command, args []string) error {
	db, err := bitdb.LoadFile(verifyDB)
	if err != nil {
		return err
	}
	topo, err := loadTopology(verifyTopology, db.Device)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	rep, err := verify.Verify(db, topo, verify.Options{
		SkipResidual:    verifySkipResidual,
		CheckSharedBits: verifySharedBits,
		Logger:          logger,
	})
	if rep == nil {
		return err
	}

	fmt.Printf("Device:       %s\n", rep.Device)
	fmt.Printf("Tiles:        %d\n", rep.Tiles)
	fmt.Printf("Claimed pips: %d\n", rep.Claimed)
	if len(rep.Conflicts) == 0 {
		fmt.Println("\n✓ No conflicts")
		return nil
	}
	fmt.Printf("\nConflicts: %d\n", len(rep.Conflicts))
	for _, c := range rep.Conflicts {
		fmt.Printf("  %s\n", c)
	}
	return fmt.Errorf("verification found %d conflict(s)", len(rep.Conflicts))
}
