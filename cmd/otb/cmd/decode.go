package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

var (
	// Flags for decode command
	decodeDB       string
	decodeTopology string
	decodeKind     string
	decodeAll      bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <bits-file>",
	Short: "Decode a bitstream with a bit database",
	Long: `Print the settings a bitstream encodes.

With --topology every tile of the device is cut out of the bitstream and
decoded with the database entries of its kind. With --kind the bitstream
is taken to be a single tile of that kind, with tile-relative positions.

Bits no database entry covers are listed as residue.

Examples:
  otb decode --db clb.db.json --topology topo/ design.bits
  otb decode --db clb.db.json --kind CLB tile.bits`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVar(&decodeDB, "db", "bitdb.json", "database file")
	decodeCmd.Flags().StringVarP(&decodeTopology, "topology", "t", "", "directory of topology files")
	decodeCmd.Flags().StringVarP(&decodeKind, "kind", "k", "", "decode as a single tile of this kind")
	decodeCmd.Flags().BoolVarP(&decodeAll, "all", "a", false, "also print settings at their default (empty) value")
	decodeCmd.MarkFlagsMutuallyExclusive("topology", "kind")
	decodeCmd.MarkFlagsOneRequired("topology", "kind")
}

func runDecode(cmd *cobra.Command, args []string) error {
	db, err := bitdb.LoadFile(decodeDB)
	if err != nil {
		return err
	}
	bs, err := bitdiff.LoadBitsFile(args[0])
	if err != nil {
		return err
	}

	if decodeKind != "" {
		return printTile(db, decodeKind, decodeKind, bs)
	}

	topo, err := loadTopology(decodeTopology, db.Device)
	if err != nil {
		return err
	}
	for _, tile := range topo.Tiles {
		if len(db.Tile(tile.Kind)) == 0 {
			continue
		}
		if err := printTile(db, tile.Name, tile.Kind, tile.Extract(bs)); err != nil {
			return err
		}
	}
	return nil
}

func printTile(db *bitdb.Database, name, kind string, bs *bitdiff.Bitstream) error {
	settings, residue, err := db.Decode(kind, bs)
	if err != nil {
		return fmt.Errorf("tile %s: %w", name, err)
	}
	var lines []string
	for _, s := range settings {
		if !decodeAll && (s.Value == "" || s.Value == "0") {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s = %s", s.Key, s.Value))
	}
	for _, p := range residue {
		lines = append(lines, fmt.Sprintf("  ? %s", p))
	}
	if len(lines) == 0 {
		return nil
	}
	fmt.Printf("%s (%s):\n", name, kind)
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
