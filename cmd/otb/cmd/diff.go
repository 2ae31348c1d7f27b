package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

var diffCmd = &cobra.Command{
	Use:   "diff <base.bits> <other.bits>",
	Short: "Show the bits that differ between two bitstreams",
	Long: `Print every bit that changes going from the base bitstream to the
other one: "+" for bits that become set, "-" for bits that become clear.

Examples:
  otb diff baseline.bits variant.bits`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	base, err := bitdiff.LoadBitsFile(args[0])
	if err != nil {
		return err
	}
	other, err := bitdiff.LoadBitsFile(args[1])
	if err != nil {
		return err
	}

	d := bitdiff.Subtract(base, other)
	for _, b := range d.Entries() {
		sign := "+"
		if b.Inv {
			sign = "-"
		}
		fmt.Printf("%s %s\n", sign, b.Pos)
	}
	fmt.Printf("%d bit(s) differ\n", d.Len())
	return nil
}
