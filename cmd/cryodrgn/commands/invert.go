package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mhanson2019/cryodrgn/internal/printer"
	"github.com/mhanson2019/cryodrgn/pkg/mrc"
)

var invOut string

var invertCmd = &cobra.Command{
	Use:   "invert <volume.mrc>",
	Short: "Invert the contrast of a volume",
	Long: `Invert negates every voxel of a volume, converting between the
dark-density and light-density contrast conventions.`,
	Args: cobra.ExactArgs(1),
	RunE: runInvert,
}

func init() {
	invertCmd.Flags().StringVarP(&invOut, "outfile", "o", "", "Output .mrc file (required)")
	invertCmd.MarkFlagRequired("outfile")
	rootCmd.AddCommand(invertCmd)
}

func runInvert(cmd *cobra.Command, args []string) error {
	if !strings.HasSuffix(args[0], ".mrc") {
		return printer.Error("input volume must be a .mrc file", "", nil)
	}
	if !strings.HasSuffix(invOut, ".mrc") {
		return printer.Error("output volume must be a .mrc file", "", nil)
	}

	vol, err := mrc.ReadVolume(args[0])
	if err != nil {
		return err
	}
	vol.Invert()
	return writeVolume(invOut, vol)
}
