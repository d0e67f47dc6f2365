package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mhanson2019/cryodrgn/internal/printer"
	"github.com/mhanson2019/cryodrgn/pkg/backproject"
	"github.com/mhanson2019/cryodrgn/pkg/mrc"
	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

var (
	rgOut     string
	rgWeight  float64
	rgPreview bool
)

var regularizeCmd = &cobra.Command{
	Use:   "regularize <volume.mrc.sums> <volume.mrc.counts>",
	Short: "Regularize persisted sum and weight grids into a density map",
	Long: `Regularize divides a persisted voxel sum grid by its weight grid,
after adding a uniform regularization term, and inverts the result to
a real-space density map.

The inputs are the .sums and .counts files written by
"cryodrgn backproject --output-sumcount"; rerunning with different
--reg-weight values explores the noise/detail trade-off without
repeating the backprojection.`,
	Args: cobra.ExactArgs(2),
	RunE: runRegularize,
}

func init() {
	f := regularizeCmd.Flags()
	f.StringVarP(&rgOut, "outfile", "o", "", "Output .mrc file (required)")
	f.Float64Var(&rgWeight, "reg-weight", 1.0,
		"Add this value times the mean weight to the weight grid before division")
	f.BoolVar(&rgPreview, "preview", false, "Write central-slice PNG previews of the map")
	regularizeCmd.MarkFlagRequired("outfile")
	rootCmd.AddCommand(regularizeCmd)
}

func runRegularize(cmd *cobra.Command, args []string) error {
	if !strings.HasSuffix(rgOut, ".mrc") {
		return printer.Error(
			"output file "+rgOut+" does not end with .mrc",
			"The regularized map is written as an MRC2014 volume.",
			nil)
	}

	sums, err := mrc.ReadVolume(args[0])
	if err != nil {
		return err
	}
	counts, err := mrc.ReadVolume(args[1])
	if err != nil {
		return err
	}

	values := volume.NewGrid(sums.N)
	copy(values.Data, sums.Data)
	weights := volume.NewGrid(counts.N)
	copy(weights.Data, counts.Data)

	if floored := weights.ReplaceZeros(1); floored > 0 {
		printer.Warning("floored %d zero-weight voxels to 1\n", floored)
	}

	vol, err := backproject.RegularizeVolume(values, weights, rgWeight, sums.Apix)
	if err != nil {
		return err
	}
	if err := writeVolume(rgOut, vol); err != nil {
		return err
	}
	if rgPreview {
		prefix := strings.TrimSuffix(rgOut, ".mrc")
		if err := vol.WritePreviews(prefix); err != nil {
			return err
		}
		printer.Info("Wrote slice previews %s_{x,y,z}.png\n", prefix)
	}
	return nil
}
