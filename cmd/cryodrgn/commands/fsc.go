package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mhanson2019/cryodrgn/internal/printer"
	"github.com/mhanson2019/cryodrgn/pkg/fsc"
	"github.com/mhanson2019/cryodrgn/pkg/mrc"
)

var (
	fscMask     string
	fscOut      string
	fscApix     float64
	fscPhaseBin float64
	fscSeed     uint64
)

var fscCmd = &cobra.Command{
	Use:   "fsc <volume1.mrc> <volume2.mrc>",
	Short: "Compute the Fourier shell correlation between two volumes",
	Long: `Fsc computes the Fourier shell correlation curve between two volumes
of identical size, optionally windowed by a real-space mask volume.
The crossings of the 0.5 and 0.143 cutoffs are reported in Angstrom.`,
	Args: cobra.ExactArgs(2),
	RunE: runFsc,
}

func init() {
	f := fscCmd.Flags()
	f.StringVar(&fscMask, "mask", "", "Apply this mask volume before correlation")
	f.StringVarP(&fscOut, "outtxt", "o", "", "Write the curve to this file")
	f.Float64Var(&fscApix, "apix", 0, "Override the pixel size in Angstrom (default: from header)")
	f.Float64Var(&fscPhaseBin, "phase-randomize", 0,
		"Randomize the second volume's phases beyond this shell before correlating")
	f.Uint64Var(&fscSeed, "seed", 0, "Phase-randomization seed")
	rootCmd.AddCommand(fscCmd)
}

func runFsc(cmd *cobra.Command, args []string) error {
	va, err := mrc.ReadVolume(args[0])
	if err != nil {
		return err
	}
	vb, err := mrc.ReadVolume(args[1])
	if err != nil {
		return err
	}

	opts := fsc.Options{Seed: fscSeed}
	if fscMask != "" {
		mv, err := mrc.ReadVolume(fscMask)
		if err != nil {
			return err
		}
		if mv.N != va.N {
			return fmt.Errorf("mask side %d does not match volume side %d", mv.N, va.N)
		}
		opts.Mask = mv.Data
	}
	if fscPhaseBin > 0 {
		opts.RandomizePhases = true
		opts.PhaseBin = fscPhaseBin
	}

	curve, err := fsc.Calculate(va, vb, opts)
	if err != nil {
		return err
	}

	apix := fscApix
	if apix <= 0 {
		apix = va.Apix
	}
	if apix <= 0 {
		apix = 1.0
	}
	reportCurve(curve, apix)

	if fscOut != "" {
		if err := fsc.WriteCurve(fscOut, curve); err != nil {
			return err
		}
		printer.Success("Wrote FSC values to %s\n", fscOut)
	}
	return nil
}

func reportCurve(curve *fsc.Curve, apix float64) {
	for _, cutoff := range []float64{fsc.CutoffHalf, fsc.CutoffGold} {
		if bin, ok := curve.Threshold(cutoff); ok {
			printer.Info("res @ FSC=%.3g: %.4g A\n", cutoff, curve.ResolutionAngstrom(bin, apix))
		} else {
			printer.Info("res @ FSC=%.3g: above Nyquist\n", cutoff)
		}
	}
}
