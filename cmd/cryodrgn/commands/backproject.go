package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mhanson2019/cryodrgn/internal/printer"
	"github.com/mhanson2019/cryodrgn/pkg/backproject"
	"github.com/mhanson2019/cryodrgn/pkg/config"
	"github.com/mhanson2019/cryodrgn/pkg/ctf"
	"github.com/mhanson2019/cryodrgn/pkg/fsc"
	"github.com/mhanson2019/cryodrgn/pkg/mrc"
	"github.com/mhanson2019/cryodrgn/pkg/pose"
	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

var (
	bpPoses        string
	bpCTF          string
	bpOutfile      string
	bpCTFAlg       string
	bpRegWeight    float64
	bpSumCount     bool
	bpNoHalfMaps   bool
	bpUninvert     bool
	bpLazy         bool
	bpInd          string
	bpFirst        int
	bpTilt         bool
	bpNTilts       int
	bpDosePerTilt  float64
	bpAnglePerTilt float64
	bpTiltNumbers  string
	bpWorkers      int
	bpSeed         uint64
	bpPreview      bool
)

var backprojectCmd = &cobra.Command{
	Use:   "backproject <particles.mrcs>",
	Short: "Backproject particle images into a 3D density map",
	Long: `Backproject reconstructs a 3D density map from a stack of aligned
particle images. Each image is Hartley-transformed, CTF-weighted,
rotated into the 3D spectrum by its pose, and splatted into an
accumulation grid; the grid is then regularized and inverted to real
space.

Unless --no-half-maps is given, even- and odd-indexed images are also
accumulated into two independent half-maps, and a gold-standard FSC
curve between them (with spherical, loose, and tight masks plus a
phase-randomization correction) reports the map resolution.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackproject,
}

func init() {
	f := backprojectCmd.Flags()
	f.StringVar(&bpPoses, "poses", "", "Image poses (text catalog, required)")
	f.StringVar(&bpCTF, "ctf", "", "CTF parameters (text catalog)")
	f.StringVarP(&bpOutfile, "outfile", "o", "", "Output .mrc file (required)")
	f.StringVar(&bpCTFAlg, "ctf-alg", "mul", "CTF handling, \"flip\" or \"mul\"")
	f.Float64Var(&bpRegWeight, "reg-weight", 1.0,
		"Add this value times the mean weight to the weight grid before division, reducing noise")
	f.BoolVar(&bpSumCount, "output-sumcount", false,
		"Also write the raw voxel sums and weights so other regularization weights can be applied post hoc with \"cryodrgn regularize\"")
	f.BoolVar(&bpNoHalfMaps, "no-half-maps", false, "Don't produce half-maps and FSCs")
	f.BoolVar(&bpUninvert, "uninvert-data", false, "Do not invert data sign")
	f.BoolVar(&bpLazy, "lazy", false, "Read images on demand instead of preloading the stack")
	f.StringVar(&bpInd, "ind", "", "Restrict the run to the image indices listed in this file")
	f.IntVar(&bpFirst, "first", 0, "Backproject the first N images (default: all images)")
	f.BoolVar(&bpTilt, "tilt", false, "Treat data as a tilt series from cryo-ET")
	f.IntVar(&bpNTilts, "ntilts", 10, "Number of tilts per particle to backproject")
	f.Float64VarP(&bpDosePerTilt, "dose-per-tilt", "d", 0,
		"Expected dose per tilt (electrons/A^2 per tilt)")
	f.Float64VarP(&bpAnglePerTilt, "angle-per-tilt", "a", 3,
		"Tilt angle increment per tilt in degrees")
	f.StringVar(&bpTiltNumbers, "tilt-numbers", "",
		"Per-image tilt indices (text file, required with --tilt)")
	f.IntVar(&bpWorkers, "workers", 0, "Worker goroutines (default: all CPUs)")
	f.Uint64Var(&bpSeed, "seed", 0, "Phase-randomization seed for the corrected FSC curve")
	f.BoolVar(&bpPreview, "preview", false, "Write central-slice PNG previews of the full map")

	backprojectCmd.MarkFlagRequired("poses")
	backprojectCmd.MarkFlagRequired("outfile")
	rootCmd.AddCommand(backprojectCmd)
}

// backprojectConfig merges the YAML configuration with any flags set
// explicitly on the command line, flags winning.
func backprojectConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("reg-weight") {
		cfg.Reconstruction.RegWeight = bpRegWeight
	}
	if flags.Changed("ctf-alg") {
		cfg.Reconstruction.CTFMode = bpCTFAlg
	}
	if flags.Changed("uninvert-data") {
		cfg.Reconstruction.InvertData = !bpUninvert
	}
	if flags.Changed("first") {
		cfg.Reconstruction.First = bpFirst
	}
	if flags.Changed("workers") {
		cfg.Reconstruction.NumWorkers = bpWorkers
	}
	if flags.Changed("ntilts") {
		cfg.Tilt.NTilts = bpNTilts
	}
	if flags.Changed("dose-per-tilt") {
		cfg.Tilt.DosePerTilt = bpDosePerTilt
	}
	if flags.Changed("angle-per-tilt") {
		cfg.Tilt.AnglePerTilt = bpAnglePerTilt
	}
	if flags.Changed("seed") {
		cfg.FSC.Seed = bpSeed
	}
	if flags.Changed("no-half-maps") {
		cfg.Output.HalfMaps = !bpNoHalfMaps
	}
	if flags.Changed("output-sumcount") {
		cfg.Output.SumCounts = bpSumCount
	}
	if flags.Changed("preview") {
		cfg.Output.Preview = bpPreview
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBackproject(cmd *cobra.Command, args []string) error {
	particles := args[0]

	if !strings.HasSuffix(bpOutfile, ".mrc") {
		return printer.Error(
			fmt.Sprintf("output file %s does not end with .mrc", bpOutfile),
			"The reconstruction is written as an MRC2014 volume.",
			[]string{fmt.Sprintf("Rename the output, e.g. -o %s.mrc", bpOutfile)})
	}

	cfg, err := backprojectConfig(cmd)
	if err != nil {
		return err
	}
	if bpTilt && cfg.Tilt.DosePerTilt <= 0 {
		return printer.Error(
			"--dose-per-tilt is required for backprojecting tilt series data",
			"Dose weighting needs the electron dose deposited by each tilt image.",
			nil)
	}
	if bpTilt && bpTiltNumbers == "" {
		return printer.Error(
			"--tilt-numbers is required for backprojecting tilt series data",
			"Each image must be assigned its tilt index within the series.",
			nil)
	}

	if dir := filepath.Dir(bpOutfile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	// Image stack
	stack, err := mrc.Open(particles)
	if err != nil {
		return fmt.Errorf("opening particles: %w", err)
	}
	defer stack.Close()
	printer.Step("Loaded %d images of size %dx%d from %s\n",
		stack.Len(), stack.Side(), stack.Side(), particles)
	if !bpLazy {
		if err := stack.Preload(); err != nil {
			return fmt.Errorf("preloading particles: %w", err)
		}
		printer.Info("Preloaded stack into memory (%s)\n",
			humanize.Bytes(uint64(stack.Len()*stack.Side()*stack.Side()*8)))
	}

	// Poses
	cat, err := pose.Load(bpPoses)
	if err != nil {
		return err
	}
	printer.Step("Loaded %d poses from %s\n", cat.Len(), bpPoses)

	// CTF parameters
	var params []ctf.Params
	if bpCTF != "" {
		printer.Step("Loading ctf params from %s\n", bpCTF)
		params, err = ctf.LoadParams(bpCTF)
		if err != nil {
			return err
		}
	}

	bcfg := backproject.Config{
		CTFMode:    cfg.Reconstruction.CTFMode,
		Uninvert:   !cfg.Reconstruction.InvertData,
		NoHalfMaps: !cfg.Output.HalfMaps,
		First:      cfg.Reconstruction.First,
		NumWorkers: cfg.Reconstruction.NumWorkers,
		Verbose:    cfg.Output.Verbose,
	}
	if bpInd != "" {
		indices, err := backproject.LoadIndices(bpInd)
		if err != nil {
			return err
		}
		printer.Info("Restricting run to %d images listed in %s\n", len(indices), bpInd)
		bcfg.Indices = indices
	}
	if bpTilt {
		numbers, err := backproject.LoadTiltNumbers(bpTiltNumbers)
		if err != nil {
			return err
		}
		bcfg.Tilt = backproject.TiltParams{
			Enabled:      true,
			NTilts:       cfg.Tilt.NTilts,
			DosePerTilt:  cfg.Tilt.DosePerTilt,
			AnglePerTilt: cfg.Tilt.AnglePerTilt,
			Numbers:      numbers,
		}
	}

	rec, err := backproject.New(stack, cat, params, bcfg)
	if err != nil {
		return err
	}

	d := rec.GridSize()
	gridBytes := uint64(d) * uint64(d) * uint64(d) * 8
	printer.Info("Accumulating into %d^3 voxel grids (%s per grid)\n",
		d, humanize.Bytes(gridBytes))

	result, err := rec.Run()
	if err != nil {
		return err
	}
	td := result.Elapsed.Seconds()
	printer.Info("Backprojected %d images in %.2fs (%.4fs per image)\n",
		result.Processed, td, td/float64(result.Processed))

	if cfg.Output.SumCounts {
		if err := writeGrid(bpOutfile+".sums", result.Full.Values, result.Apix); err != nil {
			return err
		}
		if err := writeGrid(bpOutfile+".counts", result.Full.Weights, result.Apix); err != nil {
			return err
		}
	}

	// Full reconstruction
	vol, err := backproject.RegularizeVolume(
		result.Full.Values, result.Full.Weights, cfg.Reconstruction.RegWeight, result.Apix)
	if err != nil {
		return err
	}
	if err := writeVolume(bpOutfile, vol); err != nil {
		return err
	}
	outPath := strings.TrimSuffix(bpOutfile, filepath.Ext(bpOutfile))
	if cfg.Output.Preview {
		if err := vol.WritePreviews(outPath); err != nil {
			return fmt.Errorf("writing previews: %w", err)
		}
		printer.Info("Wrote slice previews %s_{x,y,z}.png\n", outPath)
	}

	if !cfg.Output.HalfMaps {
		return nil
	}

	// Half-map reconstructions and gold-standard FSC
	half1, err := backproject.RegularizeVolume(
		result.Half1.Values, result.Half1.Weights, cfg.Reconstruction.RegWeight, result.Apix)
	if err != nil {
		return err
	}
	half2, err := backproject.RegularizeVolume(
		result.Half2.Values, result.Half2.Weights, cfg.Reconstruction.RegWeight, result.Apix)
	if err != nil {
		return err
	}

	est, err := fsc.GoldStandard(vol, half1, half2, fsc.GoldStandardOptions{
		LooseDilation: cfg.FSC.LooseDilation,
		LooseEdge:     cfg.FSC.LooseEdge,
		TightDilation: cfg.FSC.TightDilation,
		TightEdge:     cfg.FSC.TightEdge,
		Seed:          cfg.FSC.Seed,
	})
	if err != nil {
		return err
	}
	reportEstimate(est, result.Apix)

	fscFile := outPath + "_fsc-vals.txt"
	if err := fsc.WriteCurve(fscFile, est.Corrected.Curve); err != nil {
		return err
	}
	printer.Success("Wrote FSC values to %s\n", fscFile)

	if err := writeVolume(outPath+"_half-map1.mrc", half1); err != nil {
		return err
	}
	if err := writeVolume(outPath+"_half-map2.mrc", half2); err != nil {
		return err
	}
	return nil
}

// reportEstimate prints the per-mask resolution table plus the two
// conventional cutoffs of the corrected curve.
func reportEstimate(est *fsc.Estimate, apix float64) {
	printer.Info("Gold-standard FSC resolution:\n")
	for _, mc := range est.All() {
		if mc.Crossed {
			printer.Info("  %-10s %6.2f A  (crossing at shell %.1f)\n",
				mc.Label, mc.Resolution, mc.Bin)
		} else {
			printer.Info("  %-10s no crossing below %.3g\n", mc.Label, fsc.CutoffGold)
		}
	}

	reportCurve(est.Corrected.Curve, apix)
}

// writeGrid persists a raw accumulation grid as an MRC volume.
func writeGrid(path string, g *volume.Grid, apix float64) error {
	v, err := volume.FromData(g.Data, g.D, apix)
	if err != nil {
		return err
	}
	return writeVolume(path, v)
}

func writeVolume(path string, v *volume.Volume) error {
	if err := mrc.WriteVolume(path, v); err != nil {
		return err
	}
	size := uint64(0)
	if fi, err := os.Stat(path); err == nil {
		size = uint64(fi.Size())
	}
	printer.Success("Wrote %s (%s)\n", path, humanize.Bytes(size))
	return nil
}
