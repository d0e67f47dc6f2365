package commands

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mhanson2019/cryodrgn/pkg/mrc"
	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// runCLI drives the root command exactly as main does.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return Execute()
}

func writeTestVolume(t *testing.T, path string, n int, apix float64, fill func(i int) float64) *volume.Volume {
	t.Helper()
	v := volume.NewVolume(n, apix)
	for i := range v.Data {
		v.Data[i] = fill(i)
	}
	if err := mrc.WriteVolume(path, v); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return v
}

func TestBackprojectRejectsBadOutfile(t *testing.T) {
	err := runCLI(t, "backproject", "particles.mrcs",
		"--poses", "poses.txt", "-o", "out.txt")
	if err == nil {
		t.Fatal("expected error for non-.mrc output")
	}
	if !strings.Contains(err.Error(), ".mrc") {
		t.Errorf("error %q should mention the .mrc requirement", err)
	}
}

func TestBackprojectEndToEnd(t *testing.T) {
	dir := t.TempDir()
	n := 16
	nimg := 6

	// All images show the same centered blob, so the half-maps agree
	// exactly and the pipeline exercises the no-crossing fallback.
	img := make([]float64, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx := float64(x - n/2)
			dy := float64(y - n/2)
			img[y*n+x] = math.Exp(-(dx*dx + dy*dy) / (2 * 2.5 * 2.5))
		}
	}
	images := make([][]float64, nimg)
	for i := range images {
		images[i] = img
	}
	stackPath := filepath.Join(dir, "particles.mrcs")
	if err := mrc.WriteStack(stackPath, images, n, 1.0); err != nil {
		t.Fatalf("writing stack: %v", err)
	}

	posesPath := filepath.Join(dir, "poses.txt")
	identity := "1 0 0 0 1 0 0 0 1\n"
	if err := os.WriteFile(posesPath, []byte(strings.Repeat(identity, nimg)), 0o644); err != nil {
		t.Fatalf("writing poses: %v", err)
	}

	out := filepath.Join(dir, "vol.mrc")
	err := runCLI(t, "backproject", stackPath,
		"--poses", posesPath, "-o", out,
		"--output-sumcount", "--preview", "--seed", "11")
	if err != nil {
		t.Fatalf("backproject: %v", err)
	}

	vol, err := mrc.ReadVolume(out)
	if err != nil {
		t.Fatalf("reading reconstruction: %v", err)
	}
	if vol.N != n {
		t.Errorf("reconstruction side = %d, want %d", vol.N, n)
	}
	if vol.Apix != 1.0 {
		t.Errorf("reconstruction apix = %g, want 1.0 without ctf", vol.Apix)
	}

	sums, err := mrc.ReadVolume(out + ".sums")
	if err != nil {
		t.Fatalf("reading sums: %v", err)
	}
	if sums.N != n+1 {
		t.Errorf("sum grid side = %d, want %d", sums.N, n+1)
	}
	if _, err := mrc.ReadVolume(out + ".counts"); err != nil {
		t.Fatalf("reading counts: %v", err)
	}

	outPath := strings.TrimSuffix(out, ".mrc")
	for _, path := range []string{
		outPath + "_half-map1.mrc",
		outPath + "_half-map2.mrc",
		outPath + "_x.png",
		outPath + "_y.png",
		outPath + "_z.png",
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing output %s: %v", path, err)
		}
	}

	fscData, err := os.ReadFile(outPath + "_fsc-vals.txt")
	if err != nil {
		t.Fatalf("reading fsc values: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(fscData)), "\n")
	if lines[0] != "pixres fsc" {
		t.Errorf("fsc header = %q, want \"pixres fsc\"", lines[0])
	}
	if len(lines) != 1+n/2 {
		t.Errorf("fsc file has %d rows, want %d", len(lines)-1, n/2)
	}
}

func TestFscCommand(t *testing.T) {
	dir := t.TempDir()
	n := 16
	fill := func(i int) float64 {
		return math.Sin(float64(i)*0.37) + float64(i%5)
	}
	aPath := filepath.Join(dir, "a.mrc")
	bPath := filepath.Join(dir, "b.mrc")
	writeTestVolume(t, aPath, n, 1.0, fill)
	writeTestVolume(t, bPath, n, 1.0, fill)

	outTxt := filepath.Join(dir, "fsc.txt")
	if err := runCLI(t, "fsc", aPath, bPath, "-o", outTxt); err != nil {
		t.Fatalf("fsc: %v", err)
	}
	data, err := os.ReadFile(outTxt)
	if err != nil {
		t.Fatalf("reading curve: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "pixres fsc" {
		t.Errorf("header = %q, want \"pixres fsc\"", lines[0])
	}
	if lines[1] != "0 1" {
		t.Errorf("bin 0 row = %q, want \"0 1\"", lines[1])
	}

	// A mask of the wrong size is rejected
	maskPath := filepath.Join(dir, "mask.mrc")
	writeTestVolume(t, maskPath, 8, 1.0, func(int) float64 { return 1 })
	if err := runCLI(t, "fsc", aPath, bPath, "-o", outTxt, "--mask", maskPath); err == nil {
		t.Error("expected error for mismatched mask size")
	}
}

func TestRegularizeCommand(t *testing.T) {
	dir := t.TempDir()
	d := 5

	sumsPath := filepath.Join(dir, "map.mrc.sums")
	countsPath := filepath.Join(dir, "map.mrc.counts")
	writeTestVolume(t, sumsPath, d, 2.5, func(int) float64 { return 7 })
	writeTestVolume(t, countsPath, d, 2.5, func(int) float64 { return 1 })

	out := filepath.Join(dir, "map.mrc")
	if err := runCLI(t, "regularize", sumsPath, countsPath,
		"-o", out, "--reg-weight", "3"); err != nil {
		t.Fatalf("regularize: %v", err)
	}

	got, err := mrc.ReadVolume(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if got.N != d-1 {
		t.Fatalf("output side = %d, want %d", got.N, d-1)
	}
	if got.Apix != 2.5 {
		t.Errorf("output apix = %g, want 2.5", got.Apix)
	}

	// Uniform weights make the regularizer an identity, so the constant
	// spectrum inverts to a single spike at the center voxel.
	center := got.Index(d/2, d/2, d/2)
	for i, val := range got.Data {
		want := 0.0
		if i == center {
			want = 7
		}
		if math.Abs(val-want) > 1e-5 {
			t.Fatalf("voxel %d = %g, want %g", i, val, want)
		}
	}

	if err := runCLI(t, "regularize", sumsPath, countsPath,
		"-o", filepath.Join(dir, "map.txt")); err == nil {
		t.Error("expected error for non-.mrc output")
	}
}

func TestInvertCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mrc")
	out := filepath.Join(dir, "out.mrc")

	src := writeTestVolume(t, in, 8, 1.5, func(i int) float64 {
		return float64(i%13) - 6
	})

	if err := runCLI(t, "invert", in, "-o", out); err != nil {
		t.Fatalf("invert: %v", err)
	}
	got, err := mrc.ReadVolume(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if got.N != 8 || got.Apix != 1.5 {
		t.Errorf("output shape = %d/%g, want 8/1.5", got.N, got.Apix)
	}
	for i := range got.Data {
		if got.Data[i] != -src.Data[i] {
			t.Fatalf("voxel %d = %g, want %g", i, got.Data[i], -src.Data[i])
		}
	}

	if err := runCLI(t, "invert", in, "-o", filepath.Join(dir, "out.map")); err == nil {
		t.Error("expected error for non-.mrc output")
	}
}
