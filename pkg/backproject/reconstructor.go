// Package backproject accumulates posed, CTF-weighted particle images
// into a Fourier-space voxel grid and normalizes the result into
// real-space density maps. Images are inserted as central slices: each
// masked Hartley plane is rotated by its pose and splatted into the
// grid with distance weights, while a parallel weight grid records the
// accumulated interpolation mass for later regularized division.
package backproject

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/mhanson2019/cryodrgn/pkg/ctf"
	"github.com/mhanson2019/cryodrgn/pkg/lattice"
	"github.com/mhanson2019/cryodrgn/pkg/pose"
	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// CTF handling modes: multiply the coefficients by the CTF (amplitude
// weighting) or only flip their signs where the CTF is negative.
const (
	CTFMul  = "mul"
	CTFFlip = "flip"
)

// ImageSource provides square real-space images by index. Image may be
// called concurrently from several workers.
type ImageSource interface {
	Len() int
	Side() int
	Image(i int) ([]float64, error)
}

// PoseSource provides per-image orientations and shifts.
type PoseSource interface {
	Len() int
	Pose(i int) (pose.Pose, error)
}

// TiltParams configures tilt-series handling. Numbers holds each
// image's tilt index within its particle; images whose number is NTilts
// or higher are skipped, and the rest are attenuated by a cumulative
// dose filter plus a cosine scale factor on the CTF.
type TiltParams struct {
	Enabled      bool
	NTilts       int
	DosePerTilt  float64
	AnglePerTilt float64
	Numbers      []int
}

// Config holds the reconstruction settings. The zero value backprojects
// every image with contrast inversion, CTF multiplication, and half-map
// accumulation, matching the usual single-particle defaults.
type Config struct {
	// CTFMode selects CTFMul or CTFFlip; empty means CTFMul.
	CTFMode string

	// Uninvert skips the sign inversion normally applied to images as
	// they load.
	Uninvert bool

	// NoHalfMaps disables the even/odd split streams.
	NoHalfMaps bool

	// First restricts processing to the first N selected images when
	// positive.
	First int

	// Indices restricts processing to these image indices when non-nil.
	Indices []int

	// NumWorkers caps the worker goroutines; zero means all CPUs.
	NumWorkers int

	Tilt TiltParams

	// Verbose enables progress output on stdout.
	Verbose bool
}

// Stream is one accumulation target: a value grid and its co-indexed
// weight grid.
type Stream struct {
	Values  *volume.Grid
	Weights *volume.Grid
}

func newStream(d int) *Stream {
	return &Stream{Values: volume.NewGrid(d), Weights: volume.NewGrid(d)}
}

func (s *Stream) accumulate(o *Stream) error {
	if err := s.Values.Accumulate(o.Values); err != nil {
		return err
	}
	return s.Weights.Accumulate(o.Weights)
}

// Result holds the accumulated streams of a finished run. The half
// streams are nil when half-maps were disabled. Weight grids have had
// zero entries floored to 1, so they are safe to divide by.
type Result struct {
	Full      *Stream
	Half1     *Stream
	Half2     *Stream
	Apix      float64
	Processed int
	Elapsed   time.Duration
}

// Reconstructor backprojects an image stack into an accumulation grid
// one slice at a time. The grid side is one larger than the image side
// so the symmetrized Hartley planes fit with their duplicated edge.
type Reconstructor struct {
	images  ImageSource
	poses   PoseSource
	ctfs    []ctf.Params
	cfg     Config
	n       int // image side
	d       int // grid side, n+1
	mask    *lattice.Mask
	apix    float64
	voltage float64
}

// New validates the configuration against the sources and prepares a
// reconstructor. ctfs may be nil to backproject without CTF weighting;
// otherwise it must hold one row per image.
func New(images ImageSource, poses PoseSource, ctfs []ctf.Params, cfg Config) (*Reconstructor, error) {
	n := images.Side()
	if n <= 0 || n%2 != 0 {
		return nil, fmt.Errorf("image side must be even and positive, got %d", n)
	}
	if poses.Len() != images.Len() {
		return nil, fmt.Errorf("got %d poses for %d images", poses.Len(), images.Len())
	}
	if ctfs != nil && len(ctfs) != images.Len() {
		return nil, fmt.Errorf("got %d ctf rows for %d images", len(ctfs), images.Len())
	}
	for i, p := range ctfs {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("ctf row %d: %w", i, err)
		}
	}

	switch cfg.CTFMode {
	case "":
		cfg.CTFMode = CTFMul
	case CTFMul, CTFFlip:
	default:
		return nil, fmt.Errorf("unknown ctf mode %q", cfg.CTFMode)
	}
	if cfg.First < 0 {
		return nil, fmt.Errorf("first must not be negative, got %d", cfg.First)
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}

	if cfg.Tilt.Enabled {
		if cfg.Tilt.DosePerTilt <= 0 {
			return nil, fmt.Errorf("tilt series backprojection requires a positive dose per tilt")
		}
		if ctfs == nil {
			return nil, fmt.Errorf("tilt series backprojection requires ctf parameters")
		}
		if len(cfg.Tilt.Numbers) != images.Len() {
			return nil, fmt.Errorf("got %d tilt numbers for %d images", len(cfg.Tilt.Numbers), images.Len())
		}
		if cfg.Tilt.NTilts <= 0 {
			cfg.Tilt.NTilts = 10
		}
		if cfg.Tilt.AnglePerTilt == 0 {
			cfg.Tilt.AnglePerTilt = 3
		}
	}

	d := n + 1
	lat, err := lattice.New(d)
	if err != nil {
		return nil, err
	}

	r := &Reconstructor{
		images: images,
		poses:  poses,
		ctfs:   ctfs,
		cfg:    cfg,
		n:      n,
		d:      d,
		mask:   lat.CircularMask(float64(d / 2)),
		apix:   1.0,
	}
	if len(ctfs) > 0 {
		r.apix = ctfs[0].Apix
		r.voltage = ctfs[0].Voltage
	}
	return r, nil
}

// GridSize reports the accumulation grid side length.
func (r *Reconstructor) GridSize() int {
	return r.d
}

// Apix reports the pixel size the output volumes will carry.
func (r *Reconstructor) Apix() float64 {
	return r.apix
}

// Run backprojects the selected images, fanning the index range out
// over workers with private accumulation streams that are summed once
// all workers finish. Any per-image failure aborts the run.
func (r *Reconstructor) Run() (*Result, error) {
	start := time.Now()
	indices, err := r.selectIndices()
	if err != nil {
		return nil, err
	}
	total := len(indices)

	workers := r.cfg.NumWorkers
	if workers > total {
		workers = total
	}
	if workers < 1 {
		workers = 1
	}

	type partial struct {
		full  *Stream
		half1 *Stream
		half2 *Stream
		err   error
	}
	results := make(chan partial, workers)
	var done atomic.Int64

	chunk := (total + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if lo > total {
			lo = total
		}
		if hi > total {
			hi = total
		}

		go func(batch []int) {
			p := partial{full: newStream(r.d)}
			if !r.cfg.NoHalfMaps {
				p.half1 = newStream(r.d)
				p.half2 = newStream(r.d)
			}
			for _, ii := range batch {
				if err := r.processImage(ii, p.full, p.half1, p.half2); err != nil {
					p.err = fmt.Errorf("image %d: %w", ii, err)
					break
				}
				n := done.Add(1)
				if r.cfg.Verbose && (n%100 == 0 || int(n) == total) {
					fmt.Printf("\rBackprojected %d/%d images", n, total)
				}
			}
			results <- p
		}(indices[lo:hi])
	}

	res := &Result{Full: newStream(r.d), Apix: r.apix}
	if !r.cfg.NoHalfMaps {
		res.Half1 = newStream(r.d)
		res.Half2 = newStream(r.d)
	}
	var firstErr error
	for w := 0; w < workers; w++ {
		p := <-results
		if p.err != nil {
			if firstErr == nil {
				firstErr = p.err
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		if err := res.Full.accumulate(p.full); err != nil {
			return nil, err
		}
		if res.Half1 != nil {
			if err := res.Half1.accumulate(p.half1); err != nil {
				return nil, err
			}
			if err := res.Half2.accumulate(p.half2); err != nil {
				return nil, err
			}
		}
	}
	if r.cfg.Verbose && total > 0 {
		fmt.Println()
	}
	if firstErr != nil {
		return nil, firstErr
	}

	res.Full.Weights.ReplaceZeros(1)
	if res.Half1 != nil {
		res.Half1.Weights.ReplaceZeros(1)
		res.Half2.Weights.ReplaceZeros(1)
	}
	res.Processed = total
	res.Elapsed = time.Since(start)
	return res, nil
}

// selectIndices builds the ordered image index list after applying the
// explicit subset, the prefix restriction, and the tilt-count filter.
func (r *Reconstructor) selectIndices() ([]int, error) {
	n := r.images.Len()
	var base []int
	if r.cfg.Indices != nil {
		for _, ii := range r.cfg.Indices {
			if ii < 0 || ii >= n {
				return nil, fmt.Errorf("image index %d out of range [0, %d)", ii, n)
			}
		}
		base = append([]int(nil), r.cfg.Indices...)
	} else {
		base = make([]int, n)
		for i := range base {
			base[i] = i
		}
	}

	if r.cfg.First > 0 && r.cfg.First < len(base) {
		base = base[:r.cfg.First]
	}

	if r.cfg.Tilt.Enabled {
		kept := base[:0]
		for _, ii := range base {
			if r.cfg.Tilt.Numbers[ii] < r.cfg.Tilt.NTilts {
				kept = append(kept, ii)
			}
		}
		base = kept
	}
	return base, nil
}

// processImage transforms image ii into its masked Hartley plane,
// applies CTF, shift, and dose weighting, and splats it into the given
// streams. The half streams may be nil.
func (r *Reconstructor) processImage(ii int, full, half1, half2 *Stream) error {
	img, err := r.images.Image(ii)
	if err != nil {
		return err
	}
	if len(img) != r.n*r.n {
		return fmt.Errorf("got %d samples, want %d", len(img), r.n*r.n)
	}

	ht := volume.HT2Center(img, r.n)
	if !r.cfg.Uninvert {
		floats.Scale(-1, ht)
	}
	ff, err := r.mask.Apply(volume.SymmetrizeHT(ht, r.n))
	if err != nil {
		return err
	}

	var ctfMul []float64
	var freqs []float64
	if r.ctfs != nil {
		params := r.ctfs[ii]
		if r.cfg.Tilt.Enabled {
			scale := ctf.TiltScaleFactor(r.cfg.Tilt.Numbers[ii], r.cfg.Tilt.AnglePerTilt)
			if params.ScaleFactor != 0 {
				scale *= params.ScaleFactor
			}
			params.ScaleFactor = scale
		}

		freqs = make([]float64, len(r.mask.Freqs))
		floats.ScaleTo(freqs, 1/params.Apix, r.mask.Freqs)
		c := ctf.Compute(freqs, params)

		if r.cfg.CTFMode == CTFFlip {
			for q, cv := range c {
				switch {
				case cv < 0:
					ff[q] = -ff[q]
				case cv == 0:
					ff[q] = 0
				}
			}
		} else {
			ctfMul = c
		}
	}

	p, err := r.poses.Pose(ii)
	if err != nil {
		return err
	}
	if p.HasTrans {
		ff, err = r.mask.TranslateHT(ff, p.TransX, p.TransY)
		if err != nil {
			return err
		}
	}

	if r.cfg.Tilt.Enabled {
		dose := float64(r.cfg.Tilt.Numbers[ii]) * r.cfg.Tilt.DosePerTilt
		filter := ctf.DoseFilter(freqs, dose, r.voltage)
		if ctfMul == nil {
			ctfMul = filter
		} else {
			floats.Mul(ctfMul, filter)
		}
	}

	coords := r.mask.Rotate(p.Rotation)
	if err := AddSlice(full.Values, full.Weights, coords, ff, ctfMul); err != nil {
		return err
	}
	if half1 != nil {
		if ii%2 == 0 {
			return AddSlice(half1.Values, half1.Weights, coords, ff, ctfMul)
		}
		return AddSlice(half2.Values, half2.Weights, coords, ff, ctfMul)
	}
	return nil
}

// LoadTiltNumbers reads per-image tilt indices from a text file, one
// integer per line, skipping blank lines and # comments.
func LoadTiltNumbers(path string) ([]int, error) {
	return loadIntColumn(path, "tilt number")
}

// LoadIndices reads an image index subset from a text file in the same
// one-integer-per-line format.
func LoadIndices(path string) ([]int, error) {
	return loadIntColumn(path, "image index")
}

func loadIntColumn(path, what string) ([]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s file: %w", what, err)
	}
	defer file.Close()

	var nums []int
	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("line %d: %s must not be negative, got %d", lineno, what, v)
		}
		nums = append(nums, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s file: %w", what, err)
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("no %s entries found in %s", what, path)
	}
	return nums, nil
}
