// Package fsc measures the agreement of two half-map reconstructions by
// Fourier shell correlation and converts threshold crossings of the
// resulting curves into resolution estimates.
package fsc

import (
	"bufio"
	"fmt"
	"math"
	"math/cmplx"
	"os"

	"golang.org/x/exp/rand"

	"github.com/mhanson2019/cryodrgn/pkg/masking"
	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// Correlation cutoffs in common use: 0.5 for comparisons against an
// independent reference and 0.143 for half-map estimates.
const (
	CutoffHalf = 0.5
	CutoffGold = 0.143
)

// Curve is a shell correlation curve for volumes of side N. Values[r]
// holds the correlation over the frequency shell r-1 <= |k| < r in
// voxel units; Values[0] is 1 by convention. A curve has N/2 entries.
type Curve struct {
	N      int
	Values []float64
}

// PixRes returns the spatial frequency of bin i in cycles per pixel.
func (c *Curve) PixRes(i int) float64 {
	return float64(i) / float64(c.N)
}

// Threshold returns the fractional bin index at which the curve first
// drops below cutoff, interpolated linearly between the bracketing
// shells. ok is false when the curve stays at or above cutoff all the
// way to Nyquist.
func (c *Curve) Threshold(cutoff float64) (bin float64, ok bool) {
	for i := 1; i < len(c.Values); i++ {
		if c.Values[i] < cutoff {
			prev := c.Values[i-1]
			return float64(i-1) + (prev-cutoff)/(prev-c.Values[i]), true
		}
	}
	return 0, false
}

// ResolutionAngstrom converts a fractional crossing bin into Angstrom
// for the given pixel size. A zero bin maps to +Inf.
func (c *Curve) ResolutionAngstrom(bin, apix float64) float64 {
	if bin == 0 {
		return math.Inf(1)
	}
	return apix * float64(c.N) / bin
}

// Options controls a single correlation run.
type Options struct {
	// Mask multiplies both volumes elementwise before the transform.
	// Nil means no mask.
	Mask []float64

	// RandomizePhases replaces the second volume's Fourier phases on
	// every shell beyond PhaseBin with uniform random values before the
	// mask is applied. Magnitudes are preserved and conjugate pairs
	// receive opposite phases, so the randomized volume stays real. The
	// resulting curve shows how much high-frequency correlation the
	// mask alone induces.
	RandomizePhases bool
	PhaseBin        float64
	Seed            uint64
}

// Calculate computes the shell correlation curve between two volumes of
// equal even side length:
//
//	fsc[r] = Re(sum a*conj(b)) / sqrt(sum |a|^2 * sum |b|^2)
//
// with the sums running over the voxels of shell r.
func Calculate(a, b *volume.Volume, opts Options) (*Curve, error) {
	if a.N != b.N {
		return nil, fmt.Errorf("volume sizes differ: %d vs %d", a.N, b.N)
	}
	n := a.N
	if n%2 != 0 {
		return nil, fmt.Errorf("volume side must be even, got %d", n)
	}

	vb := b
	if opts.RandomizePhases {
		vb = randomizePhases(b, opts.PhaseBin, opts.Seed)
	}
	ma, err := a.Masked(opts.Mask)
	if err != nil {
		return nil, err
	}
	mb, err := vb.Masked(opts.Mask)
	if err != nil {
		return nil, err
	}

	ca := volume.FFT3Center(ma.Data, n)
	cb := volume.FFT3Center(mb.Data, n)

	bins := n / 2
	sumAB := make([]complex128, bins)
	sumAA := make([]float64, bins)
	sumBB := make([]float64, bins)
	h := n / 2
	for z := 0; z < n; z++ {
		dz := float64(z - h)
		for y := 0; y < n; y++ {
			dy := float64(y - h)
			base := (z*n + y) * n
			for x := 0; x < n; x++ {
				dx := float64(x - h)
				shell := int(math.Sqrt(dx*dx+dy*dy+dz*dz)) + 1
				if shell >= bins {
					continue
				}
				fa := ca[base+x]
				fb := cb[base+x]
				sumAB[shell] += fa * cmplx.Conj(fb)
				sumAA[shell] += real(fa)*real(fa) + imag(fa)*imag(fa)
				sumBB[shell] += real(fb)*real(fb) + imag(fb)*imag(fb)
			}
		}
	}

	values := make([]float64, bins)
	values[0] = 1
	for i := 1; i < bins; i++ {
		denom := math.Sqrt(sumAA[i] * sumBB[i])
		if denom > 0 {
			values[i] = real(sumAB[i]) / denom
		}
	}
	return &Curve{N: n, Values: values}, nil
}

// randomizePhases returns a copy of v whose Fourier phases beyond shell
// radius bin are replaced with uniform random phases.
func randomizePhases(v *volume.Volume, bin float64, seed uint64) *volume.Volume {
	n := v.N
	coef := volume.FFT3Center(v.Data, n)
	rng := rand.New(rand.NewSource(seed))

	conj := func(i int) int { return (n - i) % n }
	h := n / 2
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				p := (z*n+y)*n + x
				q := (conj(z)*n+conj(y))*n + conj(x)
				if q < p {
					continue
				}
				dx, dy, dz := float64(x-h), float64(y-h), float64(z-h)
				if math.Sqrt(dx*dx+dy*dy+dz*dz) <= bin {
					continue
				}
				if q == p {
					// Self-conjugate coefficients are real; a random
					// phase degenerates to a random sign.
					if rng.Float64() < 0.5 {
						coef[p] = -coef[p]
					}
					continue
				}
				mag := cmplx.Abs(coef[p])
				sin, cos := math.Sincos(2 * math.Pi * rng.Float64())
				coef[p] = complex(mag*cos, mag*sin)
				coef[q] = complex(mag*cos, -mag*sin)
			}
		}
	}

	spatial := volume.IFFT3Center(coef, n)
	out := volume.NewVolume(n, v.Apix)
	for i, c := range spatial {
		out.Data[i] = real(c)
	}
	return out
}

// MaskedCurve pairs a curve with the label of the mask it was computed
// under and its crossing of the 0.143 cutoff. Resolution is +Inf when
// the curve never crosses.
type MaskedCurve struct {
	Label      string
	Curve      *Curve
	Bin        float64
	Crossed    bool
	Resolution float64
}

// Estimate is a gold-standard resolution report: one curve per mask in
// the standard series plus the corrected curve that carries the
// headline resolution.
type Estimate struct {
	NoMask    MaskedCurve
	Spherical MaskedCurve
	Loose     MaskedCurve
	Tight     MaskedCurve
	Corrected MaskedCurve
}

// All returns the estimate's curves in reporting order.
func (e *Estimate) All() []MaskedCurve {
	return []MaskedCurve{e.NoMask, e.Spherical, e.Loose, e.Tight, e.Corrected}
}

// GoldStandardOptions sets the mask geometry for GoldStandard. Zero
// values fall back to the conventional defaults: a loose mask dilated
// 25 A with a 15 A edge and a tight mask dilated 6 A with a 6 A edge.
type GoldStandardOptions struct {
	LooseDilation float64
	LooseEdge     float64
	TightDilation float64
	TightEdge     float64
	Seed          uint64
}

// GoldStandard computes the standard masked correlation series between
// two half-maps. The masks are derived from the full reconstruction: a
// spherical window plus auto-thresholded loose and tight dilation
// masks. When the tight-mask curve crosses the 0.143 cutoff, a
// corrected curve is computed with phases randomized beyond 0.75x the
// crossing bin; otherwise the tight curve is reused unchanged.
func GoldStandard(full, half1, half2 *volume.Volume, opts GoldStandardOptions) (*Estimate, error) {
	if full.N != half1.N || full.N != half2.N {
		return nil, fmt.Errorf("volume sizes differ: full %d, halves %d and %d",
			full.N, half1.N, half2.N)
	}
	if opts.LooseDilation == 0 {
		opts.LooseDilation = 25
	}
	if opts.LooseEdge == 0 {
		opts.LooseEdge = 15
	}
	if opts.TightDilation == 0 {
		opts.TightDilation = 6
	}
	if opts.TightEdge == 0 {
		opts.TightEdge = 6
	}

	apix := full.Apix
	threshold := masking.AutoThreshold(full.Data)
	sphere := masking.Spherical(full.N)
	loose := masking.CosineDilation(full, threshold, opts.LooseDilation, opts.LooseEdge)
	tight := masking.CosineDilation(full, threshold, opts.TightDilation, opts.TightEdge)

	est := &Estimate{}
	series := []struct {
		label string
		mask  []float64
		dst   *MaskedCurve
	}{
		{"No Mask", nil, &est.NoMask},
		{"Spherical", sphere, &est.Spherical},
		{"Loose", loose, &est.Loose},
		{"Tight", tight, &est.Tight},
	}
	for _, s := range series {
		curve, err := Calculate(half1, half2, Options{Mask: s.mask})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.label, err)
		}
		*s.dst = newMaskedCurve(s.label, curve, apix)
	}

	if est.Tight.Crossed {
		curve, err := Calculate(half1, half2, Options{
			Mask:            tight,
			RandomizePhases: true,
			PhaseBin:        0.75 * est.Tight.Bin,
			Seed:            opts.Seed,
		})
		if err != nil {
			return nil, fmt.Errorf("corrected: %w", err)
		}
		est.Corrected = newMaskedCurve("Corrected", curve, apix)
	} else {
		est.Corrected = est.Tight
		est.Corrected.Label = "Corrected"
	}
	return est, nil
}

func newMaskedCurve(label string, c *Curve, apix float64) MaskedCurve {
	mc := MaskedCurve{Label: label, Curve: c, Resolution: math.Inf(1)}
	if bin, ok := c.Threshold(CutoffGold); ok {
		mc.Bin = bin
		mc.Crossed = true
		mc.Resolution = c.ResolutionAngstrom(bin, apix)
	}
	return mc
}

// WriteCurve saves a curve as space-delimited text with a header line
// and one "pixres fsc" row per shell.
func WriteCurve(path string, c *Curve) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating fsc table: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "pixres fsc")
	for i, v := range c.Values {
		fmt.Fprintf(w, "%g %g\n", c.PixRes(i), v)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing fsc table: %w", err)
	}
	return f.Close()
}
