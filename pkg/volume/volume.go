// Package volume provides the voxel-grid containers and the centered
// discrete transforms used by the backprojection pipeline. Accumulation
// happens on Grid pairs in Hartley space; finished maps are Volume values
// in real space.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Grid is a cubic D x D x D array of Hartley-space coefficients stored
// flat in z-major order: index = (z*D + y)*D + x. The frequency origin
// sits at voxel (D/2, D/2, D/2). Reconstruction streams keep two
// co-indexed grids, one for accumulated values and one for accumulated
// weights; both are mutated only by additive splatting, so grids from
// independent workers can be summed in any order.
type Grid struct {
	// D is the side length of the grid in voxels.
	D int

	// Data holds the coefficients in z-major order, length D^3.
	Data []float64
}

// NewGrid returns a zeroed cubic grid with side length d.
func NewGrid(d int) *Grid {
	return &Grid{
		D:    d,
		Data: make([]float64, d*d*d),
	}
}

// Index returns the flat offset of voxel (x, y, z).
func (g *Grid) Index(x, y, z int) int {
	return (z*g.D+y)*g.D + x
}

// Accumulate adds other elementwise into g. The grids must have the same
// side length.
func (g *Grid) Accumulate(other *Grid) error {
	if other.D != g.D {
		return fmt.Errorf("grid size mismatch: %d vs %d", other.D, g.D)
	}
	floats.Add(g.Data, other.Data)
	return nil
}

// ReplaceZeros substitutes v for every exactly-zero entry and reports how
// many entries were replaced. It is applied to weight grids after
// accumulation so that the regularized division never divides by zero;
// the affected voxels carry zero signal and regularize to zero density.
func (g *Grid) ReplaceZeros(v float64) int {
	n := 0
	for i, w := range g.Data {
		if w == 0 {
			g.Data[i] = v
			n++
		}
	}
	return n
}

// Trim drops the final index along each axis, returning the (D-1)^3
// coefficients as a flat array. The accumulation grid carries a
// duplicated +Nyquist plane from the symmetrized image lattice; trimming
// restores the plain even-sized centered layout expected by the inverse
// transform.
func (g *Grid) Trim() []float64 {
	n := g.D - 1
	out := make([]float64, n*n*n)
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			src := g.Index(0, y, z)
			dst := (z*n + y) * n
			copy(out[dst:dst+n], g.Data[src:src+n])
		}
	}
	return out
}

// Volume is a real-space density map of side length N with an associated
// pixel size in Angstrom.
type Volume struct {
	N    int
	Apix float64
	Data []float64
}

// NewVolume returns a zeroed volume of side length n with pixel size apix.
func NewVolume(n int, apix float64) *Volume {
	return &Volume{
		N:    n,
		Apix: apix,
		Data: make([]float64, n*n*n),
	}
}

// FromData wraps an existing flat z-major array as a Volume. The length
// of data must be n^3.
func FromData(data []float64, n int, apix float64) (*Volume, error) {
	if len(data) != n*n*n {
		return nil, fmt.Errorf("volume data length %d does not match side %d", len(data), n)
	}
	return &Volume{N: n, Apix: apix, Data: data}, nil
}

// Copy returns a deep copy of the volume.
func (v *Volume) Copy() *Volume {
	out := NewVolume(v.N, v.Apix)
	copy(out.Data, v.Data)
	return out
}

// Index returns the flat offset of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return (z*v.N+y)*v.N + x
}

// Invert flips the sign of every voxel, inverting the density contrast.
func (v *Volume) Invert() {
	floats.Scale(-1, v.Data)
}

// Masked returns a copy of the volume multiplied elementwise by mask,
// which must have length N^3. A nil mask returns a plain copy.
func (v *Volume) Masked(mask []float64) (*Volume, error) {
	out := v.Copy()
	if mask == nil {
		return out, nil
	}
	if len(mask) != len(out.Data) {
		return nil, fmt.Errorf("mask length %d does not match volume %d", len(mask), len(out.Data))
	}
	floats.Mul(out.Data, mask)
	return out, nil
}
