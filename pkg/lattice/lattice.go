// Package lattice models the grid of 2D frequency coordinates underlying
// an image stack, and the circular masks used to restrict processing to
// frequencies inside the Nyquist disc.
package lattice

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Lattice enumerates the (x, y, 0) coordinates of a D x D frequency plane
// in pixel units, x varying fastest, spanning -D/2..D/2 inclusive along
// both axes. D must be odd so the plane has an exact center.
type Lattice struct {
	D      int
	Extent int
	Coords []float64
}

// New builds the coordinate lattice for an odd side length d.
func New(d int) (*Lattice, error) {
	if d%2 != 1 {
		return nil, fmt.Errorf("lattice side length must be odd, got %d", d)
	}

	extent := d / 2
	coords := make([]float64, d*d*3)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			p := (i*d + j) * 3
			coords[p] = float64(j - extent)
			coords[p+1] = float64(i - extent)
		}
	}

	return &Lattice{D: d, Extent: extent, Coords: coords}, nil
}

// Mask selects the lattice points within a frequency radius and carries
// the packed per-point data needed to process an image restricted to the
// selection. Packing preserves lattice order, so the point at packed
// index q and the one at index len-1-q sit at negated coordinates.
type Mask struct {
	D       int
	Keep    []bool
	Indices []int
	Coords  []float64
	Freqs   []float64
}

// CircularMask selects all lattice points with |coord| <= radius, in
// pixel units. The packed Coords keep pixel units; Freqs holds the same
// points scaled to cycles per pixel.
func (l *Lattice) CircularMask(radius float64) *Mask {
	r2 := radius * radius
	keep := make([]bool, l.D*l.D)
	count := 0
	for p := range keep {
		x := l.Coords[p*3]
		y := l.Coords[p*3+1]
		if x*x+y*y <= r2 {
			keep[p] = true
			count++
		}
	}

	m := &Mask{
		D:       l.D,
		Keep:    keep,
		Indices: make([]int, 0, count),
		Coords:  make([]float64, 0, count*3),
		Freqs:   make([]float64, 0, count*2),
	}
	norm := 1 / float64(2*l.Extent)
	for p, kept := range keep {
		if !kept {
			continue
		}
		m.Indices = append(m.Indices, p)
		m.Coords = append(m.Coords, l.Coords[p*3], l.Coords[p*3+1], 0)
		m.Freqs = append(m.Freqs, l.Coords[p*3]*norm, l.Coords[p*3+1]*norm)
	}
	return m
}

// Len reports the number of selected lattice points.
func (m *Mask) Len() int {
	return len(m.Indices)
}

// Apply compacts a full D x D plane to the selected points.
func (m *Mask) Apply(plane []float64) ([]float64, error) {
	if len(plane) != m.D*m.D {
		return nil, fmt.Errorf("plane has %d samples, want %d", len(plane), m.D*m.D)
	}
	packed := make([]float64, 0, m.Len())
	for _, p := range m.Indices {
		packed = append(packed, plane[p])
	}
	return packed, nil
}

// Rotate multiplies the packed coordinates by a 3x3 rotation, treating
// each coordinate as a row vector. The result is row-major with three
// components per selected point.
func (m *Mask) Rotate(rot mat.Matrix) []float64 {
	coords := mat.NewDense(m.Len(), 3, m.Coords)
	var out mat.Dense
	out.Mul(coords, rot)
	return out.RawMatrix().Data
}

// TranslateHT shifts the image underlying a packed Hartley vector by
// (tx, ty) pixels using the Hartley shift identity
//
//	H'(k) = cos(2*pi*k*t) H(k) + sin(2*pi*k*t) H(-k)
//
// where H(-k) is found at the mirrored packed index.
func (m *Mask) TranslateHT(ff []float64, tx, ty float64) ([]float64, error) {
	if len(ff) != m.Len() {
		return nil, fmt.Errorf("vector has %d samples, want %d", len(ff), m.Len())
	}
	out := make([]float64, len(ff))
	last := len(ff) - 1
	for q := range ff {
		phase := 2 * math.Pi * (m.Freqs[2*q]*tx + m.Freqs[2*q+1]*ty)
		sin, cos := math.Sincos(phase)
		out[q] = cos*ff[q] + sin*ff[last-q]
	}
	return out, nil
}
