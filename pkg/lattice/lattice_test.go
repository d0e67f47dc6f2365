package lattice

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewRejectsEvenSide(t *testing.T) {
	if _, err := New(4); err == nil {
		t.Error("expected error for even side length")
	}
}

func TestCoordsLayout(t *testing.T) {
	l, err := New(5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name  string
		i, j  int
		wantX float64
		wantY float64
	}{
		{"corner", 0, 0, -2, -2},
		{"center", 2, 2, 0, 0},
		{"x fastest", 1, 3, 1, -1},
		{"far corner", 4, 4, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := (tt.i*5 + tt.j) * 3
			if l.Coords[p] != tt.wantX || l.Coords[p+1] != tt.wantY || l.Coords[p+2] != 0 {
				t.Errorf("coords(%d,%d) = (%v,%v,%v), want (%v,%v,0)",
					tt.i, tt.j, l.Coords[p], l.Coords[p+1], l.Coords[p+2], tt.wantX, tt.wantY)
			}
		})
	}
}

func TestCircularMask(t *testing.T) {
	l, err := New(5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m := l.CircularMask(2)
	if m.Len() != 13 {
		t.Errorf("mask selected %d points, want 13", m.Len())
	}
	for q := 0; q < m.Len(); q++ {
		x := m.Coords[q*3]
		y := m.Coords[q*3+1]
		if x*x+y*y > 4 {
			t.Errorf("point %d at (%v,%v) outside radius 2", q, x, y)
		}
	}

	// Packed order pairs index q with len-1-q at negated coordinates.
	last := m.Len() - 1
	for q := 0; q <= last; q++ {
		if m.Coords[q*3] != -m.Coords[(last-q)*3] || m.Coords[q*3+1] != -m.Coords[(last-q)*3+1] {
			t.Errorf("point %d not mirrored by point %d", q, last-q)
		}
	}
}

func TestMaskFreqs(t *testing.T) {
	l, err := New(9)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m := l.CircularMask(4)
	for q := 0; q < m.Len(); q++ {
		wantX := m.Coords[q*3] / 8
		wantY := m.Coords[q*3+1] / 8
		if m.Freqs[q*2] != wantX || m.Freqs[q*2+1] != wantY {
			t.Errorf("freq %d = (%v,%v), want (%v,%v)",
				q, m.Freqs[q*2], m.Freqs[q*2+1], wantX, wantY)
		}
	}
	if math.Abs(m.Freqs[0]) > 0.5 {
		t.Errorf("frequencies exceed Nyquist: %v", m.Freqs[0])
	}
}

func TestApply(t *testing.T) {
	l, err := New(5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := l.CircularMask(2)

	plane := make([]float64, 25)
	for i := range plane {
		plane[i] = float64(i)
	}
	packed, err := m.Apply(plane)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for q, p := range m.Indices {
		if packed[q] != float64(p) {
			t.Errorf("packed[%d] = %v, want %v", q, packed[q], float64(p))
		}
	}

	if _, err := m.Apply(make([]float64, 7)); err == nil {
		t.Error("expected error for plane of wrong size")
	}
}

func TestRotate(t *testing.T) {
	l, err := New(5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := l.CircularMask(2)

	t.Run("identity", func(t *testing.T) {
		identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
		out := m.Rotate(identity)
		for i := range out {
			if out[i] != m.Coords[i] {
				t.Fatalf("component %d = %v under identity, want %v", i, out[i], m.Coords[i])
			}
		}
	})

	t.Run("quarter turn about z", func(t *testing.T) {
		rot := mat.NewDense(3, 3, []float64{0, 1, 0, -1, 0, 0, 0, 0, 1})
		out := m.Rotate(rot)
		for q := 0; q < m.Len(); q++ {
			x := m.Coords[q*3]
			y := m.Coords[q*3+1]
			if out[q*3] != -y || out[q*3+1] != x || out[q*3+2] != 0 {
				t.Fatalf("point (%v,%v) rotated to (%v,%v,%v), want (%v,%v,0)",
					x, y, out[q*3], out[q*3+1], out[q*3+2], -y, x)
			}
		}
	})
}

func TestTranslateHT(t *testing.T) {
	l, err := New(9)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := l.CircularMask(4)

	rng := rand.New(rand.NewSource(1))
	ff := make([]float64, m.Len())
	for i := range ff {
		ff[i] = rng.NormFloat64()
	}

	t.Run("zero shift is identity", func(t *testing.T) {
		out, err := m.TranslateHT(ff, 0, 0)
		if err != nil {
			t.Fatalf("TranslateHT failed: %v", err)
		}
		for i := range ff {
			if out[i] != ff[i] {
				t.Fatalf("sample %d = %v after zero shift, want %v", i, out[i], ff[i])
			}
		}
	})

	t.Run("shift then unshift restores input", func(t *testing.T) {
		shifted, err := m.TranslateHT(ff, 1.25, -0.5)
		if err != nil {
			t.Fatalf("TranslateHT failed: %v", err)
		}
		back, err := m.TranslateHT(shifted, -1.25, 0.5)
		if err != nil {
			t.Fatalf("TranslateHT failed: %v", err)
		}
		for i := range ff {
			if math.Abs(back[i]-ff[i]) > 1e-12 {
				t.Fatalf("sample %d = %v after round trip, want %v", i, back[i], ff[i])
			}
		}
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		if _, err := m.TranslateHT(ff[:3], 1, 1); err == nil {
			t.Error("expected error for vector of wrong length")
		}
	})
}
