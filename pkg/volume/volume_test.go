package volume

import (
	"math"
	"testing"
)

func TestGridIndex(t *testing.T) {
	g := NewGrid(3)

	tests := []struct {
		name    string
		x, y, z int
		want    int
	}{
		{"origin", 0, 0, 0, 0},
		{"x fastest", 1, 0, 0, 1},
		{"y stride", 0, 1, 0, 3},
		{"z slowest", 0, 0, 1, 9},
		{"last voxel", 2, 2, 2, 26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Index(tt.x, tt.y, tt.z); got != tt.want {
				t.Errorf("Index(%d,%d,%d) = %d, want %d", tt.x, tt.y, tt.z, got, tt.want)
			}
		})
	}
}

func TestGridAccumulate(t *testing.T) {
	a := NewGrid(2)
	b := NewGrid(2)
	for i := range a.Data {
		a.Data[i] = float64(i)
		b.Data[i] = 10
	}

	if err := a.Accumulate(b); err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	for i, v := range a.Data {
		want := float64(i) + 10
		if v != want {
			t.Errorf("voxel %d = %v, want %v", i, v, want)
		}
	}

	c := NewGrid(3)
	if err := a.Accumulate(c); err == nil {
		t.Error("expected error accumulating grids of different sizes")
	}
}

func TestGridReplaceZeros(t *testing.T) {
	g := NewGrid(2)
	g.Data[0] = 5
	g.Data[3] = 2

	replaced := g.ReplaceZeros(1)
	if replaced != 6 {
		t.Errorf("ReplaceZeros reported %d voxels, want 6", replaced)
	}
	for i, v := range g.Data {
		if v == 0 {
			t.Errorf("voxel %d still zero after ReplaceZeros", i)
		}
	}
	if g.Data[0] != 5 || g.Data[3] != 2 {
		t.Error("ReplaceZeros modified nonzero voxels")
	}
}

func TestGridTrim(t *testing.T) {
	g := NewGrid(3)
	for z := 0; z < 3; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				g.Data[g.Index(x, y, z)] = float64(100*z + 10*y + x)
			}
		}
	}

	trimmed := g.Trim()
	if len(trimmed) != 8 {
		t.Fatalf("Trim returned %d voxels, want 8", len(trimmed))
	}
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				got := trimmed[(z*2+y)*2+x]
				want := float64(100*z + 10*y + x)
				if got != want {
					t.Errorf("trimmed voxel (%d,%d,%d) = %v, want %v", x, y, z, got, want)
				}
			}
		}
	}
}

func TestFromData(t *testing.T) {
	if _, err := FromData(make([]float64, 7), 2, 1.0); err == nil {
		t.Error("expected error for data not matching n^3")
	}

	v, err := FromData(make([]float64, 8), 2, 1.5)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	if v.N != 2 || v.Apix != 1.5 {
		t.Errorf("got N=%d Apix=%v, want N=2 Apix=1.5", v.N, v.Apix)
	}
}

func TestVolumeInvert(t *testing.T) {
	v := NewVolume(2, 1.0)
	for i := range v.Data {
		v.Data[i] = float64(i) - 3
	}
	orig := v.Copy()

	v.Invert()
	for i := range v.Data {
		if v.Data[i] != -orig.Data[i] {
			t.Errorf("voxel %d = %v, want %v", i, v.Data[i], -orig.Data[i])
		}
	}
}

func TestVolumeMasked(t *testing.T) {
	v := NewVolume(2, 1.0)
	for i := range v.Data {
		v.Data[i] = 2
	}
	mask := make([]float64, 8)
	mask[0] = 1
	mask[5] = 0.5

	masked, err := v.Masked(mask)
	if err != nil {
		t.Fatalf("Masked failed: %v", err)
	}
	if masked.Data[0] != 2 || masked.Data[5] != 1 {
		t.Errorf("masked voxels = %v, %v, want 2, 1", masked.Data[0], masked.Data[5])
	}
	for _, i := range []int{1, 2, 3, 4, 6, 7} {
		if masked.Data[i] != 0 {
			t.Errorf("voxel %d = %v outside mask, want 0", i, masked.Data[i])
		}
	}
	if v.Data[0] != 2 {
		t.Error("Masked modified the source volume")
	}

	if _, err := v.Masked(make([]float64, 3)); err == nil {
		t.Error("expected error for mask of wrong size")
	}
}

func TestVolumeCopy(t *testing.T) {
	v := NewVolume(2, 2.5)
	v.Data[3] = 7

	c := v.Copy()
	c.Data[3] = 9
	if v.Data[3] != 7 {
		t.Error("Copy shares storage with the source volume")
	}
	if c.N != v.N || c.Apix != v.Apix {
		t.Error("Copy lost volume metadata")
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
