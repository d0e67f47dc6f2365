package backproject

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// AddSlice splats one image's masked coefficients into a value grid and
// its co-indexed weight grid. coords holds one rotated (x, y, z) triple
// per coefficient in signed voxel units; ctfMul is an optional
// per-coefficient weight, nil meaning 1 everywhere.
//
// Each coordinate is clipped componentwise to the grid radius, then the
// eight floor/ceil corner combinations around it are accumulated with
// weight max(0, 1-dist), where dist is the Euclidean distance from the
// corner to the sample. On-lattice samples along an axis collapse
// floor and ceil onto the same voxel, which then receives that corner
// pair's contribution twice.
func AddSlice(values, weights *volume.Grid, coords, ff, ctfMul []float64) error {
	if values.D != weights.D {
		return fmt.Errorf("grid sizes differ: %d vs %d", values.D, weights.D)
	}
	if len(coords) != 3*len(ff) {
		return fmt.Errorf("got %d coordinates for %d coefficients", len(coords), len(ff))
	}
	if ctfMul != nil && len(ctfMul) != len(ff) {
		return fmt.Errorf("got %d ctf weights for %d coefficients", len(ctfMul), len(ff))
	}

	d := values.D
	d2 := d / 2
	lo, hi := -float64(d2), float64(d2)
	for q, v := range ff {
		x := clip(coords[3*q], lo, hi)
		y := clip(coords[3*q+1], lo, hi)
		z := clip(coords[3*q+2], lo, hi)

		cm := 1.0
		if ctfMul != nil {
			cm = ctfMul[q]
		}
		val := v * cm
		wgt := cm * cm

		xs := [2]int{int(math.Floor(x)), int(math.Ceil(x))}
		ys := [2]int{int(math.Floor(y)), int(math.Ceil(y))}
		zs := [2]int{int(math.Floor(z)), int(math.Ceil(z))}
		for _, zi := range zs {
			dz := float64(zi) - z
			for _, yi := range ys {
				dy := float64(yi) - y
				row := ((zi+d2)*d + yi + d2) * d
				for _, xi := range xs {
					dx := float64(xi) - x
					w := 1 - math.Sqrt(dx*dx+dy*dy+dz*dz)
					if w <= 0 {
						continue
					}
					values.Data[row+xi+d2] += w * val
					weights.Data[row+xi+d2] += w * wgt
				}
			}
		}
	}
	return nil
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RegularizeVolume divides accumulated values by smoothed weights and
// inverts the result to real space. The weight grid is regularized by
// adding regWeight times its mean and rescaling so the mean is
// unchanged; this suppresses noise in sparsely covered voxels without
// dimming the well-covered ones. The duplicated far plane of the
// accumulation lattice is trimmed before inversion, so the returned
// volume has side length D-1.
func RegularizeVolume(values, weights *volume.Grid, regWeight, apix float64) (*volume.Volume, error) {
	if values.D != weights.D {
		return nil, fmt.Errorf("grid sizes differ: %d vs %d", values.D, weights.D)
	}
	if values.D%2 == 0 {
		return nil, fmt.Errorf("accumulation grid side must be odd, got %d", values.D)
	}

	mean := stat.Mean(weights.Data, nil)
	if mean == 0 {
		return nil, fmt.Errorf("weight grid holds no accumulated signal")
	}

	reg := make([]float64, len(weights.Data))
	for i, w := range weights.Data {
		reg[i] = w + regWeight*mean
	}
	scale := mean / stat.Mean(reg, nil)

	quot := volume.NewGrid(values.D)
	for i, v := range values.Data {
		quot.Data[i] = v / (reg[i] * scale)
	}

	n := values.D - 1
	data := volume.IHT3Center(quot.Trim(), n)
	return volume.FromData(data, n, apix)
}
