package volume

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
)

// ExtractSlice renders a single plane of the volume as a 16-bit grayscale
// image. The axis names the normal of the plane, so "z" produces an XY
// view. Intensities are stretched linearly between the volume minimum and
// maximum.
func (v *Volume) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 || position >= v.N {
		return nil, fmt.Errorf("position %d outside volume of side %d", position, v.N)
	}

	lo, hi := v.intensityRange()
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}
	gray := func(val float64) color.Gray16 {
		return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, (val-lo)*scale)))}
	}

	img := image.NewGray16(image.Rect(0, 0, v.N, v.N))
	switch axis {
	case "x", "X":
		for z := 0; z < v.N; z++ {
			for y := 0; y < v.N; y++ {
				img.SetGray16(y, z, gray(v.Data[v.Index(position, y, z)]))
			}
		}
	case "y", "Y":
		for z := 0; z < v.N; z++ {
			for x := 0; x < v.N; x++ {
				img.SetGray16(x, z, gray(v.Data[v.Index(x, position, z)]))
			}
		}
	case "z", "Z":
		for y := 0; y < v.N; y++ {
			for x := 0; x < v.N; x++ {
				img.SetGray16(x, y, gray(v.Data[v.Index(x, y, position)]))
			}
		}
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// WritePreviews saves the three central orthogonal slices of the volume as
// PNG images named <prefix>_x.png, <prefix>_y.png and <prefix>_z.png.
func (v *Volume) WritePreviews(prefix string) error {
	center := v.N / 2
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, center)
		if err != nil {
			return err
		}
		if err := writePNG(fmt.Sprintf("%s_%s.png", prefix, axis), img); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(filename string, img image.Image) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

func (v *Volume) intensityRange() (lo, hi float64) {
	lo = math.Inf(1)
	hi = math.Inf(-1)
	for _, val := range v.Data {
		if val < lo {
			lo = val
		}
		if val > hi {
			hi = val
		}
	}
	return lo, hi
}
