// Package pose manages per-image orientations and in-plane shifts.
package pose

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Pose is one image's orientation and optional shift. The rotation maps
// the untilted frequency plane into the 3D spectrum; translations are in
// pixels.
type Pose struct {
	Rotation *mat.Dense
	TransX   float64
	TransY   float64
	HasTrans bool
}

// Catalog holds the poses for an image stack in stack order.
type Catalog struct {
	Poses           []Pose
	HasTranslations bool
}

// Len reports the number of poses.
func (c *Catalog) Len() int {
	return len(c.Poses)
}

// Pose returns the pose for image i.
func (c *Catalog) Pose(i int) (Pose, error) {
	if i < 0 || i >= len(c.Poses) {
		return Pose{}, fmt.Errorf("pose index %d out of range [0, %d)", i, len(c.Poses))
	}
	return c.Poses[i], nil
}

// Load reads poses from a whitespace-delimited text file. Each
// non-comment line holds the nine entries of a row-major 3x3 rotation
// matrix, optionally followed by two pixel translations. All lines must
// agree on whether translations are present. Every rotation is checked
// for orthonormality and positive determinant.
func Load(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening poses: %w", err)
	}
	defer file.Close()

	cat := &Catalog{}
	first := true
	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 9 && len(fields) != 11 {
			return nil, fmt.Errorf("line %d: expected 9 or 11 columns, got %d", lineno, len(fields))
		}
		hasTrans := len(fields) == 11
		if first {
			cat.HasTranslations = hasTrans
			first = false
		} else if hasTrans != cat.HasTranslations {
			return nil, fmt.Errorf("line %d: inconsistent translation columns", lineno)
		}

		vals := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %d: %w", lineno, i+1, err)
			}
			vals[i] = v
		}

		rot := mat.NewDense(3, 3, vals[:9])
		if err := checkRotation(rot); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		p := Pose{Rotation: rot, HasTrans: hasTrans}
		if hasTrans {
			p.TransX = vals[9]
			p.TransY = vals[10]
		}
		cat.Poses = append(cat.Poses, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading poses: %w", err)
	}
	if len(cat.Poses) == 0 {
		return nil, fmt.Errorf("no poses found in %s", path)
	}
	return cat, nil
}

// checkRotation verifies R^T R = I within tolerance and det(R) > 0. Text
// catalogs carry rounded entries, so the tolerance is loose.
func checkRotation(r *mat.Dense) error {
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(rtr.At(i, j)-want) > 1e-4 {
				return fmt.Errorf("rotation is not orthonormal")
			}
		}
	}
	if mat.Det(r) < 0 {
		return fmt.Errorf("rotation has negative determinant")
	}
	return nil
}

// RandomRotations samples n rotation matrices by orthonormalizing
// Gaussian matrices with a QR decomposition, fixing signs so each result
// has determinant +1. The same seed reproduces the same sequence.
func RandomRotations(n int, seed uint64) []*mat.Dense {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}

	out := make([]*mat.Dense, n)
	for k := 0; k < n; k++ {
		raw := make([]float64, 9)
		for i := range raw {
			raw[i] = normal.Rand()
		}

		var qr mat.QR
		qr.Factorize(mat.NewDense(3, 3, raw))
		var q, r mat.Dense
		qr.QTo(&q)
		qr.RTo(&r)

		// Absorb the sign of R's diagonal into Q, then force det +1.
		for j := 0; j < 3; j++ {
			if r.At(j, j) < 0 {
				for i := 0; i < 3; i++ {
					q.Set(i, j, -q.At(i, j))
				}
			}
		}
		if mat.Det(&q) < 0 {
			for i := 0; i < 3; i++ {
				q.Set(i, 0, -q.At(i, 0))
			}
		}
		out[k] = &q
	}
	return out
}
