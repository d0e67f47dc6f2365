// Package masking builds the real-space masks applied to half-maps
// before shell correlation: a hard spherical window and soft masks grown
// from a binarized volume by dilation with a cosine edge falloff.
package masking

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// Spherical returns a binary mask of side n that is 1 strictly inside the
// largest ball fitting the cube and 0 elsewhere. Coordinates are
// normalized so the cube spans [-1, 1] along each axis.
func Spherical(n int) []float64 {
	mask := make([]float64, n*n*n)
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = -1 + 2*float64(i)/float64(n-1)
	}
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				r2 := axis[x]*axis[x] + axis[y]*axis[y] + axis[z]*axis[z]
				if r2 < 1 {
					mask[(z*n+y)*n+x] = 1
				}
			}
		}
	}
	return mask
}

// AutoThreshold returns half the 99.99th percentile of the data, the
// default level for binarizing a density map.
func AutoThreshold(data []float64) float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return stat.Quantile(0.9999, stat.LinInterp, sorted, nil) / 2
}

// CosineDilation binarizes the volume at the threshold, dilates the body
// by dilationAng angstroms, then rolls the edge off to zero with a cosine
// profile over edgeAng angstroms. Distances are converted to voxels using
// the volume's pixel size. The result is a mask in [0, 1] shaped like the
// volume.
func CosineDilation(v *volume.Volume, threshold, dilationAng, edgeAng float64) []float64 {
	n := v.N
	body := make([]bool, len(v.Data))
	for i, val := range v.Data {
		body[i] = val >= threshold
	}

	if dilationAng > 0 {
		radius := dilationAng / v.Apix
		if dist := distanceToBody(body, n); dist != nil {
			for i := range body {
				if dist[i] < radius {
					body[i] = true
				}
			}
		}
	}

	mask := make([]float64, len(body))
	for i, in := range body {
		if in {
			mask[i] = 1
		}
	}

	if edgeAng > 0 {
		edge := edgeAng / v.Apix
		if dist := distanceToBody(body, n); dist != nil {
			for i, in := range body {
				if !in && dist[i] < edge {
					mask[i] = (1 + math.Cos(math.Pi*dist[i]/edge)) / 2
				}
			}
		}
	}
	return mask
}

// distanceToBody computes, for every voxel, the Euclidean distance to the
// nearest body voxel (0 inside the body). Only face-exposed body voxels
// can be nearest to an outside voxel, so the search tree holds just the
// body surface. Returns nil when the body is empty.
func distanceToBody(body []bool, n int) []float64 {
	at := func(x, y, z int) bool {
		return body[(z*n+y)*n+x]
	}
	exposed := func(x, y, z int) bool {
		return x == 0 || !at(x-1, y, z) || x == n-1 || !at(x+1, y, z) ||
			y == 0 || !at(x, y-1, z) || y == n-1 || !at(x, y+1, z) ||
			z == 0 || !at(x, y, z-1) || z == n-1 || !at(x, y, z+1)
	}

	var surface sites
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				if at(x, y, z) && exposed(x, y, z) {
					surface = append(surface, site{float64(x), float64(y), float64(z)})
				}
			}
		}
	}
	if len(surface) == 0 {
		return nil
	}
	tree := kdtree.New(surface, true)

	dist := make([]float64, len(body))
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	slab := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		z0 := w * slab
		z1 := z0 + slab
		if z1 > n {
			z1 = n
		}
		if z0 >= z1 {
			continue
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			for z := z0; z < z1; z++ {
				for y := 0; y < n; y++ {
					for x := 0; x < n; x++ {
						i := (z*n+y)*n + x
						if body[i] {
							continue
						}
						_, d2 := tree.Nearest(site{float64(x), float64(y), float64(z)})
						dist[i] = math.Sqrt(d2)
					}
				}
			}
		}(z0, z1)
	}
	wg.Wait()
	return dist
}

// site is a voxel position in the surface search tree. Distance returns
// the squared Euclidean separation.
type site struct {
	x, y, z float64
}

func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(site)
	switch d {
	case 0:
		return s.x - q.x
	case 1:
		return s.y - q.y
	case 2:
		return s.z - q.z
	default:
		panic("illegal dimension")
	}
}

func (s site) Dims() int { return 3 }

func (s site) Distance(c kdtree.Comparable) float64 {
	q := c.(site)
	dx := s.x - q.x
	dy := s.y - q.y
	dz := s.z - q.z
	return dx*dx + dy*dy + dz*dz
}

// sites satisfies kdtree.Interface for building the surface tree.
type sites []site

func (s sites) Index(i int) kdtree.Comparable         { return s[i] }
func (s sites) Len() int                              { return len(s) }
func (s sites) Slice(start, end int) kdtree.Interface { return s[start:end] }

func (s sites) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(sitePlane{sites: s, Dim: d}, kdtree.MedianOfRandoms(sitePlane{sites: s, Dim: d}, 100))
}

// sitePlane implements sort.Interface and kdtree.SortSlicer over one axis.
type sitePlane struct {
	sites
	kdtree.Dim
}

func (p sitePlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.sites[i].x < p.sites[j].x
	case 1:
		return p.sites[i].y < p.sites[j].y
	case 2:
		return p.sites[i].z < p.sites[j].z
	default:
		panic("illegal dimension")
	}
}

func (p sitePlane) Slice(start, end int) kdtree.SortSlicer {
	return sitePlane{sites: p.sites[start:end], Dim: p.Dim}
}

func (p sitePlane) Swap(i, j int) {
	p.sites[i], p.sites[j] = p.sites[j], p.sites[i]
}
