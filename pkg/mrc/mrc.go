// Package mrc reads and writes volumes and image stacks in the MRC2014
// format used across electron microscopy software. Files carry a fixed
// 1024-byte little-endian header followed by the raw section data.
package mrc

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Data modes from the MRC2014 standard.
const (
	ModeInt8    = 0
	ModeInt16   = 1
	ModeFloat32 = 2
	ModeUint16  = 6
)

// HeaderSize is the fixed byte length of an MRC header.
const HeaderSize = 1024

// Header mirrors the on-disk MRC2014 header layout. Field order and
// widths match the standard, so the struct can be serialized directly.
type Header struct {
	NX, NY, NZ                int32
	Mode                      int32
	NXStart, NYStart, NZStart int32
	MX, MY, MZ                int32
	CellA                     [3]float32
	CellB                     [3]float32
	MapC, MapR, MapS          int32
	DMin, DMax, DMean         float32
	ISPG                      int32
	NSymBT                    int32
	Extra                     [100]byte
	Origin                    [3]float32
	MapString                 [4]byte
	MachineStamp              [4]byte
	RMS                       float32
	NLabl                     int32
	Labels                    [800]byte
}

// Apix returns the pixel size in angstroms encoded in the cell
// dimensions, defaulting to 1 when the header carries no cell.
func (h *Header) Apix() float64 {
	if h.NX > 0 && h.CellA[0] > 0 {
		return float64(h.CellA[0]) / float64(h.NX)
	}
	return 1
}

func (h *Header) sectionBytes() (int, error) {
	var elem int
	switch h.Mode {
	case ModeInt8:
		elem = 1
	case ModeInt16, ModeUint16:
		elem = 2
	case ModeFloat32:
		elem = 4
	default:
		return 0, fmt.Errorf("unsupported mrc mode %d", h.Mode)
	}
	return int(h.NX) * int(h.NY) * elem, nil
}

// newHeader fills a header for float32 data with the given dimensions.
// Volumes get space group 1, image stacks 0.
func newHeader(nx, ny, nz int, apix float64, isVolume bool, data []float64) Header {
	h := Header{
		NX:   int32(nx),
		NY:   int32(ny),
		NZ:   int32(nz),
		Mode: ModeFloat32,
		MX:   int32(nx),
		MY:   int32(ny),
		MZ:   int32(nz),
		CellA: [3]float32{
			float32(apix * float64(nx)),
			float32(apix * float64(ny)),
			float32(apix * float64(nz)),
		},
		CellB:        [3]float32{90, 90, 90},
		MapC:         1,
		MapR:         2,
		MapS:         3,
		MapString:    [4]byte{'M', 'A', 'P', ' '},
		MachineStamp: [4]byte{0x44, 0x44, 0x00, 0x00},
	}
	if isVolume {
		h.ISPG = 1
	}
	if len(data) > 0 {
		lo, hi := data[0], data[0]
		for _, v := range data {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		h.DMin = float32(lo)
		h.DMax = float32(hi)
		h.DMean = float32(stat.Mean(data, nil))
		h.RMS = float32(stat.PopStdDev(data, nil))
	}
	return h
}
