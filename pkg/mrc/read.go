package mrc

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// Stack provides access to the square images of an open .mrcs file.
// Sections are decoded on demand, so a Stack over a large file stays
// cheap until images are requested; Preload pulls everything into memory
// up front instead. Image is safe for concurrent use.
type Stack struct {
	Header Header
	N      int
	D      int
	Apix   float64

	file   *os.File
	secLen int
	eager  [][]float64
}

// Open opens an image stack and parses its header. The images must be
// square.
func Open(path string) (*Stack, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image stack: %w", err)
	}

	var h Header
	if err := binary.Read(file, binary.LittleEndian, &h); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading mrc header: %w", err)
	}
	if h.NX <= 0 || h.NY <= 0 || h.NZ <= 0 {
		file.Close()
		return nil, fmt.Errorf("invalid mrc dimensions %dx%dx%d", h.NX, h.NY, h.NZ)
	}
	if h.NX != h.NY {
		file.Close()
		return nil, fmt.Errorf("stack images must be square, got %dx%d", h.NX, h.NY)
	}
	secLen, err := h.sectionBytes()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Stack{
		Header: h,
		N:      int(h.NZ),
		D:      int(h.NX),
		Apix:   h.Apix(),
		file:   file,
		secLen: secLen,
	}, nil
}

// Len reports the number of images in the stack.
func (s *Stack) Len() int {
	return s.N
}

// Side reports the image side length in pixels.
func (s *Stack) Side() int {
	return s.D
}

// Image reads section i as a row-major float64 image.
func (s *Stack) Image(i int) ([]float64, error) {
	if i < 0 || i >= s.N {
		return nil, fmt.Errorf("image index %d out of range [0,%d)", i, s.N)
	}
	if s.eager != nil {
		return s.eager[i], nil
	}

	raw := make([]byte, s.secLen)
	off := int64(HeaderSize) + int64(s.Header.NSymBT) + int64(i)*int64(s.secLen)
	if _, err := s.file.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("reading image %d: %w", i, err)
	}
	return s.decode(raw), nil
}

// Preload reads every section into memory so later Image calls do no IO.
func (s *Stack) Preload() error {
	eager := make([][]float64, s.N)
	for i := 0; i < s.N; i++ {
		img, err := s.Image(i)
		if err != nil {
			return err
		}
		eager[i] = img
	}
	s.eager = eager
	return nil
}

// Close releases the underlying file.
func (s *Stack) Close() error {
	return s.file.Close()
}

func (s *Stack) decode(raw []byte) []float64 {
	n := s.D * s.D
	out := make([]float64, n)
	switch s.Header.Mode {
	case ModeInt8:
		for i := 0; i < n; i++ {
			out[i] = float64(int8(raw[i]))
		}
	case ModeInt16:
		for i := 0; i < n; i++ {
			out[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:])))
		}
	case ModeUint16:
		for i := 0; i < n; i++ {
			out[i] = float64(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	case ModeFloat32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	}
	return out
}

// ReadVolume reads a cubic volume from an .mrc file.
func ReadVolume(path string) (*volume.Volume, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if s.Header.NZ != s.Header.NX {
		return nil, fmt.Errorf("volume must be cubic, got %dx%dx%d", s.Header.NX, s.Header.NY, s.Header.NZ)
	}
	data := make([]float64, 0, s.N*s.D*s.D)
	for i := 0; i < s.N; i++ {
		img, err := s.Image(i)
		if err != nil {
			return nil, err
		}
		data = append(data, img...)
	}
	v, err := volume.FromData(data, s.D, s.Apix)
	if err != nil {
		return nil, err
	}
	return v, nil
}
