package mrc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mhanson2019/cryodrgn/pkg/volume"
)

// WriteVolume writes a cubic volume as a mode 2 (float32) .mrc file.
func WriteVolume(path string, v *volume.Volume) error {
	h := newHeader(v.N, v.N, v.N, v.Apix, true, v.Data)
	return writeFile(path, h, v.Data)
}

// WriteStack writes square images as a mode 2 .mrcs image stack.
func WriteStack(path string, images [][]float64, d int, apix float64) error {
	if len(images) == 0 {
		return fmt.Errorf("no images to write")
	}
	flat := make([]float64, 0, len(images)*d*d)
	for i, img := range images {
		if len(img) != d*d {
			return fmt.Errorf("image %d has %d pixels, want %d", i, len(img), d*d)
		}
		flat = append(flat, img...)
	}
	h := newHeader(d, d, len(images), apix, false, flat)
	return writeFile(path, h, flat)
}

func writeFile(path string, h Header, data []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing mrc header: %w", err)
	}

	const chunk = 1 << 14
	buf := make([]float32, 0, chunk)
	for _, v := range data {
		buf = append(buf, float32(v))
		if len(buf) == chunk {
			if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
				return fmt.Errorf("writing mrc data: %w", err)
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("writing mrc data: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return nil
}
