package volume

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// The reconstruction pipeline works in the centered discrete Hartley
// domain: images enter as origin-centered 2D Hartley coefficients and the
// accumulated 3D grid leaves through the origin-centered inverse Hartley
// transform. Centering is a half-length circular shift applied on both
// sides of the plain FFT, so every routine here requires an even side
// length; the odd-sized accumulation grid is trimmed before inversion.
//
// The Hartley coefficients are obtained from the complex spectrum as
// real(F) - imag(F). Because the transform is involutive, the inverse is
// the same composition scaled by 1/n^3.

// HT2Center computes the origin-centered 2D Hartley transform of an
// n x n real image stored flat in row-major order. n must be even.
func HT2Center(img []float64, n int) []float64 {
	coef := fft2Center(img, n)
	out := make([]float64, len(coef))
	for i, c := range coef {
		out[i] = real(c) - imag(c)
	}
	return out
}

// SymmetrizeHT pads an n x n centered Hartley plane to (n+1) x (n+1) by
// duplicating the first row and column at the far edge. The -Nyquist and
// +Nyquist frequencies are the same sample of the periodic spectrum, so
// the duplication makes the plane symmetric about its center, which is
// what the insertion lattice expects.
func SymmetrizeHT(ht []float64, n int) []float64 {
	d := n + 1
	out := make([]float64, d*d)
	for i := 0; i < n; i++ {
		copy(out[i*d:i*d+n], ht[i*n:(i+1)*n])
		out[i*d+n] = ht[i*n]
	}
	copy(out[n*d:n*d+n], ht[0:n])
	out[n*d+n] = ht[0]
	return out
}

// IHT3Center computes the origin-centered 3D inverse Hartley transform of
// an n^3 coefficient cube, returning the real-space volume. n must be
// even.
func IHT3Center(data []float64, n int) []float64 {
	coef := FFT3Center(data, n)
	out := make([]float64, len(coef))
	scale := 1 / float64(n*n*n)
	for i, c := range coef {
		out[i] = (real(c) - imag(c)) * scale
	}
	return out
}

// FFT3Center computes the origin-centered 3D Fourier transform of an n^3
// real volume. The returned coefficients are laid out z-major with the
// zero frequency at voxel (n/2, n/2, n/2). n must be even.
func FFT3Center(data []float64, n int) []complex128 {
	if n%2 != 0 {
		panic("volume: transform side length must be even")
	}
	work := make([]complex128, len(data))
	for i, v := range data {
		work[i] = complex(v, 0)
	}
	shifted := make([]complex128, len(work))
	centerShift3(shifted, work, n)
	fft3(shifted, n, false)
	centerShift3(work, shifted, n)
	return work
}

// IFFT3Center inverts FFT3Center, returning the complex spatial-domain
// cube including the 1/n^3 normalization. Callers reconstructing a real
// volume take the real part.
func IFFT3Center(coef []complex128, n int) []complex128 {
	if n%2 != 0 {
		panic("volume: transform side length must be even")
	}
	shifted := make([]complex128, len(coef))
	centerShift3(shifted, coef, n)
	fft3(shifted, n, true)
	out := make([]complex128, len(coef))
	centerShift3(out, shifted, n)
	scale := complex(1/float64(n*n*n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// fft2Center computes the origin-centered 2D Fourier transform of a flat
// n x n real image.
func fft2Center(img []float64, n int) []complex128 {
	if n%2 != 0 {
		panic("volume: transform side length must be even")
	}
	work := make([]complex128, len(img))
	for i, v := range img {
		work[i] = complex(v, 0)
	}
	shifted := make([]complex128, len(work))
	centerShift2(shifted, work, n)
	fft2(shifted, n)
	centerShift2(work, shifted, n)
	return work
}

// fft2 transforms both axes of a flat n x n complex plane in place.
func fft2(data []complex128, n int) {
	fft := fourier.NewCmplxFFT(n)
	line := make([]complex128, n)
	out := make([]complex128, n)

	// Row pass: rows are contiguous.
	for i := 0; i < n; i++ {
		copy(line, data[i*n:(i+1)*n])
		fft.Coefficients(out, line)
		copy(data[i*n:(i+1)*n], out)
	}

	// Column pass: stride n.
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			line[i] = data[i*n+j]
		}
		fft.Coefficients(out, line)
		for i := 0; i < n; i++ {
			data[i*n+j] = out[i]
		}
	}
}

// fft3 transforms all three axes of a flat n^3 complex cube in place.
// When inverse is true the unnormalized inverse transform is applied;
// callers handle the 1/n^3 scaling.
func fft3(data []complex128, n int, inverse bool) {
	fft := fourier.NewCmplxFFT(n)
	line := make([]complex128, n)
	out := make([]complex128, n)

	apply := func() {
		if inverse {
			fft.Sequence(out, line)
		} else {
			fft.Coefficients(out, line)
		}
	}

	// X axis: contiguous lines.
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			base := (z*n + y) * n
			copy(line, data[base:base+n])
			apply()
			copy(data[base:base+n], out)
		}
	}

	// Y axis: stride n.
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			base := z*n*n + x
			for i := 0; i < n; i++ {
				line[i] = data[base+i*n]
			}
			apply()
			for i := 0; i < n; i++ {
				data[base+i*n] = out[i]
			}
		}
	}

	// Z axis: stride n*n.
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			base := y*n + x
			for i := 0; i < n; i++ {
				line[i] = data[base+i*n*n]
			}
			apply()
			for i := 0; i < n; i++ {
				data[base+i*n*n] = out[i]
			}
		}
	}
}

// centerShift2 rotates a flat n x n plane by n/2 along both axes,
// exchanging the origin and center. Applying it twice restores the input
// when n is even.
func centerShift2(dst, src []complex128, n int) {
	h := n / 2
	for i := 0; i < n; i++ {
		si := ((i + h) % n) * n
		di := i * n
		for j := 0; j < n; j++ {
			dst[di+j] = src[si+(j+h)%n]
		}
	}
}

// centerShift3 rotates a flat n^3 cube by n/2 along all three axes.
func centerShift3(dst, src []complex128, n int) {
	h := n / 2
	for z := 0; z < n; z++ {
		sz := ((z + h) % n) * n * n
		dz := z * n * n
		for y := 0; y < n; y++ {
			sy := sz + ((y+h)%n)*n
			dy := dz + y*n
			for x := 0; x < n; x++ {
				dst[dy+x] = src[sy+(x+h)%n]
			}
		}
	}
}
