package spectrum

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Backend selects the FFT implementation used by the analyzer.
type Backend string

const (
	// RealBackend uses a real-input FFT. This is the default.
	RealBackend Backend = "real"
	// ComplexBackend runs a complex FFT over the samples with a zero
	// imaginary part and keeps the non-negative half of the spectrum.
	ComplexBackend Backend = "complex"
)

// Valid returns true if b names a known backend. The empty backend is
// valid and means RealBackend.
func (b Backend) Valid() bool {
	switch b {
	case "", RealBackend, ComplexBackend:
		return true
	default:
		return false
	}
}

// SupportsSize returns true if the backend computes a correct spectrum for
// blocks of the given number of samples. The complex backend only handles
// powers of two.
func (b Backend) SupportsSize(size int) bool {
	if size <= 0 {
		return false
	}
	if b == ComplexBackend {
		return size&(size-1) == 0
	}
	return true
}

// transform computes the magnitude of the first size/2 bins of the DFT of
// a real sequence of length size.
type transform interface {
	magnitudes(dst, seq []float64)
}

func newTransform(backend Backend, size int) (transform, error) {
	switch backend {
	case "", RealBackend:
		return newRealTransform(size), nil
	case ComplexBackend:
		return newComplexTransform(size)
	default:
		return nil, fmt.Errorf("unknown fft backend %q", backend)
	}
}

type realTransform struct {
	fft    *fourier.FFT
	coeffs []complex128
	re, im []float64
}

func newRealTransform(size int) *realTransform {
	return &realTransform{
		fft:    fourier.NewFFT(size),
		coeffs: make([]complex128, size/2+1),
		re:     make([]float64, size/2),
		im:     make([]float64, size/2),
	}
}

func (t *realTransform) magnitudes(dst, seq []float64) {
	t.coeffs = t.fft.Coefficients(t.coeffs, seq)
	// The Nyquist bin is dropped so the spectrum has exactly size/2 bins.
	splitComplex(t.re, t.im, t.coeffs[:len(t.re)])
	vecmath.Magnitude(dst, t.re, t.im)
}

type complexTransform struct {
	plan    *algofft.Plan[complex128]
	in, out []complex128
	re, im  []float64
}

func newComplexTransform(size int) (*complexTransform, error) {
	if !ComplexBackend.SupportsSize(size) {
		return nil, fmt.Errorf("complex fft needs a power of two block size, got %d", size)
	}

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create fft plan of size %d: %w", size, err)
	}

	return &complexTransform{
		plan: plan,
		in:   make([]complex128, size),
		out:  make([]complex128, size),
		re:   make([]float64, size/2),
		im:   make([]float64, size/2),
	}, nil
}

func (t *complexTransform) magnitudes(dst, seq []float64) {
	for i, x := range seq {
		t.in[i] = complex(x, 0)
	}

	if err := t.plan.Forward(t.out, t.in); err != nil {
		// Buffers are sized from the plan, so this cannot fail.
		panic("spectrum: fft forward failed: " + err.Error())
	}

	splitComplex(t.re, t.im, t.out[:len(t.re)])
	vecmath.Magnitude(dst, t.re, t.im)
}

func splitComplex(re, im []float64, c []complex128) {
	for i, v := range c {
		re[i] = real(v)
		im[i] = imag(v)
	}
}
