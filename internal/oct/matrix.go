// Package oct turns raw spectrometer frames from a figure-eight scan into
// complex spatial-domain B-scans: demultiplex the cross A-scans out of the
// frame, normalize against the reference spectrum, resample to uniform
// wavenumber and inverse transform.
package oct

import "math"

// SpectralMatrix holds one B-scan worth of spectral columns. Storage is a
// flat slice in z-major order: element (z, col) lives at Data[z*Cols+col].
type SpectralMatrix struct {
	SpecLen int
	Cols    int
	Data    []float64
}

// NewSpectralMatrix allocates a zeroed specLen by cols matrix.
func NewSpectralMatrix(specLen, cols int) *SpectralMatrix {
	return &SpectralMatrix{
		SpecLen: specLen,
		Cols:    cols,
		Data:    make([]float64, specLen*cols),
	}
}

// At returns element (z, col).
func (m *SpectralMatrix) At(z, col int) float64 { return m.Data[z*m.Cols+col] }

// Set stores v at element (z, col).
func (m *SpectralMatrix) Set(z, col int, v float64) { m.Data[z*m.Cols+col] = v }

// Col copies column col into dst, which must have length SpecLen.
func (m *SpectralMatrix) Col(dst []float64, col int) {
	for z := 0; z < m.SpecLen; z++ {
		dst[z] = m.Data[z*m.Cols+col]
	}
}

// Clone returns a deep copy of m.
func (m *SpectralMatrix) Clone() *SpectralMatrix {
	out := NewSpectralMatrix(m.SpecLen, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// BScan is a reconstructed cross-sectional image: Depth rows of Cols
// complex A-scan values, z-major like SpectralMatrix.
type BScan struct {
	Depth int
	Cols  int
	Data  []complex64
}

// At returns pixel (z, col).
func (b *BScan) At(z, col int) complex64 { return b.Data[z*b.Cols+col] }

// Magnitude returns the per-pixel magnitudes as a flat z-major slice,
// suitable for display sinks.
func (b *BScan) Magnitude() []float64 {
	out := make([]float64, len(b.Data))
	for i, v := range b.Data {
		out[i] = math.Hypot(float64(real(v)), float64(imag(v)))
	}
	return out
}
