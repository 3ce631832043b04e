package oct

import "fmt"

// ApplyReference normalizes the matrix in place against its own DC estimate.
// The DC spectrum is the mean across columns at each spectral index; every
// element is scaled by apod[z]/dc[z] so the fixed-pattern background is
// divided out and the apodization window applied in one pass.
//
// A zero DC value at any index returns a DegenerateDCError and leaves the
// matrix unmodified.
func (m *SpectralMatrix) ApplyReference(apod []float64) error {
	if len(apod) != m.SpecLen {
		return fmt.Errorf("apodization window has %d samples, matrix has %d", len(apod), m.SpecLen)
	}
	if m.Cols == 0 {
		return &DegenerateDCError{Index: 0}
	}

	window := make([]float64, m.SpecLen)
	for z := 0; z < m.SpecLen; z++ {
		sum := 0.0
		row := m.Data[z*m.Cols : (z+1)*m.Cols]
		for _, v := range row {
			sum += v
		}
		dc := sum / float64(m.Cols)
		if dc == 0 {
			return &DegenerateDCError{Index: z}
		}
		window[z] = apod[z] / dc
	}

	for z := 0; z < m.SpecLen; z++ {
		row := m.Data[z*m.Cols : (z+1)*m.Cols]
		for i := range row {
			row[i] *= window[z]
		}
	}
	return nil
}
