package oct

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/interp"
)

// Default ROI bounds, in depth pixels of the half-spectrum image. The lower
// bound excludes ringing from the edge of the apodization window.
const (
	DefaultROIStart = 14
	DefaultROIEnd   = 400
)

// ReconstructorConfig describes one reconstruction session.
type ReconstructorConfig struct {
	// Wavelengths is the spectrometer calibration table, one entry per
	// spectral sample. It may be ascending or descending but must be
	// strictly monotonic.
	Wavelengths []float64
	// ROIStart and ROIEnd bound the returned depth range, [ROIStart, ROIEnd).
	// Zero values mean the defaults.
	ROIStart int
	ROIEnd   int
}

// Reconstructor converts corrected spectral matrices into complex B-scans.
// The uniform wavelength grid and the transform plan are built once and
// reused for every frame of a session. Methods are safe for use from a
// single consumer goroutine; the internal lock serializes concurrent calls.
type Reconstructor struct {
	mu sync.Mutex

	specLen  int
	roiStart int
	roiEnd   int

	// lam is the calibration table in ascending order; flip records whether
	// incoming spectra must be reversed to match it.
	lam  []float64
	flip bool

	grid []float64
	fft  *fourier.CmplxFFT

	// scratch buffers reused across columns and frames
	col       []float64
	resampled []complex128
	spatial   []complex128
}

// NewReconstructor validates the calibration table and builds the cached
// grid and transform plan.
func NewReconstructor(cfg ReconstructorConfig) (*Reconstructor, error) {
	n := len(cfg.Wavelengths)
	if n < 2 {
		return nil, fmt.Errorf("wavelength table needs at least 2 entries, got %d", n)
	}

	roiStart := cfg.ROIStart
	roiEnd := cfg.ROIEnd
	if roiStart == 0 && roiEnd == 0 {
		roiStart = DefaultROIStart
		roiEnd = DefaultROIEnd
	}
	if roiStart < 0 || roiEnd <= roiStart || roiEnd > n/2 {
		return nil, fmt.Errorf("ROI [%d, %d) out of range for depth %d", roiStart, roiEnd, n/2)
	}

	flip := cfg.Wavelengths[0] > cfg.Wavelengths[n-1]
	lam := make([]float64, n)
	if flip {
		for i, v := range cfg.Wavelengths {
			lam[n-1-i] = v
		}
	} else {
		copy(lam, cfg.Wavelengths)
	}
	for i := 1; i < n; i++ {
		if lam[i] <= lam[i-1] {
			return nil, fmt.Errorf("wavelength table is not strictly monotonic at index %d", i)
		}
	}

	grid := make([]float64, n)
	step := (lam[n-1] - lam[0]) / float64(n-1)
	for i := range grid {
		grid[i] = lam[0] + float64(i)*step
	}
	// Interpolation must never extrapolate past the table.
	grid[n-1] = lam[n-1]

	return &Reconstructor{
		specLen:   n,
		roiStart:  roiStart,
		roiEnd:    roiEnd,
		lam:       lam,
		flip:      flip,
		grid:      grid,
		fft:       fourier.NewCmplxFFT(n),
		col:       make([]float64, n),
		resampled: make([]complex128, n),
		spatial:   make([]complex128, n),
	}, nil
}

// Depth returns the number of depth pixels in reconstructed B-scans.
func (r *Reconstructor) Depth() int { return r.roiEnd - r.roiStart }

// SpecLen returns the spectral length the reconstructor was built for.
func (r *Reconstructor) SpecLen() int { return r.specLen }

// Reconstruct resamples every column of m onto the uniform wavelength grid,
// applies the inverse transform and crops the positive-depth ROI.
func (r *Reconstructor) Reconstruct(m *SpectralMatrix) (*BScan, error) {
	if m.SpecLen != r.specLen {
		return nil, fmt.Errorf("matrix spectrum length %d does not match reconstructor %d", m.SpecLen, r.specLen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	depth := r.roiEnd - r.roiStart
	out := &BScan{
		Depth: depth,
		Cols:  m.Cols,
		Data:  make([]complex64, depth*m.Cols),
	}

	var pl interp.PiecewiseLinear
	for c := 0; c < m.Cols; c++ {
		m.Col(r.col, c)
		if r.flip {
			for i, j := 0, len(r.col)-1; i < j; i, j = i+1, j-1 {
				r.col[i], r.col[j] = r.col[j], r.col[i]
			}
		}
		if err := pl.Fit(r.lam, r.col); err != nil {
			return nil, fmt.Errorf("fit column %d: %w", c, err)
		}
		for i, x := range r.grid {
			r.resampled[i] = complex(pl.Predict(x), 0)
		}

		// Sequence is the unnormalized inverse of Coefficients, so divide
		// by n to match the conventional inverse transform.
		r.fft.Sequence(r.spatial, r.resampled)
		scale := 1 / float64(r.specLen)
		for z := 0; z < depth; z++ {
			v := r.spatial[r.roiStart+z]
			out.Data[z*m.Cols+c] = complex64(complex(real(v)*scale, imag(v)*scale))
		}
	}
	return out, nil
}
