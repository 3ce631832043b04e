// Package scan generates figure-eight scan trajectories for a galvo-steered
// OCT probe: two orthogonal cross B-scans joined by two flyback loops,
// forming a single closed path.
package scan

import (
	"fmt"
	"math"
)

// Defaults for the flyback loop shape. The width/height gains and the sweep
// angle are hardware tuning values for keeping flyback velocity and curvature
// within scanner limits; changing them requires validation on the instrument.
const (
	DefaultFlybackSamples    = 20
	DefaultFlybackSweep      = math.Pi / 2.58
	DefaultFlybackWidthGain  = 2.95
	DefaultFlybackHeightGain = 1.572
)

// GeometryError reports scan parameters that cannot produce a valid pattern.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string { return "invalid scan geometry: " + e.Reason }

// Params describes one figure-eight pattern.
type Params struct {
	// CrossHalfWidth is the half extent of each cross B-scan, in scanner units.
	CrossHalfWidth float64
	// SamplesPerCross is the number of A-scans along each cross B-scan.
	SamplesPerCross int
	// FlybackSamples is the number of A-scans spent in each flyback loop.
	FlybackSamples int
	// FlybackSweep is the angular range swept by each flyback loop, radians.
	FlybackSweep float64
	// Repeats tiles the pattern in the device position buffer.
	Repeats int

	// FlybackWidthGain and FlybackHeightGain scale the flyback arcs relative
	// to CrossHalfWidth. Zero means the default.
	FlybackWidthGain  float64
	FlybackHeightGain float64
}

// DefaultParams returns Params with the stock flyback shape for the given
// cross size.
func DefaultParams(crossHalfWidth float64, samplesPerCross int) Params {
	return Params{
		CrossHalfWidth:  crossHalfWidth,
		SamplesPerCross: samplesPerCross,
		FlybackSamples:  DefaultFlybackSamples,
		FlybackSweep:    DefaultFlybackSweep,
		Repeats:         1,
	}
}

// Geometry is an immutable figure-eight pattern instance.
type Geometry struct {
	Params Params

	// X and Y hold the coordinates of a single figure-eight,
	// ordered flyback1, crossA, flyback2, crossB.
	X []float64
	Y []float64

	// Positions interleaves X and Y as [x0,y0,x1,y1,...] in the float32
	// format the device consumes, tiled Params.Repeats times.
	Positions []float32

	// MaskA and MaskB mark which of the Total samples belong to
	// cross B-scan A and B respectively. They are disjoint and each
	// contains Params.SamplesPerCross true entries.
	MaskA []bool
	MaskB []bool

	// Total is the number of A-scans in one repeat of the pattern.
	Total int

	// SampleSpacing is the Euclidean distance between adjacent A-scans
	// within a cross, for physical-unit scaling of images.
	SampleSpacing float64
}

// Generate builds the figure-eight geometry for p.
func Generate(p Params) (*Geometry, error) {
	if p.CrossHalfWidth <= 0 {
		return nil, &GeometryError{Reason: fmt.Sprintf("cross half width must be positive, got %g", p.CrossHalfWidth)}
	}
	if p.SamplesPerCross < 2 {
		return nil, &GeometryError{Reason: fmt.Sprintf("need at least 2 samples per cross, got %d", p.SamplesPerCross)}
	}
	if p.FlybackSamples < 0 {
		return nil, &GeometryError{Reason: fmt.Sprintf("flyback samples must not be negative, got %d", p.FlybackSamples)}
	}
	if p.Repeats < 1 {
		return nil, &GeometryError{Reason: fmt.Sprintf("repeat count must be at least 1, got %d", p.Repeats)}
	}
	if p.FlybackSweep < 0 {
		return nil, &GeometryError{Reason: fmt.Sprintf("flyback sweep must not be negative, got %g", p.FlybackSweep)}
	}
	if p.FlybackSweep == 0 {
		p.FlybackSweep = DefaultFlybackSweep
	}
	if p.FlybackWidthGain == 0 {
		p.FlybackWidthGain = DefaultFlybackWidthGain
	}
	if p.FlybackHeightGain == 0 {
		p.FlybackHeightGain = DefaultFlybackHeightGain
	}

	n := p.SamplesPerCross
	fb := p.FlybackSamples
	w := p.CrossHalfWidth

	cross := linspace(-w, w, n)

	// Cross A runs along the x==y diagonal from +w to -w; cross B runs the
	// orthogonal diagonal. They intersect at the pattern centre.
	crossAX := reversed(cross)
	crossAY := reversed(cross)
	crossBX := cross
	crossBY := negated(cross)

	// Flyback loops are Lissajous-style arcs with the sine argument doubled,
	// the second loop phase shifted by pi so it exits towards cross B.
	fb1 := linspace(-p.FlybackSweep, p.FlybackSweep, fb)
	fb2 := linspace(-p.FlybackSweep+math.Pi, p.FlybackSweep+math.Pi, fb)

	total := 2*fb + 2*n
	g := &Geometry{
		Params: p,
		X:      make([]float64, 0, total),
		Y:      make([]float64, 0, total),
		MaskA:  make([]bool, total),
		MaskB:  make([]bool, total),
		Total:  total,
	}

	for _, t := range fb1 {
		g.X = append(g.X, p.FlybackWidthGain*w*math.Cos(t))
		g.Y = append(g.Y, p.FlybackHeightGain*w*math.Sin(2*t))
	}
	g.X = append(g.X, crossAX...)
	g.Y = append(g.Y, crossAY...)
	for _, t := range fb2 {
		g.X = append(g.X, p.FlybackWidthGain*w*math.Cos(t))
		g.Y = append(g.Y, p.FlybackHeightGain*w*math.Sin(2*t))
	}
	g.X = append(g.X, crossBX...)
	g.Y = append(g.Y, crossBY...)

	for i := 0; i < n; i++ {
		g.MaskA[fb+i] = true
		g.MaskB[2*fb+n+i] = true
	}

	g.SampleSpacing = math.Hypot(crossAX[0]-crossAX[1], crossAY[0]-crossAY[1])

	g.Positions = make([]float32, 0, 2*total*p.Repeats)
	for r := 0; r < p.Repeats; r++ {
		for i := 0; i < total; i++ {
			g.Positions = append(g.Positions, float32(g.X[i]), float32(g.Y[i]))
		}
	}

	return g, nil
}

func linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func reversed(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func negated(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = -v
	}
	return out
}
