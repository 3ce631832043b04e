// Package telemetry fans out processed B-scan frames to display sinks: an
// in-memory hub with history for the web viewer, or plain log output for
// headless runs.
package telemetry

import (
	"time"

	"github.com/openoct/GoOCT/internal/logging"
)

// Frame is one processed display update. Reporting is fire-and-forget; slow
// sinks must drop rather than stall the pipeline.
type Frame struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// Spectrum is one raw A-scan spectrum for the fringe display.
	Spectrum []float64 `json:"spectrum"`

	// Magnitude is the flat z-major B-scan magnitude image, Depth rows of
	// Cols values.
	Magnitude []float64 `json:"magnitude"`
	Depth     int       `json:"depth"`
	Cols      int       `json:"cols"`

	// Processed and Dropped are cumulative pipeline counters.
	Processed int `json:"processed"`
	Dropped   int `json:"dropped"`
}

// Reporter receives processed frames.
type Reporter interface {
	Report(Frame)
}

// StdoutReporter logs a one-line summary per frame.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(f Frame) {
	peak := 0.0
	for _, v := range f.Magnitude {
		if v > peak {
			peak = v
		}
	}
	r.logger.Info("frame processed",
		logging.F("seq", f.Seq),
		logging.F("depth", f.Depth),
		logging.F("cols", f.Cols),
		logging.F("peak", peak),
		logging.F("dropped", f.Dropped),
	)
}

// MultiReporter fans frames out to several sinks.
type MultiReporter []Reporter

func (m MultiReporter) Report(f Frame) {
	for _, r := range m {
		if r != nil {
			r.Report(f)
		}
	}
}
