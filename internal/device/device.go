// Package device abstracts the OCT acquisition hardware behind a small
// interface so the pipeline can run against the real engine daemon or an
// in-process mock.
package device

import "context"

// Mode selects the streaming behavior of a started measurement.
type Mode string

const (
	// ModeLive streams frames indefinitely for display.
	ModeLive Mode = "live"
	// ModeAcquire streams frames for a bounded acquisition.
	ModeAcquire Mode = "acquire"
)

// Attribute sections and names understood by the engine daemon.
const (
	SectionScanner = "scanner"

	AttrConfig         = "config"
	AttrImagingRate    = "imaging_rate"
	AttrPatternAngle   = "pattern_angle"
	AttrSpectrumLength = "spectrum_length"
)

// Config holds the device session parameters.
type Config struct {
	// Addr is the engine daemon address, host:port. Ignored by mocks.
	Addr string
	// ConfigName selects the probe configuration loaded on the engine.
	ConfigName string
	// ImagingRate is the A-scan rate in Hz. Zero leaves the engine default.
	ImagingRate float64
	// PatternAngle rotates the scan pattern on the device, radians.
	PatternAngle float64
}

// Pattern is a handle to a position buffer programmed on the device.
type Pattern struct {
	ID    int
	Total int
}

// Device is an open acquisition device session. Implementations serialize
// their own hardware access; methods may be called from multiple goroutines.
type Device interface {
	// Open establishes the session and applies cfg.
	Open(ctx context.Context, cfg Config) error
	// SpectrumLength reports the number of samples per A-scan spectrum.
	// Valid after Open.
	SpectrumLength() int
	// ProgramPattern uploads an interleaved x/y buffer.
	ProgramPattern(ctx context.Context, positions []float32) (Pattern, error)
	// Start begins streaming frames for a programmed pattern.
	Start(ctx context.Context, p Pattern, mode Mode) error
	// PullFrame blocks until the next raw frame is available or ctx ends.
	PullFrame(ctx context.Context) ([]uint16, error)
	// Stop halts streaming. Safe to call when not streaming.
	Stop(ctx context.Context) error
	// WavelengthAt queries one spectrometer calibration entry.
	WavelengthAt(ctx context.Context, index int) (float64, error)
	// Close releases the session.
	Close() error
}
