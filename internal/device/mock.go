package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockConfig tunes the synthetic device.
type MockConfig struct {
	// SpecLen is the samples per A-scan spectrum. Zero means 2048.
	SpecLen int
	// PatternPeriod is the number of A-scans delivered per frame. Zero
	// means the full programmed buffer.
	PatternPeriod int
	// BaseDepth is the depth bin of the synthetic reflector.
	// Zero means 100.
	BaseDepth int
	// FrameDelay paces PullFrame to mimic acquisition time.
	FrameDelay time.Duration
}

// Mock is an in-process Device that synthesizes interferometric spectra for
// whatever pattern is programmed. The reflector depth wobbles across the
// pattern so DC subtraction does not cancel the fringes.
type Mock struct {
	mu        sync.Mutex
	cfg       MockConfig
	open      bool
	streaming bool
	pattern   []float32
	nextID    int
	frames    int

	// FrameHook, when set, can rewrite or truncate each synthesized frame
	// before it is returned. Used by tests to inject faults.
	FrameHook func(frameIndex int, frame []uint16) []uint16
}

// NewMock returns a synthetic device.
func NewMock(cfg MockConfig) *Mock {
	if cfg.SpecLen == 0 {
		cfg.SpecLen = 2048
	}
	if cfg.BaseDepth == 0 {
		cfg.BaseDepth = 100
	}
	return &Mock{cfg: cfg, nextID: 1}
}

func (m *Mock) Open(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return fmt.Errorf("mock session already open")
	}
	m.open = true
	return nil
}

func (m *Mock) SpectrumLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.SpecLen
}

func (m *Mock) ProgramPattern(ctx context.Context, positions []float32) (Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return Pattern{}, fmt.Errorf("mock session not open")
	}
	if len(positions) == 0 || len(positions)%2 != 0 {
		return Pattern{}, fmt.Errorf("position buffer must hold x/y pairs, got %d values", len(positions))
	}
	m.pattern = append([]float32(nil), positions...)
	id := m.nextID
	m.nextID++
	return Pattern{ID: id, Total: len(positions) / 2}, nil
}

func (m *Mock) Start(ctx context.Context, p Pattern, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return fmt.Errorf("mock session not open")
	}
	if m.pattern == nil {
		return fmt.Errorf("no pattern programmed")
	}
	m.streaming = true
	m.frames = 0
	return nil
}

func (m *Mock) PullFrame(ctx context.Context) ([]uint16, error) {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock device not streaming")
	}
	period := m.cfg.PatternPeriod
	if period == 0 {
		period = len(m.pattern) / 2
	}
	specLen := m.cfg.SpecLen
	base := m.cfg.BaseDepth
	index := m.frames
	m.frames++
	hook := m.FrameHook
	delay := m.cfg.FrameDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	frame := make([]uint16, period*specLen)
	for n := 0; n < period; n++ {
		depth := float64(base + n%16)
		spec := frame[n*specLen : (n+1)*specLen]
		for z := range spec {
			v := 2048 + 1024*math.Cos(2*math.Pi*depth*float64(z)/float64(specLen))
			spec[z] = uint16(v)
		}
	}
	if hook != nil {
		frame = hook(index, frame)
	}
	return frame, nil
}

func (m *Mock) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaming = false
	return nil
}

// WavelengthAt models a spectrometer calibration table that descends in
// wavelength, the common hardware ordering.
func (m *Mock) WavelengthAt(ctx context.Context, index int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= m.cfg.SpecLen {
		return 0, fmt.Errorf("wavelength index %d out of range [0, %d)", index, m.cfg.SpecLen)
	}
	return 1005.0 - 0.05*float64(index), nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.streaming = false
	m.pattern = nil
	return nil
}

// Frames reports how many frames have been pulled since Start.
func (m *Mock) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}
