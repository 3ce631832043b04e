package device

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/openoct/GoOCT/engined"
	"github.com/openoct/GoOCT/internal/logging"
)

// framePollInterval paces retries when the daemon reports an empty frame.
const framePollInterval = 2 * time.Millisecond

// Engine drives a remote OCT engine daemon through its TCP protocol.
// The protocol carries one exchange at a time, so every call takes the
// session mutex.
type Engine struct {
	mu      sync.Mutex
	client  *engined.Client
	log     logging.Logger
	specLen int

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (*engined.Client, error)
}

// NewEngine returns an unopened engine device.
func NewEngine(log logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		log:  log,
		dial: engined.Dial,
	}
}

func (e *Engine) Open(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return fmt.Errorf("engine session already open")
	}

	client, err := e.dial(ctx, cfg.Addr)
	if err != nil {
		return err
	}
	// Dial already probed the daemon with VERSION; reuse its banner.
	e.log.Info("engine session opened",
		logging.F("addr", cfg.Addr), logging.F("version", client.ServerVersion()))

	if cfg.ConfigName != "" {
		if err := client.WriteAttr(ctx, SectionScanner, AttrConfig, cfg.ConfigName); err != nil {
			client.Close()
			return fmt.Errorf("select probe config %q: %w", cfg.ConfigName, err)
		}
	}
	if cfg.ImagingRate > 0 {
		if err := client.WriteAttr(ctx, SectionScanner, AttrImagingRate, strconv.FormatFloat(cfg.ImagingRate, 'g', -1, 64)); err != nil {
			client.Close()
			return fmt.Errorf("set imaging rate: %w", err)
		}
	}
	if cfg.PatternAngle != 0 {
		if err := client.WriteAttr(ctx, SectionScanner, AttrPatternAngle, strconv.FormatFloat(cfg.PatternAngle, 'g', -1, 64)); err != nil {
			client.Close()
			return fmt.Errorf("set pattern angle: %w", err)
		}
	}

	raw, err := client.ReadAttr(ctx, SectionScanner, AttrSpectrumLength)
	if err != nil {
		client.Close()
		return fmt.Errorf("read spectrum length: %w", err)
	}
	specLen, err := strconv.Atoi(raw)
	if err != nil || specLen < 2 {
		client.Close()
		return fmt.Errorf("engine reported invalid spectrum length %q", raw)
	}

	e.client = client
	e.specLen = specLen
	return nil
}

func (e *Engine) SpectrumLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.specLen
}

func (e *Engine) ProgramPattern(ctx context.Context, positions []float32) (Pattern, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return Pattern{}, fmt.Errorf("engine session not open")
	}
	id, err := e.client.ProgramPattern(ctx, positions)
	if err != nil {
		return Pattern{}, fmt.Errorf("program pattern: %w", err)
	}
	return Pattern{ID: id, Total: len(positions) / 2}, nil
}

func (e *Engine) Start(ctx context.Context, p Pattern, mode Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return fmt.Errorf("engine session not open")
	}
	return e.client.Start(ctx, p.ID, string(mode))
}

// pullOnce performs one FRAME exchange under the session lock so a Stop
// from another goroutine can interleave between polls without corrupting
// the protocol stream.
func (e *Engine) pullOnce(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, fmt.Errorf("engine session not open")
	}
	return e.client.Frame(ctx)
}

func (e *Engine) PullFrame(ctx context.Context) ([]uint16, error) {
	for {
		payload, err := e.pullOnce(ctx)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return engined.ParseUint16Samples(payload)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(framePollInterval):
		}
	}
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	return e.client.Stop(ctx)
}

func (e *Engine) WavelengthAt(ctx context.Context, index int) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return 0, fmt.Errorf("engine session not open")
	}
	return e.client.WavelengthAt(ctx, index)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	e.specLen = 0
	return err
}
