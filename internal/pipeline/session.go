// Package pipeline runs the acquisition loop: frames pulled from the device
// by a producer, handed over a bounded queue to a consumer that demuxes,
// corrects and reconstructs them for display, or accumulates them raw for
// persistence.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/openoct/GoOCT/internal/device"
	"github.com/openoct/GoOCT/internal/logging"
	"github.com/openoct/GoOCT/internal/oct"
	"github.com/openoct/GoOCT/internal/scan"
	"github.com/openoct/GoOCT/internal/store"
	"github.com/openoct/GoOCT/internal/telemetry"
	"github.com/openoct/GoOCT/internal/wavecal"
)

const (
	defaultQueueDepth = 16
	stopTimeout       = 3 * time.Second
)

// DefaultDecimationInterval picks how many live frames to skip between
// processed ones, tuned to keep display latency flat across pattern sizes.
func DefaultDecimationInterval(alinesPerCross int) int {
	switch {
	case alinesPerCross > 80:
		return 30
	case alinesPerCross < 40:
		return 5
	default:
		return 10
	}
}

// Config assembles a Session. Zero values take documented defaults.
type Config struct {
	// Device is the unopened acquisition device. The session owns its
	// lifecycle from Open to Close.
	Device       device.Device
	DeviceConfig device.Config

	// Scan describes the figure-eight pattern. Scan.Repeats bounds an
	// acquisition; live mode always streams a single-repeat pattern.
	Scan scan.Params

	// OutputPath receives the FITS container written by Acquire.
	OutputPath string
	// CacheDir holds the wavelength calibration cache. Defaults to ".".
	CacheDir string

	// WavelengthSSH, when its Host is set, sources the calibration table
	// from a file on the engine host instead of the per-pixel device query.
	WavelengthSSH wavecal.SSHConfig

	// ROIStart and ROIEnd bound the reconstructed depth range. Zero means
	// the oct defaults.
	ROIStart int
	ROIEnd   int

	// Apodization overrides the default Hann window.
	Apodization []float64

	// QueueDepth bounds the producer/consumer frame queue.
	QueueDepth int

	// DecimationInterval overrides DefaultDecimationInterval for live mode.
	DecimationInterval func(alinesPerCross int) int

	// Reporter receives processed live frames. Nil disables display.
	Reporter telemetry.Reporter

	// OpenBackoff overrides the device open retry policy.
	OpenBackoff backoff.BackOff

	Logger logging.Logger
}

// Session is a single-owner pipeline instance. One Scan or Acquire runs at
// a time; Abort is safe from any goroutine and always returns the session
// to idle.
type Session struct {
	cfg Config
	log logging.Logger

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc

	processed atomic.Int64
	dropped   atomic.Int64
}

// NewSession validates cfg and applies defaults.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("pipeline: device is required")
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "."
	}
	if cfg.DecimationInterval == nil {
		cfg.DecimationInterval = DefaultDecimationInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Session{
		cfg: cfg,
		log: cfg.Logger.With(logging.F("subsystem", "pipeline")),
	}, nil
}

// State reports the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Processed reports frames fully processed since the session started.
func (s *Session) Processed() int { return int(s.processed.Load()) }

// Dropped reports frames discarded by decimation or queue pressure.
func (s *Session) Dropped() int { return int(s.dropped.Load()) }

// Abort cancels the running operation. It is observable by the producer and
// consumer within one loop iteration regardless of queue state, and is a
// no-op when the session is idle.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	// Only flag aborting while something is actually running.
	s.state.CompareAndSwap(int32(StateStreaming), int32(StateAborting))
	s.state.CompareAndSwap(int32(StateInitializing), int32(StateAborting))
	s.state.CompareAndSwap(int32(StateDraining), int32(StateAborting))
	cancel()
}

func (s *Session) begin(ctx context.Context, op string) (context.Context, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateInitializing)) {
		return nil, &SessionError{Op: op, Err: fmt.Errorf("session is %s, not idle", s.State())}
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.processed.Store(0)
	s.dropped.Store(0)
	return runCtx, nil
}

func (s *Session) end() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.state.Store(int32(StateIdle))
}

// initResult carries everything built during initialization.
type initResult struct {
	geometry *scan.Geometry
	recon    *oct.Reconstructor
	apod     []float64
	specLen  int
}

// initialize opens the device, programs the pattern, resolves the
// wavelength table and builds the reconstructor.
func (s *Session) initialize(ctx context.Context, params scan.Params, mode device.Mode) (*initResult, error) {
	geometry, err := scan.Generate(params)
	if err != nil {
		return nil, err
	}

	dev := s.cfg.Device
	bo := s.cfg.OpenBackoff
	if bo == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 100 * time.Millisecond
		exp.MaxElapsedTime = 10 * time.Second
		bo = exp
	}
	err = backoff.Retry(func() error {
		return dev.Open(ctx, s.cfg.DeviceConfig)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	// From here on the device session must not leak on a failed setup step.
	ready := false
	defer func() {
		if ready {
			return
		}
		if cerr := dev.Close(); cerr != nil {
			s.log.Warn("device close failed", logging.F("err", cerr))
		}
	}()

	specLen := dev.SpectrumLength()
	if specLen < 2 {
		return nil, fmt.Errorf("device reported spectrum length %d", specLen)
	}

	pattern, err := dev.ProgramPattern(ctx, geometry.Positions)
	if err != nil {
		return nil, err
	}

	lamPath := wavecal.CachePath(s.cfg.CacheDir, s.cfg.DeviceConfig.ConfigName)
	var lam wavecal.Table
	if s.cfg.WavelengthSSH.Host != "" {
		lam, err = wavecal.EnsureRemote(ctx, lamPath, s.cfg.WavelengthSSH, specLen, s.log)
	} else {
		lam, err = wavecal.Ensure(ctx, lamPath, dev, specLen, s.log)
	}
	if err != nil {
		return nil, fmt.Errorf("wavelength table: %w", err)
	}

	recon, err := oct.NewReconstructor(oct.ReconstructorConfig{
		Wavelengths: lam,
		ROIStart:    s.cfg.ROIStart,
		ROIEnd:      s.cfg.ROIEnd,
	})
	if err != nil {
		return nil, err
	}

	apod := s.cfg.Apodization
	if apod == nil {
		apod = oct.Hann(specLen)
	}
	if len(apod) != specLen {
		return nil, fmt.Errorf("apodization window has %d samples, spectra have %d", len(apod), specLen)
	}

	if err := dev.Start(ctx, pattern, mode); err != nil {
		return nil, fmt.Errorf("start measurement: %w", err)
	}

	ready = true
	s.log.Info("session initialized",
		logging.F("mode", string(mode)),
		logging.F("pattern_total", geometry.Total),
		logging.F("alines", params.SamplesPerCross),
		logging.F("spectrum_length", specLen),
	)
	return &initResult{geometry: geometry, recon: recon, apod: apod, specLen: specLen}, nil
}

// shutdownDevice stops streaming and closes the session on every exit path.
// It uses a fresh context because the run context is usually already
// canceled by the time it executes.
func (s *Session) shutdownDevice() {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.cfg.Device.Stop(stopCtx); err != nil {
		s.log.Warn("device stop failed", logging.F("err", err))
	}
	if err := s.cfg.Device.Close(); err != nil {
		s.log.Warn("device close failed", logging.F("err", err))
	}
}

// Scan runs live mode: stream frames indefinitely, decimate, process and
// report each kept frame, until ctx is canceled or Abort is called. A frame
// that fails processing is logged and dropped; the stream continues.
func (s *Session) Scan(ctx context.Context) error {
	runCtx, err := s.begin(ctx, "scan")
	if err != nil {
		return err
	}
	defer s.end()

	// Live streams a single repeat of the pattern.
	params := s.cfg.Scan
	params.Repeats = 1

	res, initErr := s.initialize(runCtx, params, device.ModeLive)
	if initErr != nil {
		if s.State() == StateAborting || runCtx.Err() != nil {
			return nil
		}
		return &SessionError{Op: "scan", Err: initErr}
	}
	defer s.shutdownDevice()
	s.state.CompareAndSwap(int32(StateInitializing), int32(StateStreaming))

	interval := s.cfg.DecimationInterval(params.SamplesPerCross)
	if interval < 1 {
		interval = 1
	}

	frames := make(chan []uint16, s.cfg.QueueDepth)
	var producerErr error
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Producer shutdown begins the drain: the consumer finishes what is
		// queued while no new frames arrive. Flip the state before closing
		// the channel.
		defer close(frames)
		defer s.state.CompareAndSwap(int32(StateStreaming), int32(StateDraining))
		counter := 0
		for runCtx.Err() == nil {
			frame, err := s.cfg.Device.PullFrame(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					producerErr = err
				}
				return
			}
			if counter%interval == 0 {
				// The display path must never exert backpressure on the
				// device loop; drop when the consumer lags.
				select {
				case frames <- frame:
				default:
					s.dropped.Add(1)
				}
			} else {
				s.dropped.Add(1)
			}
			counter++
		}
	}()

	seq := 0
	for frame := range frames {
		if runCtx.Err() != nil {
			// Draining after an abort: discard what is queued.
			continue
		}
		if err := s.processLiveFrame(frame, res, seq); err != nil {
			s.log.Warn("frame processing failed", logging.F("seq", seq), logging.F("err", err))
			s.dropped.Add(1)
		} else {
			s.processed.Add(1)
		}
		seq++
	}
	wg.Wait()

	if producerErr != nil {
		return &SessionError{Op: "scan", Err: producerErr}
	}
	return nil
}

func (s *Session) processLiveFrame(frame []uint16, res *initResult, seq int) error {
	g := res.geometry
	m, err := oct.Demux(frame, g.MaskA, s.cfg.Scan.SamplesPerCross, res.specLen)
	if err != nil {
		return err
	}

	// One raw spectrum for the fringe display, before correction.
	var spectrum []float64
	if s.cfg.Reporter != nil {
		spectrum = make([]float64, res.specLen)
		m.Col(spectrum, 0)
	}

	if err := m.ApplyReference(res.apod); err != nil {
		return err
	}
	b, err := res.recon.Reconstruct(m)
	if err != nil {
		return err
	}

	if s.cfg.Reporter != nil {
		s.cfg.Reporter.Report(telemetry.Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Spectrum:  spectrum,
			Magnitude: b.Magnitude(),
			Depth:     b.Depth,
			Cols:      b.Cols,
			Processed: int(s.processed.Load()) + 1,
			Dropped:   int(s.dropped.Load()),
		})
	}
	return nil
}

// Acquire runs acquisition mode: capture exactly Scan.Repeats frames
// losslessly, then drain them into a FITS container at OutputPath. Producer
// backpressure is allowed; any frame or persistence error is fatal.
func (s *Session) Acquire(ctx context.Context) (string, error) {
	runCtx, err := s.begin(ctx, "acquire")
	if err != nil {
		return "", err
	}
	defer s.end()

	params := s.cfg.Scan
	if params.Repeats < 1 {
		return "", &SessionError{Op: "acquire", Err: fmt.Errorf("repeat count %d", params.Repeats)}
	}
	if s.cfg.OutputPath == "" {
		return "", &SessionError{Op: "acquire", Err: fmt.Errorf("output path is required")}
	}

	res, initErr := s.initialize(runCtx, params, device.ModeAcquire)
	if initErr != nil {
		if runCtx.Err() != nil {
			return "", &SessionError{Op: "acquire", Err: runCtx.Err()}
		}
		return "", &SessionError{Op: "acquire", Err: initErr}
	}
	defer s.shutdownDevice()
	s.state.CompareAndSwap(int32(StateInitializing), int32(StateStreaming))

	g := res.geometry
	alines := params.SamplesPerCross
	repeats := params.Repeats
	slabLen := res.specLen * alines * 2

	frames := make(chan []uint16, s.cfg.QueueDepth)
	var producerErr error
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(frames)
		defer s.state.CompareAndSwap(int32(StateStreaming), int32(StateDraining))
		for i := 0; i < repeats; i++ {
			frame, err := s.cfg.Device.PullFrame(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					producerErr = err
				}
				return
			}
			// Acquisition is lossless: block until the consumer catches up,
			// but stay responsive to abort.
			select {
			case frames <- frame:
			case <-runCtx.Done():
				return
			}
		}
	}()

	cube := make([]uint16, slabLen*repeats)
	stored := 0
	var consumeErr error
	for frame := range frames {
		if consumeErr != nil || runCtx.Err() != nil {
			continue
		}
		slab, err := oct.ReshapeCrosses(frame, g.MaskA, g.MaskB, alines, res.specLen)
		if err != nil {
			consumeErr = fmt.Errorf("frame %d: %w", stored, err)
			s.Abort()
			continue
		}
		copy(cube[stored*slabLen:], slab)
		stored++
		s.processed.Add(1)
	}
	wg.Wait()

	switch {
	case consumeErr != nil:
		return "", &SessionError{Op: "acquire", Err: consumeErr}
	case producerErr != nil:
		return "", &SessionError{Op: "acquire", Err: producerErr}
	case runCtx.Err() != nil:
		return "", &SessionError{Op: "acquire", Err: runCtx.Err()}
	case stored != repeats:
		return "", &SessionError{Op: "acquire", Err: fmt.Errorf("captured %d of %d repeats", stored, repeats)}
	}

	acq := &store.Acquisition{
		Raw:           cube,
		SpecLen:       res.specLen,
		Alines:        alines,
		Repeats:       repeats,
		Positions:     g.Positions[:2*g.Total],
		PatternTotal:  g.Total,
		SampleSpacing: g.SampleSpacing,
	}
	if err := store.WriteAcquisition(s.cfg.OutputPath, acq); err != nil {
		return "", &SessionError{Op: "acquire", Err: err}
	}

	s.log.Info("acquisition complete",
		logging.F("path", s.cfg.OutputPath),
		logging.F("repeats", repeats),
		logging.F("alines", alines),
	)
	return s.cfg.OutputPath, nil
}
