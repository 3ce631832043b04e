// Command octscan drives an OCT engine through a figure-eight scan session:
// live streaming with a browser display, or a bounded acquisition written to
// a FITS container.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/openoct/GoOCT/internal/device"
	"github.com/openoct/GoOCT/internal/logging"
	"github.com/openoct/GoOCT/internal/pipeline"
	"github.com/openoct/GoOCT/internal/scan"
	"github.com/openoct/GoOCT/internal/telemetry"
	"github.com/openoct/GoOCT/internal/wavecal"
)

func main() {
	const configPath = "octscan.yaml"

	persisted, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persisted)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Fatalf("parse log level: %v", err)
	}
	logger := logging.New(os.Stderr, logging.Options{Level: level})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := selectBackend(cfg, logger)
	if err != nil {
		log.Fatalf("select backend: %v", err)
	}

	var reporters []telemetry.Reporter
	if cfg.webAddr != "" {
		hub := telemetry.NewHub(cfg.historyLimit, logger)
		reporters = append(reporters, hub)
		go telemetry.NewWebServer(cfg.webAddr, hub, logger).Start(ctx)
		logger.Info("display available", logging.F("url", "http://localhost"+cfg.webAddr))
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	session, err := pipeline.NewSession(pipeline.Config{
		Device: dev,
		DeviceConfig: device.Config{
			Addr:         cfg.engineAddr,
			ConfigName:   cfg.probeConfig,
			ImagingRate:  cfg.imagingRate,
			PatternAngle: cfg.patternAngle,
		},
		Scan: scan.Params{
			CrossHalfWidth:  cfg.crossHalfWidth,
			SamplesPerCross: cfg.alinesPerCross,
			FlybackSamples:  cfg.flybackSamples,
			Repeats:         cfg.repeats,
		},
		OutputPath: cfg.outputPath,
		CacheDir:   cfg.cacheDir,
		WavelengthSSH: wavecal.SSHConfig{
			Host:       cfg.wavecalSSHHost,
			User:       cfg.wavecalSSHUser,
			Password:   cfg.wavecalSSHPassword,
			KeyPath:    cfg.wavecalSSHKey,
			Port:       cfg.wavecalSSHPort,
			RemotePath: cfg.wavecalSSHPath,
		},
		ROIStart:   cfg.roiStart,
		ROIEnd:     cfg.roiEnd,
		QueueDepth: cfg.queueDepth,
		Reporter:   telemetry.MultiReporter(reporters),
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("build session: %v", err)
	}

	// First interrupt aborts the session cleanly; a second one kills the
	// process context.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("interrupt received, aborting session")
		session.Abort()
		<-sigs
		cancel()
	}()

	switch cfg.mode {
	case "live":
		logger.Info("starting live scan (Ctrl+C to stop)")
		if err := session.Scan(ctx); err != nil {
			log.Fatalf("scan: %v", err)
		}
	case "acquire":
		logger.Info("starting acquisition",
			logging.F("repeats", cfg.repeats), logging.F("output", cfg.outputPath))
		path, err := session.Acquire(ctx)
		if err != nil {
			log.Fatalf("acquire: %v", err)
		}
		logger.Info("acquisition saved", logging.F("path", path))
	default:
		log.Fatalf("unknown mode %q (want live or acquire)", cfg.mode)
	}
}

type cliConfig struct {
	mode           string
	backend        string
	engineAddr     string
	probeConfig    string
	imagingRate    float64
	patternAngle   float64
	crossHalfWidth float64
	alinesPerCross int
	flybackSamples int
	repeats        int
	roiStart       int
	roiEnd         int
	outputPath     string
	cacheDir       string
	queueDepth     int
	historyLimit   int
	webAddr        string
	logLevel       string

	wavecalSSHHost     string
	wavecalSSHUser     string
	wavecalSSHPassword string
	wavecalSSHKey      string
	wavecalSSHPort     int
	wavecalSSHPath     string
}

type persistentConfig struct {
	Mode           string  `yaml:"mode"`
	Backend        string  `yaml:"backend"`
	EngineAddr     string  `yaml:"engine_addr"`
	ProbeConfig    string  `yaml:"probe_config"`
	ImagingRate    float64 `yaml:"imaging_rate"`
	PatternAngle   float64 `yaml:"pattern_angle"`
	CrossHalfWidth float64 `yaml:"cross_half_width"`
	AlinesPerCross int     `yaml:"alines_per_cross"`
	FlybackSamples int     `yaml:"flyback_samples"`
	Repeats        int     `yaml:"repeats"`
	ROIStart       int     `yaml:"roi_start"`
	ROIEnd         int     `yaml:"roi_end"`
	OutputPath     string  `yaml:"output_path"`
	CacheDir       string  `yaml:"cache_dir"`
	QueueDepth     int     `yaml:"queue_depth"`
	HistoryLimit   int     `yaml:"history_limit"`
	WebAddr        string  `yaml:"web_addr"`
	LogLevel       string  `yaml:"log_level"`

	// The SSH password is deliberately not persisted; pass it per run via
	// flag or OCT_WAVECAL_SSH_PASSWORD.
	WavecalSSHHost string `yaml:"wavecal_ssh_host"`
	WavecalSSHUser string `yaml:"wavecal_ssh_user"`
	WavecalSSHKey  string `yaml:"wavecal_ssh_key"`
	WavecalSSHPort int    `yaml:"wavecal_ssh_port"`
	WavecalSSHPath string `yaml:"wavecal_ssh_path"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("octscan", flag.ContinueOnError)
	fs.StringVar(&cfg.mode, "mode", envString(lookup, "OCT_MODE", defaults.Mode), "Run mode (live|acquire)")
	fs.StringVar(&cfg.backend, "backend", envString(lookup, "OCT_BACKEND", defaults.Backend), "Device backend (mock|engine)")
	fs.StringVar(&cfg.engineAddr, "engine-addr", envString(lookup, "OCT_ENGINE_ADDR", defaults.EngineAddr), "Engine daemon address host:port")
	fs.StringVar(&cfg.probeConfig, "probe-config", envString(lookup, "OCT_PROBE_CONFIG", defaults.ProbeConfig), "Probe configuration name on the engine")
	fs.Float64Var(&cfg.imagingRate, "imaging-rate", envFloat(lookup, "OCT_IMAGING_RATE", defaults.ImagingRate), "A-scan rate in Hz (0 = engine default)")
	fs.Float64Var(&cfg.patternAngle, "pattern-angle", envFloat(lookup, "OCT_PATTERN_ANGLE", defaults.PatternAngle), "Pattern rotation angle in radians, applied on the engine")
	fs.Float64Var(&cfg.crossHalfWidth, "cross-half-width", envFloat(lookup, "OCT_CROSS_HALF_WIDTH", defaults.CrossHalfWidth), "Half extent of each cross B-scan in scanner units")
	fs.IntVar(&cfg.alinesPerCross, "alines-per-cross", envInt(lookup, "OCT_ALINES_PER_CROSS", defaults.AlinesPerCross), "A-scans per cross B-scan")
	fs.IntVar(&cfg.flybackSamples, "flyback-samples", envInt(lookup, "OCT_FLYBACK_SAMPLES", defaults.FlybackSamples), "A-scans per flyback loop")
	fs.IntVar(&cfg.repeats, "repeats", envInt(lookup, "OCT_REPEATS", defaults.Repeats), "Pattern repeats to capture in acquire mode")
	fs.IntVar(&cfg.roiStart, "roi-start", envInt(lookup, "OCT_ROI_START", defaults.ROIStart), "First depth pixel of the displayed ROI")
	fs.IntVar(&cfg.roiEnd, "roi-end", envInt(lookup, "OCT_ROI_END", defaults.ROIEnd), "End depth pixel of the displayed ROI (exclusive)")
	fs.StringVar(&cfg.outputPath, "output", envString(lookup, "OCT_OUTPUT", defaults.OutputPath), "Acquisition output path (FITS)")
	fs.StringVar(&cfg.cacheDir, "cache-dir", envString(lookup, "OCT_CACHE_DIR", defaults.CacheDir), "Directory for the wavelength calibration cache")
	fs.IntVar(&cfg.queueDepth, "queue-depth", envInt(lookup, "OCT_QUEUE_DEPTH", defaults.QueueDepth), "Frame queue depth between producer and consumer")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "OCT_HISTORY_LIMIT", defaults.HistoryLimit), "Frames to keep in display history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "OCT_WEB_ADDR", defaults.WebAddr), "Optional display listen address (e.g. :8080)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "OCT_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.wavecalSSHHost, "wavecal-ssh-host", envString(lookup, "OCT_WAVECAL_SSH_HOST", defaults.WavecalSSHHost), "Fetch the wavelength table from this engine host over SSH instead of the protocol query")
	fs.StringVar(&cfg.wavecalSSHUser, "wavecal-ssh-user", envString(lookup, "OCT_WAVECAL_SSH_USER", defaults.WavecalSSHUser), "SSH user for the wavelength table fetch")
	fs.StringVar(&cfg.wavecalSSHPassword, "wavecal-ssh-password", envString(lookup, "OCT_WAVECAL_SSH_PASSWORD", ""), "SSH password for the wavelength table fetch (never persisted)")
	fs.StringVar(&cfg.wavecalSSHKey, "wavecal-ssh-key", envString(lookup, "OCT_WAVECAL_SSH_KEY", defaults.WavecalSSHKey), "SSH private key file for the wavelength table fetch")
	fs.IntVar(&cfg.wavecalSSHPort, "wavecal-ssh-port", envInt(lookup, "OCT_WAVECAL_SSH_PORT", defaults.WavecalSSHPort), "SSH port on the engine host (0 = 22)")
	fs.StringVar(&cfg.wavecalSSHPath, "wavecal-ssh-path", envString(lookup, "OCT_WAVECAL_SSH_PATH", defaults.WavecalSSHPath), "Wavelength table path on the engine host")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Mode:           cfg.mode,
		Backend:        cfg.backend,
		EngineAddr:     cfg.engineAddr,
		ProbeConfig:    cfg.probeConfig,
		ImagingRate:    cfg.imagingRate,
		PatternAngle:   cfg.patternAngle,
		CrossHalfWidth: cfg.crossHalfWidth,
		AlinesPerCross: cfg.alinesPerCross,
		FlybackSamples: cfg.flybackSamples,
		Repeats:        cfg.repeats,
		ROIStart:       cfg.roiStart,
		ROIEnd:         cfg.roiEnd,
		OutputPath:     cfg.outputPath,
		CacheDir:       cfg.cacheDir,
		QueueDepth:     cfg.queueDepth,
		HistoryLimit:   cfg.historyLimit,
		WebAddr:        cfg.webAddr,
		LogLevel:       cfg.logLevel,
		WavecalSSHHost: cfg.wavecalSSHHost,
		WavecalSSHUser: cfg.wavecalSSHUser,
		WavecalSSHKey:  cfg.wavecalSSHKey,
		WavecalSSHPort: cfg.wavecalSSHPort,
		WavecalSSHPath: cfg.wavecalSSHPath,
	}
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Mode:           "live",
		Backend:        "mock",
		EngineAddr:     "",
		ProbeConfig:    "default",
		CrossHalfWidth: 2.5,
		AlinesPerCross: 64,
		FlybackSamples: scan.DefaultFlybackSamples,
		Repeats:        32,
		OutputPath:     "acquisition.fits",
		CacheDir:       ".",
		HistoryLimit:   32,
		WebAddr:        ":8080",
		LogLevel:       "info",
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}

	var cfg persistentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func selectBackend(cfg cliConfig, logger logging.Logger) (device.Device, error) {
	switch cfg.backend {
	case "mock":
		return device.NewMock(device.MockConfig{
			PatternPeriod: 2*cfg.flybackSamples + 2*cfg.alinesPerCross,
		}), nil
	case "engine":
		if cfg.engineAddr == "" {
			return nil, fmt.Errorf("engine backend needs -engine-addr (try octdiscover)")
		}
		return device.NewEngine(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %s", cfg.backend)
	}
}
