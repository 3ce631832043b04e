// Package wavecal manages the spectrometer wavelength calibration table:
// a per-pixel wavelength vector queried from the engine once and cached on
// disk between sessions.
package wavecal

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/openoct/GoOCT/internal/device"
	"github.com/openoct/GoOCT/internal/logging"
)

// File format: magic, uint32 count, count little-endian float64 values.
var magic = [4]byte{'O', 'C', 'T', 'L'}

// Table is a wavelength per spectral pixel, in device order.
type Table []float64

// CachePath returns the cache file for a probe configuration inside dir.
func CachePath(dir, configName string) string {
	if configName == "" {
		configName = "default"
	}
	return filepath.Join(dir, fmt.Sprintf("lam-%s.bin", configName))
}

// Load reads and validates a cached table.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", path, err)
	}
	return t, nil
}

// Save writes the table atomically next to path.
func (t Table) Save(path string) error {
	if len(t) < 2 {
		return fmt.Errorf("refusing to save table with %d entries", len(t))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, t.encode(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (t Table) encode() []byte {
	out := make([]byte, 8+8*len(t))
	copy(out, magic[:])
	binary.LittleEndian.PutUint32(out[4:], uint32(len(t)))
	for i, v := range t {
		binary.LittleEndian.PutUint64(out[8+8*i:], math.Float64bits(v))
	}
	return out
}

func decode(data []byte) (Table, error) {
	if len(data) < 8 || [4]byte(data[:4]) != magic {
		return nil, fmt.Errorf("not a wavelength table")
	}
	count := int(binary.LittleEndian.Uint32(data[4:]))
	if count < 2 {
		return nil, fmt.Errorf("table has %d entries", count)
	}
	if len(data) != 8+8*count {
		return nil, fmt.Errorf("table truncated: header says %d entries, payload holds %d bytes", count, len(data)-8)
	}
	t := make(Table, count)
	for i := range t {
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[8+8*i:]))
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return nil, fmt.Errorf("invalid wavelength %g at index %d", v, i)
		}
		t[i] = v
	}
	return t, nil
}

// QueryDevice reads the full table from an open device, one entry at a time.
func QueryDevice(ctx context.Context, dev device.Device, n int) (Table, error) {
	if n < 2 {
		return nil, fmt.Errorf("table size %d too small", n)
	}
	t := make(Table, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := dev.WavelengthAt(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("query wavelength %d: %w", i, err)
		}
		t[i] = v
	}
	return t, nil
}

// Ensure returns the table for path, falling back to a device query when the
// cache is missing or unreadable. A fresh query is written back to the cache
// best-effort.
func Ensure(ctx context.Context, path string, dev device.Device, n int, log logging.Logger) (Table, error) {
	return ensure(ctx, path, n, log, func(ctx context.Context) (Table, error) {
		return QueryDevice(ctx, dev, n)
	})
}

// EnsureRemote is Ensure for engines without the per-pixel wavelength query:
// on a cache miss the table is copied from the engine host over SSH instead.
func EnsureRemote(ctx context.Context, path string, cfg SSHConfig, n int, log logging.Logger) (Table, error) {
	return ensure(ctx, path, n, log, func(ctx context.Context) (Table, error) {
		t, err := FetchSSH(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if len(t) != n {
			return nil, fmt.Errorf("remote table has %d entries, spectra have %d", len(t), n)
		}
		return t, nil
	})
}

func ensure(ctx context.Context, path string, n int, log logging.Logger, fetch func(context.Context) (Table, error)) (Table, error) {
	if log == nil {
		log = logging.Default()
	}

	t, err := Load(path)
	if err == nil {
		if len(t) == n {
			return t, nil
		}
		log.Warn("wavelength cache size mismatch, refetching",
			logging.F("path", path), logging.F("cached", len(t)), logging.F("want", n))
	} else if !os.IsNotExist(err) {
		log.Warn("wavelength cache unreadable, refetching",
			logging.F("path", path), logging.F("err", err))
	}

	t, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.Save(path); err != nil {
		log.Warn("could not write wavelength cache",
			logging.F("path", path), logging.F("err", err))
	}
	return t, nil
}
