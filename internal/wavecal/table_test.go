package wavecal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoct/GoOCT/internal/device"
	"github.com/openoct/GoOCT/internal/logging"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lam-test.bin")
	in := Table{930.5, 930.45, 930.4, 930.35}

	require.NoError(t, in.Save(path))
	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadRejectsCorruptedCache(t *testing.T) {
	dir := t.TempDir()

	cases := map[string][]byte{
		"bad magic":  []byte("NOPE\x04\x00\x00\x00garbage"),
		"short":      append([]byte("OCTL"), 0x10, 0, 0, 0),
		"tiny count": {'O', 'C', 'T', 'L', 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".bin")
			require.NoError(t, os.WriteFile(path, data, 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestCachePath(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "lam-probe3.bin"), CachePath("d", "probe3"))
	assert.Equal(t, filepath.Join("d", "lam-default.bin"), CachePath("d", ""))
}

func TestEnsureQueriesDeviceOnMissingCache(t *testing.T) {
	const n = 32
	dev := device.NewMock(device.MockConfig{SpecLen: n})
	require.NoError(t, dev.Open(context.Background(), device.Config{}))

	path := filepath.Join(t.TempDir(), "lam-default.bin")
	got, err := Ensure(context.Background(), path, dev, n, logging.Nop())
	require.NoError(t, err)
	require.Len(t, got, n)

	want, err := QueryDevice(context.Background(), dev, n)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The fresh query must have been written back.
	cached, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, got, cached)
}

func TestEnsureRecoversFromCorruptedCache(t *testing.T) {
	const n = 16
	dev := device.NewMock(device.MockConfig{SpecLen: n})
	require.NoError(t, dev.Open(context.Background(), device.Config{}))

	path := filepath.Join(t.TempDir(), "lam-default.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a table"), 0o644))

	got, err := Ensure(context.Background(), path, dev, n, logging.Nop())
	require.NoError(t, err)
	require.Len(t, got, n)

	cached, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, got, cached)
}
