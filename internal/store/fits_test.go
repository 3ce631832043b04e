package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAcquisition() *Acquisition {
	const (
		specLen = 8
		alines  = 3
		repeats = 2
	)
	raw := make([]uint16, specLen*alines*2*repeats)
	for i := range raw {
		raw[i] = uint16(i * 577) // wraps past 32768 to cover the sign shift
	}
	raw[0] = 0
	raw[1] = 65535
	raw[2] = 32768

	positions := make([]float32, 2*10)
	for i := range positions {
		positions[i] = float32(i) - 7.5
	}

	return &Acquisition{
		Raw:           raw,
		SpecLen:       specLen,
		Alines:        alines,
		Repeats:       repeats,
		Positions:     positions,
		PatternTotal:  10,
		SampleSpacing: 0.125,
	}
}

func TestAcquisitionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acq.fits")
	in := sampleAcquisition()

	require.NoError(t, WriteAcquisition(path, in))

	out, err := ReadAcquisition(path)
	require.NoError(t, err)
	assert.Equal(t, in.Raw, out.Raw, "raw samples must survive the signed shift exactly")
	assert.Equal(t, in.SpecLen, out.SpecLen)
	assert.Equal(t, in.Alines, out.Alines)
	assert.Equal(t, in.Repeats, out.Repeats)
	assert.Equal(t, in.Positions, out.Positions)
	assert.Equal(t, in.PatternTotal, out.PatternTotal)
	assert.InDelta(t, in.SampleSpacing, out.SampleSpacing, 1e-12)
}

func TestWriteAcquisitionRejectsBadShape(t *testing.T) {
	acq := sampleAcquisition()
	acq.Raw = acq.Raw[:5]

	err := WriteAcquisition(filepath.Join(t.TempDir(), "bad.fits"), acq)
	require.Error(t, err)
	var werr *WriteError
	assert.True(t, errors.As(err, &werr))
}

func TestWriteAcquisitionBadPath(t *testing.T) {
	err := WriteAcquisition(filepath.Join(t.TempDir(), "missing", "dir", "acq.fits"), sampleAcquisition())
	require.Error(t, err)
	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.NotNil(t, werr.Unwrap())
}

func TestReadAcquisitionRejectsMissingMetadata(t *testing.T) {
	// A structurally valid container without the pattern cards must be
	// refused, not read back with zeroed geometry.
	path := filepath.Join(t.TempDir(), "bare.fits")
	f, err := os.Create(path)
	require.NoError(t, err)

	fits, err := fitsio.Create(f)
	require.NoError(t, err)

	cube := fitsio.NewImage(16, []int{2, 2, 2, 1})
	require.NoError(t, cube.Write(make([]int16, 8)))
	require.NoError(t, fits.Write(cube))
	require.NoError(t, cube.Close())

	pos := fitsio.NewImage(-32, []int{2, 3})
	require.NoError(t, pos.Write(make([]float32, 6)))
	require.NoError(t, fits.Write(pos))
	require.NoError(t, pos.Close())

	require.NoError(t, fits.Close())
	require.NoError(t, f.Close())

	_, err = ReadAcquisition(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), cardPatternTotal)
}

func TestReadAcquisitionMissingFile(t *testing.T) {
	_, err := ReadAcquisition(filepath.Join(t.TempDir(), "nope.fits"))
	require.Error(t, err)
}
