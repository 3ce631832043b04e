package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockLifecycle(t *testing.T) {
	m := NewMock(MockConfig{SpecLen: 64, PatternPeriod: 8})
	ctx := context.Background()

	_, err := m.ProgramPattern(ctx, []float32{1, 2})
	require.Error(t, err, "program before open")

	require.NoError(t, m.Open(ctx, Config{}))
	assert.Equal(t, 64, m.SpectrumLength())

	positions := make([]float32, 2*8*3) // three tiled repeats
	p, err := m.ProgramPattern(ctx, positions)
	require.NoError(t, err)
	assert.Equal(t, 24, p.Total)

	_, err = m.PullFrame(ctx)
	require.Error(t, err, "pull before start")

	require.NoError(t, m.Start(ctx, p, ModeLive))
	frame, err := m.PullFrame(ctx)
	require.NoError(t, err)
	assert.Len(t, frame, 8*64, "one pattern period per frame")

	require.NoError(t, m.Stop(ctx))
	_, err = m.PullFrame(ctx)
	require.Error(t, err, "pull after stop")
	require.NoError(t, m.Close())
}

func TestMockFrameHook(t *testing.T) {
	m := NewMock(MockConfig{SpecLen: 16, PatternPeriod: 4})
	ctx := context.Background()
	require.NoError(t, m.Open(ctx, Config{}))
	p, err := m.ProgramPattern(ctx, make([]float32, 8))
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, p, ModeAcquire))

	m.FrameHook = func(i int, frame []uint16) []uint16 {
		if i == 1 {
			return frame[:3] // truncate the second frame
		}
		return frame
	}

	f0, err := m.PullFrame(ctx)
	require.NoError(t, err)
	assert.Len(t, f0, 64)

	f1, err := m.PullFrame(ctx)
	require.NoError(t, err)
	assert.Len(t, f1, 3)
	assert.Equal(t, 2, m.Frames())
}

func TestMockWavelengthTableDescends(t *testing.T) {
	m := NewMock(MockConfig{SpecLen: 32})
	ctx := context.Background()

	prev, err := m.WavelengthAt(ctx, 0)
	require.NoError(t, err)
	for i := 1; i < 32; i++ {
		v, err := m.WavelengthAt(ctx, i)
		require.NoError(t, err)
		assert.Less(t, v, prev)
		prev = v
	}

	_, err = m.WavelengthAt(ctx, 32)
	require.Error(t, err)
}
