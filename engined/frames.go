package engined

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ParseUint16Samples decodes a little-endian raw frame payload into samples.
func ParseUint16Samples(payload []byte) ([]uint16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("frame payload has odd length %d", len(payload))
	}
	samples := make([]uint16, len(payload)/2)
	for i := range samples {
		samples[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return samples, nil
}

// FormatUint16Samples encodes samples as a little-endian payload.
func FormatUint16Samples(samples []uint16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], s)
	}
	return out
}

// FormatPositions encodes an interleaved x/y position buffer as
// little-endian float32, the wire format of PATTERN uploads.
func FormatPositions(positions []float32) []byte {
	out := make([]byte, 4*len(positions))
	for i, p := range positions {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(p))
	}
	return out
}

// ParsePositions decodes a PATTERN payload back into interleaved floats.
func ParsePositions(payload []byte) ([]float32, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("position payload length %d is not a multiple of 4", len(payload))
	}
	out := make([]float32, len(payload)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return out, nil
}
