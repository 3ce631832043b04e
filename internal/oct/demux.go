package oct

import "fmt"

// Demux extracts the A-scans selected by mask from a raw frame into a
// spectral matrix. The frame is laid out A-scan major: sample z of pattern
// position n is raw[n*specLen+z]. alines must equal the number of true
// entries in mask.
//
// A frame shorter than the pattern requires yields a TruncatedFrameError.
func Demux(raw []uint16, mask []bool, alines, specLen int) (*SpectralMatrix, error) {
	if specLen < 1 {
		return nil, fmt.Errorf("spectrum length must be positive, got %d", specLen)
	}
	selected := 0
	for _, b := range mask {
		if b {
			selected++
		}
	}
	if selected != alines {
		return nil, fmt.Errorf("mask selects %d A-scans, expected %d", selected, alines)
	}
	if need := len(mask) * specLen; len(raw) < need {
		return nil, &TruncatedFrameError{Need: need, Got: len(raw)}
	}

	m := NewSpectralMatrix(specLen, alines)
	col := 0
	for n, b := range mask {
		if !b {
			continue
		}
		spec := raw[n*specLen : (n+1)*specLen]
		for z, s := range spec {
			m.Data[z*alines+col] = float64(s)
		}
		col++
	}
	return m, nil
}

// ReshapeCrosses packs the two cross B-scans of one raw frame into a
// contiguous uint16 slab of shape [specLen, alines, 2] with the spectral
// axis fastest, the layout used by the acquisition cube on disk.
func ReshapeCrosses(raw []uint16, maskA, maskB []bool, alines, specLen int) ([]uint16, error) {
	if len(maskA) != len(maskB) {
		return nil, fmt.Errorf("cross masks differ in length: %d vs %d", len(maskA), len(maskB))
	}
	if need := len(maskA) * specLen; len(raw) < need {
		return nil, &TruncatedFrameError{Need: need, Got: len(raw)}
	}

	slab := make([]uint16, specLen*alines*2)
	for c, mask := range [][]bool{maskA, maskB} {
		col := 0
		for n, b := range mask {
			if !b {
				continue
			}
			if col >= alines {
				return nil, fmt.Errorf("cross %d mask selects more than %d A-scans", c, alines)
			}
			copy(slab[(c*alines+col)*specLen:], raw[n*specLen:(n+1)*specLen])
			col++
		}
		if col != alines {
			return nil, fmt.Errorf("cross %d mask selects %d A-scans, expected %d", c, col, alines)
		}
	}
	return slab, nil
}
