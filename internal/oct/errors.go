package oct

import "fmt"

// TruncatedFrameError reports a raw frame shorter than the programmed
// pattern requires.
type TruncatedFrameError struct {
	Need int
	Got  int
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("truncated frame: need %d samples, got %d", e.Need, e.Got)
}

// DegenerateDCError reports a zero DC estimate at a spectral index, which
// would make the normalization window undefined.
type DegenerateDCError struct {
	Index int
}

func (e *DegenerateDCError) Error() string {
	return fmt.Sprintf("degenerate DC spectrum: zero mean at spectral index %d", e.Index)
}
