// Package store persists raw acquisitions as FITS containers: a primary 4D
// cube of spectra plus the scan positions as an image extension, with the
// pattern metadata in the primary header.
package store

import (
	"fmt"
	"os"

	"github.com/astrogo/fitsio"
)

// Header card names in the primary HDU.
const (
	cardPatternTotal  = "PATTOTAL"
	cardAlines        = "ALINES"
	cardRepeats       = "REPEATS"
	cardSpecLen       = "SPECLEN"
	cardSampleSpacing = "SPACING"
)

// WriteError reports a failed persistence operation.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write acquisition %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Acquisition is one completed acquisition: every repeat of both cross
// B-scans, raw, plus the geometry needed to interpret it.
type Acquisition struct {
	// Raw has shape [specLen, alines, 2, repeats] with the spectral axis
	// fastest: sample (z, a, c, r) lives at
	// ((r*2+c)*alines+a)*specLen+z.
	Raw []uint16

	SpecLen int
	Alines  int
	Repeats int

	// Positions is the interleaved x/y buffer of a single pattern repeat.
	Positions []float32
	// PatternTotal is the A-scans per pattern repeat, crosses and flybacks.
	PatternTotal int
	// SampleSpacing is the distance between adjacent cross A-scans.
	SampleSpacing float64
}

func (a *Acquisition) validate() error {
	if a.SpecLen < 1 || a.Alines < 1 || a.Repeats < 1 {
		return fmt.Errorf("invalid cube shape [%d, %d, 2, %d]", a.SpecLen, a.Alines, a.Repeats)
	}
	if want := a.SpecLen * a.Alines * 2 * a.Repeats; len(a.Raw) != want {
		return fmt.Errorf("raw cube has %d samples, shape requires %d", len(a.Raw), want)
	}
	if len(a.Positions)%2 != 0 {
		return fmt.Errorf("position buffer has odd length %d", len(a.Positions))
	}
	return nil
}

// WriteAcquisition writes acq to path as a FITS container.
func WriteAcquisition(path string, acq *Acquisition) error {
	if err := acq.validate(); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	defer f.Close()

	fits, err := fitsio.Create(f)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	defer fits.Close()

	cube := fitsio.NewImage(16, []int{acq.SpecLen, acq.Alines, 2, acq.Repeats})
	defer cube.Close()
	err = cube.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768, Comment: "unsigned 16-bit convention"},
		fitsio.Card{Name: "BSCALE", Value: 1, Comment: ""},
		fitsio.Card{Name: cardPatternTotal, Value: acq.PatternTotal, Comment: "A-scans per pattern repeat"},
		fitsio.Card{Name: cardAlines, Value: acq.Alines, Comment: "A-scans per cross B-scan"},
		fitsio.Card{Name: cardRepeats, Value: acq.Repeats, Comment: "pattern repeats acquired"},
		fitsio.Card{Name: cardSpecLen, Value: acq.SpecLen, Comment: "samples per spectrum"},
		fitsio.Card{Name: cardSampleSpacing, Value: acq.SampleSpacing, Comment: "cross A-scan spacing"},
	)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}

	// FITS 16-bit images are signed; shift the unsigned samples down so the
	// BZERO card restores them on read.
	signed := make([]int16, len(acq.Raw))
	for i, v := range acq.Raw {
		signed[i] = int16(v - 32768)
	}
	if err := cube.Write(signed); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := fits.Write(cube); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	pos := fitsio.NewImage(-32, []int{2, len(acq.Positions) / 2})
	defer pos.Close()
	err = pos.Header().Append(
		fitsio.Card{Name: "EXTNAME", Value: "POSITIONS", Comment: "interleaved x/y scan positions"},
	)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := pos.Write(acq.Positions); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := fits.Write(pos); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// ReadAcquisition loads a container written by WriteAcquisition.
func ReadAcquisition(path string) (*Acquisition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fits.Close()

	if len(fits.HDUs()) < 2 {
		return nil, fmt.Errorf("%s: expected raw cube and positions, found %d HDUs", path, len(fits.HDUs()))
	}
	cube, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: primary HDU is not an image", path)
	}
	hdr := cube.Header()
	axes := hdr.Axes()
	if len(axes) != 4 || axes[2] != 2 {
		return nil, fmt.Errorf("%s: unexpected cube shape %v", path, axes)
	}

	acq := &Acquisition{
		SpecLen: axes[0],
		Alines:  axes[1],
		Repeats: axes[3],
	}
	if acq.PatternTotal, err = intCard(hdr, cardPatternTotal); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if acq.SampleSpacing, err = floatCard(hdr, cardSampleSpacing); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	signed := make([]int16, acq.SpecLen*acq.Alines*2*acq.Repeats)
	if err := cube.Read(&signed); err != nil {
		return nil, fmt.Errorf("%s: read raw cube: %w", path, err)
	}
	acq.Raw = make([]uint16, len(signed))
	for i, v := range signed {
		acq.Raw[i] = uint16(v) + 32768
	}

	pos, ok := fits.HDU(1).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: positions HDU is not an image", path)
	}
	paxes := pos.Header().Axes()
	if len(paxes) != 2 || paxes[0] != 2 {
		return nil, fmt.Errorf("%s: unexpected positions shape %v", path, paxes)
	}
	acq.Positions = make([]float32, paxes[0]*paxes[1])
	if err := pos.Read(&acq.Positions); err != nil {
		return nil, fmt.Errorf("%s: read positions: %w", path, err)
	}

	if err := acq.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return acq, nil
}

func intCard(hdr *fitsio.Header, name string) (int, error) {
	card := hdr.Get(name)
	if card == nil {
		return 0, fmt.Errorf("missing %s card", name)
	}
	v, ok := card.Value.(int)
	if !ok {
		return 0, fmt.Errorf("%s card holds %T, want int", name, card.Value)
	}
	return v, nil
}

func floatCard(hdr *fitsio.Header, name string) (float64, error) {
	card := hdr.Get(name)
	if card == nil {
		return 0, fmt.Errorf("missing %s card", name)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%s card holds %T, want float", name, card.Value)
}
