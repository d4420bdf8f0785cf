// Package decoder decodes sub-rectangles of encoded images without
// materializing the full pixel buffer, where the encoding allows it.
package decoder

import (
	"errors"
	"fmt"
	"image"
	"io"
)

var (
	// ErrRegionUnsupported is returned by NewRegionDecoder when the encoding
	// cannot be region-decoded. Callers fall back to a full decode.
	ErrRegionUnsupported = errors.New("region decoding not supported for this encoding")

	// ErrOutOfMemory is returned when a decode would exceed the memory budget.
	ErrOutOfMemory = errors.New("out of memory")
)

// RegionDecoder decodes rectangles of a single encoded image.
type RegionDecoder interface {
	Width() int
	Height() int
	// DecodeRegion decodes r, which must lie within the image bounds. The
	// returned image has bounds (0, 0, r.Dx(), r.Dy()).
	DecodeRegion(r image.Rectangle) (image.Image, error)
}

// NewRegionDecoder probes rs and returns a RegionDecoder for it. It returns
// ErrRegionUnsupported (possibly wrapped) when the encoding has no region
// decoder. rs must stay open for as long as the decoder is used.
func NewRegionDecoder(rs io.ReadSeeker, budget Budget) (RegionDecoder, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var magic [2]byte
	if _, err := io.ReadFull(rs, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegionUnsupported, err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch string(magic[:]) {
	case "BM":
		return newBMPDecoder(rs, budget)
	}
	return nil, ErrRegionUnsupported
}

// Budget caps the size, in bytes, of a single decoded pixel buffer. Buffers
// are accounted at 4 bytes per pixel. Zero means unlimited.
type Budget int64

// DefaultBudget allows a 64 megapixel buffer.
const DefaultBudget Budget = 256 << 20

// Check returns ErrOutOfMemory when a w x h buffer exceeds the budget.
func (b Budget) Check(w, h int) error {
	if b <= 0 {
		return nil
	}
	if need := int64(w) * int64(h) * 4; need > int64(b) {
		return fmt.Errorf("%w: %dx%d needs %d bytes, budget is %d", ErrOutOfMemory, w, h, need, int64(b))
	}
	return nil
}
