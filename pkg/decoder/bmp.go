package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
)

// bmpHeader is the subset of a BMP header needed to locate pixel rows.
type bmpHeader struct {
	width        int
	height       int
	bitsPerPixel int
	topDown      bool
	allowAlpha   bool
	pixelOffset  int64
}

// rowBytes is the padded length of one stored pixel row.
func (h bmpHeader) rowBytes() int64 {
	return int64((h.width*h.bitsPerPixel+31)/32) * 4
}

// decodeBMPHeader was lifted from x/image/bmp and narrowed to uncompressed 24
// and 32 bit images, the only layouts whose rows can be addressed directly.
func decodeBMPHeader(r io.Reader) (bmpHeader, error) {
	const (
		fileHeaderLen   = 14
		infoHeaderLen   = 40
		v4InfoHeaderLen = 108
		v5InfoHeaderLen = 124
	)
	var res bmpHeader
	var b [fileHeaderLen + v5InfoHeaderLen]byte
	if _, err := io.ReadFull(r, b[:fileHeaderLen+4]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return res, err
	}
	if string(b[:2]) != "BM" {
		return res, errors.New("bmp: invalid format")
	}
	offset := binary.LittleEndian.Uint32(b[10:14])
	infoLen := binary.LittleEndian.Uint32(b[14:18])
	if infoLen != infoHeaderLen && infoLen != v4InfoHeaderLen && infoLen != v5InfoHeaderLen {
		return res, fmt.Errorf("%w: bmp info header length %d", ErrRegionUnsupported, infoLen)
	}
	if _, err := io.ReadFull(r, b[fileHeaderLen+4:fileHeaderLen+infoLen]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return res, err
	}
	width := int(int32(binary.LittleEndian.Uint32(b[18:22])))
	height := int(int32(binary.LittleEndian.Uint32(b[22:26])))
	if height < 0 {
		height, res.topDown = -height, true
	}
	if width <= 0 || height <= 0 {
		return res, fmt.Errorf("%w: bmp dimensions %dx%d", ErrRegionUnsupported, width, height)
	}
	planes := binary.LittleEndian.Uint16(b[26:28])
	bpp := binary.LittleEndian.Uint16(b[28:30])
	compression := binary.LittleEndian.Uint32(b[30:34])
	// BI_BITFIELDS with the default masks is laid out as BI_RGB.
	if compression == 3 && infoLen > infoHeaderLen &&
		binary.LittleEndian.Uint32(b[54:58]) == 0xff0000 && binary.LittleEndian.Uint32(b[58:62]) == 0xff00 &&
		binary.LittleEndian.Uint32(b[62:66]) == 0xff && binary.LittleEndian.Uint32(b[66:70]) == 0xff000000 {
		compression = 0
	}
	if planes != 1 || compression != 0 {
		return res, fmt.Errorf("%w: bmp compression %d", ErrRegionUnsupported, compression)
	}
	if bpp != 24 && bpp != 32 {
		return res, fmt.Errorf("%w: bmp %d bits per pixel", ErrRegionUnsupported, bpp)
	}
	if offset < fileHeaderLen+infoLen {
		return res, errors.New("bmp: pixel data overlaps header")
	}
	res.width = width
	res.height = height
	res.bitsPerPixel = int(bpp)
	// Alpha in 32 bit images is only honoured for V4+ headers, as x/image/bmp does.
	res.allowAlpha = bpp == 32 && infoLen > infoHeaderLen
	res.pixelOffset = int64(offset)
	return res, nil
}

// bmpDecoder reads only the rows and columns of a region, seeking past the
// rest of the pixel array.
type bmpDecoder struct {
	rs     io.ReadSeeker
	hdr    bmpHeader
	budget Budget
}

func newBMPDecoder(rs io.ReadSeeker, budget Budget) (*bmpDecoder, error) {
	hdr, err := decodeBMPHeader(rs)
	if err != nil {
		return nil, err
	}
	return &bmpDecoder{rs: rs, hdr: hdr, budget: budget}, nil
}

func (d *bmpDecoder) Width() int  { return d.hdr.width }
func (d *bmpDecoder) Height() int { return d.hdr.height }

// DecodeRegion returns an *image.RGBA for 24 bit images and an *image.NRGBA
// for 32 bit ones, matching what x/image/bmp produces for the full image.
func (d *bmpDecoder) DecodeRegion(r image.Rectangle) (image.Image, error) {
	bounds := image.Rect(0, 0, d.hdr.width, d.hdr.height)
	if r.Empty() || !r.In(bounds) {
		return nil, fmt.Errorf("bmp: region %v outside of %v", r, bounds)
	}
	if err := d.budget.Check(r.Dx(), r.Dy()); err != nil {
		return nil, err
	}

	bytesPerPixel := d.hdr.bitsPerPixel / 8
	stride := d.hdr.rowBytes()
	left := int64(r.Min.X * bytesPerPixel)
	row := make([]byte, r.Dx()*bytesPerPixel)

	var pix []byte
	var pixStride int
	var img image.Image
	if d.hdr.bitsPerPixel == 24 {
		rgba := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		pix, pixStride, img = rgba.Pix, rgba.Stride, rgba
	} else {
		nrgba := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		pix, pixStride, img = nrgba.Pix, nrgba.Stride, nrgba
	}

	for y := r.Min.Y; y < r.Max.Y; y++ {
		fileRow := int64(d.hdr.height - 1 - y)
		if d.hdr.topDown {
			fileRow = int64(y)
		}
		if _, err := d.rs.Seek(d.hdr.pixelOffset+fileRow*stride+left, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(d.rs, row); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("bmp: reading row %d: %w", y, err)
		}
		out := pix[(y-r.Min.Y)*pixStride:]
		for i, j := 0, 0; i < len(row); i, j = i+bytesPerPixel, j+4 {
			// stored as BGR(A)
			out[j+0] = row[i+2]
			out[j+1] = row[i+1]
			out[j+2] = row[i+0]
			out[j+3] = 0xFF
			if d.hdr.allowAlpha {
				out[j+3] = row[i+3]
			}
		}
	}
	return img, nil
}
