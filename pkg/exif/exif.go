// Package exif reads the EXIF orientation of a photo and carries the EXIF
// block of a source JPEG over to a cropped output.
package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goexif "github.com/rwcarlsen/goexif/exif"

	"github.com/menta2k/photo-crop/pkg/types"
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1

	tagOrientation = 0x0112
	typeShort      = 3
)

var exifHeader = []byte("Exif\x00\x00")

// ErrNoExif is returned when a JPEG carries no EXIF segment.
var ErrNoExif = errors.New("exif: no exif segment")

// RotationFromOrientation converts an EXIF orientation value into the
// clockwise rotation that displays the photo upright. Mirrored orientations
// and unknown values yield no rotation.
func RotationFromOrientation(orientation int) types.Rotation {
	switch orientation {
	case 6:
		return types.Rotate90
	case 3:
		return types.Rotate180
	case 8:
		return types.Rotate270
	}
	return types.Rotate0
}

// Rotation reads the EXIF orientation from r. Images without EXIF, or with
// EXIF that cannot be parsed, report Rotate0 together with the parse error.
func Rotation(r io.Reader) (types.Rotation, error) {
	x, err := goexif.Decode(r)
	if err != nil {
		return types.Rotate0, err
	}
	tag, err := x.Get(goexif.Orientation)
	if err != nil {
		return types.Rotate0, err
	}
	if tag == nil || tag.Count == 0 {
		return types.Rotate0, nil
	}
	o, err := tag.Int(0)
	if err != nil {
		return types.Rotate0, err
	}
	return RotationFromOrientation(o), nil
}

// ReadSegment returns the payload of the first APP1 Exif segment of a JPEG
// stream, starting with the "Exif\0\0" header. It stops at the first scan.
func ReadSegment(r io.Reader) ([]byte, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:2]); err != nil {
		return nil, err
	}
	if b[0] != 0xFF || b[1] != markerSOI {
		return nil, errors.New("exif: not a JPEG")
	}
	for {
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return nil, err
		}
		if b[0] != 0xFF {
			return nil, fmt.Errorf("exif: expected marker, got 0x%02x", b[0])
		}
		marker := b[1]
		// fill bytes
		for marker == 0xFF {
			if _, err := io.ReadFull(r, b[1:2]); err != nil {
				return nil, err
			}
			marker = b[1]
		}
		if marker == markerSOS || marker == markerEOI {
			return nil, ErrNoExif
		}
		if _, err := io.ReadFull(r, b[2:4]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(b[2:4])) - 2
		if n < 0 {
			return nil, errors.New("exif: bad segment length")
		}
		if marker != markerAPP1 {
			if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
				return nil, err
			}
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		if bytes.HasPrefix(payload, exifHeader) {
			return payload, nil
		}
	}
}

// ResetOrientation returns a copy of an Exif payload whose IFD0 orientation
// tag, if present, is set to 1 (upright).
func ResetOrientation(payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(payload, exifHeader) {
		return nil, errors.New("exif: missing Exif header")
	}
	out := append([]byte(nil), payload...)
	tiff := out[len(exifHeader):]
	if len(tiff) < 8 {
		return nil, errors.New("exif: tiff header too short")
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("exif: invalid byte order marker")
	}
	ifd := int(order.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return nil, errors.New("exif: invalid IFD offset")
	}
	count := int(order.Uint16(tiff[ifd : ifd+2]))
	for i := 0; i < count; i++ {
		e := ifd + 2 + i*12
		if e+12 > len(tiff) {
			return nil, errors.New("exif: truncated IFD")
		}
		if order.Uint16(tiff[e:e+2]) == tagOrientation && order.Uint16(tiff[e+2:e+4]) == typeShort {
			order.PutUint16(tiff[e+8:e+10], 1)
		}
	}
	return out, nil
}

// InsertSegment returns jpeg with an APP1 segment holding payload placed
// directly after the SOI marker.
func InsertSegment(jpeg, payload []byte) ([]byte, error) {
	if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != markerSOI {
		return nil, errors.New("exif: not a JPEG")
	}
	if len(payload)+2 > 0xFFFF {
		return nil, fmt.Errorf("exif: segment of %d bytes does not fit", len(payload))
	}
	out := make([]byte, 0, len(jpeg)+len(payload)+4)
	out = append(out, 0xFF, markerSOI, 0xFF, markerAPP1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	out = append(out, payload...)
	return append(out, jpeg[2:]...), nil
}

// Carry copies the Exif segment of src into the encoded JPEG dst, with the
// orientation reset since the cropped pixels are already upright.
func Carry(src io.Reader, dst []byte) ([]byte, error) {
	payload, err := ReadSegment(src)
	if err != nil {
		return nil, err
	}
	payload, err = ResetOrientation(payload)
	if err != nil {
		return nil, err
	}
	return InsertSegment(dst, payload)
}
