package types

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Rotation is the clockwise rotation, in degrees, that an image needs for
// correct on-screen orientation. Only quarter turns are valid.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation maps any multiple of 90 degrees (negative included) onto
// 0, 90, 180 or 270.
func NormalizeRotation(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return 0, fmt.Errorf("rotation %d is not a multiple of 90", deg)
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg), nil
}

// SwapsAxes reports whether the rotation exchanges width and height.
func (r Rotation) SwapsAxes() bool {
	return (int(r)/90)%2 != 0
}

// Valid reports whether r is one of the four quarter turns.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Size returns the dimensions of a w x h image after applying r.
func (r Rotation) Size(w, h int) (int, int) {
	if r.SwapsAxes() {
		return h, w
	}
	return w, h
}

// AspectRatio is a fixed X:Y crop shape. The zero value means free-form.
type AspectRatio struct {
	X int `json:"x" toml:"x"`
	Y int `json:"y" toml:"y"`
}

// Free is the free-form aspect ratio.
var Free = AspectRatio{}

// Common aspect ratios
var (
	Square    = AspectRatio{1, 1}
	Portrait  = AspectRatio{3, 4}
	Landscape = AspectRatio{4, 3}
	Wide      = AspectRatio{16, 9}
)

// Fixed reports whether the aspect ratio constrains the selection.
func (a AspectRatio) Fixed() bool {
	return a.X > 0 && a.Y > 0
}

func (a AspectRatio) String() string {
	if !a.Fixed() {
		return "free"
	}
	return fmt.Sprintf("%d:%d", a.X, a.Y)
}

// ParseAspectRatio parses "X:Y" or "free". An empty string is free-form.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "free" {
		return Free, nil
	}
	xs, ys, ok := strings.Cut(s, ":")
	if !ok {
		return Free, fmt.Errorf("invalid aspect ratio %q: want X:Y or free", s)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return Free, fmt.Errorf("invalid aspect ratio %q: %w", s, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Free, fmt.Errorf("invalid aspect ratio %q: %w", s, err)
	}
	if x <= 0 || y <= 0 {
		return Free, fmt.Errorf("invalid aspect ratio %q: both sides must be positive", s)
	}
	return AspectRatio{X: x, Y: y}, nil
}

// Format names an output encoding.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	WebP Format = "webp"
)

// ParseFormat accepts the usual extensions and names, with or without a dot.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "", "jpg", "jpeg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "webp":
		return WebP, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	if f == JPEG || f == "" {
		return "jpg"
	}
	return string(f)
}

// DefaultQuality is the JPEG quality used when none is requested.
const DefaultQuality = 90

// OutputSpec describes the encoded result of a crop.
type OutputSpec struct {
	// MaxWidth and MaxHeight bound the output; both must be set to apply.
	MaxWidth  int
	MaxHeight int
	Format    Format
	Quality   int
	Lossless  bool
}

// WithDefaults fills in the zero fields.
func (o OutputSpec) WithDefaults() OutputSpec {
	if o.Format == "" {
		o.Format = JPEG
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	return o
}

// Result describes a completed crop.
type Result struct {
	Destination string          `json:"destination"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Region      image.Rectangle `json:"region"`
	Rotation    Rotation        `json:"exif_rotation"`
	Format      Format          `json:"format"`
}

// Stage identifies a step of a background crop job.
type Stage string

const (
	StageLoading  Stage = "loading"
	StageCropping Stage = "cropping"
	StageSaving   Stage = "saving"
	StageDone     Stage = "done"
)

// Progress is a status update sent from a background job to its caller.
type Progress struct {
	Stage   Stage
	Message string
}
