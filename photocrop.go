// Package photocrop crops photos the way a phone gallery's crop screen does,
// without holding the full-resolution image in memory longer than needed.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/photo-crop"
//	)
//
//	func main() {
//		pc := photocrop.New()
//
//		// Crop the default selection out of a photo, honouring its EXIF rotation
//		res, err := pc.CropFile(context.Background(), "photo.jpg", "photo_cropped.jpg", nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("Saved %s: %dx%d (rotation %d)\n", res.Destination, res.Width, res.Height, res.Rotation)
//	}
//
// The package is built from these components:
//
// 1. Sampling (pkg/sampling): picks the power-of-two preview sample size
// 2. Region (pkg/region): maps selections between displayed and stored space
// 3. Decoder (pkg/decoder): decodes sub-rectangles without a full decode
// 4. Cropper (pkg/cropper): the crop pipeline with its full-decode fallback
// 5. Session (pkg/session): preview, selection and background save of one photo
//
// Selections are made on a down-sampled preview that is already rotated the
// way the photo's EXIF orientation asks. On save the selection is scaled back
// to full resolution, mapped into the stored pixel space, decoded on its own
// where the format allows it, and rotated and scaled into the output in one
// pass.
package photocrop

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/menta2k/photo-crop/internal/config"
	"github.com/menta2k/photo-crop/internal/log"
	"github.com/menta2k/photo-crop/internal/utils"
	"github.com/menta2k/photo-crop/pkg/cropper"
	"github.com/menta2k/photo-crop/pkg/decoder"
	"github.com/menta2k/photo-crop/pkg/session"
	"github.com/menta2k/photo-crop/pkg/source"
	"github.com/menta2k/photo-crop/pkg/types"
)

// Version of the photo crop library
const Version = "1.0.0"

// PhotoCrop provides a high-level interface for cropping photos
type PhotoCrop struct {
	config       *config.Config
	options      session.Options
	fetchTimeout time.Duration
	limiter      *rate.Limiter
}

// New creates a new PhotoCrop with default configuration
func New() *PhotoCrop {
	pc, err := NewWithConfig(config.Default())
	if err != nil {
		// the default configuration is always valid
		panic(err)
	}
	return pc
}

// NewWithConfig creates a new PhotoCrop with custom configuration
func NewWithConfig(cfg *config.Config) (*PhotoCrop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	aspect, err := cfg.AspectRatio()
	if err != nil {
		return nil, err
	}
	spec, err := cfg.OutputSpec()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.FetchTimeout()
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.Limits.FetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Limits.FetchRate), 1)
	}
	var faces *cropper.FaceDetector
	if cfg.Crop.FaceModel != "" {
		if faces, err = cropper.LoadFaceDetector(cfg.Crop.FaceModel); err != nil {
			return nil, err
		}
	}
	return &PhotoCrop{
		config: cfg,
		options: session.Options{
			Aspect:       aspect,
			TextureLimit: cfg.Crop.TextureLimit,
			Budget:       decoder.Budget(cfg.Limits.MaxDecodeBytes),
			Output:       spec,
			Formats:      cfg.Limits.InputFormats,
			Faces:        faces,
		},
		fetchTimeout: timeout,
		limiter:      limiter,
	}, nil
}

// Config returns the configuration in use.
func (pc *PhotoCrop) Config() *config.Config {
	return pc.config
}

// Options returns the session options derived from the configuration.
func (pc *PhotoCrop) Options() session.Options {
	return pc.options
}

// Source resolves a file path or http(s) URL.
func (pc *PhotoCrop) Source(location string) source.Source {
	src := source.Parse(location, pc.fetchTimeout)
	if u, ok := src.(source.URL); ok {
		u.Limiter = pc.limiter
		return u
	}
	return src
}

// OpenSession loads a preview of the photo at location.
func (pc *PhotoCrop) OpenSession(ctx context.Context, location string) (*session.Session, error) {
	return session.Open(ctx, pc.Source(location), pc.options)
}

// OutputPath returns where CropFile would write a crop of input when no
// explicit output is given.
func (pc *PhotoCrop) OutputPath(input string) string {
	return utils.OutputPath(input, pc.config.Output.Dir, pc.config.Output.Prefix, pc.config.Output.Suffix, pc.options.Output.Format)
}

// CropFile crops the photo at input and writes it to output. rect is in
// full-resolution displayed coordinates; when nil the default or, with
// crop.smart set, the suggested selection is used. An empty output writes
// to OutputPath(input).
func (pc *PhotoCrop) CropFile(ctx context.Context, input, output string, rect *image.Rectangle) (types.Result, error) {
	s, err := pc.OpenSession(ctx, input)
	if err != nil {
		return types.Result{}, err
	}

	switch {
	case rect != nil:
		if err := s.SetFullCrop(*rect); err != nil {
			return types.Result{}, err
		}
	case pc.config.Crop.Smart:
		r, err := s.SuggestCrop(ctx)
		if err != nil {
			log.Printf("Warning: smart crop failed for %s, using default selection: %v", input, err)
			break
		}
		if err := s.SetCrop(r); err != nil {
			return types.Result{}, err
		}
	}

	if output == "" {
		output = pc.OutputPath(input)
	}
	if err := utils.EnsureDir(filepath.Dir(output)); err != nil {
		return types.Result{}, &cropper.Error{Kind: cropper.KindOutputUnwritable, Op: "save " + output, Err: err}
	}
	return s.Save(ctx, source.FileSink(output))
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
