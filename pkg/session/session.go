// Package session holds the state of one crop: the source, its sampled and
// rotated preview, the current selection, and the background save.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/menta2k/photo-crop/internal/log"
	"github.com/menta2k/photo-crop/pkg/codec"
	"github.com/menta2k/photo-crop/pkg/cropper"
	"github.com/menta2k/photo-crop/pkg/decoder"
	"github.com/menta2k/photo-crop/pkg/exif"
	"github.com/menta2k/photo-crop/pkg/region"
	"github.com/menta2k/photo-crop/pkg/sampling"
	"github.com/menta2k/photo-crop/pkg/source"
	"github.com/menta2k/photo-crop/pkg/task"
	"github.com/menta2k/photo-crop/pkg/types"
)

// ErrNotLoaded is returned by operations that need a loaded preview.
var ErrNotLoaded = errors.New("session: image not loaded")

// Options configures a Session.
type Options struct {
	Aspect types.AspectRatio
	// TextureLimit is the largest preview edge the display can show. Zero
	// selects the default.
	TextureLimit int
	Budget       decoder.Budget
	Output       types.OutputSpec
	// Formats restricts the accepted source encodings. Empty accepts every
	// registered decoder.
	Formats []string
	// FullDecode disables region decoding on save.
	FullDecode bool
	// Faces, when set, centres suggested selections on detected faces.
	Faces *cropper.FaceDetector
}

// Session is a single crop of a single source.
type Session struct {
	src     source.Source
	opts    Options
	runner  *task.Runner
	cropper *cropper.Cropper

	mu          sync.Mutex
	loaded      bool
	rotation    types.Rotation
	info        codec.Info
	sampleSize  int
	preview     image.Image
	previewSize image.Point
	crop        image.Rectangle
	// exact is a selection in full-resolution displayed coordinates that
	// overrides crop when set.
	exact *image.Rectangle
}

// New returns an unloaded session for src.
func New(src source.Source, opts Options) *Session {
	c := cropper.New(opts.Budget)
	c.FullDecode = opts.FullDecode
	return &Session{
		src:     src,
		opts:    opts,
		runner:  task.NewRunner(16),
		cropper: c,
	}
}

// Open creates a session and loads its preview. The preview is decoded at
// full resolution and then down-sampled, so the decode budget must cover the
// whole source: with the default budget a photo above 64 megapixels fails
// with cropper.ErrOutOfMemory.
func Open(ctx context.Context, src source.Source, opts Options) (*Session, error) {
	s := New(src, opts)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Progress delivers stage updates from Load and Save.
func (s *Session) Progress() <-chan types.Progress {
	return s.runner.Progress()
}

// Source returns the session's input.
func (s *Session) Source() source.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Load reads the EXIF rotation and decodes a preview small enough for the
// configured texture limit.
func (s *Session) Load(ctx context.Context) error {
	return s.runner.Run(ctx, s.load)
}

func (s *Session) load(ctx context.Context, report task.Report) error {
	orig := s.Source()
	report(types.StageLoading, "loading "+orig.Name())
	// remote sources are fetched once and cropped from the same bytes
	src, err := source.Resolve(ctx, orig)
	if err != nil {
		return &cropper.Error{Kind: cropper.KindInputUnreadable, Op: "open " + orig.Name(), Err: err}
	}
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()

	rc, err := src.Open()
	if err != nil {
		return &cropper.Error{Kind: cropper.KindInputUnreadable, Op: "open " + src.Name(), Err: err}
	}
	defer rc.Close()

	rot, err := exif.Rotation(rc)
	if err != nil {
		log.Debugf("no EXIF rotation for %s: %v", src.Name(), err)
		rot = types.Rotate0
	}

	info, err := codec.DecodeConfig(rc)
	if err != nil {
		return &cropper.Error{Kind: cropper.KindInputUnreadable, Op: "load " + src.Name(), Err: err}
	}
	if err := codec.CheckFormat(info.Format, s.opts.Formats); err != nil {
		return &cropper.Error{Kind: cropper.KindInputUnreadable, Op: "load " + src.Name(), Err: err}
	}
	sampleSize := sampling.SampleSize(info.Width, info.Height, sampling.MaxImageSize(s.opts.TextureLimit))
	if err := ctx.Err(); err != nil {
		return err
	}

	preview, _, err := codec.DecodeSampled(rc, sampleSize, s.opts.Budget)
	if err != nil {
		return cropper.Wrap("load "+src.Name(), cropper.KindInputUnreadable, err)
	}
	preview = cropper.Rotate(preview, rot)
	b := preview.Bounds()

	s.mu.Lock()
	s.loaded = true
	s.rotation = rot
	s.info = info
	s.sampleSize = sampleSize
	s.preview = preview
	s.previewSize = b.Size()
	s.crop = region.DefaultRect(b.Dx(), b.Dy(), s.opts.Aspect)
	s.mu.Unlock()

	log.Debugf("loaded %s: %dx%d %s, rotation %d, sample size %d", src.Name(), info.Width, info.Height,
		info.Format, int(rot), sampleSize)
	report(types.StageDone, "loaded "+src.Name())
	return nil
}

// Rotation is the EXIF rotation of the source.
func (s *Session) Rotation() types.Rotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// SampleSize is the down-sampling factor of the preview.
func (s *Session) SampleSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleSize
}

// Info describes the stored source image.
func (s *Session) Info() codec.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Preview returns the rotated preview, or nil once it has been released by
// Save.
func (s *Session) Preview() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// DisplayBounds is the rectangle selections are made in.
func (s *Session) DisplayBounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return image.Rectangle{Max: s.previewSize}
}

// Crop returns the current selection.
func (s *Session) Crop() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crop
}

// DefaultCrop returns the initial selection for the configured aspect.
func (s *Session) DefaultCrop() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return region.DefaultRect(s.previewSize.X, s.previewSize.Y, s.opts.Aspect)
}

// SuggestCrop returns a content-aware selection for the configured aspect.
func (s *Session) SuggestCrop(ctx context.Context) (image.Rectangle, error) {
	s.mu.Lock()
	preview := s.preview
	s.mu.Unlock()
	if preview == nil {
		return image.Rectangle{}, ErrNotLoaded
	}
	if s.opts.Faces != nil {
		return s.opts.Faces.Suggest(ctx, preview, s.opts.Aspect)
	}
	return cropper.Suggest(ctx, preview, s.opts.Aspect)
}

// SetCrop replaces the selection. r must lie within DisplayBounds.
func (s *Session) SetCrop(r image.Rectangle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if err := region.Validate(r, s.rotation, s.previewSize.X, s.previewSize.Y); err != nil {
		return &cropper.Error{Kind: cropper.KindGeometry, Op: "set crop", Err: err}
	}
	s.crop = r
	s.exact = nil
	return nil
}

// FullBounds is the size of the source once rotated for display.
func (s *Session) FullBounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := s.rotation.Size(s.info.Width, s.info.Height)
	return image.Rect(0, 0, w, h)
}

// SetFullCrop selects r in full-resolution displayed coordinates, bypassing
// the preview's sampling. The preview selection is set to the closest
// sampled rectangle.
func (s *Session) SetFullCrop(r image.Rectangle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	w, h := s.rotation.Size(s.info.Width, s.info.Height)
	if err := region.Validate(r, s.rotation, w, h); err != nil {
		return &cropper.Error{Kind: cropper.KindGeometry, Op: "set crop", Err: err}
	}
	n := s.sampleSize
	preview := image.Rect(r.Min.X/n, r.Min.Y/n, (r.Max.X+n-1)/n, (r.Max.Y+n-1)/n)
	s.crop = preview.Intersect(image.Rectangle{Max: s.previewSize})
	s.exact = &r
	return nil
}

// Save crops the selection out of the full-resolution source and writes it
// to sink. It returns task.ErrBusy while another Load or Save is running.
func (s *Session) Save(ctx context.Context, sink source.Sink) (types.Result, error) {
	var res types.Result
	err := s.runner.Run(ctx, func(ctx context.Context, report task.Report) error {
		var err error
		res, err = s.save(ctx, sink, report)
		return err
	})
	return res, err
}

func (s *Session) save(ctx context.Context, sink source.Sink, report task.Report) (types.Result, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return types.Result{}, ErrNotLoaded
	}
	rot, info, sampleSize := s.rotation, s.info, s.sampleSize
	displayW, displayH := rot.Size(info.Width, info.Height)
	rect := region.ScaleRectTo(s.crop, sampleSize, s.previewSize, image.Pt(displayW, displayH))
	if s.exact != nil {
		rect = *s.exact
	}
	src := s.src
	// The preview is not needed for the full-resolution crop. It is put back
	// if the save fails so the selection can be retried.
	preview := s.preview
	s.preview = nil
	s.mu.Unlock()
	saved := false
	defer func() {
		if !saved {
			s.mu.Lock()
			s.preview = preview
			s.mu.Unlock()
		}
	}()

	spec := s.opts.Output.WithDefaults()
	outW, outH := region.FitOutput(rect.Dx(), rect.Dy(), spec.MaxWidth, spec.MaxHeight)

	report(types.StageCropping, fmt.Sprintf("cropping %v to %dx%d", rect, outW, outH))
	out, err := s.cropper.CropSource(ctx, src, cropper.Request{
		Rect:      rect,
		Rotation:  rot,
		OutWidth:  outW,
		OutHeight: outH,
	})
	if err != nil {
		return types.Result{}, err
	}

	report(types.StageSaving, "saving "+sink.Name())
	data, err := codec.EncodeBytes(out.Image, spec)
	if err != nil {
		return types.Result{}, &cropper.Error{Kind: cropper.KindOutputUnwritable, Op: "encode", Err: err}
	}
	if spec.Format == types.JPEG && info.Format == "jpeg" {
		data = carryExif(src, data)
	}
	if err := writeSink(sink, data); err != nil {
		return types.Result{}, &cropper.Error{Kind: cropper.KindOutputUnwritable, Op: "save " + sink.Name(), Err: err}
	}

	b := out.Image.Bounds()
	res := types.Result{
		Destination: sink.Name(),
		Width:       b.Dx(),
		Height:      b.Dy(),
		Region:      out.Region,
		Rotation:    rot,
		Format:      spec.Format,
	}
	saved = true
	report(types.StageDone, "saved "+sink.Name())
	return res, nil
}

// carryExif copies the source's EXIF into the encoded output. Failures are
// logged and the output is kept without it.
func carryExif(src source.Source, data []byte) []byte {
	rc, err := src.Open()
	if err != nil {
		log.Printf("Failed to copy EXIF from %s: %v", src.Name(), err)
		return data
	}
	defer rc.Close()
	withExif, err := exif.Carry(rc, data)
	if errors.Is(err, exif.ErrNoExif) {
		return data
	}
	if err != nil {
		log.Printf("Failed to copy EXIF from %s: %v", src.Name(), err)
		return data
	}
	return withExif
}

func writeSink(sink source.Sink, data []byte) error {
	w, err := sink.Create()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
