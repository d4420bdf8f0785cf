package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	photocrop "github.com/menta2k/photo-crop"
	"github.com/menta2k/photo-crop/internal/config"
	"github.com/menta2k/photo-crop/internal/log"
	"github.com/menta2k/photo-crop/internal/utils"
	"github.com/menta2k/photo-crop/pkg/codec"
	"github.com/menta2k/photo-crop/pkg/overlay"
	"github.com/menta2k/photo-crop/pkg/session"
	"github.com/menta2k/photo-crop/pkg/source"
	"github.com/menta2k/photo-crop/pkg/types"
)

func main() {
	var in, out, configPath, aspect, maxSize, format, rectStr, logFile, faceModel string
	var quality, textureLimit, workers int
	var smart, lossless, debug, showOverlay, printJSON, writeConfig bool

	flag.StringVar(&in, "in", "", "comma separated input images, directories or URLs (or pass them as arguments)")
	flag.StringVar(&out, "out", "", "output file for a single input, otherwise output directory (default from config)")
	flag.StringVar(&configPath, "config", "", "TOML config file (default "+config.GetConfigPath()+" if present)")
	flag.BoolVar(&writeConfig, "write-config", false, "write the effective config to -config and exit")

	flag.StringVar(&aspect, "aspect", "", "selection aspect ratio: free or X:Y")
	flag.StringVar(&maxSize, "max", "", "maximum output size WxH")
	flag.StringVar(&rectStr, "rect", "", "crop rectangle left,top,right,bottom in displayed full-resolution pixels")
	flag.BoolVar(&smart, "smart", false, "start from a content-aware selection")
	flag.StringVar(&faceModel, "face-model", "", "pigo face cascade used by -smart")
	flag.IntVar(&textureLimit, "texture-limit", 0, "largest preview edge (default from config)")

	flag.StringVar(&format, "format", "", "output format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")

	flag.IntVar(&workers, "workers", 0, "number of images processed in parallel")
	flag.StringVar(&logFile, "log-file", "", "write logs to a rotating file")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&showOverlay, "overlay", false, "also write the preview with the selection drawn on it")
	flag.BoolVar(&printJSON, "json", false, "print results as JSON lines")

	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// flags override the config file
	if aspect != "" {
		cfg.Crop.Aspect = aspect
	}
	if maxSize != "" {
		w, h, err := parseSize(maxSize)
		if err != nil {
			log.Fatalf("Invalid -max: %v", err)
		}
		cfg.Crop.MaxWidth, cfg.Crop.MaxHeight = w, h
	}
	if smart {
		cfg.Crop.Smart = true
	}
	if faceModel != "" {
		cfg.Crop.FaceModel = faceModel
	}
	if textureLimit > 0 {
		cfg.Crop.TextureLimit = textureLimit
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if quality > 0 {
		cfg.Output.Quality = quality
	}
	if lossless {
		cfg.Output.Lossless = true
	}
	if workers > 0 {
		cfg.Limits.Workers = workers
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if debug {
		cfg.Log.Debug = true
	}

	if writeConfig {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("wrote %s", path)
		return
	}

	log.SetDebug(cfg.Log.Debug)
	if cfg.Log.File != "" {
		closer, err := log.SetOutputFile(log.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer closer.Close()
	}

	var rect *image.Rectangle
	if rectStr != "" {
		r, err := parseRect(rectStr)
		if err != nil {
			log.Fatalf("Invalid -rect: %v", err)
		}
		rect = &r
	}

	inputs := flag.Args()
	if in != "" {
		inputs = append(strings.Split(in, ","), inputs...)
	}
	if len(inputs) == 0 {
		log.Fatalf("usage: %s [-aspect 16:9] [-max 1920x1080] [-rect l,t,r,b] [-smart] [-out path] input.jpg|dir|URL ...", filepath.Base(os.Args[0]))
	}
	inputs, err = utils.ExpandInputs(inputs)
	if err != nil {
		log.Fatalf("Failed to expand inputs: %v", err)
	}

	// a single input may name its output file directly
	if out != "" {
		if len(inputs) == 1 && utils.IsImageFile(out) && !utils.DirExists(out) {
			if f, err := types.ParseFormat(utils.GetFileExtension(out)); err == nil && format == "" {
				cfg.Output.Format = string(f)
			}
		} else {
			cfg.Output.Dir = out
			out = ""
		}
	}

	pc, err := photocrop.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// inputs from different directories may share a base name
	outputs := make([]string, len(inputs))
	for i, input := range inputs {
		outputs[i] = out
		if out == "" {
			outputs[i] = pc.OutputPath(input)
		}
	}
	outputs = utils.UniquePaths(outputs)

	var failed atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Limits.Workers)
	for i, input := range inputs {
		input := input
		output := outputs[i]
		g.Go(func() error {
			res, err := process(ctx, pc, input, output, rect, showOverlay)
			if err != nil {
				log.Printf("crop %s failed: %v", input, err)
				failed.Add(1)
				// only cancellation stops the batch
				if ctx.Err() != nil {
					return err
				}
				return nil
			}
			if printJSON {
				if err := printResult(os.Stdout, res); err != nil {
					log.Printf("print result for %s failed: %v", input, err)
				}
			} else {
				log.Printf("wrote %s (%dx%d, rotation %d)", res.Destination, res.Width, res.Height, res.Rotation)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("interrupted: %v", err)
	}
	if n := failed.Load(); n > 0 {
		log.Fatalf("%d of %d images failed", n, len(inputs))
	}
}

// loadConfig reads path, falling back to the default location and then to
// the built-in defaults when no file exists.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

// process crops one input through a session so progress can be logged.
func process(ctx context.Context, pc *photocrop.PhotoCrop, input, output string, rect *image.Rectangle, showOverlay bool) (types.Result, error) {
	s, err := pc.OpenSession(ctx, input)
	if err != nil {
		return types.Result{}, err
	}
	go logProgress(ctx, s)

	switch {
	case rect != nil:
		if err := s.SetFullCrop(*rect); err != nil {
			return types.Result{}, err
		}
	case pc.Config().Crop.Smart:
		r, err := s.SuggestCrop(ctx)
		if err != nil {
			log.Printf("Warning: smart crop failed for %s: %v", input, err)
		} else if err := s.SetCrop(r); err != nil {
			return types.Result{}, err
		}
	}

	if showOverlay {
		if err := writeOverlay(s, output); err != nil {
			log.Printf("overlay for %s failed: %v", input, err)
		}
	}

	if err := utils.EnsureDir(filepath.Dir(output)); err != nil {
		return types.Result{}, err
	}
	res, err := s.Save(ctx, source.FileSink(output))
	if err != nil {
		return types.Result{}, err
	}
	if info, err := os.Stat(output); err == nil {
		log.Debugf("%s: %s", output, utils.FormatFileSize(info.Size()))
	}
	return res, nil
}

func logProgress(ctx context.Context, s *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.Progress():
			log.Debugf("%s: %s", p.Stage, p.Message)
			if p.Stage == types.StageDone && strings.HasPrefix(p.Message, "saved") {
				return
			}
		}
	}
}

func writeOverlay(s *session.Session, output string) error {
	preview := s.Preview()
	if preview == nil {
		return session.ErrNotLoaded
	}
	ext := filepath.Ext(output)
	path := strings.TrimSuffix(output, ext) + "_overlay.png"
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := codec.Encode(f, overlay.Selection(preview, s.Crop()), types.OutputSpec{Format: types.PNG}); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}

// printResult writes res to w as one JSON line.
func printResult(w io.Writer, res types.Result) error {
	js, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(js))
	return err
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("want left,top,right,bottom, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, err
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}
