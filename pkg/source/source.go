// Package source provides the readable inputs and writable destinations a
// crop operates on.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Source is a readable image. Open may be called more than once; each call
// returns an independent stream positioned at the start.
type Source interface {
	Name() string
	Open() (io.ReadSeekCloser, error)
}

// ContextOpener is a Source whose Open can be cancelled.
type ContextOpener interface {
	OpenContext(ctx context.Context) (io.ReadSeekCloser, error)
}

// OpenContext opens src, passing ctx on when src supports it.
func OpenContext(ctx context.Context, src Source) (io.ReadSeekCloser, error) {
	if co, ok := src.(ContextOpener); ok {
		return co.OpenContext(ctx)
	}
	return src.Open()
}

// Resolve downloads a remote source once and returns it as Bytes, so later
// opens read the same data without another request. Local sources are
// returned unchanged.
func Resolve(ctx context.Context, src Source) (Source, error) {
	u, ok := src.(URL)
	if !ok {
		return src, nil
	}
	data, err := u.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Bytes{Label: u.Raw, Data: data}, nil
}

// Sink is a writable image destination.
type Sink interface {
	Name() string
	Create() (io.WriteCloser, error)
}

// File is a Source backed by a path on disk.
type File string

func (f File) Name() string { return string(f) }

func (f File) Open() (io.ReadSeekCloser, error) {
	return os.Open(filepath.Clean(string(f)))
}

// Bytes is a Source backed by an in-memory encoded image.
type Bytes struct {
	Label string
	Data  []byte
}

func (b Bytes) Name() string { return b.Label }

func (b Bytes) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(b.Data)}, nil
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }

// DefaultFetchTimeout bounds a URL download.
const DefaultFetchTimeout = 30 * time.Second

// URL is a Source downloaded over HTTP(S). The body is fetched on every Open
// and held in memory, since decoding needs to seek.
type URL struct {
	Raw     string
	Timeout time.Duration
	Client  *http.Client
	// Limiter, when set, is waited on before each request.
	Limiter *rate.Limiter
}

func (u URL) Name() string { return u.Raw }

func (u URL) Open() (io.ReadSeekCloser, error) {
	return u.OpenContext(context.Background())
}

func (u URL) OpenContext(ctx context.Context) (io.ReadSeekCloser, error) {
	data, err := u.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

// Fetch downloads the image body.
func (u URL) Fetch(ctx context.Context) ([]byte, error) {
	parsed, err := url.Parse(u.Raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}

	client := u.Client
	if client == nil {
		timeout := u.Timeout
		if timeout <= 0 {
			timeout = DefaultFetchTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	if u.Limiter != nil {
		if err := u.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting to download image: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "photo-crop/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

// Parse returns a URL source for http(s) locations and a File otherwise.
func Parse(location string, timeout time.Duration) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return URL{Raw: location, Timeout: timeout}
	}
	return File(location)
}

// FileSink writes to a path on disk. Data goes to a temporary file in the
// same directory that replaces the destination on Close, so an existing file
// is never left half written.
type FileSink string

func (f FileSink) Name() string { return string(f) }

func (f FileSink) Create() (io.WriteCloser, error) {
	final := filepath.Clean(string(f))
	tmp := filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+"."+uuid.New().String()+".tmp")
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &atomicFile{File: file, final: final}, nil
}

type atomicFile struct {
	*os.File
	final  string
	failed bool
}

func (a *atomicFile) Write(p []byte) (int, error) {
	n, err := a.File.Write(p)
	if err != nil {
		a.failed = true
	}
	return n, err
}

func (a *atomicFile) Close() error {
	tmp := a.File.Name()
	if err := a.File.Close(); err != nil || a.failed {
		os.Remove(tmp)
		if err == nil {
			err = fmt.Errorf("write to %s failed", a.final)
		}
		return err
	}
	if err := os.Rename(tmp, a.final); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Buffer is an in-memory Sink.
type Buffer struct {
	Label string
	bytes.Buffer
}

func (b *Buffer) Name() string { return b.Label }

func (b *Buffer) Create() (io.WriteCloser, error) {
	b.Reset()
	return bufferWriter{&b.Buffer}, nil
}

type bufferWriter struct {
	*bytes.Buffer
}

func (bufferWriter) Close() error { return nil }
