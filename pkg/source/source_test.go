package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	sink := FileSink(path)

	w, err := sink.Create()
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	src := File(path)
	rc, err := src.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestFileSinkReplacesOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jpg")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	w, err := FileSink(path).Create()
	require.NoError(t, err)
	_, err = w.Write([]byte("new"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))

	require.NoError(t, w.Close())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileSinkMissingDir(t *testing.T) {
	_, err := FileSink(filepath.Join(t.TempDir(), "nope", "out.jpg")).Create()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "missing.jpg")).Open()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBytesAndBuffer(t *testing.T) {
	src := Bytes{Label: "mem", Data: []byte("abc")}
	rc, err := src.Open()
	require.NoError(t, err)
	_, err = rc.Seek(1, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "bc", string(rest))
	require.NoError(t, rc.Close())

	var buf Buffer
	w, err := buf.Create()
	require.NoError(t, err)
	_, err = w.Write([]byte("xyz"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, "xyz", buf.String())
}

func TestURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := Parse(srv.URL+"/img", 0)
	require.IsType(t, URL{}, src)
	rc, err := src.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))

	_, err = URL{Raw: srv.URL + "/html"}.Open()
	require.ErrorContains(t, err, "does not point to an image")

	_, err = URL{Raw: srv.URL + "/missing"}.Open()
	require.ErrorContains(t, err, "HTTP 404")

	_, err = URL{Raw: "ftp://example.com/a.jpg"}.Open()
	require.ErrorContains(t, err, "unsupported URL scheme")

	require.IsType(t, File(""), Parse("photo.jpg", 0))
}

func TestURLOpenContextCancels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := OpenContext(ctx, URL{Raw: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestResolve(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	src, err := Resolve(context.Background(), URL{Raw: srv.URL + "/a.png"})
	require.NoError(t, err)
	require.Equal(t, Bytes{Label: srv.URL + "/a.png", Data: []byte("png-bytes")}, src)
	for i := 0; i < 2; i++ {
		rc, err := src.Open()
		require.NoError(t, err)
		rc.Close()
	}
	require.Equal(t, int32(1), hits.Load())

	local, err := Resolve(context.Background(), File("photo.jpg"))
	require.NoError(t, err)
	require.Equal(t, File("photo.jpg"), local)
}

func TestURLLimiter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpg"))
	}))
	defer srv.Close()

	u := URL{Raw: srv.URL, Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	_, err := u.Fetch(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = u.Fetch(ctx)
	require.ErrorContains(t, err, "waiting to download image")
	require.Equal(t, int32(1), hits.Load())
}
