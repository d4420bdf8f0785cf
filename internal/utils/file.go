package utils

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/menta2k/photo-crop/pkg/types"
)

// imageExts are the extensions the decoders registered by codec can read.
var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"bmp": true, "tif": true, "tiff": true, "webp": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lower-cased extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFile checks if a file has a decodable image extension
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// IsURL reports whether location is an http(s) URL.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// baseName returns the file name of a path or URL without its extension.
func baseName(location string) string {
	name := filepath.Base(location)
	if IsURL(location) {
		if u, err := url.Parse(location); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "/" || name == "." {
		name = ""
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	name = SanitizeFilename(name)
	if name == "" {
		name = "image"
	}
	return name
}

// OutputPath builds the path a crop of input is written to.
func OutputPath(input, outputDir, prefix, suffix string, format types.Format) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s%s%s.%s", prefix, baseName(input), suffix, format.Ext()))
}

// UniquePaths returns paths with repeated entries renamed by appending _2,
// _3 and so on before the extension.
func UniquePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, len(paths))
	for i, p := range paths {
		name := p
		ext := filepath.Ext(p)
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(p, ext), n, ext)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

// ExpandInputs replaces every directory in inputs with the image files found
// under it. Files and URLs are kept as given.
func ExpandInputs(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		if IsURL(in) || !DirExists(in) {
			out = append(out, in)
			continue
		}
		files, err := ListImageFiles(in)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", in, err)
		}
		out = append(out, files...)
	}
	return out, nil
}

// ListImageFiles recursively lists all image files in a directory
func ListImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	return err == nil && info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, filename)
	// Remove leading/trailing spaces and dots
	return strings.Trim(result, " .")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
