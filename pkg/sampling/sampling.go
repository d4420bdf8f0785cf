// Package sampling picks power-of-two down-sample factors so that decoded
// previews fit within a maximum texture size.
package sampling

const (
	// DefaultMaxSize is used when no texture limit is known.
	DefaultMaxSize = 2048
	// SizeLimit caps any reported texture limit.
	SizeLimit = 4096
)

// MaxImageSize returns the largest dimension a preview may have given the
// renderer's texture limit. A limit of 0 means unknown.
func MaxImageSize(textureLimit int) int {
	if textureLimit <= 0 {
		return DefaultMaxSize
	}
	return min(textureLimit, SizeLimit)
}

// SampleSize returns the smallest power of two s such that width/s and
// height/s are both no larger than max. A non-positive max selects
// DefaultMaxSize.
func SampleSize(width, height, max int) int {
	if max <= 0 {
		max = DefaultMaxSize
	}
	s := 1
	for width/s > max || height/s > max {
		s <<= 1
	}
	return s
}

// Scaled returns the dimensions of a w x h image decoded with sample size s,
// rounding up so that no source row or column is lost.
func Scaled(w, h, s int) (int, int) {
	if s <= 1 {
		return w, h
	}
	return (w + s - 1) / s, (h + s - 1) / s
}
