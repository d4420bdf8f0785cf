package cropper

import (
	"context"
	"errors"
	"fmt"

	"github.com/menta2k/photo-crop/pkg/decoder"
	"github.com/menta2k/photo-crop/pkg/region"
)

// Kind classifies crop failures.
type Kind int

const (
	KindInputUnreadable Kind = iota + 1
	KindOutputUnwritable
	KindGeometry
	KindOutOfMemory
)

func (k Kind) String() string {
	switch k {
	case KindInputUnreadable:
		return "input unreadable"
	case KindOutputUnwritable:
		return "output unwritable"
	case KindGeometry:
		return "geometry"
	case KindOutOfMemory:
		return "out of memory"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by crop and save operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrInputUnreadable  = &Error{Kind: KindInputUnreadable}
	ErrOutputUnwritable = &Error{Kind: KindOutputUnwritable}
	ErrGeometry         = &Error{Kind: KindGeometry}
	ErrOutOfMemory      = &Error{Kind: KindOutOfMemory}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Recoverable reports whether the caller may retry or pick another input.
// Running out of memory is the only hard failure.
func (e *Error) Recoverable() bool {
	return e.Kind != KindOutOfMemory
}

// Wrap classifies err and wraps it as an *Error. fallback is used when err
// is neither a memory nor a geometry failure. Errors that are already *Error
// or context errors pass through unchanged.
func Wrap(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := fallback
	var ge *region.GeometryError
	switch {
	case errors.Is(err, decoder.ErrOutOfMemory):
		kind = KindOutOfMemory
	case errors.As(err, &ge):
		kind = KindGeometry
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
