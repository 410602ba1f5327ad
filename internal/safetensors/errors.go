package safetensors

import (
	"errors"
	"fmt"

	"github.com/samcharles93/shardview/internal/mmap"
)

// Error classes. Every error returned by this package wraps exactly one of
// them, so callers can branch with errors.Is.
var (
	ErrIO         = errors.New("safetensors: i/o error")
	ErrFormat     = errors.New("safetensors: malformed archive")
	ErrBounds     = errors.New("safetensors: range out of bounds")
	ErrNotFound   = errors.New("safetensors: not found")
	ErrAllocation = errors.New("safetensors: cannot allocate buffer")
	ErrDType      = errors.New("safetensors: unsupported dtype")
	ErrCapacity   = errors.New("safetensors: capacity exceeded")
	ErrClosed     = errors.New("safetensors: file closed")
)

// mapError classifies a failure from the mapping layer.
func mapError(err error) error {
	if errors.Is(err, mmap.ErrTooSmall) {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
