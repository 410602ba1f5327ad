// Package mmap maps whole files into memory read-only.
//
// A Region is either the complete file or nothing: there are no partial
// mappings. The bytes must never be written to, and must not be touched
// after Close.
package mmap

import (
	"errors"
	"fmt"
	"os"
)

// MinSize is the smallest file Open accepts.
const MinSize = 8

var (
	// ErrTooSmall is returned for files shorter than MinSize.
	ErrTooSmall = errors.New("mmap: file too small")
	// ErrTooLarge is returned for files that cannot be indexed as a []byte.
	ErrTooLarge = errors.New("mmap: file too large to map")
	// ErrNotRegular is returned for directories, devices and other
	// non-regular files.
	ErrNotRegular = errors.New("mmap: not a regular file")
	// ErrClosed is returned by Close on a region that is already closed.
	ErrClosed = errors.New("mmap: region already closed")
)

// mapper is the per-platform capability. Exactly one implementation is
// compiled in, selected by build tags.
type mapper interface {
	name() string
	mapFile(f *os.File, size int) ([]byte, error)
	unmap(data []byte) error
}

// fallbacker is implemented by mappers that can retry with another mapper
// when mapping fails.
type fallbacker interface {
	fallback() mapper
}

// Region is a read-only view of an entire file.
type Region struct {
	data []byte
	m    mapper
}

// Open maps the file at path. The file handle is released before Open
// returns; the mapping stays valid until Close.
func Open(path string) (*Region, error) {
	return open(path, platform)
}

func open(path string, m mapper) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	size64 := st.Size()
	if size64 < MinSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooSmall, path, size64)
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// cannot index this file as []byte on this architecture.
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, size64)
	}
	size := int(size64)

	data, err := m.mapFile(f, size)
	if err != nil {
		fb, ok := m.(fallbacker)
		if !ok {
			return nil, fmt.Errorf("%s %s: %w", m.name(), path, err)
		}
		heap := fb.fallback()
		data, err = heap.mapFile(f, size)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", heap.name(), path, err)
		}
		m = heap
	}
	if len(data) != size {
		_ = m.unmap(data)
		return nil, fmt.Errorf("%s %s: mapped %d of %d bytes", m.name(), path, len(data), size)
	}
	return &Region{data: data, m: m}, nil
}

// Bytes returns the mapped file contents. The slice is owned by the region.
func (r *Region) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.data
}

// Len returns the size of the mapped file in bytes.
func (r *Region) Len() int {
	if r == nil {
		return 0
	}
	return len(r.data)
}

// Backend names the platform mapping mechanism in use.
func Backend() string {
	return platform.name()
}

// Close releases the mapping.
func (r *Region) Close() error {
	if r == nil || r.data == nil {
		return ErrClosed
	}
	err := r.m.unmap(r.data)
	r.data = nil
	return err
}
