package mmap

import (
	"io"
	"os"
)

// heapMapper reads the file into memory. It backs platforms without a
// mapping syscall and is the fallback when mapping fails. Callers see the
// same read-only contract.
type heapMapper struct{}

func (heapMapper) name() string { return "heap" }

func (heapMapper) mapFile(f *os.File, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := f.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func (heapMapper) unmap([]byte) error { return nil }
