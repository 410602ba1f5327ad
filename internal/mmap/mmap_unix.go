//go:build unix

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

var platform mapper = posixMapper{}

type posixMapper struct{}

func (posixMapper) name() string { return "mmap" }

func (posixMapper) mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
}

func (posixMapper) unmap(data []byte) error {
	return unix.Munmap(data)
}

func (posixMapper) fallback() mapper { return heapMapper{} }
