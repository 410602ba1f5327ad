//go:build windows

package mmap

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var platform mapper = windowsMapper{}

type windowsMapper struct{}

func (windowsMapper) name() string { return "filemapping" }

func (windowsMapper) mapFile(f *os.File, size int) ([]byte, error) {
	h, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()),
		nil,
		windows.PAGE_READONLY,
		uint32(uint64(size)>>32),
		uint32(size),
		nil,
	)
	if err != nil {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}
	// The view keeps the mapping object alive once it exists.
	defer func() { _ = windows.CloseHandle(h) }()

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (windowsMapper) unmap(data []byte) error {
	if len(data) == 0 {
		return errors.New("mmap: cannot unmap empty view")
	}
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(unsafe.SliceData(data))))
}

func (windowsMapper) fallback() mapper { return heapMapper{} }
