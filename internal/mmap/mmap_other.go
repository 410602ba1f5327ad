//go:build !unix && !windows

package mmap

var platform mapper = heapMapper{}
