package safetensors

import (
	"encoding/binary"
	"fmt"

	"github.com/samcharles93/shardview/internal/mmap"
)

// File is one opened safetensors archive. It owns its mapping until Close.
type File struct {
	path       string
	region     *mmap.Region
	data       []byte
	headerSize uint64
	header     []byte // owned copy, independent of the mapping
	metadata   []byte
	tensors    []Tensor
	index      map[string]int
	truncated  bool
}

// Open maps path and parses its header. On failure nothing stays mapped.
func Open(path string, opts ...Option) (*File, error) {
	return openFile(path, newOptions(opts))
}

func openFile(path string, o options) (*File, error) {
	region, err := mmap.Open(path)
	if err != nil {
		return nil, mapError(err)
	}

	cleanup := func(err error) (*File, error) {
		_ = region.Close()
		return nil, err
	}

	data := region.Bytes()
	size := uint64(len(data))
	headerSize := binary.LittleEndian.Uint64(data[:prefixSize])
	if headerSize > size-prefixSize {
		return cleanup(fmt.Errorf("%w: %s: header length %d exceeds file size %d", ErrBounds, path, headerSize, size))
	}

	hdr := make([]byte, headerSize)
	copy(hdr, data[prefixSize:prefixSize+headerSize])

	h, err := parseHeader(hdr, o.limits)
	if err != nil {
		return cleanup(fmt.Errorf("%s: %w", path, err))
	}

	dataLen := size - prefixSize - headerSize
	for i := range h.tensors {
		t := &h.tensors[i]
		if t.Offset > dataLen || t.Size > dataLen-t.Offset {
			return cleanup(fmt.Errorf("%w: %s: tensor %q range [%d, %d) exceeds data block of %d bytes",
				ErrBounds, path, t.Name, t.Offset, t.Offset+t.Size, dataLen))
		}
	}

	index := make(map[string]int, len(h.tensors))
	for i := range h.tensors {
		if _, dup := index[h.tensors[i].Name]; !dup {
			index[h.tensors[i].Name] = i
		}
	}

	if h.truncated {
		o.log.Warn("tensor table truncated", "path", path, "max_tensors", o.limits.MaxTensors)
	}
	o.log.Debug("opened shard", "path", path, "bytes", size, "header_bytes", headerSize, "tensors", len(h.tensors))

	return &File{
		path:       path,
		region:     region,
		data:       data,
		headerSize: headerSize,
		header:     hdr,
		metadata:   h.metadata,
		tensors:    h.tensors,
		index:      index,
		truncated:  h.truncated,
	}, nil
}

// Path returns the path the file was opened from.
func (f *File) Path() string { return f.path }

// Size returns the size of the whole file in bytes.
func (f *File) Size() uint64 { return uint64(len(f.data)) }

// HeaderSize returns the header length declared in the length prefix.
func (f *File) HeaderSize() uint64 { return f.headerSize }

// DataStart returns the file offset of the data block.
func (f *File) DataStart() uint64 { return prefixSize + f.headerSize }

// NumTensors returns the number of parsed tensor entries.
func (f *File) NumTensors() int { return len(f.tensors) }

// Tensors returns the tensor table in header order. The slice is owned by
// the file and must not be modified.
func (f *File) Tensors() []Tensor { return f.tensors }

// Truncated reports whether the header held more tensors than the
// configured limit allowed.
func (f *File) Truncated() bool { return f.truncated }

// HeaderJSON returns the file's header text.
func (f *File) HeaderJSON() []byte { return f.header }

// MetadataJSON returns the raw text of the __metadata__ value, or nil.
// It is never interpreted here.
func (f *File) MetadataJSON() []byte { return f.metadata }

// Tensor returns the first entry with the given name.
func (f *File) Tensor(name string) (*Tensor, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return &f.tensors[i], true
}

// Data returns the tensor's bytes as a view into the mapping. The view must
// not be written to or used after Close.
func (f *File) Data(t *Tensor) ([]byte, error) {
	if f.region == nil {
		return nil, fmt.Errorf("%w: %s", ErrClosed, f.path)
	}
	dataLen := uint64(len(f.data)) - f.DataStart()
	if t.Offset > dataLen || t.Size > dataLen-t.Offset {
		return nil, fmt.Errorf("%w: %s: tensor %q", ErrBounds, f.path, t.Name)
	}
	start := f.DataStart() + t.Offset
	end := start + t.Size
	return f.data[start:end:end], nil
}

// Close unmaps the file. A second Close returns ErrClosed.
func (f *File) Close() error {
	if f == nil || f.region == nil {
		return ErrClosed
	}
	err := f.region.Close()
	f.region = nil
	f.data = nil
	f.header = nil
	f.metadata = nil
	f.index = nil
	f.tensors = nil
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIO, f.path, err)
	}
	return nil
}
