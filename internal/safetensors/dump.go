package safetensors

import (
	"fmt"
	"io"
)

// Dump writes a human-readable listing of the file's tensors to w.
func (f *File) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "File: %s (%d tensors)\n", f.path, len(f.tensors)); err != nil {
		return err
	}
	for _, t := range f.tensors {
		if _, err := fmt.Fprintf(w, "  %s\n", t); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes every shard's listing in open order.
func (s *Set) Dump(w io.Writer) error {
	for _, f := range s.shards {
		if err := f.Dump(w); err != nil {
			return err
		}
	}
	return nil
}
