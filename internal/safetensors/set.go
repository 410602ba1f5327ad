package safetensors

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Set is one logical model: an ordered list of shards opened from a single
// directory. Shards are ordered by file name, byte-wise.
type Set struct {
	dir    string
	shards []*File
}

// OpenDir opens the model stored in dir.
//
// dir/model.safetensors is used when it opens cleanly. Otherwise every
// regular file named model-*.safetensors* is opened in sorted order. Either
// all shards open or none stay open.
func OpenDir(dir string, opts ...Option) (*Set, error) {
	o := newOptions(opts)
	log := o.log.With("dir", dir)

	single := filepath.Join(dir, SingleFileName)
	f, singleErr := openShard(single, o)
	if singleErr == nil {
		return &Set{dir: dir, shards: []*File{f}}, nil
	}
	if !errors.Is(singleErr, os.ErrNotExist) {
		log.Warn("single-file archive unusable, scanning for shards", "path", single, "error", singleErr)
	}

	names, err := shardNames(dir, o.limits)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if !errors.Is(singleErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no %s*%s files in %s (%s: %w)", ErrNotFound, ShardPrefix, ShardMarker, dir, SingleFileName, singleErr)
		}
		return nil, fmt.Errorf("%w: no %s or %s*%s files in %s", ErrNotFound, SingleFileName, ShardPrefix, ShardMarker, dir)
	}

	shards := make([]*File, 0, len(names))
	for _, name := range names {
		f, err := openShard(filepath.Join(dir, name), o)
		if err != nil {
			for _, opened := range shards {
				_ = opened.Close()
			}
			return nil, err
		}
		shards = append(shards, f)
	}
	log.Debug("opened shard set", "shards", len(shards))
	return &Set{dir: dir, shards: shards}, nil
}

// openShard is replaced in tests to observe rollback.
var openShard = openFile

// shardNames lists the shard file names in dir, sorted and capped at the
// shard limit.
func shardNames(dir string, limits Limits) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ShardPrefix) && strings.Contains(name, ShardMarker) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	if len(names) > limits.MaxShards {
		if limits.Strict {
			return nil, fmt.Errorf("%w: %s holds %d shards, limit is %d", ErrCapacity, dir, len(names), limits.MaxShards)
		}
		names = names[:limits.MaxShards]
	}
	return names, nil
}

// Dir returns the directory the set was opened from.
func (s *Set) Dir() string { return s.dir }

// Shards returns the shards in open order.
func (s *Set) Shards() []*File { return s.shards }

// NumTensors returns the total number of tensor entries across shards,
// shadowed duplicates included.
func (s *Set) NumTensors() int {
	n := 0
	for _, f := range s.shards {
		n += f.NumTensors()
	}
	return n
}

// Find returns the first tensor named name and the shard that owns it.
// Shards are searched in order, so a name present in several shards
// resolves to the earliest one.
func (s *Set) Find(name string) (*Tensor, *File, error) {
	for _, f := range s.shards {
		if t, ok := f.Tensor(name); ok {
			return t, f, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: tensor %q", ErrNotFound, name)
}

// All yields every tensor reachable through Find together with its shard,
// in shard order then header order.
func (s *Set) All() iter.Seq2[*Tensor, *File] {
	return func(yield func(*Tensor, *File) bool) {
		seen := make(map[string]struct{}, s.NumTensors())
		for _, f := range s.shards {
			for i := range f.tensors {
				t := &f.tensors[i]
				if _, dup := seen[t.Name]; dup {
					continue
				}
				seen[t.Name] = struct{}{}
				if !yield(t, f) {
					return
				}
			}
		}
	}
}

// Float32s finds name and materializes it as float32.
func (s *Set) Float32s(name string) ([]float32, error) {
	t, f, err := s.Find(name)
	if err != nil {
		return nil, err
	}
	return f.Float32s(t)
}

// BF16 finds name and returns a zero-copy BF16 view of it.
func (s *Set) BF16(name string) (BF16View, error) {
	t, f, err := s.Find(name)
	if err != nil {
		return BF16View{}, err
	}
	return f.BF16(t)
}

// Close closes every shard. A second Close returns ErrClosed.
func (s *Set) Close() error {
	if s == nil || s.shards == nil {
		return ErrClosed
	}
	var errs []error
	for _, f := range s.shards {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.shards = nil
	return errors.Join(errs...)
}
