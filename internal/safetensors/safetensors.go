// Package safetensors reads safetensors archives through read-only memory
// mappings.
//
// A file is laid out as an 8-byte little-endian header length H, H bytes of
// JSON describing each tensor, then the raw tensor data. A model is either a
// single model.safetensors or a set of model-*.safetensors shards that
// together form one tensor namespace.
//
//	set, err := safetensors.OpenDir(dir)
//	if err != nil {
//		return err
//	}
//	defer func() { _ = set.Close() }()
//
//	t, shard, err := set.Find("model.embed_tokens.weight")
//	if err != nil {
//		return err
//	}
//	weights, err := shard.Float32s(t)
//
// Byte views returned by File.Data, File.BF16 and File.F16 borrow the
// mapping and are only valid until the owning File is closed. Once opened,
// files and sets are immutable and safe for concurrent readers.
package safetensors

import (
	"github.com/samcharles93/shardview/internal/logger"
)

const (
	// SingleFileName is the archive name tried before scanning for shards.
	SingleFileName = "model.safetensors"

	// ShardPrefix and ShardMarker select shard files during a directory scan.
	ShardPrefix = "model-"
	ShardMarker = ".safetensors"

	// MaxDims is the largest tensor rank kept from a header; extra
	// dimensions are dropped.
	MaxDims = 8

	DefaultMaxTensors = 8192
	DefaultMaxShards  = 64

	metadataKey = "__metadata__"
	prefixSize  = 8
)

// Limits bounds how much of a header or directory is accepted.
//
// When a bound is reached the default is to stop accepting entries and
// carry on with what was read. Strict turns that into ErrCapacity.
type Limits struct {
	MaxTensors int
	MaxShards  int
	Strict     bool
}

// DefaultLimits returns the limits used when none are given.
func DefaultLimits() Limits {
	return Limits{
		MaxTensors: DefaultMaxTensors,
		MaxShards:  DefaultMaxShards,
	}
}

func (l Limits) normalized() Limits {
	if l.MaxTensors <= 0 {
		l.MaxTensors = DefaultMaxTensors
	}
	if l.MaxShards <= 0 {
		l.MaxShards = DefaultMaxShards
	}
	return l
}

// Option configures Open and OpenDir.
type Option func(*options)

type options struct {
	limits Limits
	log    logger.Logger
}

// WithLimits overrides the default capacity limits. Zero fields fall back
// to their defaults.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l.normalized() }
}

// WithLogger routes open and discovery diagnostics to log.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		limits: DefaultLimits(),
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
