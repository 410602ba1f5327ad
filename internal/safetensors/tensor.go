package safetensors

import (
	"math"
	"strconv"
	"strings"
)

// Tensor describes one named tensor in a shard. Offset and Size are
// relative to the start of the shard's data block.
type Tensor struct {
	Name   string
	DType  DType
	Shape  []int64
	Offset uint64
	Size   uint64
}

// NumElements returns the product of the shape. A scalar (empty shape) has
// one element. -1 is returned when the product overflows int64.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		if d < 0 {
			return -1
		}
		if d != 0 && n > math.MaxInt64/d {
			return -1
		}
		n *= d
	}
	return n
}

// String formats the tensor as "name: DTYPE [d0, d1] offset=o size=s".
func (t Tensor) String() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteString(": ")
	b.WriteString(t.DType.String())
	b.WriteString(" [")
	for i, d := range t.Shape {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(d, 10))
	}
	b.WriteString("] offset=")
	b.WriteString(strconv.FormatUint(t.Offset, 10))
	b.WriteString(" size=")
	b.WriteString(strconv.FormatUint(t.Size, 10))
	return b.String()
}
