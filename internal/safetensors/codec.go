package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// elements validates t against its dtype width and returns its bytes and
// element count.
func (f *File) elements(t *Tensor) ([]byte, int, error) {
	width := t.DType.Size()
	n := t.NumElements()
	if n <= 0 {
		return nil, 0, fmt.Errorf("%w: tensor %q has %d elements", ErrAllocation, t.Name, n)
	}
	if n > int64(math.MaxInt/4) {
		return nil, 0, fmt.Errorf("%w: tensor %q has %d elements", ErrAllocation, t.Name, n)
	}
	if t.Size != uint64(n)*uint64(width) {
		return nil, 0, fmt.Errorf("%w: tensor %q: %d bytes for %d %s elements", ErrFormat, t.Name, t.Size, n, t.DType)
	}
	raw, err := f.Data(t)
	if err != nil {
		return nil, 0, err
	}
	return raw, int(n), nil
}

// Float32s copies t into a new float32 slice. F32 is decoded as-is and BF16
// is widened exactly; every other dtype fails with ErrDType.
func (f *File) Float32s(t *Tensor) ([]float32, error) {
	if t.DType != F32 && t.DType != BF16 {
		return nil, fmt.Errorf("%w: tensor %q is %s, want F32 or BF16", ErrDType, t.Name, t.DType)
	}
	raw, n, err := f.elements(t)
	if err != nil {
		return nil, err
	}

	if t.DType == BF16 {
		return bfloat16.DecodeFloat32(raw), nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// F32 returns a zero-copy view of an F32 tensor.
func (f *File) F32(t *Tensor) (F32View, error) {
	if t.DType != F32 {
		return F32View{}, fmt.Errorf("%w: tensor %q is %s, want F32", ErrDType, t.Name, t.DType)
	}
	raw, _, err := f.elements(t)
	if err != nil {
		return F32View{}, err
	}
	return F32View{b: raw}, nil
}

// BF16 returns a zero-copy view of a BF16 tensor.
func (f *File) BF16(t *Tensor) (BF16View, error) {
	if t.DType != BF16 {
		return BF16View{}, fmt.Errorf("%w: tensor %q is %s, want BF16", ErrDType, t.Name, t.DType)
	}
	raw, _, err := f.elements(t)
	if err != nil {
		return BF16View{}, err
	}
	return BF16View{b: raw}, nil
}

// F16 returns a zero-copy view of an F16 tensor.
func (f *File) F16(t *Tensor) (F16View, error) {
	if t.DType != F16 {
		return F16View{}, fmt.Errorf("%w: tensor %q is %s, want F16", ErrDType, t.Name, t.DType)
	}
	raw, _, err := f.elements(t)
	if err != nil {
		return F16View{}, err
	}
	return F16View{b: raw}, nil
}

// F32View reads float32 values straight out of a mapping. It is valid
// only while the owning File is open.
type F32View struct {
	b []byte
}

func (v F32View) Len() int         { return len(v.b) / 4 }
func (v F32View) At(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(v.b[i*4:])) }
func (v F32View) Bytes() []byte    { return v.b }

// BF16View reads bfloat16 values straight out of a mapping. It is valid
// only while the owning File is open.
type BF16View struct {
	b []byte
}

// Len returns the number of elements.
func (v BF16View) Len() int { return len(v.b) / 2 }

// At returns the raw bits of element i.
func (v BF16View) At(i int) uint16 { return binary.LittleEndian.Uint16(v.b[i*2:]) }

// Float32At widens element i to float32.
func (v BF16View) Float32At(i int) float32 { return bfloat16.ToFloat32(bfloat16.BF16(v.At(i))) }

// Bytes returns the underlying little-endian bytes.
func (v BF16View) Bytes() []byte { return v.b }

// F16View reads IEEE half-precision values straight out of a mapping.
type F16View struct {
	b []byte
}

func (v F16View) Len() int                { return len(v.b) / 2 }
func (v F16View) At(i int) uint16         { return binary.LittleEndian.Uint16(v.b[i*2:]) }
func (v F16View) Float32At(i int) float32 { return float16.Frombits(v.At(i)).Float32() }
func (v F16View) Bytes() []byte           { return v.b }
