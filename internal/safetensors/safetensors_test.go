package safetensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/shardview/internal/logger"
)

// fixture is one tensor written by writeArchive. Offsets are assigned in
// order, so the data block is the concatenation of every fixture's bytes.
type fixture struct {
	name  string
	dtype string
	shape []int
	data  []byte
}

// archiveHeader renders tensors as a header in the given order. meta, when
// non-empty, is emitted first as the __metadata__ value.
func archiveHeader(meta string, tensors []fixture) (string, []byte) {
	var b strings.Builder
	var data []byte
	b.WriteByte('{')
	if meta != "" {
		fmt.Fprintf(&b, `"__metadata__":%s`, meta)
	}
	for i, ft := range tensors {
		if i > 0 || meta != "" {
			b.WriteByte(',')
		}
		dims := make([]string, len(ft.shape))
		for j, d := range ft.shape {
			dims[j] = fmt.Sprint(d)
		}
		start := len(data)
		data = append(data, ft.data...)
		fmt.Fprintf(&b, `%q:{"dtype":%q,"shape":[%s],"data_offsets":[%d,%d]}`,
			ft.name, ft.dtype, strings.Join(dims, ","), start, len(data))
	}
	b.WriteByte('}')
	return b.String(), data
}

// writeRaw writes the length prefix, header text and data block verbatim.
func writeRaw(t *testing.T, path, header string, data []byte) {
	t.Helper()
	buf := make([]byte, 8, 8+len(header)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	buf = append(buf, header...)
	buf = append(buf, data...)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeArchive(t *testing.T, path string, tensors ...fixture) {
	t.Helper()
	header, data := archiveHeader("", tensors)
	writeRaw(t, path, header, data)
}

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func u16Bytes(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func openFixture(t *testing.T, tensors ...fixture) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeArchive(t, path, tensors...)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestOpenValidFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.safetensors")
	header, data := archiveHeader("", []fixture{
		{name: "weight", dtype: "F32", shape: []int{2, 3}, data: f32Bytes(1, 2, 3, 4, 5, 6)},
		{name: "bias", dtype: "F32", shape: []int{3}, data: f32Bytes(7, 8, 9)},
	})
	writeRaw(t, path, header, data)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Path() != path {
		t.Fatalf("expected path %q, got %q", path, f.Path())
	}
	if f.NumTensors() != 2 {
		t.Fatalf("expected 2 tensors, got %d", f.NumTensors())
	}
	if f.HeaderSize() != uint64(len(header)) {
		t.Fatalf("HeaderSize: got %d want %d", f.HeaderSize(), len(header))
	}
	if f.DataStart() != 8+uint64(len(header)) {
		t.Fatalf("DataStart: got %d want %d", f.DataStart(), 8+len(header))
	}
	if f.Size() != 8+uint64(len(header))+uint64(len(data)) {
		t.Fatalf("Size: got %d", f.Size())
	}
	if string(f.HeaderJSON()) != header {
		t.Fatalf("HeaderJSON: got %q want %q", f.HeaderJSON(), header)
	}
	if f.Tensors()[0].Name != "weight" || f.Tensors()[1].Name != "bias" {
		t.Fatalf("tensor order not preserved: %v", f.Tensors())
	}

	w, ok := f.Tensor("weight")
	if !ok {
		t.Fatal("tensor 'weight' not found")
	}
	if w.DType != F32 {
		t.Fatalf("expected F32, got %s", w.DType)
	}
	if len(w.Shape) != 2 || w.Shape[0] != 2 || w.Shape[1] != 3 {
		t.Fatalf("expected shape [2 3], got %v", w.Shape)
	}
	if w.NumElements() != 6 || w.Size != uint64(w.NumElements())*4 {
		t.Fatalf("expected 6 elements in 24 bytes, got %d in %d", w.NumElements(), w.Size)
	}

	b, ok := f.Tensor("bias")
	if !ok {
		t.Fatal("tensor 'bias' not found")
	}
	if b.Offset != 24 || b.Size != 12 {
		t.Fatalf("bias range: got offset=%d size=%d", b.Offset, b.Size)
	}
	raw, err := f.Data(b)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(raw, f32Bytes(7, 8, 9)) {
		t.Fatalf("Data: got %v", raw)
	}
	if cap(raw) != len(raw) {
		t.Fatalf("Data view should be capped at its length, cap=%d len=%d", cap(raw), len(raw))
	}

	if _, ok := f.Tensor("missing"); ok {
		t.Fatal("expected missing tensor lookup to fail")
	}
}

func TestOpenEmptyHeader(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.safetensors")
	writeRaw(t, path, "{}", nil)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if f.NumTensors() != 0 {
		t.Fatalf("expected no tensors, got %d", f.NumTensors())
	}
}

func TestOpenCloseCycles(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeArchive(t, path, fixture{name: "w", dtype: "F32", shape: []int{4}, data: f32Bytes(1, 2, 3, 4)})

	for i := range 100 {
		f, err := Open(path)
		if err != nil {
			t.Fatalf("cycle %d: Open: %v", i, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("cycle %d: Close: %v", i, err)
		}
	}
}

func TestOpenHeaderLengthExceedsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, 9)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("expected ErrBounds, got %v", err)
	}
}

func TestOpenHugeHeaderLength(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, math.MaxUint64)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Open(path); !errors.Is(err, ErrBounds) {
		t.Fatalf("expected ErrBounds, got %v", err)
	}
}

func TestOpenTensorOutOfBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
	}{
		{"past end", `{"w":{"dtype":"U8","shape":[100],"data_offsets":[0,100]}}`},
		{"start past end", `{"w":{"dtype":"U8","shape":[1],"data_offsets":[51,52]}}`},
		{"size overflow", `{"w":{"dtype":"U8","shape":[1],"data_offsets":[1,18446744073709551615]}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "model.safetensors")
			writeRaw(t, path, tc.header, make([]byte, 50))

			f, err := Open(path)
			if !errors.Is(err, ErrBounds) {
				t.Fatalf("expected ErrBounds, got %v", err)
			}
			if f != nil {
				t.Fatal("expected nil file on failure")
			}
		})
	}
}

func TestOpenTinyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tiny.safetensors")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Open(filepath.Join(t.TempDir(), "nope.safetensors"))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestOpenMalformedHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"array top level", `[]`},
		{"unterminated", `{"a":{"dtype":"F32"`},
		{"missing colon", `{"a" {"dtype":"F32"}}`},
		{"tensor not object", `{"a":5}`},
		{"negative dim", `{"a":{"shape":[-1]}}`},
		{"offsets reversed", `{"a":{"data_offsets":[8,4]}}`},
		{"offsets overflow", `{"a":{"data_offsets":[0,99999999999999999999]}}`},
		{"offsets one value", `{"a":{"data_offsets":[0]}}`},
		{"unterminated string", `{"a":{"x":"open}}`},
		{"missing value", `{"a":{"x":}}`},
		{"unquoted key", `{a:{}}`},
		{"no closing brace", `{"a":{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "model.safetensors")
			writeRaw(t, path, tc.header, make([]byte, 16))
			if _, err := Open(path); !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestCloseTwice(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeArchive(t, path, fixture{name: "w", dtype: "F32", shape: []int{1}, data: f32Bytes(1)})

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w, _ := f.Tensor("w")
	tensor := *w
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on second Close, got %v", err)
	}
	if _, err := f.Data(&tensor); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Data after Close, got %v", err)
	}
	if f.NumTensors() != 0 {
		t.Fatalf("expected empty table after Close, got %d", f.NumTensors())
	}
}

func TestMetadataCaptured(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.safetensors")
	meta := `{"format":"pt","nested":{"k":["}",1]}}`
	header, data := archiveHeader(meta, []fixture{
		{name: "w", dtype: "F32", shape: []int{1}, data: f32Bytes(3)},
	})
	writeRaw(t, path, header, data)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if string(f.MetadataJSON()) != meta {
		t.Fatalf("MetadataJSON: got %q want %q", f.MetadataJSON(), meta)
	}
	if f.NumTensors() != 1 {
		t.Fatalf("metadata must not be counted as a tensor, got %d", f.NumTensors())
	}
}

func TestNoMetadata(t *testing.T) {
	t.Parallel()
	f := openFixture(t, fixture{name: "w", dtype: "F32", shape: []int{1}, data: f32Bytes(3)})
	if f.MetadataJSON() != nil {
		t.Fatalf("expected nil metadata, got %q", f.MetadataJSON())
	}
}

func TestDuplicateNameFirstWins(t *testing.T) {
	t.Parallel()
	f := openFixture(t,
		fixture{name: "w", dtype: "F32", shape: []int{1}, data: f32Bytes(1)},
		fixture{name: "w", dtype: "F32", shape: []int{1}, data: f32Bytes(2)},
	)
	if f.NumTensors() != 2 {
		t.Fatalf("expected both entries kept, got %d", f.NumTensors())
	}
	w, _ := f.Tensor("w")
	if w.Offset != 0 {
		t.Fatalf("expected first entry, got offset %d", w.Offset)
	}
}

func capacityFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeArchive(t, path,
		fixture{name: "a", dtype: "F32", shape: []int{1}, data: f32Bytes(1)},
		fixture{name: "b", dtype: "F32", shape: []int{1}, data: f32Bytes(2)},
		fixture{name: "c", dtype: "F32", shape: []int{1}, data: f32Bytes(3)},
	)
	return path
}

func TestTensorCapacityTruncates(t *testing.T) {
	t.Parallel()
	path := capacityFixture(t)

	var buf bytes.Buffer
	f, err := Open(path, WithLimits(Limits{MaxTensors: 2}), WithLogger(logger.JSON(&buf, slog.LevelDebug)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.NumTensors() != 2 {
		t.Fatalf("expected 2 tensors, got %d", f.NumTensors())
	}
	if !f.Truncated() {
		t.Fatal("expected Truncated")
	}
	if _, ok := f.Tensor("c"); ok {
		t.Fatal("tensor past the limit should not be indexed")
	}
	if !strings.Contains(buf.String(), "tensor table truncated") {
		t.Fatalf("expected truncation warning, got: %s", buf.String())
	}
}

func TestTensorCapacityStrict(t *testing.T) {
	t.Parallel()
	path := capacityFixture(t)

	_, err := Open(path, WithLimits(Limits{MaxTensors: 2, Strict: true}))
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestTensorCapacityExactFit(t *testing.T) {
	t.Parallel()
	path := capacityFixture(t)

	f, err := Open(path, WithLimits(Limits{MaxTensors: 3, Strict: true}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if f.Truncated() || f.NumTensors() != 3 {
		t.Fatalf("expected all 3 tensors, got %d (truncated=%v)", f.NumTensors(), f.Truncated())
	}
}

func TestFileDump(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeArchive(t, path,
		fixture{name: "w", dtype: "BF16", shape: []int{2, 2}, data: u16Bytes(1, 2, 3, 4)},
		fixture{name: "s", dtype: "F32", shape: nil, data: f32Bytes(1)},
	)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if err := f.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	want := "File: " + path + " (2 tensors)\n" +
		"  w: BF16 [2, 2] offset=0 size=8\n" +
		"  s: F32 [] offset=8 size=4\n"
	if buf.String() != want {
		t.Fatalf("Dump:\ngot  %q\nwant %q", buf.String(), want)
	}
}

func TestNumElements(t *testing.T) {
	t.Parallel()
	tests := []struct {
		shape []int64
		want  int64
	}{
		{nil, 1},
		{[]int64{7}, 7},
		{[]int64{2, 3, 4}, 24},
		{[]int64{0, 5}, 0},
		{[]int64{math.MaxInt64, 2}, -1},
		{[]int64{1 << 32, 1 << 32}, -1},
		{[]int64{-2}, -1},
	}
	for _, tc := range tests {
		tt := Tensor{Shape: tc.shape}
		if got := tt.NumElements(); got != tc.want {
			t.Errorf("NumElements(%v): got %d want %d", tc.shape, got, tc.want)
		}
	}
}

func TestDType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want DType
		size int
	}{
		{"F32", F32, 4},
		{"F16", F16, 2},
		{"BF16", BF16, 2},
		{"I32", I32, 4},
		{"I64", I64, 8},
		{"BOOL", Bool, 1},
		{"F64", Unknown, 0},
		{"f32", Unknown, 0},
		{"", Unknown, 0},
	}
	for _, tc := range tests {
		d := ParseDType(tc.name)
		if d != tc.want {
			t.Errorf("ParseDType(%q): got %s want %s", tc.name, d, tc.want)
		}
		if d.Size() != tc.size {
			t.Errorf("%s.Size(): got %d want %d", d, d.Size(), tc.size)
		}
		if tc.want != Unknown && d.String() != tc.name {
			t.Errorf("%s.String(): got %q", tc.name, d.String())
		}
	}
	if Unknown.String() != "UNKNOWN" || DType(200).String() != "UNKNOWN" {
		t.Fatalf("unknown dtypes should print UNKNOWN")
	}
}
