package safetensors

import (
	"bytes"
	"fmt"
	"math"
)

// header is the parsed form of a shard's JSON header.
type header struct {
	tensors   []Tensor
	metadata  []byte // raw __metadata__ value, if present
	truncated bool
}

// headerParser walks the header text once, left to right. It understands
// only the subset of JSON a safetensors header uses; anything else is
// skipped structurally or rejected.
type headerParser struct {
	src    []byte
	pos    int
	limits Limits
}

func parseHeader(src []byte, limits Limits) (*header, error) {
	p := &headerParser{src: src, limits: limits.normalized()}
	return p.parse()
}

func (p *headerParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: header offset %d: %s", ErrFormat, p.pos, fmt.Sprintf(format, args...))
}

func (p *headerParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\n', '\r', '\t':
			p.pos++
		default:
			return
		}
	}
}

func (p *headerParser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *headerParser) expect(c byte) error {
	p.skipSpace()
	got, ok := p.peek()
	if !ok {
		return p.errorf("expected %q, got end of header", c)
	}
	if got != c {
		return p.errorf("expected %q, got %q", c, got)
	}
	p.pos++
	return nil
}

// skipComma consumes an optional member separator.
func (p *headerParser) skipComma() {
	p.skipSpace()
	if c, ok := p.peek(); ok && c == ',' {
		p.pos++
	}
}

func (p *headerParser) parse() (*header, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}

	h := &header{}
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated header object")
		}
		if c == '}' {
			p.pos++
			return h, nil
		}

		key, err := p.parseString()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()

		if key == metadataKey {
			start := p.pos
			end, err := skipValue(p.src, p.pos)
			if err != nil {
				return nil, err
			}
			h.metadata = bytes.TrimRight(p.src[start:end], " \n\r\t")
			p.pos = end
			p.skipComma()
			continue
		}

		if len(h.tensors) >= p.limits.MaxTensors {
			if p.limits.Strict {
				return nil, fmt.Errorf("%w: header lists more than %d tensors", ErrCapacity, p.limits.MaxTensors)
			}
			h.truncated = true
			return h, nil
		}

		t, err := p.parseTensor(key)
		if err != nil {
			return nil, err
		}
		h.tensors = append(h.tensors, t)
		p.skipComma()
	}
}

func (p *headerParser) parseTensor(name string) (Tensor, error) {
	if c, ok := p.peek(); !ok || c != '{' {
		return Tensor{}, p.errorf("tensor %q: expected object", name)
	}
	p.pos++

	t := Tensor{Name: name}
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return Tensor{}, p.errorf("tensor %q: unterminated object", name)
		}
		if c == '}' {
			p.pos++
			return t, nil
		}

		key, err := p.parseString()
		if err != nil {
			return Tensor{}, err
		}
		if err := p.expect(':'); err != nil {
			return Tensor{}, err
		}
		p.skipSpace()

		switch key {
		case "dtype":
			s, err := p.parseString()
			if err != nil {
				return Tensor{}, err
			}
			t.DType = ParseDType(s)
		case "shape":
			if t.Shape, err = p.parseShape(); err != nil {
				return Tensor{}, err
			}
		case "data_offsets":
			start, end, err := p.parseOffsets()
			if err != nil {
				return Tensor{}, err
			}
			if end < start {
				return Tensor{}, p.errorf("tensor %q: data_offsets end %d before start %d", name, end, start)
			}
			t.Offset = start
			t.Size = end - start
		default:
			end, err := skipValue(p.src, p.pos)
			if err != nil {
				return Tensor{}, err
			}
			p.pos = end
		}
		p.skipComma()
	}
}

// parseShape reads an array of dimensions. Dimensions past MaxDims are
// consumed and dropped.
func (p *headerParser) parseShape() ([]int64, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	dims := make([]int64, 0, 4)
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated shape")
		}
		if c == ']' {
			p.pos++
			return dims, nil
		}
		v, err := p.parseUint()
		if err != nil {
			return nil, err
		}
		if v > math.MaxInt64 {
			return nil, p.errorf("dimension %d too large", v)
		}
		if len(dims) < MaxDims {
			dims = append(dims, int64(v))
		}
		p.skipComma()
	}
}

func (p *headerParser) parseOffsets() (uint64, uint64, error) {
	if err := p.expect('['); err != nil {
		return 0, 0, err
	}
	start, err := p.parseUint()
	if err != nil {
		return 0, 0, err
	}
	if err := p.expect(','); err != nil {
		return 0, 0, err
	}
	end, err := p.parseUint()
	if err != nil {
		return 0, 0, err
	}
	if err := p.expect(']'); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func (p *headerParser) parseUint() (uint64, error) {
	p.skipSpace()
	c, ok := p.peek()
	if !ok {
		return 0, p.errorf("expected integer, got end of header")
	}
	if c == '-' {
		return 0, p.errorf("negative integer")
	}
	if c < '0' || c > '9' {
		return 0, p.errorf("expected integer, got %q", c)
	}

	var v uint64
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c < '0' || c > '9' {
			break
		}
		d := uint64(c - '0')
		if v > (math.MaxUint64-d)/10 {
			return 0, p.errorf("integer overflows uint64")
		}
		v = v*10 + d
		p.pos++
	}
	return v, nil
}

// parseString reads a quoted string. Only \n, \t, \" and \\ are decoded;
// any other escaped byte is kept as-is.
func (p *headerParser) parseString() (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}

	start := p.pos
	var buf []byte
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			if buf == nil {
				return string(p.src[start : p.pos-1]), nil
			}
			return string(buf), nil
		case '\\':
			if buf == nil {
				buf = append(make([]byte, 0, p.pos-start+16), p.src[start:p.pos]...)
			}
			p.pos++
			if p.pos >= len(p.src) {
				return "", p.errorf("unterminated escape")
			}
			switch e := p.src[p.pos]; e {
			case 'n':
				buf = append(buf, '\n')
			case 't':
				buf = append(buf, '\t')
			default:
				buf = append(buf, e)
			}
		default:
			if buf != nil {
				buf = append(buf, c)
			}
		}
		p.pos++
	}
	return "", p.errorf("unterminated string")
}

type skipState uint8

const (
	skipNormal skipState = iota
	skipInString
	skipInEscape
)

// skipValue returns the offset just past the JSON value that starts at pos
// without interpreting it. Nesting is tracked by bracket depth and string
// state, so arbitrarily nested objects, arrays and strings containing
// brackets or escaped quotes are skipped whole. A scalar ends before the
// next ',' or closing bracket at depth zero.
func skipValue(src []byte, pos int) (int, error) {
	state := skipNormal
	depth := 0
	i := pos
	for ; i < len(src); i++ {
		c := src[i]
		switch state {
		case skipInEscape:
			state = skipInString
		case skipInString:
			switch c {
			case '\\':
				state = skipInEscape
			case '"':
				state = skipNormal
				if depth == 0 {
					return i + 1, nil
				}
			}
		case skipNormal:
			switch c {
			case '"':
				state = skipInString
			case '{', '[':
				depth++
			case '}', ']':
				if depth == 0 {
					return endScalar(src, pos, i)
				}
				depth--
				if depth == 0 {
					return i + 1, nil
				}
			case ',':
				if depth == 0 {
					return endScalar(src, pos, i)
				}
			}
		}
	}
	if state != skipNormal || depth != 0 {
		return 0, fmt.Errorf("%w: header offset %d: unterminated value", ErrFormat, pos)
	}
	return endScalar(src, pos, i)
}

func endScalar(src []byte, start, end int) (int, error) {
	if len(bytes.TrimSpace(src[start:end])) == 0 {
		return 0, fmt.Errorf("%w: header offset %d: missing value", ErrFormat, start)
	}
	return end, nil
}
