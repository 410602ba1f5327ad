package safetensors

// DType is the element type of a tensor as named in the header.
type DType uint8

const (
	Unknown DType = iota
	F32
	F16
	BF16
	I32
	I64
	Bool
)

var dtypeNames = [...]string{
	Unknown: "UNKNOWN",
	F32:     "F32",
	F16:     "F16",
	BF16:    "BF16",
	I32:     "I32",
	I64:     "I64",
	Bool:    "BOOL",
}

// ParseDType maps a header dtype string to a DType. Unrecognized names map
// to Unknown rather than failing.
func ParseDType(s string) DType {
	switch s {
	case "F32":
		return F32
	case "F16":
		return F16
	case "BF16":
		return BF16
	case "I32":
		return I32
	case "I64":
		return I64
	case "BOOL":
		return Bool
	default:
		return Unknown
	}
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return dtypeNames[Unknown]
}

// Size returns the width of one element in bytes, or 0 for Unknown.
func (d DType) Size() int {
	switch d {
	case F32, I32:
		return 4
	case F16, BF16:
		return 2
	case I64:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}
