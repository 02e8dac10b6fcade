// Package tensor provides the tensor descriptor types consumed by the tiling planner.
package tensor

import "strings"

// DataType represents the element type of a device tensor.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float16
	BFloat16
	Int8
	Int32
	Int64
	Uint8
	Bool
)

// Valid reports whether dt is one of the supported data types.
func (dt DataType) Valid() bool {
	return dt >= Float32 && dt <= Bool
}

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float16, BFloat16:
		return 2
	case Int64:
		return 8
	case Int8, Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// IsFloat reports whether the data type is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16 || dt == BFloat16
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseDataType converts a name such as "float16" or "fp16" to a DataType.
func ParseDataType(s string) (DataType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "fp32", "float":
		return Float32, true
	case "float16", "fp16", "half":
		return Float16, true
	case "bfloat16", "bf16":
		return BFloat16, true
	case "int8":
		return Int8, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "uint8":
		return Uint8, true
	case "bool":
		return Bool, true
	default:
		return 0, false
	}
}

// Format is the optional storage layout tag of a tensor.
type Format int

// Storage formats.
const (
	FormatND Format = iota
	FormatNCHW
	FormatNHWC
	FormatNC1HWC0
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatND:
		return "ND"
	case FormatNCHW:
		return "NCHW"
	case FormatNHWC:
		return "NHWC"
	case FormatNC1HWC0:
		return "NC1HWC0"
	default:
		return "unknown"
	}
}

// ParseFormat converts a layout name to a Format. The empty string maps to ND.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ND":
		return FormatND, true
	case "NCHW":
		return FormatNCHW, true
	case "NHWC":
		return FormatNHWC, true
	case "NC1HWC0":
		return FormatNC1HWC0, true
	default:
		return 0, false
	}
}
