package ir

import (
	"fmt"
	"math"
)

// TypeCode is the kind of a scalar element.
type TypeCode uint8

const (
	// Int is a signed two's complement integer.
	Int TypeCode = iota
	// UInt is an unsigned integer. Booleans are 1-bit unsigned integers.
	UInt
	// Float is an IEEE-754 floating point number.
	Float
	// Handle is an opaque pointer.
	Handle
)

// String returns the short spelling used by the printer.
func (c TypeCode) String() string {
	switch c {
	case Int:
		return "i"
	case UInt:
		return "u"
	case Float:
		return "f"
	case Handle:
		return "handle"
	default:
		return fmt.Sprintf("code%d", uint8(c))
	}
}

// Type describes a scalar or vector value.
//
// The zero Type (Bits == 0) is used as "void" for calls evaluated only
// for their effect.
type Type struct {
	Code  TypeCode
	Bits  int
	Lanes int
}

// Void is the result type of calls that produce no value.
var Void = Type{}

// IntType returns a signed integer type.
func IntType(bits int) Type { return Type{Code: Int, Bits: bits, Lanes: 1} }

// UIntType returns an unsigned integer type.
func UIntType(bits int) Type { return Type{Code: UInt, Bits: bits, Lanes: 1} }

// FloatType returns a floating point type.
func FloatType(bits int) Type { return Type{Code: Float, Bits: bits, Lanes: 1} }

// Bool returns the boolean type, a 1-bit unsigned integer.
func Bool() Type { return UIntType(1) }

// HandleType returns the opaque pointer type. Handles are 64 bits wide in
// memory regardless of the target's pointer width.
func HandleType() Type { return Type{Code: Handle, Bits: 64, Lanes: 1} }

// Common types.
var (
	I8  = IntType(8)
	I16 = IntType(16)
	I32 = IntType(32)
	I64 = IntType(64)
	U8  = UIntType(8)
	U16 = UIntType(16)
	U32 = UIntType(32)
	U64 = UIntType(64)
	F32 = FloatType(32)
	F64 = FloatType(64)
)

// WithLanes returns t with the given lane count.
func (t Type) WithLanes(lanes int) Type {
	t.Lanes = lanes
	return t
}

// Element returns the scalar element type of t.
func (t Type) Element() Type { return t.WithLanes(1) }

// IsVoid reports whether t is the void type.
func (t Type) IsVoid() bool { return t.Bits == 0 }

// IsScalar reports whether t has exactly one lane.
func (t Type) IsScalar() bool { return t.Lanes == 1 }

// IsVector reports whether t has more than one lane.
func (t Type) IsVector() bool { return t.Lanes > 1 }

// IsInt reports whether t is a signed integer type.
func (t Type) IsInt() bool { return t.Code == Int }

// IsUInt reports whether t is an unsigned integer type (including bool).
func (t Type) IsUInt() bool { return t.Code == UInt }

// IsFloat reports whether t is a floating point type.
func (t Type) IsFloat() bool { return t.Code == Float }

// IsHandle reports whether t is an opaque pointer.
func (t Type) IsHandle() bool { return t.Code == Handle }

// IsBool reports whether t is a (possibly vector) boolean.
func (t Type) IsBool() bool { return t.Code == UInt && t.Bits == 1 }

// IsIntegral reports whether t is a signed or unsigned integer.
func (t Type) IsIntegral() bool { return t.Code == Int || t.Code == UInt }

// Bytes returns the in-memory size of one element. Booleans occupy a byte.
func (t Type) Bytes() int {
	return (t.Bits + 7) / 8
}

// Max returns the largest value representable by an integer type.
func (t Type) Max() uint64 {
	switch {
	case t.Code == Int:
		return uint64(1)<<(t.Bits-1) - 1
	case t.Bits >= 64:
		return math.MaxUint64
	default:
		return uint64(1)<<t.Bits - 1
	}
}

// Min returns the smallest value representable by a signed integer type, or
// zero for unsigned types.
func (t Type) Min() int64 {
	if t.Code != Int {
		return 0
	}
	return -1 << (t.Bits - 1)
}

// CanRepresent reports whether v fits in the integer type t.
func (t Type) CanRepresent(v int64) bool {
	switch t.Code {
	case Int:
		return v >= t.Min() && (v < 0 || uint64(v) <= t.Max())
	case UInt:
		return v >= 0 && uint64(v) <= t.Max()
	default:
		return true
	}
}

// String returns the printer spelling: i32, u8, f64, handle, i32x8.
func (t Type) String() string {
	if t.IsVoid() {
		return "void"
	}
	var s string
	switch {
	case t.Code == Handle:
		s = "handle"
	case t.IsBool():
		s = "bool"
	default:
		s = fmt.Sprintf("%s%d", t.Code, t.Bits)
	}
	if t.Lanes > 1 {
		s += fmt.Sprintf("x%d", t.Lanes)
	}
	return s
}
