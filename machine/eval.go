package machine

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gogpu/kiln/ir"
)

// Lanes holds the raw bit pattern of each lane of a value. Integers are
// kept zero-extended to their width, float32 lanes in the low 32 bits.
type Lanes []uint64

// Splat returns a value with n copies of x.
func Splat(n int, x uint64) Lanes {
	out := make(Lanes, n)
	for i := range out {
		out[i] = x
	}
	return out
}

// Int returns lane i sign-extended from t.
func (l Lanes) Int(t ir.Type, i int) int64 {
	return sext(l[i], t.Bits)
}

// Float returns lane i of a float value of type t.
func (l Lanes) Float(t ir.Type, i int) float64 {
	return toFloat(t, l[i])
}

// IntLanes encodes integers as a value of type t.
func IntLanes(t ir.Type, xs ...int64) Lanes {
	out := make(Lanes, len(xs))
	for i, x := range xs {
		out[i] = normalize(t, uint64(x))
	}
	return out
}

// FloatLanes encodes floats as a value of type t.
func FloatLanes(t ir.Type, xs ...float64) Lanes {
	out := make(Lanes, len(xs))
	for i, x := range xs {
		out[i] = fromFloat(t, x)
	}
	return out
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}
	return 1<<bits - 1
}

// normalize truncates x to the width of t.
func normalize(t ir.Type, x uint64) uint64 {
	if t.IsHandle() || t.IsVoid() {
		return x
	}
	return x & mask(t.Bits)
}

func sext(x uint64, bits int) int64 {
	if bits >= 64 {
		return int64(x)
	}
	shift := 64 - bits
	return int64(x<<shift) >> shift
}

func toFloat(t ir.Type, x uint64) float64 {
	if t.Bits == 32 {
		return float64(math.Float32frombits(uint32(x)))
	}
	return math.Float64frombits(x)
}

func fromFloat(t ir.Type, f float64) uint64 {
	if t.Bits == 32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func lanewise(t ir.Type, a, b Lanes, f func(x, y uint64) uint64) Lanes {
	out := make(Lanes, len(a))
	for i := range a {
		out[i] = normalize(t, f(a[i], b[i]))
	}
	return out
}

// binary evaluates an arithmetic opcode on operands of type t. Integer
// division and remainder by zero yield zero.
func evalBinary(op Opcode, t ir.Type, a, b Lanes) (Lanes, error) {
	n := t.Bits
	float := func(f func(x, y float64) float64) Lanes {
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			return fromFloat(t, f(toFloat(t, x), toFloat(t, y)))
		})
	}
	switch op {
	case OpAdd:
		return lanewise(t, a, b, func(x, y uint64) uint64 { return x + y }), nil
	case OpSub:
		return lanewise(t, a, b, func(x, y uint64) uint64 { return x - y }), nil
	case OpMul:
		return lanewise(t, a, b, func(x, y uint64) uint64 { return x * y }), nil
	case OpSDiv:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			sx, sy := sext(x, n), sext(y, n)
			switch {
			case sy == 0:
				return 0
			case sy == -1:
				return uint64(-sx)
			}
			return uint64(sx / sy)
		}), nil
	case OpSRem:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			sx, sy := sext(x, n), sext(y, n)
			if sy == 0 || sy == -1 {
				return 0
			}
			return uint64(sx % sy)
		}), nil
	case OpUDiv:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			if y == 0 {
				return 0
			}
			return x / y
		}), nil
	case OpURem:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			if y == 0 {
				return 0
			}
			return x % y
		}), nil
	case OpFAdd:
		return float(func(x, y float64) float64 { return x + y }), nil
	case OpFSub:
		return float(func(x, y float64) float64 { return x - y }), nil
	case OpFMul:
		return float(func(x, y float64) float64 { return x * y }), nil
	case OpFDiv:
		return float(func(x, y float64) float64 { return x / y }), nil
	case OpAnd:
		return lanewise(t, a, b, func(x, y uint64) uint64 { return x & y }), nil
	case OpOr:
		return lanewise(t, a, b, func(x, y uint64) uint64 { return x | y }), nil
	case OpXor:
		return lanewise(t, a, b, func(x, y uint64) uint64 { return x ^ y }), nil
	case OpShl:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			if y >= uint64(n) {
				return 0
			}
			return x << y
		}), nil
	case OpLShr:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			if y >= uint64(n) {
				return 0
			}
			return x >> y
		}), nil
	case OpAShr:
		return lanewise(t, a, b, func(x, y uint64) uint64 {
			if y >= uint64(n) {
				y = uint64(n - 1)
			}
			return uint64(sext(x, n) >> y)
		}), nil
	}
	return nil, fmt.Errorf("%s is not a binary operation", op)
}

func compare(p Pred, t ir.Type, a, b Lanes) (Lanes, error) {
	out := make(Lanes, len(a))
	for i := range a {
		x, y := a[i], b[i]
		sx, sy := sext(x, t.Bits), sext(y, t.Bits)
		fx, fy := toFloat(t, x), toFloat(t, y)
		var r bool
		switch p {
		case PredEQ:
			r = x == y
		case PredNE:
			r = x != y
		case PredSLT:
			r = sx < sy
		case PredSLE:
			r = sx <= sy
		case PredSGT:
			r = sx > sy
		case PredSGE:
			r = sx >= sy
		case PredULT:
			r = x < y
		case PredULE:
			r = x <= y
		case PredUGT:
			r = x > y
		case PredUGE:
			r = x >= y
		case PredOEQ:
			r = fx == fy
		case PredUNE:
			r = !(fx == fy)
		case PredOLT:
			r = fx < fy
		case PredOLE:
			r = fx <= fy
		case PredOGT:
			r = fx > fy
		case PredOGE:
			r = fx >= fy
		default:
			return nil, fmt.Errorf("unknown predicate %s", p)
		}
		if r {
			out[i] = 1
		}
	}
	return out, nil
}

// floatToInt converts with truncation toward zero. NaN converts to zero
// and out-of-range values saturate.
func floatToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func floatToUint(f float64) uint64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return uint64(floatToInt(f))
	case f >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(f)
}

func convert(op Opcode, from, to ir.Type, v Lanes) (Lanes, error) {
	out := make(Lanes, len(v))
	for i, x := range v {
		var r uint64
		switch op {
		case OpSExt:
			r = uint64(sext(x, from.Bits))
		case OpZExt, OpTrunc, OpPtrToInt, OpIntToPtr, OpBitcast:
			r = x
		case OpFPExt, OpFPTrunc:
			r = fromFloat(to, toFloat(from, x))
		case OpFPToSI:
			r = uint64(floatToInt(toFloat(from, x)))
		case OpFPToUI:
			r = floatToUint(toFloat(from, x))
		case OpSIToFP:
			r = fromFloat(to, float64(sext(x, from.Bits)))
		case OpUIToFP:
			r = fromFloat(to, float64(x))
		default:
			return nil, fmt.Errorf("%s is not a conversion", op)
		}
		out[i] = normalize(to, r)
	}
	return out, nil
}

func unary(op Opcode, from, to ir.Type, v Lanes) (Lanes, error) {
	out := make(Lanes, len(v))
	for i, x := range v {
		var r uint64
		switch op {
		case OpPopcount, OpVPopcount:
			r = uint64(bits.OnesCount64(x))
		case OpCtz:
			r = uint64(min(bits.TrailingZeros64(x), from.Bits))
		case OpClz:
			r = uint64(bits.LeadingZeros64(x) - (64 - from.Bits))
		case OpFAbs:
			r = fromFloat(to, math.Abs(toFloat(from, x)))
		case OpFloor:
			r = fromFloat(to, math.Floor(toFloat(from, x)))
		default:
			return nil, fmt.Errorf("%s is not a unary operation", op)
		}
		out[i] = normalize(to, r)
	}
	return out, nil
}

func absDiff(from, to ir.Type, a, b Lanes) Lanes {
	out := make(Lanes, len(a))
	for i := range a {
		var d uint64
		switch {
		case from.IsFloat():
			d = fromFloat(to, math.Abs(toFloat(from, a[i])-toFloat(from, b[i])))
		case from.IsInt():
			x, y := sext(a[i], from.Bits), sext(b[i], from.Bits)
			if x < y {
				x, y = y, x
			}
			d = uint64(x - y)
		default:
			x, y := a[i], b[i]
			if x < y {
				x, y = y, x
			}
			d = x - y
		}
		out[i] = normalize(to, d)
	}
	return out
}
