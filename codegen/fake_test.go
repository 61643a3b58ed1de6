package codegen

import (
	"fmt"
	"math"

	"github.com/gogpu/kiln/ir"
)

// lanes is a constant-folding value for the numeric and vector tests:
// every lane holds the bit pattern of its element, integers sign- or
// zero-extended to 64 bits and floats as float64 bits.
type lanes struct {
	t ir.Type
	v []uint64
}

// evaluator implements Values, Arith and VectorOps by computing results
// immediately.
type evaluator struct{}

func normalize(t ir.Type, x uint64) uint64 {
	switch {
	case t.IsFloat():
		if t.Bits == 32 {
			return math.Float64bits(float64(float32(math.Float64frombits(x))))
		}
		return x
	case t.IsInt():
		s := 64 - t.Bits
		return uint64(int64(x<<s) >> s)
	case t.Bits >= 64:
		return x
	}
	return x & (1<<t.Bits - 1)
}

func splat(t ir.Type, x uint64) *lanes {
	v := make([]uint64, t.Lanes)
	for i := range v {
		v[i] = normalize(t, x)
	}
	return &lanes{t: t, v: v}
}

func (evaluator) TypeOf(v *lanes) ir.Type { return v.t }

func (evaluator) IntConst(t ir.Type, v int64) *lanes { return splat(t, uint64(v)) }

func (evaluator) FloatConst(t ir.Type, v float64) *lanes { return splat(t, math.Float64bits(v)) }

func (evaluator) StringConst(string) *lanes { return splat(ir.HandleType(), 0) }

func (evaluator) NullHandle() *lanes { return splat(ir.HandleType(), 0) }

func (evaluator) Undef(t ir.Type) *lanes { return splat(t, 0) }

func f64(x uint64) float64 { return math.Float64frombits(x) }

func (evaluator) Binary(op Op, a, b *lanes) *lanes {
	if a.t != b.t {
		panic(fmt.Sprintf("binary %s on %s and %s", op, a.t, b.t))
	}
	out := &lanes{t: a.t, v: make([]uint64, len(a.v))}
	for i := range a.v {
		x, y := a.v[i], b.v[i]
		var r uint64
		switch op {
		case OpAdd, OpAddNSW:
			r = x + y
		case OpSub, OpSubNSW:
			r = x - y
		case OpMul, OpMulNSW:
			r = x * y
		case OpSDiv:
			switch {
			case y == 0:
			case int64(y) == -1:
				r = -x
			default:
				r = uint64(int64(x) / int64(y))
			}
		case OpUDiv:
			if y != 0 {
				r = x / y
			}
		case OpSRem:
			if y != 0 && int64(y) != -1 {
				r = uint64(int64(x) % int64(y))
			}
		case OpURem:
			if y != 0 {
				r = x % y
			}
		case OpFAdd:
			r = math.Float64bits(f64(x) + f64(y))
		case OpFSub:
			r = math.Float64bits(f64(x) - f64(y))
		case OpFMul:
			r = math.Float64bits(f64(x) * f64(y))
		case OpFDiv:
			r = math.Float64bits(f64(x) / f64(y))
		case OpAnd:
			r = x & y
		case OpOr:
			r = x | y
		case OpXor:
			r = x ^ y
		case OpShl:
			r = x << y
		case OpAShr:
			r = uint64(int64(x) >> y)
		case OpLShr:
			r = x >> y
		}
		out.v[i] = normalize(a.t, r)
	}
	return out
}

func (evaluator) Compare(p Pred, a, b *lanes) *lanes {
	out := &lanes{t: ir.Bool().WithLanes(a.t.Lanes), v: make([]uint64, len(a.v))}
	for i := range a.v {
		x, y := a.v[i], b.v[i]
		sx, sy := int64(x), int64(y)
		fx, fy := f64(x), f64(y)
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
		}
		if r {
			out.v[i] = 1
		}
	}
	return out
}

func (evaluator) Convert(c Conv, to ir.Type, v *lanes) *lanes {
	out := &lanes{t: to, v: make([]uint64, len(v.v))}
	for i, x := range v.v {
		var r uint64
		switch c {
		case ConvSExt, ConvZExt, ConvTrunc, ConvBitcast, ConvPtrToInt, ConvIntToPtr:
			if c == ConvBitcast && to.IsFloat() && to.Bits == 32 {
				r = math.Float64bits(float64(math.Float32frombits(uint32(x))))
			} else if c == ConvBitcast && v.t.IsFloat() && v.t.Bits == 32 {
				r = uint64(math.Float32bits(float32(f64(x))))
			} else {
				r = x
			}
		case ConvFPExt, ConvFPTrunc:
			r = x
		case ConvFPToSI:
			r = uint64(int64(f64(x)))
		case ConvFPToUI:
			r = uint64(f64(x))
		case ConvSIToFP:
			r = math.Float64bits(float64(int64(x)))
		case ConvUIToFP:
			r = math.Float64bits(float64(x))
		}
		out.v[i] = normalize(to, r)
	}
	return out
}

func (evaluator) Select(cond, a, b *lanes) *lanes {
	out := &lanes{t: a.t, v: make([]uint64, len(a.v))}
	for i := range a.v {
		c := cond.v[0]
		if len(cond.v) > 1 {
			c = cond.v[i]
		}
		if c != 0 {
			out.v[i] = a.v[i]
		} else {
			out.v[i] = b.v[i]
		}
	}
	return out
}

func (evaluator) Shuffle(a, b *lanes, indices []int) *lanes {
	if a.t != b.t {
		panic(fmt.Sprintf("shuffle of %s and %s", a.t, b.t))
	}
	all := append(append([]uint64{}, a.v...), b.v...)
	out := &lanes{t: a.t.WithLanes(len(indices)), v: make([]uint64, len(indices))}
	for i, j := range indices {
		if j >= 0 {
			out.v[i] = all[j]
		}
	}
	return out
}

func (evaluator) ExtractElement(v *lanes, i int) *lanes {
	return &lanes{t: v.t.Element(), v: []uint64{v.v[i]}}
}

func (evaluator) InsertElement(vec, elem *lanes, i int) *lanes {
	out := &lanes{t: vec.t, v: append([]uint64{}, vec.v...)}
	out.v[i] = elem.v[0]
	return out
}

func vec(t ir.Type, xs ...int64) *lanes {
	out := &lanes{t: t.WithLanes(len(xs)), v: make([]uint64, len(xs))}
	for i, x := range xs {
		out.v[i] = normalize(t, uint64(x))
	}
	return out
}

func (v *lanes) ints() []int64 {
	out := make([]int64, len(v.v))
	for i, x := range v.v {
		out[i] = int64(x)
	}
	return out
}
