package codegen

import (
	"math/bits"

	"github.com/gogpu/kiln/ir"
)

// LowerAdd adds two values. Signed integer addition is marked NSW.
func LowerAdd[V any](b Arithmetic[V], x, y V) V {
	t := b.TypeOf(x)
	switch {
	case t.IsFloat():
		return b.Binary(OpFAdd, x, y)
	case t.IsInt():
		return b.Binary(OpAddNSW, x, y)
	}
	return b.Binary(OpAdd, x, y)
}

// LowerSub subtracts y from x. Signed integer subtraction is marked NSW.
func LowerSub[V any](b Arithmetic[V], x, y V) V {
	t := b.TypeOf(x)
	switch {
	case t.IsFloat():
		return b.Binary(OpFSub, x, y)
	case t.IsInt():
		return b.Binary(OpSubNSW, x, y)
	}
	return b.Binary(OpSub, x, y)
}

// LowerMul multiplies two values. Signed integer multiplication is marked NSW.
func LowerMul[V any](b Arithmetic[V], x, y V) V {
	t := b.TypeOf(x)
	switch {
	case t.IsFloat():
		return b.Binary(OpFMul, x, y)
	case t.IsInt():
		return b.Binary(OpMulNSW, x, y)
	}
	return b.Binary(OpMul, x, y)
}

// constantOf returns the integer constant of e, looking through broadcasts.
func constantOf(e ir.Expr) (int64, bool) {
	if bc, ok := e.(ir.Broadcast); ok {
		return constantOf(bc.Value)
	}
	return ir.IntValue(e)
}

func powerOfTwo(c int64) (int, bool) {
	if c <= 0 || c&(c-1) != 0 {
		return 0, false
	}
	return bits.TrailingZeros64(uint64(c)), true
}

// LowerDiv divides x by y. Signed integer division rounds so that the
// remainder is non-negative. divisor is the IR operand y was lowered from;
// a constant positive power of two becomes a shift and a constant zero is
// rejected.
func LowerDiv[V any](b Arithmetic[V], x, y V, divisor ir.Expr) V {
	t := b.TypeOf(x)
	if t.IsFloat() {
		return b.Binary(OpFDiv, x, y)
	}
	if c, ok := constantOf(divisor); ok {
		if c == 0 {
			fail(ErrMalformedNode, "Div", "", "integer division by constant zero")
		}
		if k, ok := powerOfTwo(c); ok {
			if t.IsInt() {
				return b.Binary(OpAShr, x, b.IntConst(t, int64(k)))
			}
			return b.Binary(OpLShr, x, b.IntConst(t, int64(k)))
		}
	}
	if t.IsInt() {
		return EuclidDiv(b, x, y)
	}
	return b.Binary(OpUDiv, x, y)
}

// LowerMod returns the remainder of x divided by y, which is never negative
// for integers. floor is used for floating point operands.
func LowerMod[V any](b Arithmetic[V], x, y V, divisor ir.Expr, floor func(V) V) V {
	t := b.TypeOf(x)
	if t.IsFloat() {
		return FloatMod(b, x, y, floor)
	}
	if c, ok := constantOf(divisor); ok {
		if c == 0 {
			fail(ErrMalformedNode, "Mod", "", "integer modulo by constant zero")
		}
		if _, ok := powerOfTwo(c); ok {
			return b.Binary(OpAnd, x, b.IntConst(t, c-1))
		}
	}
	if t.IsInt() {
		return EuclidMod(b, x, y)
	}
	return b.Binary(OpURem, x, y)
}

// EuclidDiv emits signed division with the quotient q chosen so that
// x - q*y lies in [0, |y|).
func EuclidDiv[V any](b Arithmetic[V], x, y V) V {
	t := b.TypeOf(x)
	shift := b.IntConst(t, int64(t.Bits-1))
	q := b.Binary(OpSDiv, x, y)
	r := b.Binary(OpSub, x, b.Binary(OpMul, q, y))
	ySign := b.Binary(OpAShr, y, shift)
	rSign := b.Binary(OpAShr, r, shift)
	// A negative truncated remainder moves q one step away from zero, in
	// the direction of y's sign.
	q = b.Binary(OpSub, q, b.Binary(OpAnd, rSign, ySign))
	notYSign := b.Binary(OpXor, ySign, b.IntConst(t, -1))
	return b.Binary(OpAdd, q, b.Binary(OpAnd, rSign, notYSign))
}

// EuclidMod emits the signed remainder in [0, |y|).
func EuclidMod[V any](b Arithmetic[V], x, y V) V {
	t := b.TypeOf(x)
	zero := b.IntConst(t, 0)
	r := b.Binary(OpSRem, x, y)
	absY := b.Select(b.Compare(PredSLT, y, zero), b.Binary(OpSub, zero, y), y)
	fix := b.Select(b.Compare(PredSLT, r, zero), absY, zero)
	return b.Binary(OpAdd, r, fix)
}

// FloatMod emits x - y*floor(x/y).
func FloatMod[V any](b Arithmetic[V], x, y V, floor func(V) V) V {
	q := floor(b.Binary(OpFDiv, x, y))
	return b.Binary(OpFSub, x, b.Binary(OpFMul, y, q))
}

// LowerMinMax emits min or max as a compare followed by a select.
func LowerMinMax[V any](b Arithmetic[V], op ir.BinaryOp, x, y V) V {
	if op == ir.Max {
		return b.Select(LowerCompare(b, ir.GT, x, y), x, y)
	}
	return b.Select(LowerCompare(b, ir.LT, x, y), x, y)
}

var comparePreds = [...][3]Pred{
	// signed, unsigned, float
	ir.EQ: {PredEQ, PredEQ, PredOEQ},
	ir.NE: {PredNE, PredNE, PredUNE},
	ir.LT: {PredSLT, PredULT, PredOLT},
	ir.LE: {PredSLE, PredULE, PredOLE},
	ir.GT: {PredSGT, PredUGT, PredOGT},
	ir.GE: {PredSGE, PredUGE, PredOGE},
}

// ComparePred returns the predicate implementing op on operands of type t.
func ComparePred(op ir.CompareOp, t ir.Type) Pred {
	preds := comparePreds[op]
	switch {
	case t.IsFloat():
		return preds[2]
	case t.IsInt():
		return preds[0]
	}
	return preds[1]
}

// LowerCompare emits a comparison with the predicate chosen by operand
// signedness.
func LowerCompare[V any](b Arithmetic[V], op ir.CompareOp, x, y V) V {
	return b.Compare(ComparePred(op, b.TypeOf(x)), x, y)
}

// LowerNot emits logical negation of a bool value.
func LowerNot[V any](b Arithmetic[V], x V) V {
	return b.Binary(OpXor, x, b.IntConst(b.TypeOf(x), 1))
}

// LowerSelect emits a lane-wise select.
func LowerSelect[V any](b Arithmetic[V], cond, x, y V) V {
	return b.Select(cond, x, y)
}

// LowerCast converts v to type to. Integer widening extends by the sign of
// the source type; conversion to bool tests against zero. Handles convert
// only to and from unsigned integers of the pointer width.
func LowerCast[V any](b Arithmetic[V], to ir.Type, v V, pointerBits int) V {
	from := b.TypeOf(v)
	if from == to {
		return v
	}
	if from.Lanes != to.Lanes {
		fail(ErrMalformedNode, "Cast", "", "cast from %s to %s changes lane count", from, to)
	}
	switch {
	case from.IsHandle() || to.IsHandle():
		other := from
		if from.IsHandle() {
			other = to
		}
		if !other.IsUInt() || other.Bits != pointerBits {
			fail(ErrMalformedNode, "Cast", "", "handle cast to %s; only u%d is allowed", other, pointerBits)
		}
		if from.IsHandle() {
			return b.Convert(ConvPtrToInt, to, v)
		}
		return b.Convert(ConvIntToPtr, to, v)
	case to.IsBool():
		if from.IsFloat() {
			return b.Compare(PredUNE, v, b.FloatConst(from, 0))
		}
		return b.Compare(PredNE, v, b.IntConst(from, 0))
	case from.IsFloat() && to.IsFloat():
		if to.Bits > from.Bits {
			return b.Convert(ConvFPExt, to, v)
		}
		return b.Convert(ConvFPTrunc, to, v)
	case from.IsFloat():
		if to.IsInt() {
			return b.Convert(ConvFPToSI, to, v)
		}
		return b.Convert(ConvFPToUI, to, v)
	case to.IsFloat():
		if from.IsInt() {
			return b.Convert(ConvSIToFP, to, v)
		}
		return b.Convert(ConvUIToFP, to, v)
	}
	switch {
	case to.Bits > from.Bits:
		if from.IsInt() {
			return b.Convert(ConvSExt, to, v)
		}
		return b.Convert(ConvZExt, to, v)
	case to.Bits < from.Bits:
		return b.Convert(ConvTrunc, to, v)
	}
	return b.Convert(ConvBitcast, to, v)
}

// Reinterpret converts v to a type with the same element width and lane
// count without changing its bits.
func Reinterpret[V any](b Arithmetic[V], to ir.Type, v V) V {
	from := b.TypeOf(v)
	if from == to {
		return v
	}
	if from.Bits != to.Bits || from.Lanes != to.Lanes {
		fail(ErrMalformedNode, "reinterpret", "", "reinterpret from %s to %s changes width", from, to)
	}
	switch {
	case from.IsHandle():
		return b.Convert(ConvPtrToInt, to, v)
	case to.IsHandle():
		return b.Convert(ConvIntToPtr, to, v)
	}
	return b.Convert(ConvBitcast, to, v)
}
