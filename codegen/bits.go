package codegen

import "github.com/gogpu/kiln/ir"

// repeatByte returns the constant with every byte of a bits-wide integer
// set to b.
func repeatByte(b byte, bits int) int64 {
	var v uint64
	for i := 0; i < bits/8; i++ {
		v = v<<8 | uint64(b)
	}
	return int64(v)
}

// asUnsigned reinterprets a signed integer value as unsigned.
func asUnsigned[V any](b Arithmetic[V], v V) V {
	t := b.TypeOf(v)
	if t.IsUInt() {
		return v
	}
	return b.Convert(ConvBitcast, ir.UIntType(t.Bits).WithLanes(t.Lanes), v)
}

// fromUnsigned converts an unsigned bit count back to the requested type.
func fromUnsigned[V any](b Arithmetic[V], to ir.Type, v V) V {
	from := b.TypeOf(v)
	if from == to {
		return v
	}
	if from.Bits == to.Bits {
		return b.Convert(ConvBitcast, to, v)
	}
	return LowerCast(b, to, v, 64)
}

// Popcount counts set bits with the SWAR reduction.
func Popcount[V any](b Arithmetic[V], to ir.Type, v V) V {
	t := b.TypeOf(v)
	if t.IsBool() {
		return LowerCast(b, to, v, 64)
	}
	x := asUnsigned(b, v)
	ut := b.TypeOf(x)
	c := func(k int64) V { return b.IntConst(ut, k) }
	x = b.Binary(OpSub, x, b.Binary(OpAnd, b.Binary(OpLShr, x, c(1)), c(repeatByte(0x55, ut.Bits))))
	x = b.Binary(OpAdd,
		b.Binary(OpAnd, x, c(repeatByte(0x33, ut.Bits))),
		b.Binary(OpAnd, b.Binary(OpLShr, x, c(2)), c(repeatByte(0x33, ut.Bits))))
	x = b.Binary(OpAnd, b.Binary(OpAdd, x, b.Binary(OpLShr, x, c(4))), c(repeatByte(0x0f, ut.Bits)))
	if ut.Bits > 8 {
		x = b.Binary(OpLShr, b.Binary(OpMul, x, c(repeatByte(0x01, ut.Bits))), c(int64(ut.Bits-8)))
	}
	return fromUnsigned(b, to, x)
}

// CountTrailingZeros computes popcount((x & -x) - 1), which is the bit
// width for zero.
func CountTrailingZeros[V any](b Arithmetic[V], to ir.Type, v V) V {
	x := asUnsigned(b, v)
	ut := b.TypeOf(x)
	neg := b.Binary(OpSub, b.IntConst(ut, 0), x)
	low := b.Binary(OpSub, b.Binary(OpAnd, x, neg), b.IntConst(ut, 1))
	return Popcount(b, to, low)
}

// CountLeadingZeros smears the highest set bit rightwards and subtracts the
// population count from the bit width.
func CountLeadingZeros[V any](b Arithmetic[V], to ir.Type, v V) V {
	x := asUnsigned(b, v)
	ut := b.TypeOf(x)
	for s := 1; s < ut.Bits; s *= 2 {
		x = b.Binary(OpOr, x, b.Binary(OpLShr, x, b.IntConst(ut, int64(s))))
	}
	n := b.Binary(OpSub, b.IntConst(ut, int64(ut.Bits)), Popcount(b, ut, x))
	return fromUnsigned(b, to, n)
}
