package codegen

import (
	"math"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/ir"
)

// catch runs f and returns the code generation error it raised, if any.
func catch(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	f()
	return nil
}

// pairs returns every (a, b) with b != 0 as two parallel vectors.
func pairs(as, bs []int64) (x, y []int64) {
	for _, a := range as {
		for _, b := range bs {
			if b == 0 {
				continue
			}
			x = append(x, a)
			y = append(y, b)
		}
	}
	return x, y
}

func span(lo, hi int64) []int64 {
	var out []int64
	for v := lo; v <= hi; v++ {
		out = append(out, v)
	}
	return out
}

func TestEuclidDivMod(t *testing.T) {
	e := evaluator{}
	as := append(span(-20, 20), math.MinInt32, math.MaxInt32, math.MinInt32+1)
	bs := append(span(-9, 9), math.MinInt32, math.MaxInt32)
	xs, ys := pairs(as, bs)

	x, y := vec(ir.I32, xs...), vec(ir.I32, ys...)
	q := EuclidDiv(e, x, y).ints()
	r := EuclidMod(e, x, y).ints()

	for i := range xs {
		a, b := xs[i], ys[i]
		// q*b + r == a modulo 2^32.
		assert.Equal(t, int32(a), int32(q[i])*int32(b)+int32(r[i]), "a=%d b=%d", a, b)
		if b == math.MinInt32 {
			continue
		}
		abs := b
		if abs < 0 {
			abs = -abs
		}
		assert.GreaterOrEqual(t, r[i], int64(0), "a=%d b=%d", a, b)
		assert.Less(t, r[i], abs, "a=%d b=%d", a, b)
	}
}

func TestEuclidKnownValues(t *testing.T) {
	e := evaluator{}
	tests := []struct{ a, b, q, r int64 }{
		{7, 2, 3, 1},
		{-7, 2, -4, 1},
		{7, -2, -3, 1},
		{-7, -2, 4, 1},
		{-1, 5, -1, 4},
		{0, -3, 0, 0},
	}
	for _, tt := range tests {
		x, y := vec(ir.I32, tt.a), vec(ir.I32, tt.b)
		assert.Equal(t, []int64{tt.q}, EuclidDiv(e, x, y).ints(), "%d / %d", tt.a, tt.b)
		assert.Equal(t, []int64{tt.r}, EuclidMod(e, x, y).ints(), "%d %% %d", tt.a, tt.b)
	}
}

func TestPowerOfTwoFastPath(t *testing.T) {
	e := evaluator{}
	xs := span(-40, 40)
	for _, c := range []int64{1, 2, 4, 8, 16} {
		divisor := ir.Broadcast{Value: ir.Int32(c), Lanes: len(xs)}
		x := vec(ir.I32, xs...)
		y := splat(ir.I32.WithLanes(len(xs)), uint64(c))

		assert.Equal(t, EuclidDiv(e, x, y).ints(), LowerDiv(e, x, y, divisor).ints(), "div by %d", c)
		assert.Equal(t, EuclidMod(e, x, y).ints(), LowerMod(e, x, y, divisor, nil).ints(), "mod by %d", c)
	}
}

func TestUnsignedDivMod(t *testing.T) {
	e := evaluator{}
	x := vec(ir.U32, 250, 7, 0)
	y := vec(ir.U32, 3, 7, 5)
	assert.Equal(t, []int64{83, 1, 0}, LowerDiv(e, x, y, ir.Var(ir.U32, "y")).ints())
	assert.Equal(t, []int64{1, 0, 0}, LowerMod(e, x, y, ir.Var(ir.U32, "y"), nil).ints())
}

func TestDivisionByConstantZero(t *testing.T) {
	e := evaluator{}
	x := vec(ir.I32, 1)
	err := catch(func() { LowerDiv(e, x, x, ir.Int32(0)) })
	require.Error(t, err)
	assert.True(t, IsMalformedNode(err))

	err = catch(func() { LowerMod(e, x, x, ir.Int32(0), nil) })
	assert.True(t, IsMalformedNode(err))
}

func TestFloatMod(t *testing.T) {
	e := evaluator{}
	floor := func(v *lanes) *lanes {
		out := &lanes{t: v.t, v: make([]uint64, len(v.v))}
		for i, x := range v.v {
			out.v[i] = math.Float64bits(math.Floor(f64(x)))
		}
		return out
	}
	x := e.FloatConst(ir.F64, -7.5)
	y := e.FloatConst(ir.F64, 2)
	r := LowerMod(e, x, y, ir.FloatImm{T: ir.F64, Value: 2}, floor)
	assert.InDelta(t, 0.5, f64(r.v[0]), 1e-12)
}

func TestMinMaxAndCompare(t *testing.T) {
	e := evaluator{}
	x := vec(ir.I32, -3, 5, 2)
	y := vec(ir.I32, 4, -1, 2)
	assert.Equal(t, []int64{-3, -1, 2}, LowerMinMax(e, ir.Min, x, y).ints())
	assert.Equal(t, []int64{4, 5, 2}, LowerMinMax(e, ir.Max, x, y).ints())

	// Unsigned operands compare without sign.
	ux := vec(ir.U32, 0xffffffff)
	uy := vec(ir.U32, 1)
	assert.Equal(t, []int64{1}, LowerMinMax(e, ir.Min, ux, uy).ints())

	nan := e.FloatConst(ir.F32, math.NaN())
	one := e.FloatConst(ir.F32, 1)
	assert.Equal(t, []int64{1}, LowerCompare(e, ir.NE, nan, nan).ints())
	assert.Equal(t, []int64{0}, LowerCompare(e, ir.EQ, nan, nan).ints())
	assert.Equal(t, []int64{0}, LowerCompare(e, ir.LT, nan, one).ints())
	assert.Equal(t, PredULT, ComparePred(ir.LT, ir.Bool()))
	assert.Equal(t, PredSGE, ComparePred(ir.GE, ir.I8))
}

func TestLowerCast(t *testing.T) {
	e := evaluator{}
	tests := []struct {
		name string
		from ir.Type
		in   int64
		to   ir.Type
		want int64
	}{
		{"trunc", ir.I32, -1, ir.U8, 255},
		{"zext", ir.U8, 200, ir.I32, 200},
		{"sext", ir.I8, -56, ir.I32, -56},
		{"sign change", ir.I32, -2, ir.U32, 0xfffffffe},
		{"to bool", ir.I32, 7, ir.Bool(), 1},
		{"zero to bool", ir.I32, 0, ir.Bool(), 0},
		{"bool widen", ir.Bool(), 1, ir.I32, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LowerCast(e, tt.to, vec(tt.from, tt.in), 64)
			assert.Equal(t, tt.to, got.t)
			assert.Equal(t, []int64{tt.want}, got.ints())
		})
	}

	f := LowerCast(e, ir.I32, e.FloatConst(ir.F32, -2.7), 64)
	assert.Equal(t, []int64{-2}, f.ints())

	err := catch(func() { LowerCast(e, ir.U32, e.NullHandle(), 64) })
	assert.True(t, IsMalformedNode(err))
	err = catch(func() { LowerCast(e, ir.I32.WithLanes(4), vec(ir.I32, 1, 2), 64) })
	assert.True(t, IsMalformedNode(err))
}

func TestBitCountFallbacks(t *testing.T) {
	e := evaluator{}
	values := []uint64{0, 1, 8, 0x80, 0xff, 0x1234, 0x80000000, 0xdeadbeef}
	for _, typ := range []ir.Type{ir.U8, ir.U16, ir.U32, ir.U64} {
		t.Run(typ.String(), func(t *testing.T) {
			for _, raw := range values {
				x := raw & (typ.Max())
				v := splat(typ, x)
				pop := Popcount(e, typ, v).v[0]
				ctz := CountTrailingZeros(e, typ, v).v[0]
				clz := CountLeadingZeros(e, typ, v).v[0]

				assert.Equal(t, uint64(bits.OnesCount64(x)), pop, "popcount(%#x)", x)
				wantCtz := uint64(bits.TrailingZeros64(x))
				if x == 0 {
					wantCtz = uint64(typ.Bits)
				}
				assert.Equal(t, wantCtz, ctz, "ctz(%#x)", x)
				assert.Equal(t, uint64(bits.LeadingZeros64(x)-(64-typ.Bits)), clz, "clz(%#x)", x)
			}
		})
	}

	// Signed inputs count the two's complement pattern.
	assert.Equal(t, []int64{32}, Popcount(e, ir.I32, vec(ir.I32, -1)).ints())
	assert.Equal(t, []int64{3}, CountTrailingZeros(e, ir.I32, vec(ir.I32, 8)).ints())
}

func TestReinterpret(t *testing.T) {
	e := evaluator{}
	one := e.FloatConst(ir.F32, 1)
	bitsV := Reinterpret(e, ir.U32, one)
	assert.Equal(t, []int64{0x3f800000}, bitsV.ints())
	err := catch(func() { Reinterpret(e, ir.U64, one) })
	assert.True(t, IsMalformedNode(err))
}
