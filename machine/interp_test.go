package machine

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/ir"
)

// sumModule builds sum(buf, n) = buf[0] + ... + buf[n-1] over int32.
func sumModule() *Module {
	b := NewBuilder("sum")
	p := b.BeginFunction("sum", []Param{{Name: "buf", T: ir.HandleType()}, {Name: "n", T: ir.I32}}, ir.I32, false)
	entry := b.Block()
	zero := b.Const(ir.I32, 0)
	header, body, exit := b.NewBlock("header"), b.NewBlock("body"), b.NewBlock("exit")
	b.Br(header)

	b.SetBlock(header)
	i := b.Phi(ir.I32)
	acc := b.Phi(ir.I32)
	b.AddIncoming(i, zero, entry)
	b.AddIncoming(acc, zero, entry)
	b.CondBr(b.Cmp(PredSLT, i.Value, p[1]), body, exit)

	b.SetBlock(body)
	x := b.Load(ir.I32, b.ElementPtr(4, p[0], i.Value), 4)
	next := b.Binary(OpAdd, FlagNSW, acc.Value, x)
	inc := b.Binary(OpAdd, 0, i.Value, b.Const(ir.I32, 1))
	b.AddIncoming(i, inc, b.Block())
	b.AddIncoming(acc, next, b.Block())
	b.Br(header)

	b.SetBlock(exit)
	b.Ret(acc.Value)
	b.EndFunction()
	return b.Module()
}

func int32Buffer(t *testing.T, mem *Memory, xs ...int32) uint64 {
	t.Helper()
	p := mem.Alloc(4*len(xs), "test")
	for i, x := range xs {
		require.NoError(t, mem.WriteUint(p+uint64(4*i), 4, uint64(uint32(x))))
	}
	return p
}

func TestInterpretLoop(t *testing.T) {
	m := sumModule()
	require.Empty(t, Verify(m))

	mem := NewMemory()
	buf := int32Buffer(t, mem, 1, 2, 3, 4, -5)
	in := NewInterpreter(m, mem, nil)

	got, err := in.Call("sum", Lanes{buf}, IntLanes(ir.I32, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Int(ir.I32, 0))

	got, err = in.Call("sum", Lanes{buf}, IntLanes(ir.I32, 0))
	require.NoError(t, err)
	assert.Zero(t, got.Int(ir.I32, 0), "a zero-trip loop never loads")

	_, err = in.Call("sum", Lanes{buf}, IntLanes(ir.I32, 6))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadPointer)
	var trap *Trap
	require.True(t, errors.As(err, &trap))
	assert.Equal(t, OpLoad, trap.Op)
}

func TestNestedFunctions(t *testing.T) {
	b := NewBuilder("nested")
	outer := b.BeginFunction("outer", []Param{{Name: "x", T: ir.I32}}, ir.I32, false)
	doubled := b.Binary(OpAdd, 0, outer[0], outer[0])

	inner := b.BeginFunction("inner", []Param{{Name: "y", T: ir.I32}}, ir.I32, true)
	b.Ret(b.Binary(OpMul, 0, inner[0], b.Const(ir.I32, 3)))
	b.EndFunction()

	b.Ret(b.Call("inner", ir.I32, doubled))
	b.EndFunction()

	m := b.Module()
	require.Len(t, m.Functions, 2)
	require.Empty(t, Verify(m))
	assert.True(t, m.Function("inner").Closure)

	got, err := NewInterpreter(m, NewMemory(), nil).Call("outer", IntLanes(ir.I32, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int(ir.I32, 0))
}

func TestExternsAndFuncAddr(t *testing.T) {
	b := NewBuilder("ext")
	b.BeginFunction("apply", nil, ir.I32, false)
	fn := b.FuncAddr("seven")
	b.Ret(b.Call("invoke", ir.I32, fn))
	b.EndFunction()
	b.BeginFunction("seven", nil, ir.I32, false)
	b.Ret(b.Const(ir.I32, 7))
	b.EndFunction()
	m := b.Module()
	assert.Equal(t, []string{"invoke"}, m.Externs())

	externs := map[string]Extern{
		"invoke": func(in *Interpreter, args []Lanes) (Lanes, error) {
			return in.CallAddr(args[0][0])
		},
	}
	got, err := NewInterpreter(m, NewMemory(), externs).Call("apply")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Int(ir.I32, 0))

	_, err = NewInterpreter(m, NewMemory(), nil).Call("apply")
	assert.ErrorContains(t, err, `undefined function "invoke"`)
}

func TestAllocaReleasedOnReturn(t *testing.T) {
	b := NewBuilder("alloca")
	b.BeginFunction("f", nil, ir.I32, false)
	p := b.Alloca(16, 16)
	b.Store(b.Const(ir.F32.WithLanes(4), uint64(math.Float32bits(1.5))), p, 16, 0)
	v := b.Load(ir.F32.WithLanes(4), p, 16)
	b.Ret(b.Convert(OpFPToSI, ir.I32, b.Extract(v, 3)))
	b.EndFunction()

	mem := NewMemory()
	got, err := NewInterpreter(b.Module(), mem, nil).Call("f")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Int(ir.I32, 0))
	assert.Zero(t, mem.Live())
}

func TestAllocaHoistedToEntry(t *testing.T) {
	b := NewBuilder("hoist")
	p := b.BeginFunction("f", []Param{{Name: "out", T: ir.HandleType()}, {Name: "n", T: ir.I32}}, ir.I32, false)
	entry := b.Block()
	zero := b.Const(ir.I32, 0)
	header, body, exit := b.NewBlock("header"), b.NewBlock("body"), b.NewBlock("exit")
	b.Br(header)

	b.SetBlock(header)
	i := b.Phi(ir.I32)
	b.AddIncoming(i, zero, entry)
	b.CondBr(b.Cmp(PredSLT, i.Value, p[1]), body, exit)

	b.SetBlock(body)
	tmp := b.Alloca(64, 16)
	b.Store(tmp, b.ElementPtr(8, p[0], i.Value), 8, 0)
	inc := b.Binary(OpAdd, 0, i.Value, b.Const(ir.I32, 1))
	b.AddIncoming(i, inc, b.Block())
	b.Br(header)

	b.SetBlock(exit)
	b.Ret(zero)
	b.EndFunction()

	m := b.Module()
	require.Empty(t, Verify(m))
	assert.Equal(t, OpAlloca, m.Functions[0].Blocks[0].Insts[0].Op)
	assert.Len(t, m.Functions[0].Blocks[2].Insts, 5, "the loop body keeps only its own work")

	mem := NewMemory()
	out := mem.Alloc(8*5, "out")
	_, err := NewInterpreter(m, mem, nil).Call("f", Lanes{out}, IntLanes(ir.I32, 5))
	require.NoError(t, err)
	first, err := mem.ReadUint(out, 8)
	require.NoError(t, err)
	assert.NotZero(t, first)
	for k := 1; k < 5; k++ {
		got, err := mem.ReadUint(out+uint64(8*k), 8)
		require.NoError(t, err)
		assert.Equal(t, first, got, "iteration %d", k)
	}
	assert.Equal(t, []string{"out"}, mem.Labels())
}

func TestMisalignedAccess(t *testing.T) {
	b := NewBuilder("align")
	p := b.BeginFunction("f", []Param{{Name: "p", T: ir.HandleType()}}, ir.I32, false)
	q := b.ElementPtr(1, p[0], b.Const(ir.I32, 2))
	b.Ret(b.Load(ir.I32, q, 4))
	b.EndFunction()

	mem := NewMemory()
	buf := mem.Alloc(8, "buf")
	_, err := NewInterpreter(b.Module(), mem, nil).Call("f", Lanes{buf})
	assert.ErrorContains(t, err, "claims alignment 4")
}

func TestConcurrentCalls(t *testing.T) {
	m := sumModule()
	mem := NewMemory()
	buf := int32Buffer(t, mem, 1, 2, 3, 4, 5, 6, 7, 8)
	in := NewInterpreter(m, mem, nil)

	var wg sync.WaitGroup
	results := make([]int64, 8)
	for n := range results {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := in.Call("sum", Lanes{buf}, IntLanes(ir.I32, int64(n+1)))
			if err == nil {
				results[n] = got.Int(ir.I32, 0)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []int64{1, 3, 6, 10, 15, 21, 28, 36}, results)
}

func TestBinarySemantics(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		t    ir.Type
		a, b int64
		want int64
	}{
		{"wrapping add", OpAdd, ir.I8, 127, 1, -128},
		{"unsigned wrap", OpSub, ir.U8, 0, 1, 255},
		{"truncating sdiv", OpSDiv, ir.I32, -7, 2, -3},
		{"sdiv overflow", OpSDiv, ir.I32, math.MinInt32, -1, math.MinInt32},
		{"sdiv by zero", OpSDiv, ir.I32, 5, 0, 0},
		{"srem sign of dividend", OpSRem, ir.I32, -7, 2, -1},
		{"udiv", OpUDiv, ir.U32, -1, 2, 0x7fffffff},
		{"ashr", OpAShr, ir.I16, -16, 2, -4},
		{"lshr", OpLShr, ir.U16, 0x8000, 15, 1},
		{"oversized shift", OpShl, ir.I32, 1, 40, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalBinary(tt.op, tt.t, IntLanes(tt.t, tt.a), IntLanes(tt.t, tt.b))
			require.NoError(t, err)
			if tt.t.IsInt() {
				assert.Equal(t, tt.want, got.Int(tt.t, 0))
			} else {
				assert.Equal(t, uint64(tt.want), got[0])
			}
		})
	}
}

func TestCompareAndConvert(t *testing.T) {
	nan := FloatLanes(ir.F32, math.NaN())
	r, err := compare(PredUNE, ir.F32, nan, nan)
	require.NoError(t, err)
	assert.Equal(t, Lanes{1}, r)
	r, err = compare(PredOEQ, ir.F32, nan, nan)
	require.NoError(t, err)
	assert.Equal(t, Lanes{0}, r)
	r, err = compare(PredSLT, ir.I8, IntLanes(ir.I8, -1), IntLanes(ir.I8, 1))
	require.NoError(t, err)
	assert.Equal(t, Lanes{1}, r)
	r, err = compare(PredULT, ir.U8, IntLanes(ir.U8, -1), IntLanes(ir.U8, 1))
	require.NoError(t, err)
	assert.Equal(t, Lanes{0}, r)

	v, err := convert(OpSExt, ir.I8, ir.I32, IntLanes(ir.I8, -3))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v.Int(ir.I32, 0))
	v, err = convert(OpFPToSI, ir.F64, ir.I32, FloatLanes(ir.F64, -2.9))
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v.Int(ir.I32, 0))
	v, err = convert(OpFPTrunc, ir.F64, ir.F32, FloatLanes(ir.F64, 0.1))
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.1)), v.Float(ir.F32, 0))
}

func TestBitOps(t *testing.T) {
	v := IntLanes(ir.U32, 8, 0, 0xf0)
	ctz, err := unary(OpCtz, ir.U32, ir.U32, v)
	require.NoError(t, err)
	assert.Equal(t, Lanes{3, 32, 4}, ctz)
	clz, err := unary(OpClz, ir.U32, ir.U32, v)
	require.NoError(t, err)
	assert.Equal(t, Lanes{28, 32, 24}, clz)
	pop, err := unary(OpPopcount, ir.U32, ir.U32, v)
	require.NoError(t, err)
	assert.Equal(t, Lanes{1, 0, 4}, pop)

	d := absDiff(ir.I8, ir.U8, IntLanes(ir.I8, -100, 5), IntLanes(ir.I8, 100, 9))
	assert.Equal(t, Lanes{200, 4}, d)
}

func TestDSPPermutes(t *testing.T) {
	b := NewBuilder("dsp")
	b.BeginFunction("f", nil, ir.I32, false)
	vt := ir.I32.WithLanes(4)
	x := b.Const(vt, 0, 1, 2, 3)
	y := b.Const(vt, 10, 11, 12, 13)
	shuff := b.VShuff(x, y)
	even := b.VDeal(x, y, false)
	odd := b.VDeal(x, y, true)
	b.Ret(b.Const(ir.I32, 0))
	b.EndFunction()
	m := b.Module()

	f := m.Functions[0]
	in := NewInterpreter(m, NewMemory(), nil)
	fr := &frame{fn: f, regs: make([]Lanes, f.Bound())}
	for _, inst := range f.Blocks[0].Insts[:5] {
		v, err := in.step(fr, &inst)
		require.NoError(t, err)
		fr.regs[inst.Result] = v
	}
	if diff := cmp.Diff(Lanes{0, 10, 1, 11, 2, 12, 3, 13}, fr.regs[shuff.ID]); diff != "" {
		t.Errorf("vshuff (-want +got):\n%s", diff)
	}
	assert.Equal(t, Lanes{0, 2, 10, 12}, fr.regs[even.ID])
	assert.Equal(t, Lanes{1, 3, 11, 13}, fr.regs[odd.ID])
}

func TestEncodeRoundTrip(t *testing.T) {
	m := sumModule()
	data := m.Encode()
	assert.Equal(t, uint32(Magic), binary.LittleEndian.Uint32(data))

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.String(), got.String())
	assert.Empty(t, Verify(got))

	mem := NewMemory()
	buf := int32Buffer(t, mem, 4, 5, 6)
	r, err := NewInterpreter(got, mem, nil).Call("sum", Lanes{buf}, IntLanes(ir.I32, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(15), r.Int(ir.I32, 0))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	data := sumModule().Encode()
	tests := map[string][]byte{
		"empty":      nil,
		"odd length": data[:len(data)-1],
		"truncated":  data[:len(data)-8],
		"bad magic":  append([]byte{1, 2, 3, 4}, data[4:]...),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrBadEncoding)
		})
	}
}

func TestDisassembly(t *testing.T) {
	text := sumModule().String()
	for _, want := range []string{
		"; module sum",
		`func @sum(handle %1 "buf", i32 %2 "n") -> i32 {`,
		"b1 header:",
		"phi i32 [%3, b0], [",
		"cmp slt i32 %4, %2",
		"load i32 %",
		"add.nsw i32",
		"ret %5",
	} {
		assert.Contains(t, text, want)
	}
}

func TestVerifyReportsProblems(t *testing.T) {
	b := NewBuilder("bad")
	p := b.BeginFunction("f", []Param{{Name: "x", T: ir.I32}}, ir.I32, false)
	b.Emit(Instruction{Op: OpAdd, T: ir.I32, Args: []uint32{p[0].ID, 99}})
	b.Emit(Instruction{Op: OpLoad, T: ir.I32, Args: []uint32{p[0].ID}})
	b.Br(5)
	b.EndFunction()

	errs := Verify(b.Module())
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "operand %99 is not defined")
	assert.Contains(t, msgs, "operand %1 is i32, not a pointer")
	assert.Contains(t, msgs, "branch to missing block b5")
}

func TestMemoryLayout(t *testing.T) {
	mem := NewMemory()
	a := mem.Alloc(10, "a")
	b := mem.Alloc(0, "b")
	c := mem.Alloc(300, "c")
	for _, p := range []uint64{a, b, c} {
		assert.NotZero(t, p)
		assert.Less(t, p, uint64(1)<<32, "small heaps fit 32-bit pointers")
		assert.Zero(t, p%regionAlign)
	}

	_, err := mem.Bytes(a+8, 4)
	assert.ErrorIs(t, err, ErrBadPointer, "access past the end of a region")
	_, err = mem.Bytes(a+10, 0)
	assert.NoError(t, err)

	require.NoError(t, mem.Free(b))
	assert.Equal(t, []string{"a", "c"}, mem.Labels())
	assert.ErrorIs(t, mem.Free(c+4), ErrBadPointer)
	size, off, err := mem.Size(c + 4)
	require.NoError(t, err)
	assert.Equal(t, 300, size)
	assert.Equal(t, 4, off)
}
