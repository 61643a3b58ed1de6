package hostrt

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
)

// squaresModule defines a parallel loop body writing i*i to out[i], where
// out is the first slot of the closure. Iterations at or past failAt
// return their negated index.
func squaresModule(failAt int64) *machine.Module {
	b := machine.NewBuilder("squares")
	h := ir.HandleType()
	p := b.BeginFunction("body", []machine.Param{
		{Name: ir.UserContextName, T: h},
		{Name: "i", T: ir.I32},
		{Name: "closure", T: h},
	}, ir.I32, true)
	out := b.Load(h, p[2], 8)
	sq := b.Binary(machine.OpMul, 0, p[1], p[1])
	b.Store(sq, b.ElementPtr(4, out, p[1]), 4, 0)
	failed := b.Cmp(machine.PredSGE, p[1], b.Const(ir.I32, uint64(failAt)))
	neg := b.Binary(machine.OpSub, 0, b.Const(ir.I32, 0), p[1])
	b.Ret(b.Select(failed, neg, b.Const(ir.I32, 0)))
	b.EndFunction()
	return b.Module()
}

func parFor(t *testing.T, rt *Runtime, failAt int64, extent int) (int64, []int32) {
	t.Helper()
	mem := machine.NewMemory()
	in := machine.NewInterpreter(squaresModule(failAt), mem, rt.Externs())
	out := mem.Alloc(4*extent, "out")
	closure := mem.Alloc(8, "closure")
	require.NoError(t, mem.WriteUint(closure, 8, out))
	fn, ok := in.FuncAddr("body")
	require.True(t, ok)

	status, err := in.Call(abi.FuncDoParFor,
		machine.Lanes{0}, machine.Lanes{fn},
		machine.IntLanes(ir.I32, 0), machine.IntLanes(ir.I32, int64(extent)),
		machine.Lanes{closure})
	require.NoError(t, err)

	vals := make([]int32, extent)
	for i := range vals {
		v, err := mem.ReadUint(out+uint64(4*i), 4)
		require.NoError(t, err)
		vals[i] = int32(v)
	}
	return status.Int(ir.I32, 0), vals
}

func TestDoParFor(t *testing.T) {
	for _, workers := range []int{1, 3, 16} {
		rt := New(&Options{Workers: workers})
		status, vals := parFor(t, rt, 100, 10)
		assert.Zero(t, status)
		assert.Equal(t, []int32{0, 1, 4, 9, 16, 25, 36, 49, 64, 81}, vals, "workers=%d", workers)
	}
}

func TestDoParForReportsLowestFailure(t *testing.T) {
	rt := New(&Options{Workers: 4})
	status, vals := parFor(t, rt, 5, 9)
	assert.Equal(t, int64(-5), status)
	assert.Equal(t, int32(64), vals[8], "every iteration runs even after a failure")
}

func TestDoParForEmptyRange(t *testing.T) {
	status, vals := parFor(t, New(nil), 0, 0)
	assert.Zero(t, status)
	assert.Empty(t, vals)
}

func TestMallocAndFree(t *testing.T) {
	rt := New(&Options{MaxAlloc: 64})
	mem := machine.NewMemory()
	in := machine.NewInterpreter(&machine.Module{}, mem, rt.Externs())

	p, err := in.Call(abi.FuncMalloc, machine.Lanes{0}, machine.Lanes{32})
	require.NoError(t, err)
	assert.NotZero(t, p[0])
	assert.Equal(t, 1, mem.Live())

	null, err := in.Call(abi.FuncMalloc, machine.Lanes{0}, machine.Lanes{65})
	require.NoError(t, err)
	assert.Zero(t, null[0], "oversized requests fail with the null pointer")

	_, err = in.Call(abi.FuncFree, machine.Lanes{0}, p)
	require.NoError(t, err)
	assert.Zero(t, mem.Live())
	assert.Equal(t, 1, rt.Allocations())

	_, err = in.Call(abi.FuncFree, machine.Lanes{0}, p)
	assert.ErrorIs(t, err, machine.ErrBadPointer)
}

func TestErrorAndPrint(t *testing.T) {
	var out bytes.Buffer
	rt := New(&Options{Stdout: &out})
	mem := machine.NewMemory()
	in := machine.NewInterpreter(&machine.Module{}, mem, rt.Externs())
	msg := mem.Alloc(6, "msg")
	require.NoError(t, mem.Write(msg, []byte("hello\x00")))

	_, err := in.Call(abi.FuncError, machine.Lanes{0}, machine.Lanes{msg})
	require.NoError(t, err)
	_, err = in.Call(abi.FuncPrint, machine.Lanes{0}, machine.Lanes{msg})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, rt.Errors())
	assert.Equal(t, "hello", out.String())
}

func TestAppenders(t *testing.T) {
	mem := machine.NewMemory()
	in := machine.NewInterpreter(&machine.Module{}, mem, New(nil).Externs())
	buf := mem.Alloc(32, "str")
	end := buf + 32

	dst := machine.Lanes{buf}
	call := func(name string, args ...machine.Lanes) {
		t.Helper()
		r, err := in.Call(name, append([]machine.Lanes{dst, {end}}, args...)...)
		require.NoError(t, err)
		dst = r
	}
	call(abi.FuncInt64ToStr, machine.IntLanes(ir.I64, -42), machine.Lanes{3})
	call(abi.FuncStringToStr, machine.Lanes{func() uint64 {
		p := mem.Alloc(3, "lit")
		require.NoError(t, mem.Write(p, []byte(", \x00")))
		return p
	}()})
	call(abi.FuncDoubleToStr, machine.FloatLanes(ir.F64, 1.5), machine.Lanes{0})
	s, err := mem.CString(buf)
	require.NoError(t, err)
	assert.Equal(t, "-042, 1.500000", s)

	// Output past the end is truncated and stays terminated.
	call(abi.FuncUint64ToStr, machine.Lanes{math.MaxUint64}, machine.Lanes{1})
	s, err = mem.CString(buf)
	require.NoError(t, err)
	assert.Len(t, s, 31)
	assert.Equal(t, end-1, dst[0])
}

func TestMathExterns(t *testing.T) {
	ext := New(nil).Externs()
	for _, name := range []string{"floor_f32", "floor_f32x8", "sqrt_f64x4", "pow_f32"} {
		assert.Contains(t, ext, name)
	}
	got, err := ext["floor_f32x4"](nil, []machine.Lanes{machine.FloatLanes(ir.F32, -1.5, 0.5, 2, 2.75)})
	require.NoError(t, err)
	assert.Equal(t, machine.FloatLanes(ir.F32, -2, 0, 2, 2), got)
	assert.Contains(t, Names(), abi.FuncDoParFor)
}

func TestTrace(t *testing.T) {
	rt := New(nil)
	mem := machine.NewMemory()
	in := machine.NewInterpreter(&machine.Module{}, mem, rt.Externs())

	name := mem.Alloc(4, "name")
	require.NoError(t, mem.Write(name, []byte("out\x00")))
	value := mem.Alloc(8, "value")
	require.NoError(t, mem.WriteUint(value, 4, 77))
	coords := mem.Alloc(8, "coords")
	require.NoError(t, mem.WriteUint(coords, 4, 3))
	require.NoError(t, mem.WriteUint(coords+4, 4, 4))

	ev := mem.Alloc(abi.TraceEventSize, "event")
	put := func(off, size int, x uint64) { require.NoError(t, mem.WriteUint(ev+uint64(off), size, x)) }
	put(abi.TraceOffsetFunc, 8, name)
	put(abi.TraceOffsetValue, 8, value)
	put(abi.TraceOffsetCoords, 8, coords)
	put(abi.TraceOffsetTypeCode, 1, uint64(ir.Int))
	put(abi.TraceOffsetBits, 1, 32)
	put(abi.TraceOffsetLanes, 2, 1)
	put(abi.TraceOffsetEvent, 4, abi.TraceStore)
	put(abi.TraceOffsetDimensions, 4, 2)

	id, err := in.Call(abi.FuncTrace, machine.Lanes{0}, machine.Lanes{ev})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int(ir.I32, 0))

	traces := rt.Traces()
	require.Len(t, traces, 1)
	assert.Equal(t, "out", traces[0].Func)
	assert.Equal(t, int32(abi.TraceStore), traces[0].Event)
	assert.Equal(t, ir.I32, traces[0].Type)
	assert.Equal(t, machine.Lanes{77}, traces[0].Value)
	assert.Equal(t, []int32{3, 4}, traces[0].Coords)
}

func TestDebugToFile(t *testing.T) {
	dir := t.TempDir()
	rt := New(&Options{DebugDir: dir})
	mem := machine.NewMemory()
	in := machine.NewInterpreter(&machine.Module{}, mem, rt.Externs())

	desc, err := NewBuffer(mem, ir.U8, 3)
	require.NoError(t, err)
	_, data, err := ReadBuffer(mem, desc)
	require.NoError(t, err)
	copy(data, []byte{1, 2, 3})

	name := mem.Alloc(16, "name")
	require.NoError(t, mem.Write(name, []byte("../dump.bin\x00")))
	status, err := in.Call(abi.FuncDebugToFile, machine.Lanes{0}, machine.Lanes{name}, machine.IntLanes(ir.I32, 0), machine.Lanes{desc})
	require.NoError(t, err)
	assert.Zero(t, status.Int(ir.I32, 0))

	got, err := os.ReadFile(filepath.Join(dir, "dump.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, FreeBuffer(mem, desc))
	assert.Equal(t, 1, mem.Live(), "only the file name remains")
}
