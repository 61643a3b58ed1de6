package dsp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/internal/hostrt"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/ir/text"
	"github.com/gogpu/kiln/machine"
)

func compile(t *testing.T, src string) *machine.Module {
	t.Helper()
	m, err := text.Parse(src)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Externs = hostrt.Names()
	mod, _, err := Compile(m, opts)
	require.NoError(t, err)
	return mod
}

// run calls fn with one fresh int32 buffer per entry of inputs followed by
// an output buffer of n elements, and returns the output.
func run(t *testing.T, mod *machine.Module, fn string, n int, inputs ...[]int32) []int32 {
	t.Helper()
	mem := machine.NewMemory()
	in := machine.NewInterpreter(mod, mem, hostrt.New(nil).Externs())
	var args []machine.Lanes
	for _, vals := range inputs {
		desc, err := hostrt.NewBuffer(mem, ir.I32, len(vals))
		require.NoError(t, err)
		_, data, err := hostrt.ReadBuffer(mem, desc)
		require.NoError(t, err)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
		}
		args = append(args, machine.Lanes{desc})
	}
	out, err := hostrt.NewBuffer(mem, ir.I32, n)
	require.NoError(t, err)
	status, err := in.Call(fn, append(args, machine.Lanes{out})...)
	require.NoError(t, err)
	require.Zero(t, status.Int(ir.I32, 0))

	_, data, err := hostrt.ReadBuffer(mem, out)
	require.NoError(t, err)
	got := make([]int32, n)
	for i := range got {
		got[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return got
}

func TestInterleaveSelectsVShuff(t *testing.T) {
	mod := compile(t, `
(module mix
  (func zip ((buffer a i32) (buffer b i32) (buffer out i32))
    (store out
      (intrinsic i32x16 interleave_vectors (load i32x8 a (ramp 0 1 8)) (load i32x8 b (ramp 0 1 8)))
      (ramp 0 1 16))))
`)
	assert.Equal(t, 1, mod.Stats()[machine.OpVShuff])
	got := run(t, mod, "zip", 16,
		[]int32{0, 1, 2, 3, 4, 5, 6, 7},
		[]int32{100, 101, 102, 103, 104, 105, 106, 107})
	assert.Equal(t, []int32{0, 100, 1, 101, 2, 102, 3, 103, 4, 104, 5, 105, 6, 106, 7, 107}, got)
}

func TestStrideTwoLoadSelectsVDeal(t *testing.T) {
	mod := compile(t, `
(module deal
  (func evens ((buffer out i32))
    (allocate tmp i32 (16)
      (block
        (for i 0 16 (store tmp (* i 3) i))
        (store out (load i32x8 tmp (ramp 0 2 8)) (ramp 0 1 8))
        (free tmp)))))
`)
	assert.Equal(t, 1, mod.Stats()[machine.OpVDeal])
	got := run(t, mod, "evens", 8)
	assert.Equal(t, []int32{0, 6, 12, 18, 24, 30, 36, 42}, got)
}

func TestAbsDiffAndPopcount(t *testing.T) {
	mod := compile(t, `
(module arith
  (func f ((buffer a i32) (buffer b i32) (buffer out i32))
    (block
      (store out
        (intrinsic i32x8 reinterpret (intrinsic u32x8 absd (load i32x8 a (ramp 0 1 8)) (load i32x8 b (ramp 0 1 8))))
        (ramp 0 1 8))
      (store out (intrinsic i32x8 popcount (load i32x8 a (ramp 0 1 8))) (ramp 8 1 8)))))
`)
	stats := mod.Stats()
	assert.Equal(t, 1, stats[machine.OpVAbsDiff])
	assert.Equal(t, 1, stats[machine.OpVPopcount])

	got := run(t, mod, "f", 16,
		[]int32{1, 2, 3, 7, -4, 255, 0, 16},
		[]int32{4, 2, 1, 0, 4, 0, 0, -16})
	assert.Equal(t, []int32{3, 0, 2, 7, 8, 255, 0, 32}, got[:8])
	assert.Equal(t, []int32{1, 1, 2, 3, 30, 8, 0, 1}, got[8:])
}

func TestScalarBitCounts(t *testing.T) {
	mod := compile(t, `
(module bits
  (func f ((buffer out i32))
    (block
      (store out (intrinsic i32 count_trailing_zeros 8) 0)
      (store out (intrinsic i32 count_leading_zeros 8) 1)
      (store out (intrinsic i32 popcount 8) 2))))
`)
	assert.Equal(t, []int32{3, 28, 1}, run(t, mod, "f", 3))
}

func TestOtherShufflesStayGeneric(t *testing.T) {
	assert.False(t, isInterleave([]int{0, 8, 1, 9}, 8))
	assert.True(t, isInterleave([]int{0, 2, 1, 3}, 2))
	assert.True(t, isDeal([]int{1, 3, 5, 7}, 4, 1))
	assert.False(t, isDeal([]int{0, 2, 4, 7}, 4, 0))
	assert.False(t, isDeal([]int{0}, 1, 0))
}

func TestCompileForcesDSPTarget(t *testing.T) {
	m, err := text.Parse(`(module m (func f ((buffer out i32)) (store out 1 0)))`)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Target = codegen.HostTarget()
	mod, _, err := Compile(m, opts)
	require.NoError(t, err)
	assert.NotNil(t, mod.Function("f"))
	assert.True(t, codegen.DSPTarget().Has(codegen.FeatureHVX))
}
