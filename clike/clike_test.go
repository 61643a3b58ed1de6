// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package clike

import (
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/ir/text"
)

func compile(t *testing.T, src string) (string, codegen.Info) {
	t.Helper()
	m, err := text.Parse(src)
	require.NoError(t, err)
	out, info, err := Compile(m, nil)
	require.NoError(t, err)
	return out, info
}

const allocSource = `
(module scenario
  (func f ((buffer buf i32) (scalar alpha f32) (scalar beta i32) (scalar __user_context handle))
    (allocate tmp i32 (127)
      (allocate big i32 ((* 43 beta))
        (block
          (let-stmt x (+ beta 1)
            (store buf (select (> alpha 4.0) 3 2) x))
          (free big))))))
`

func TestAllocationsSource(t *testing.T) {
	src, info := compile(t, allocSource)
	assert.Equal(t, 1, info.StackAllocations)
	assert.Equal(t, 1, info.HeapAllocations)
	for _, want := range []string{
		"int32_t f(void *buf, float alpha, int32_t beta, void *__user_context) {",
		"uint8_t _",
		"kiln_malloc(__user_context, ",
		"out of memory allocating big",
		"kiln_free(__user_context, ",
		"return (-11);",
		"return 0;",
		"extern void *kiln_malloc(void *, int64_t);",
		"extern void kiln_error(void *, void *);",
	} {
		assert.Contains(t, src, want)
	}
	assert.NotContains(t, src, "sqrt_f32", "unused math externs are not defined")
	assert.NotContains(t, src, "int0_t")
}

func TestVoidType(t *testing.T) {
	assert.Equal(t, "void", ctype(ir.Void))
	assert.Equal(t, "void *", ctype(ir.HandleType()))
	assert.Equal(t, "int32_t", ctype(ir.I32))
	assert.Equal(t, "void f", declare(ctype(ir.Void), "f"))
}

func TestLoopAllocationDeclaredOnce(t *testing.T) {
	src, info := compile(t, `
(module loops
  (func f ((buffer out i32) (scalar n i32))
    (for i 0 n
      (allocate tmp i32 (16)
        (store tmp i 0)))))
`)
	assert.Equal(t, 1, info.StackAllocations)
	assert.Equal(t, 1, strings.Count(src, ") uint8_t _"))
	assert.Less(t, strings.Index(src, ") uint8_t _"), strings.Index(src, "for ("))
}

func TestSkipValidation(t *testing.T) {
	m := &ir.Module{Name: "m", Functions: []ir.Function{{
		Name: "f",
		Args: []ir.Argument{ir.Buffer("out", ir.I32)},
		Body: ir.Evaluate{Value: ir.Var(ir.I32, "y")},
	}}}

	_, _, err := Compile(m, DefaultOptions())
	require.Error(t, err)
	assert.True(t, codegen.IsMalformedNode(err))

	opts := DefaultOptions()
	opts.SkipValidation = true
	_, _, err = Compile(m, opts)
	require.Error(t, err)
	assert.True(t, codegen.IsUnboundName(err))
}

const helperSource = `
(module helpers
  (func f ((buffer out i32) (scalar a i32) (scalar b i32))
    (block
      (store out (min a b) 0)
      (store out (max a b) 1)
      (store out (% a b) 2)
      (evaluate (intrinsic bool rewrite_buffer out.buffer 0 5 6 7)))))
`

func TestPreambleHelpersAreUsed(t *testing.T) {
	src, _ := compile(t, helperSource)
	for _, want := range []string{
		"static inline int32_t _kiln_min_i32(int32_t a, int32_t b)",
		"static inline double _kiln_max_f64(double a, double b)",
		"static inline int64_t _kiln_mod_i64(int64_t a, int64_t b)",
		"static inline bool _kiln_rewrite_buffer(void *p, int32_t elem_size, int32_t min0, int32_t extent0, int32_t stride0,",
		"b->min[3] = min3; b->extent[3] = extent3; b->stride[3] = stride3;",
		" = _kiln_min_i32(a, b);",
		" = _kiln_max_i32(a, b);",
		" = _kiln_mod_i32(a, b);",
		" = _kiln_rewrite_buffer(out, 4, 5, 6, 7, 0, 0, 0, 0, 0, 0, 0, 0, 0);",
	} {
		assert.Contains(t, src, want)
	}
	assert.NotContains(t, src, "_kiln_min_h")
}

func TestPreambleMatchesDescriptor(t *testing.T) {
	src, _ := compile(t, allocSource)
	for _, want := range []string{
		"typedef struct buffer_t {",
		"_Static_assert(offsetof(buffer_t, extent) == 16, \"buffer_t.extent\");",
		"_Static_assert(offsetof(buffer_t, min) == 48, \"buffer_t.min\");",
		"_Static_assert(sizeof(buffer_t) == 72, \"buffer_t size\");",
		"static inline int32_t _kiln_sdiv_i32(int32_t a, int32_t b)",
		"static inline void *_kiln_load_h(const void *p)",
	} {
		assert.Contains(t, src, want)
	}
}

func TestParallelClosureSource(t *testing.T) {
	src, info := compile(t, `
(module par
  (func scale ((buffer out i32) (scalar k i32) (scalar __user_context handle))
    (parallel x 0 out.extent.0
      (store out (* x k) x))))
`)
	assert.Equal(t, []string{"scale_par_for_x"}, info.Closures)
	closure := strings.Index(src, "static int32_t scale_par_for_x(")
	parent := strings.Index(src, "int32_t scale(")
	require.GreaterOrEqual(t, closure, 0)
	require.GreaterOrEqual(t, parent, 0)
	assert.Less(t, closure, parent, "the closure is defined before its parent")
	assert.Contains(t, src, "kiln_do_par_for(__user_context, ")
	assert.Contains(t, src, "(void *)scale_par_for_x")
	assert.Contains(t, src, "failure inside parallel for loop")
}

func TestMathExternsWrapLibm(t *testing.T) {
	src, _ := compile(t, `
(module m
  (func g ((buffer out f32) (scalar x f32) (scalar y f64))
    (block
      (store out (call f32 sqrt_f32 x) 0)
      (store out (call f32 floor_f32 x) 1)
      (store out (cast f32 (call f64 pow_f64 y y)) 2))))
`)
	assert.Contains(t, src, "static inline float sqrt_f32(float x) { return sqrtf(x); }")
	assert.Contains(t, src, "static inline double pow_f64(double x, double y) { return pow(x, y); }")
	assert.NotContains(t, src, "extern float sqrt_f32")
}

func TestReservedNamesAreRenamed(t *testing.T) {
	src, _ := compile(t, `
(module names
  (func g ((buffer out i32) (scalar double i32) (scalar _kiln_x i32))
    (store out (+ double _kiln_x) 0)))
`)
	assert.Contains(t, src, "int32_t vdouble")
	assert.Contains(t, src, "int32_t v_kiln_x")
	assert.NotContains(t, src, "int32_t double")
}

func TestBitIntrinsicsUseBuiltins(t *testing.T) {
	src, _ := compile(t, `
(module bits
  (func counts ((buffer out i32) (scalar v i32))
    (block
      (store out (intrinsic i32 count_trailing_zeros v) 0)
      (store out (intrinsic i32 count_leading_zeros v) 1)
      (store out (intrinsic i32 popcount v) 2))))
`)
	assert.Contains(t, src, "__builtin_ctzll((uint64_t)(uint32_t)v)")
	assert.Contains(t, src, "(v == 0 ? 32 : __builtin_clzll((uint64_t)(uint32_t)v) - 32)")
	assert.Contains(t, src, "__builtin_popcountll((uint64_t)(uint32_t)v)")
}

func TestLiterals(t *testing.T) {
	d := Dialect{}
	signed := func(v int64) uint64 { return uint64(v) }
	for _, tc := range []struct {
		t    ir.Type
		bits uint64
		want string
	}{
		{ir.I32, 7, "7"},
		{ir.I32, signed(-5), "(-5)"},
		{ir.I32, signed(math.MinInt32), "(-2147483647 - 1)"},
		{ir.I64, signed(-2), "INT64_C(-2)"},
		{ir.I64, signed(math.MinInt64), "(-INT64_C(9223372036854775807) - 1)"},
		{ir.U32, 4294967295, "4294967295u"},
		{ir.U64, 1 << 63, "UINT64_C(9223372036854775808)"},
		{ir.U8, 255, "255"},
		{ir.Bool(), 1, "1"},
	} {
		assert.Equal(t, tc.want, d.IntLiteral(tc.t, tc.bits), "%s %d", tc.t, tc.bits)
	}

	assert.Equal(t, "0.5f", d.FloatLiteral(ir.F32, 0.5))
	assert.Equal(t, "4.0f", d.FloatLiteral(ir.F32, 4))
	assert.Equal(t, "(-1.5)", d.FloatLiteral(ir.F64, -1.5))
	assert.Equal(t, "_kiln_inf_f64", d.FloatLiteral(ir.F64, math.Inf(1)))
	assert.Equal(t, "_kiln_nan_f32", d.FloatLiteral(ir.F32, math.NaN()))
	assert.Equal(t, `(void *)"a \"b\"\012\?"`, d.StringLiteral("a \"b\"\n?"))
}

func TestArithmeticWraps(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "(int32_t)((uint32_t)a + (uint32_t)b)", d.Binary(codegen.OpAdd, ir.I32, "a", "b"))
	assert.Equal(t, "a + b", d.Binary(codegen.OpAddNSW, ir.I32, "a", "b"))
	assert.Equal(t, "(int8_t)((uint32_t)a * (uint32_t)b)", d.Binary(codegen.OpMulNSW, ir.I8, "a", "b"))
	assert.Equal(t, "_kiln_sdiv_i16(a, b)", d.Binary(codegen.OpSDiv, ir.I16, "a", "b"))
	assert.Equal(t, "((uint32_t)a < (uint32_t)b)", d.Compare(codegen.PredULT, ir.I32, "a", "b"))
	assert.Equal(t, "((int8_t)a < (int8_t)b)", d.Compare(codegen.PredSLT, ir.U8, "a", "b"))
	assert.Equal(t, "(uint8_t)(a & 1)", d.Convert(codegen.ConvTrunc, ir.I32, ir.Bool(), "a"))
	assert.Equal(t, "(int32_t)-(int32_t)c", d.Convert(codegen.ConvSExt, ir.Bool(), ir.I32, "c"))
	assert.Equal(t, "(uint32_t)_kiln_f32_bits(x)", d.Convert(codegen.ConvBitcast, ir.F32, ir.U32, "x"))
}

func TestUnalignedAccessUsesMemcpy(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "*(int32_t *)p", d.Load(ir.I32, "p", 4))
	assert.Equal(t, "_kiln_load_i32(p)", d.Load(ir.I32, "p", 2))
	assert.Equal(t, "_kiln_store_f64(p, v);", d.Store(ir.F64, "p", "v", 4, false))
	assert.Equal(t, "__atomic_store_n((int32_t *)p, v, __ATOMIC_SEQ_CST);", d.Store(ir.I32, "p", "v", 4, true))
}

// runtimeC is a serial runtime for the host compiler test.
const runtimeC = `
#include <stdint.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>

typedef struct buffer_t {
    uint64_t dev;
    uint8_t *host;
    int32_t extent[4];
    int32_t stride[4];
    int32_t min[4];
    int32_t elem_size;
    _Bool host_dirty;
    _Bool dev_dirty;
} buffer_t;

void *kiln_malloc(void *ctx, int64_t n) { (void)ctx; return malloc((size_t)n); }
void kiln_free(void *ctx, void *p) { (void)ctx; free(p); }
void kiln_error(void *ctx, void *msg) { (void)ctx; fprintf(stderr, "%s\n", (const char *)msg); }

int32_t f(void *buf, float alpha, int32_t beta, void *ctx);

int main(void) {
    int32_t data[4] = {0, 0, 0, 0};
    buffer_t b;
    memset(&b, 0, sizeof b);
    b.host = (uint8_t *)data;
    b.extent[0] = 4;
    b.stride[0] = 1;
    b.elem_size = 4;
    int32_t status = f(&b, 5.0f, 0, NULL);
    printf("%d %d %d %d %d\n", status, data[0], data[1], data[2], data[3]);
    status = f(&b, 1.0f, 2, NULL);
    printf("%d %d %d %d %d\n", status, data[0], data[1], data[2], data[3]);
    return 0;
}
`

func TestHostCompilerRunsScenario(t *testing.T) {
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler")
	}
	src, _ := compile(t, allocSource)
	dir := t.TempDir()
	gen := filepath.Join(dir, "scenario.c")
	rt := filepath.Join(dir, "runtime.c")
	bin := filepath.Join(dir, "scenario")
	require.NoError(t, os.WriteFile(gen, []byte(src), 0o600))
	require.NoError(t, os.WriteFile(rt, []byte(runtimeC), 0o600))

	out, err := exec.Command(cc, "-std=c11", "-O1", "-Wall", "-o", bin, gen, rt, "-lm").CombinedOutput()
	require.NoError(t, err, "%s\n%s", out, src)
	out, err = exec.Command(bin).CombinedOutput()
	require.NoError(t, err, "%s", out)
	assert.Equal(t, "0 0 3 0 0\n0 0 3 0 2\n", string(out))
}
