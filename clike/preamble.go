// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package clike

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/textgen"
)

// libm maps math externs to their math.h function; binary ones take two
// arguments.
var libm = map[string]struct {
	fn     string
	binary bool
}{
	"sqrt": {fn: "sqrt"}, "floor": {fn: "floor"}, "ceil": {fn: "ceil"},
	"round": {fn: "rint"}, "trunc": {fn: "trunc"}, "exp": {fn: "exp"},
	"log": {fn: "log"}, "sin": {fn: "sin"}, "cos": {fn: "cos"},
	"tan": {fn: "tan"}, "atan": {fn: "atan"}, "tanh": {fn: "tanh"},
	"pow": {fn: "pow", binary: true}, "atan2": {fn: "atan2", binary: true},
	"fmod": {fn: "fmod", binary: true},
}

// splitMath splits sqrt_f32 into sqrt and 32.
func splitMath(name string) (string, int, bool) {
	for _, bits := range []int{32, 64} {
		sfx := fmt.Sprintf("_f%d", bits)
		if base, ok := strings.CutSuffix(name, sfx); ok {
			if _, known := libm[base]; known {
				return base, bits, true
			}
		}
	}
	return "", 0, false
}

func mathFunc(name string) bool {
	_, _, ok := splitMath(name)
	return ok
}

const helpers = `#define _kiln_nan_f32 __builtin_nanf("")
#define _kiln_inf_f32 __builtin_inff()
#define _kiln_nan_f64 __builtin_nan("")
#define _kiln_inf_f64 __builtin_inf()

static inline uint32_t _kiln_f32_bits(float x) { uint32_t r; memcpy(&r, &x, 4); return r; }
static inline float _kiln_bits_f32(uint32_t x) { float r; memcpy(&r, &x, 4); return r; }
static inline uint64_t _kiln_f64_bits(double x) { uint64_t r; memcpy(&r, &x, 8); return r; }
static inline double _kiln_bits_f64(uint64_t x) { double r; memcpy(&r, &x, 8); return r; }
`

var helperTypes = []struct{ sfx, ct string }{
	{"i8", "int8_t"}, {"i16", "int16_t"}, {"i32", "int32_t"}, {"i64", "int64_t"},
	{"u8", "uint8_t"}, {"u16", "uint16_t"}, {"u32", "uint32_t"}, {"u64", "uint64_t"},
	{"f32", "float"}, {"f64", "double"}, {"h", "void *"},
}

// Preamble returns the includes, the buffer descriptor and the helpers
// every module may use.
func (Dialect) Preamble(module string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "/* %s: generated by kiln. */\n", strings.ReplaceAll(module, "*/", "* /"))
	sb.WriteString("#include <stdint.h>\n#include <stddef.h>\n#include <stdbool.h>\n#include <string.h>\n#include <math.h>\n\n")

	fmt.Fprintf(&sb, "#ifndef KILN_BUFFER_T\n#define KILN_BUFFER_T\ntypedef struct buffer_t {\n")
	fmt.Fprintf(&sb, "    uint64_t dev;\n    uint8_t *host;\n")
	fmt.Fprintf(&sb, "    int32_t extent[%d];\n    int32_t stride[%d];\n    int32_t min[%d];\n",
		abi.Dimensions, abi.Dimensions, abi.Dimensions)
	sb.WriteString("    int32_t elem_size;\n    bool host_dirty;\n    bool dev_dirty;\n} buffer_t;\n#endif\n")
	for _, f := range []struct {
		name string
		off  int
	}{
		{"host", abi.OffsetHost}, {"extent", abi.OffsetExtent}, {"stride", abi.OffsetStride},
		{"min", abi.OffsetMin}, {"elem_size", abi.OffsetElemSize},
		{"host_dirty", abi.OffsetHostDirty}, {"dev_dirty", abi.OffsetDevDirty},
	} {
		fmt.Fprintf(&sb, "_Static_assert(offsetof(buffer_t, %s) == %d, \"buffer_t.%s\");\n", f.name, f.off, f.name)
	}
	fmt.Fprintf(&sb, "_Static_assert(sizeof(buffer_t) == %d, \"buffer_t size\");\n\n", abi.BufferSize)

	sb.WriteString(helpers)
	for _, h := range helperTypes {
		fmt.Fprintf(&sb, "static inline %s(const void *p) { %s; memcpy(&r, p, sizeof r); return r; }\n",
			declare(h.ct, "_kiln_load_"+h.sfx), declare(h.ct, "r"))
		fmt.Fprintf(&sb, "static inline void _kiln_store_%s(void *p, %s) { memcpy(p, &v, sizeof v); }\n",
			h.sfx, declare(h.ct, "v"))
	}
	// Division by zero yields zero; the most negative value divided by -1
	// wraps.
	for _, bits := range []int{8, 16, 32, 64} {
		t := fmt.Sprintf("int%d_t", bits)
		fmt.Fprintf(&sb, "static inline %s _kiln_sdiv_i%d(%s a, %s b) { return b == 0 ? 0 : b == -1 ? (%s)(0 - (uint%d_t)a) : a / b; }\n",
			t, bits, t, t, t, bits)
		fmt.Fprintf(&sb, "static inline %s _kiln_srem_i%d(%s a, %s b) { return b == 0 || b == -1 ? 0 : a %% b; }\n",
			t, bits, t, t)
		// The remainder lies in [0, |b|).
		fmt.Fprintf(&sb, "static inline %s _kiln_mod_i%d(%s a, %s b) { %s r = _kiln_srem_i%d(a, b); uint%d_t m = b < 0 ? 0 - (uint%d_t)b : (uint%d_t)b; return r < 0 ? (%s)((uint%d_t)r + m) : r; }\n",
			t, bits, t, t, t, bits, bits, bits, bits, t, bits)
	}
	for _, h := range helperTypes[:len(helperTypes)-1] {
		fmt.Fprintf(&sb, "static inline %s _kiln_min_%s(%s a, %s b) { return a < b ? a : b; }\n", h.ct, h.sfx, h.ct, h.ct)
		fmt.Fprintf(&sb, "static inline %s _kiln_max_%s(%s a, %s b) { return a > b ? a : b; }\n", h.ct, h.sfx, h.ct, h.ct)
	}
	sb.WriteString(rewriteBuffer())
	return sb.String()
}

// rewriteBuffer defines _kiln_rewrite_buffer, which stores elem_size and a
// min/extent/stride triple per dimension into a descriptor.
func rewriteBuffer() string {
	var sb strings.Builder
	sb.WriteString("static inline bool _kiln_rewrite_buffer(void *p, int32_t elem_size")
	for d := 0; d < abi.Dimensions; d++ {
		fmt.Fprintf(&sb, ", int32_t min%d, int32_t extent%d, int32_t stride%d", d, d, d)
	}
	sb.WriteString(") {\n    buffer_t *b = (buffer_t *)p;\n    b->elem_size = elem_size;\n")
	for d := 0; d < abi.Dimensions; d++ {
		fmt.Fprintf(&sb, "    b->min[%d] = min%d; b->extent[%d] = extent%d; b->stride[%d] = stride%d;\n", d, d, d, d, d, d)
	}
	sb.WriteString("    return true;\n}\n")
	return sb.String()
}

// Declarations defines the math externs over math.h and prototypes the
// runtime functions.
func (Dialect) Declarations(calls []textgen.Extern) string {
	sorted := append([]textgen.Extern(nil), calls...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	for _, e := range sorted {
		if base, bits, ok := splitMath(e.Name); ok {
			ct, fn := "double", libm[base].fn
			if bits == 32 {
				ct, fn = "float", fn+"f"
			}
			if libm[base].binary {
				fmt.Fprintf(&sb, "static inline %s %s(%s x, %s y) { return %s(x, y); }\n", ct, e.Name, ct, ct, fn)
			} else {
				fmt.Fprintf(&sb, "static inline %s %s(%s x) { return %s(x); }\n", ct, e.Name, ct, fn)
			}
			continue
		}
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = ctype(a)
		}
		list := strings.Join(args, ", ")
		if list == "" {
			list = "void"
		}
		fmt.Fprintf(&sb, "extern %s(%s);\n", declare(ctype(e.Ret), e.Name), list)
	}
	return sb.String()
}
