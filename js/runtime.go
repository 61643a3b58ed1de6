// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package js

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/textgen"
)

// mathImpl maps math externs to a JavaScript implementation over x and y.
var mathImpl = map[string]string{
	"sqrt": "Math.sqrt(x)", "floor": "Math.floor(x)", "ceil": "Math.ceil(x)",
	"round": "_kiln_rint(x)", "trunc": "Math.trunc(x)", "exp": "Math.exp(x)",
	"log": "Math.log(x)", "sin": "Math.sin(x)", "cos": "Math.cos(x)",
	"tan": "Math.tan(x)", "atan": "Math.atan(x)", "tanh": "Math.tanh(x)",
	"pow": "Math.pow(x, y)", "atan2": "Math.atan2(x, y)", "fmod": "x % y",
}

func splitMath(name string) (string, int, bool) {
	for _, bits := range []int{32, 64} {
		if base, ok := strings.CutSuffix(name, fmt.Sprintf("_f%d", bits)); ok {
			if _, known := mathImpl[base]; known {
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

// Functions are declared with var and function so a module can be
// evaluated more than once in the same realm.
const preamble = `"use strict";
var _kiln_scratch = new DataView(new ArrayBuffer(8));
function _kiln_sdiv(a, b) { return b === 0 ? 0 : Math.trunc(a / b); }
function _kiln_srem(a, b) { return b === 0 ? 0 : a % b; }
function _kiln_udiv(a, b) { return b === 0 ? 0 : Math.floor(a / b); }
function _kiln_urem(a, b) { return b === 0 ? 0 : a % b; }
function _kiln_popcount(x) { let n = 0; while (x !== 0) { x &= x - 1; n++; } return n; }
function _kiln_min(a, b) { return a < b ? a : b; }
function _kiln_max(a, b) { return a > b ? a : b; }
function _kiln_mod(a, b) { const r = _kiln_srem(a, b); return r < 0 ? r + Math.abs(b) : r; }
function _kiln_f32_bits(x) { _kiln_scratch.setFloat32(0, x, true); return _kiln_scratch.getUint32(0, true); }
function _kiln_bits_f32(x) { _kiln_scratch.setUint32(0, x, true); return _kiln_scratch.getFloat32(0, true); }
function _kiln_rint(x) { const r = Math.round(x); return r - x === 0.5 && r % 2 !== 0 ? r - 1 : r; }
`

func (Dialect) Preamble(module string) string {
	return "// " + strings.ReplaceAll(module, "\n", " ") + ": generated by kiln.\n" + preamble + rewriteBuffer()
}

// rewriteBuffer defines _kiln_rewrite_buffer(p, elemSize, ...shape), which
// stores elem_size and a min/extent/stride triple per dimension into the
// descriptor at p.
func rewriteBuffer() string {
	var sb strings.Builder
	sb.WriteString("function _kiln_rewrite_buffer(p, elemSize, ...shape) {\n  const v = __kiln.view;\n")
	fmt.Fprintf(&sb, "  v.setInt32(p + %d, elemSize, true);\n", abi.OffsetElemSize)
	fmt.Fprintf(&sb, "  for (let d = 0; d < %d; d++) {\n", abi.Dimensions)
	for k, f := range []abi.Field{abi.FieldMin, abi.FieldExtent, abi.FieldStride} {
		fmt.Fprintf(&sb, "    v.setInt32(p + %d + 4 * d, shape[3 * d + %d], true);\n", abi.Offset(f, 0), k)
	}
	sb.WriteString("  }\n  return 1;\n}\n")
	return sb.String()
}

// Declarations defines the math externs the module calls. Runtime
// functions come from Runtime or the embedder.
func (Dialect) Declarations(calls []textgen.Extern) string {
	var names []string
	for _, e := range calls {
		if mathFunc(e.Name) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		base, bits, _ := splitMath(name)
		body := mathImpl[base]
		if bits == 32 {
			body = "Math.fround(" + body + ")"
		}
		params := "x"
		if strings.Contains(mathImpl[base], "y") {
			params = "x, y"
		}
		fmt.Fprintf(&sb, "function %s(%s) { return %s; }\n", name, params, body)
	}
	return sb.String()
}

// Runtime implements the runtime contract in JavaScript over one
// ArrayBuffer. Call __kiln_init(heapBytes, stackBytes) before running
// generated code. The first 4 KiB are never handed out, so 0 is a null
// pointer; the stack follows, then the heap, which is a bump allocator.
// Parallel loops run serially and stop at the first failing iteration.
const Runtime = `"use strict";
var __kiln = {};

function __kiln_init(heapBytes, stackBytes) {
  __kiln.buffer = new ArrayBuffer(heapBytes);
  __kiln.view = new DataView(__kiln.buffer);
  __kiln.u8 = new Uint8Array(__kiln.buffer);
  __kiln.sp = 4096;
  __kiln.stackEnd = 4096 + stackBytes;
  __kiln.brk = __kiln.stackEnd;
  __kiln.limit = heapBytes;
  __kiln.live = 0;
  __kiln.errors = [];
  __kiln.output = [];
  __kiln.traces = [];
}

function __kiln_align(x, a) { return Math.ceil(x / a) * a; }

function __kiln_alloca(bytes, align) {
  const p = __kiln_align(__kiln.sp, align);
  if (p + bytes > __kiln.stackEnd) {
    throw new RangeError("kiln: stack overflow allocating " + bytes + " bytes");
  }
  __kiln.sp = p + bytes;
  return p;
}

function kiln_malloc(ctx, size) {
  const p = __kiln_align(__kiln.brk, 64);
  if (size < 0 || p + size > __kiln.limit) {
    return 0;
  }
  __kiln.brk = p + size;
  __kiln.live++;
  return p;
}

function kiln_free(ctx, p) {
  if (p !== 0) {
    __kiln.live--;
  }
}

function kiln_error(ctx, msg) { __kiln.errors.push(String(msg)); }

function kiln_print(ctx, msg) { __kiln.output.push(String(msg)); }

function kiln_memcpy(dst, src, n) {
  __kiln.u8.copyWithin(dst, src, src + n);
  return dst;
}

function kiln_trace(ctx, event) {
  __kiln.traces.push(event);
  return __kiln.traces.length;
}

function kiln_do_par_for(ctx, fn, min, extent, closure) {
  for (let i = min; i < min + extent; i++) {
    const status = fn(ctx, i, closure);
    if (status !== 0) {
      return status;
    }
  }
  return 0;
}

function __kiln_double_string(v, scientific) {
  if (Number.isNaN(v)) return "nan";
  if (v === Infinity) return "inf";
  if (v === -Infinity) return "-inf";
  if (!scientific) return v.toFixed(6);
  return v.toExponential(6).replace(/e([+-])(\d)$/, function (_, sign, d) { return "e" + sign + "0" + d; });
}

function __kiln_pointer_string(p) { return "0x" + p.toString(16); }

function __kiln_ints(p, n) {
  const out = [];
  for (let i = 0; i < n; i++) out.push(__kiln.view.getInt32(p + 4 * i, true));
  return "[" + out.join(" ") + "]";
}

function __kiln_buffer_string(p) {
  const v = __kiln.view;
  return "buffer(0x" + v.getBigUint64(p, true).toString(16) +
    ", 0x" + v.getBigUint64(p + 8, true).toString(16) +
    ", " + v.getInt32(p + 64, true) +
    ", " + (v.getUint8(p + 68) !== 0) + ", " + (v.getUint8(p + 69) !== 0) +
    ", " + __kiln_ints(p + 48, 4) + ", " + __kiln_ints(p + 16, 4) + ", " + __kiln_ints(p + 32, 4) + ")";
}

function __kiln_new_buffer(elemSize, extents) {
  let n = 1;
  for (let d = 0; d < extents.length; d++) n *= extents[d];
  const host = kiln_malloc(null, n * elemSize);
  const p = kiln_malloc(null, 72);
  if (host === 0 || p === 0) {
    throw new RangeError("kiln: out of memory");
  }
  __kiln.u8.fill(0, host, host + n * elemSize);
  __kiln.u8.fill(0, p, p + 72);
  const v = __kiln.view;
  v.setBigUint64(p + 8, BigInt(host), true);
  let stride = 1;
  for (let d = 0; d < extents.length; d++) {
    v.setInt32(p + 16 + 4 * d, extents[d], true);
    v.setInt32(p + 32 + 4 * d, stride, true);
    stride *= extents[d];
  }
  v.setInt32(p + 64, elemSize, true);
  return p;
}

function __kiln_host(p) { return Number(__kiln.view.getBigUint64(p + 8, true)); }
`
