// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package js

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/textgen"
)

// Dialect formats ECMAScript 2020. Memory is the DataView __kiln.view over
// the runtime's ArrayBuffer and pointers are byte offsets into it.
type Dialect struct{}

var keywords = map[string]bool{}

func init() {
	for _, k := range strings.Fields(`break case catch class const continue debugger default
		delete do else export extends finally for function if import in instanceof new
		return super switch this throw try typeof var void while with yield let static
		enum await implements package protected interface private public null true false
		undefined NaN Infinity arguments eval Math Number BigInt String Object Array
		DataView ArrayBuffer Uint8Array globalThis _sp`) {
		keywords[k] = true
	}
}

func (Dialect) Name() string { return "js" }

func (Dialect) Tab() string { return "  " }

func (Dialect) Reserved(id string) bool {
	return keywords[id] || strings.HasPrefix(id, "kiln_") || mathFunc(id)
}

func (Dialect) HasExtern(name string) bool { return false }

func (Dialect) IntLiteral(t ir.Type, bits uint64) string {
	var s string
	switch {
	case t.IsBool():
		s = strconv.FormatUint(bits&1, 10)
	case t.IsInt():
		v := int64(bits)
		if t.Bits > 32 && (v > 1<<53 || v < -(1<<53)) {
			codegen.Raise(codegen.ErrUnsupported, nil, "js: %s constant %d", t, v)
		}
		s = strconv.FormatInt(v, 10)
	default:
		if t.Bits > 32 && bits > 1<<53 {
			codegen.Raise(codegen.ErrUnsupported, nil, "js: %s constant %d", t, bits)
		}
		s = strconv.FormatUint(bits, 10)
	}
	if strings.HasPrefix(s, "-") {
		s = "(" + s + ")"
	}
	return s
}

// FloatLiteral writes the shortest decimal of v; float32 values are exact
// doubles, so they need no rounding.
func (Dialect) FloatLiteral(t ir.Type, v float64) string {
	var s string
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "(-Infinity)"
	case v == 0 && math.Signbit(v):
		return "(-0)"
	}
	s = strconv.FormatFloat(v, 'g', -1, 64)
	if strings.HasPrefix(s, "-") {
		s = "(" + s + ")"
	}
	return s
}

func (Dialect) StringLiteral(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r >= 0x20 && r < 0x7f:
			sb.WriteRune(r)
		default:
			for _, u := range utf16.Encode([]rune{r}) {
				fmt.Fprintf(&sb, `\u%04x`, u)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (Dialect) NullHandle() string { return "0" }

var symbols = map[codegen.Op]string{
	codegen.OpAdd: "+", codegen.OpAddNSW: "+",
	codegen.OpSub: "-", codegen.OpSubNSW: "-",
	codegen.OpFAdd: "+", codegen.OpFSub: "-", codegen.OpFMul: "*", codegen.OpFDiv: "/",
	codegen.OpAnd: "&", codegen.OpOr: "|", codegen.OpXor: "^",
}

func (Dialect) Binary(op codegen.Op, t ir.Type, a, b string) string {
	switch op {
	case codegen.OpFAdd, codegen.OpFSub, codegen.OpFMul, codegen.OpFDiv:
		return norm(t, fmt.Sprintf("%s %s %s", a, symbols[op], b))
	}
	wide(t)
	bits := width(t)
	switch op {
	case codegen.OpAdd, codegen.OpAddNSW, codegen.OpSub, codegen.OpSubNSW,
		codegen.OpAnd, codegen.OpOr, codegen.OpXor:
		return norm(t, fmt.Sprintf("%s %s %s", a, symbols[op], b))
	case codegen.OpMul, codegen.OpMulNSW:
		return norm(t, fmt.Sprintf("Math.imul(%s, %s)", a, b))
	case codegen.OpSDiv:
		return norm(t, fmt.Sprintf("_kiln_sdiv(%s, %s)", signed(t, a), signed(t, b)))
	case codegen.OpSRem:
		return norm(t, fmt.Sprintf("_kiln_srem(%s, %s)", signed(t, a), signed(t, b)))
	case codegen.OpUDiv:
		return norm(t, fmt.Sprintf("_kiln_udiv(%s, %s)", unsigned(t, a), unsigned(t, b)))
	case codegen.OpURem:
		return norm(t, fmt.Sprintf("_kiln_urem(%s, %s)", unsigned(t, a), unsigned(t, b)))
	case codegen.OpShl:
		return fmt.Sprintf("(%s >= %d ? 0 : %s)", unsigned(t, b), bits, norm(t, a+" << "+b))
	case codegen.OpAShr:
		sa := signed(t, a)
		return norm(t, fmt.Sprintf("(%s >= %d ? (%s < 0 ? -1 : 0) : %s >> %s)", unsigned(t, b), bits, sa, sa, b))
	case codegen.OpLShr:
		return norm(t, fmt.Sprintf("(%s >= %d ? 0 : %s >>> %s)", unsigned(t, b), bits, unsigned(t, a), b))
	}
	codegen.Raise(codegen.ErrInternal, nil, "js: binary %s", op)
	return ""
}

var comparisons = map[codegen.Pred]string{
	codegen.PredEQ: "===", codegen.PredNE: "!==",
	codegen.PredSLT: "<", codegen.PredSLE: "<=", codegen.PredSGT: ">", codegen.PredSGE: ">=",
	codegen.PredULT: "<", codegen.PredULE: "<=", codegen.PredUGT: ">", codegen.PredUGE: ">=",
	codegen.PredOEQ: "===", codegen.PredUNE: "!==",
	codegen.PredOLT: "<", codegen.PredOLE: "<=", codegen.PredOGT: ">", codegen.PredOGE: ">=",
}

func (Dialect) Compare(p codegen.Pred, t ir.Type, a, b string) string {
	switch p {
	case codegen.PredSLT, codegen.PredSLE, codegen.PredSGT, codegen.PredSGE:
		a, b = signed(t, a), signed(t, b)
	case codegen.PredULT, codegen.PredULE, codegen.PredUGT, codegen.PredUGE:
		a, b = unsigned(t, a), unsigned(t, b)
	}
	return fmt.Sprintf("(%s %s %s ? 1 : 0)", a, comparisons[p], b)
}

func (Dialect) Convert(c codegen.Conv, from, to ir.Type, v string) string {
	switch {
	case to.IsBool() && from.IsFloat():
		return fmt.Sprintf("(%s !== 0 ? 1 : 0)", v)
	case to.IsBool():
		return fmt.Sprintf("(%s & 1)", v)
	}
	switch c {
	case codegen.ConvSExt, codegen.ConvSIToFP:
		return norm(to, signed(from, v))
	case codegen.ConvZExt, codegen.ConvUIToFP:
		return norm(to, unsigned(from, v))
	case codegen.ConvFPToSI, codegen.ConvFPToUI:
		return norm(to, "Math.trunc("+v+")")
	case codegen.ConvPtrToInt:
		return norm(to, v)
	case codegen.ConvIntToPtr:
		return unsigned(from, v)
	case codegen.ConvBitcast:
		switch {
		case from.IsFloat() && to.IsIntegral() && from.Bits == 32:
			return norm(to, "_kiln_f32_bits("+v+")")
		case from.IsIntegral() && to.IsFloat() && to.Bits == 32:
			return "_kiln_bits_f32(" + unsigned(from, v) + ")"
		case from.IsFloat() || to.IsFloat():
			codegen.Raise(codegen.ErrUnsupported, nil, "js: bitcast %s to %s", from, to)
		}
	}
	return norm(to, v)
}

func (Dialect) Select(_ ir.Type, cond, a, b string) string {
	return fmt.Sprintf("(%s ? %s : %s)", cond, a, b)
}

func (Dialect) Intrinsic(name string, t, arg ir.Type, args []string) (string, bool) {
	x := args[0]
	integral := arg.IsIntegral() && !arg.IsBool() && arg.Bits <= 32
	switch name {
	case "popcount":
		if !integral {
			return "", false
		}
		return norm(t, "_kiln_popcount("+unsigned(arg, x)+")"), true
	case "count_leading_zeros":
		if !integral {
			return "", false
		}
		return norm(t, fmt.Sprintf("Math.clz32(%s) - %d", unsigned(arg, x), 32-arg.Bits)), true
	case "count_trailing_zeros":
		if !integral {
			return "", false
		}
		return norm(t, fmt.Sprintf("%s === 0 ? %d : 31 - Math.clz32(%s & -%s)", x, arg.Bits, x, x)), true
	case "abs":
		if !t.IsFloat() {
			return "", false
		}
		return "Math.abs(" + x + ")", true
	case "floor":
		if !t.IsFloat() {
			return "", false
		}
		return "Math.floor(" + x + ")", true
	case "min", "max":
		if !integral && !arg.IsFloat() && !arg.IsBool() {
			return "", false
		}
		return fmt.Sprintf("_kiln_%s(%s, %s)", name, x, args[1]), true
	case "mod":
		if !integral || !arg.IsInt() {
			return "", false
		}
		return norm(t, fmt.Sprintf("_kiln_mod(%s, %s)", x, args[1])), true
	case "rewrite_buffer":
		return fmt.Sprintf("_kiln_rewrite_buffer(%s)", strings.Join(args, ", ")), true
	}
	return "", false
}

var accessors = map[string]string{
	"i8": "Int8", "i16": "Int16", "i32": "Int32",
	"u8": "Uint8", "u16": "Uint16", "u32": "Uint32",
	"f32": "Float32", "f64": "Float64",
}

// accessor names the DataView method suffix for t; 64-bit integers and
// handles travel as BigInts.
func accessor(t ir.Type) (string, bool) {
	switch {
	case t.IsHandle() || t.IsIntegral() && t.Bits == 64 && !t.IsInt():
		return "BigUint64", true
	case t.IsInt() && t.Bits == 64:
		return "BigInt64", true
	case t.IsBool():
		return "Uint8", false
	case t.IsFloat():
		return accessors[fmt.Sprintf("f%d", t.Bits)], false
	case t.IsInt():
		return accessors[fmt.Sprintf("i%d", t.Bits)], false
	}
	return accessors[fmt.Sprintf("u%d", t.Bits)], false
}

func (Dialect) Load(t ir.Type, ptr string, _ int) string {
	name, big := accessor(t)
	if name == "" {
		codegen.Raise(codegen.ErrUnsupported, nil, "js: load of %s", t)
	}
	load := fmt.Sprintf("__kiln.view.get%s(%s, true)", name, ptr)
	switch {
	case big:
		return "Number(" + load + ")"
	case t.IsBool():
		return "(" + load + " & 1)"
	}
	return load
}

func (Dialect) Store(t ir.Type, ptr, v string, _ int, _ bool) string {
	name, big := accessor(t)
	if name == "" {
		codegen.Raise(codegen.ErrUnsupported, nil, "js: store of %s", t)
	}
	if big {
		v = "BigInt(" + v + ")"
	}
	return fmt.Sprintf("__kiln.view.set%s(%s, %s, true);", name, ptr, v)
}

func (Dialect) Offset(ptr string, bytes int) string {
	return fmt.Sprintf("%s + %d", ptr, bytes)
}

func (Dialect) ElementPtr(base, index string, elemBytes int) string {
	return fmt.Sprintf("%s + %s * %d", base, index, elemBytes)
}

func (Dialect) Alloca(name string, bytes, align int) ([]string, string) {
	return []string{fmt.Sprintf("const %s = __kiln_alloca(%d, %d);", name, bytes, align)}, name
}

func (Dialect) Memcpy(dst, src, n string) string {
	return fmt.Sprintf("__kiln.u8.copyWithin(%s, %s, %s + %s);", dst, src, src, n)
}

func (Dialect) Declare(_ ir.Type, name, expr string) string {
	if expr == "" {
		return "let " + name + ";"
	}
	return "const " + name + " = " + expr + ";"
}

func (Dialect) Assign(name, expr string) string { return name + " = " + expr + ";" }

func (Dialect) If(cond string) string { return "if (" + cond + ") {" }

func (Dialect) Else() string { return "} else {" }

func (Dialect) End() string { return "}" }

func (Dialect) For(i, min, end string) string {
	return fmt.Sprintf("for (let %s = %s; %s < %s; %s++) {", i, min, i, end, i)
}

// FunctionBegin records the stack pointer; every return releases the
// function's stack allocations by restoring it.
func (d Dialect) FunctionBegin(sig codegen.Signature, params []string) []string {
	return []string{
		fmt.Sprintf("function %s(%s) {", sig.Name, strings.Join(params, ", ")),
		d.Tab() + "const _sp = __kiln.sp;",
	}
}

func (Dialect) FunctionEnd() []string { return []string{"}"} }

func (Dialect) Return(status string) []string {
	return []string{"__kiln.sp = _sp;", "return " + status + ";"}
}

func (Dialect) Comment(text string) string {
	return "// " + strings.ReplaceAll(text, "\n", " ")
}

func (Dialect) Call(name string, args []string) string {
	return name + "(" + strings.Join(args, ", ") + ")"
}

func (Dialect) FuncAddr(name string) string { return name }

// Stringify concatenates the formatted arguments.
func (Dialect) Stringify(args []textgen.Value) string {
	parts := []string{`""`}
	for _, a := range args {
		v := a.Scalar()
		switch {
		case a.IsString():
			parts = append(parts, v)
		case a.IsBuffer():
			parts = append(parts, "__kiln_buffer_string("+v+")")
		case a.T.IsHandle():
			parts = append(parts, "__kiln_pointer_string("+v+")")
		case a.T.IsFloat():
			scientific := 1
			if a.T.Bits == 32 {
				scientific = 0
			}
			parts = append(parts, fmt.Sprintf("__kiln_double_string(%s, %d)", v, scientific))
		default:
			parts = append(parts, "String("+v+")")
		}
	}
	return strings.Join(parts, " + ")
}

var (
	_ textgen.Dialect     = Dialect{}
	_ textgen.Stringifier = Dialect{}
)
