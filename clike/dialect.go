// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package clike

import (
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/textgen"
)

// Dialect formats C99 with the GCC/Clang builtins.
type Dialect struct{}

var keywords = map[string]bool{}

func init() {
	for _, k := range strings.Fields(`auto break case char const continue default do double
		else enum extern float for goto if inline int long register restrict return short
		signed sizeof static struct switch typedef union unsigned void volatile while
		_Alignas _Alignof _Atomic _Bool _Complex _Generic _Imaginary _Noreturn
		_Static_assert _Thread_local bool true false NULL buffer_t memcpy main`) {
		keywords[k] = true
	}
	for _, f := range libm {
		keywords[f.fn] = true
		keywords[f.fn+"f"] = true
	}
}

func (Dialect) Name() string { return "c" }

func (Dialect) Tab() string { return "    " }

func (Dialect) Reserved(id string) bool {
	return keywords[id] || strings.HasPrefix(id, "kiln_") || mathFunc(id)
}

func (Dialect) HasExtern(name string) bool { return mathFunc(name) }

func (Dialect) IntLiteral(t ir.Type, bits uint64) string {
	switch {
	case t.IsBool():
		return fmt.Sprint(bits & 1)
	case t.IsInt() && t.Bits == 64:
		v := int64(bits)
		if v == math.MinInt64 {
			return "(-INT64_C(9223372036854775807) - 1)"
		}
		return fmt.Sprintf("INT64_C(%d)", v)
	case t.IsInt():
		v := int64(bits)
		switch {
		case v == math.MinInt32:
			return "(-2147483647 - 1)"
		case v < 0:
			return fmt.Sprintf("(%d)", v)
		}
		return fmt.Sprint(v)
	case t.Bits == 64:
		return fmt.Sprintf("UINT64_C(%d)", bits)
	case t.Bits == 32:
		return fmt.Sprintf("%du", bits)
	}
	return fmt.Sprint(bits)
}

func (Dialect) FloatLiteral(t ir.Type, v float64) string {
	sfx := suffix(t)
	switch {
	case math.IsNaN(v):
		return "_kiln_nan_" + sfx
	case math.IsInf(v, 1):
		return "_kiln_inf_" + sfx
	case math.IsInf(v, -1):
		return "(-_kiln_inf_" + sfx + ")"
	}
	s := textgen.FloatText(t, v)
	if t.Bits == 32 {
		s += "f"
	}
	if strings.HasPrefix(s, "-") {
		s = "(" + s + ")"
	}
	return s
}

// StringLiteral escapes everything outside printable ASCII in octal.
func (Dialect) StringLiteral(s string) string {
	var sb strings.Builder
	sb.WriteString(`(void *)"`)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '?':
			// Keeps trigraphs from forming.
			sb.WriteString(`\?`)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, `\%03o`, c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (Dialect) NullHandle() string { return "NULL" }

var binarySymbols = map[codegen.Op]string{
	codegen.OpAdd: "+", codegen.OpAddNSW: "+",
	codegen.OpSub: "-", codegen.OpSubNSW: "-",
	codegen.OpMul: "*", codegen.OpMulNSW: "*",
	codegen.OpFAdd: "+", codegen.OpFSub: "-", codegen.OpFMul: "*", codegen.OpFDiv: "/",
	codegen.OpAnd: "&", codegen.OpOr: "|", codegen.OpXor: "^",
}

func (Dialect) Binary(op codegen.Op, t ir.Type, a, b string) string {
	T, W := ctype(t), wideType(t)
	bits := storageBits(t)
	switch op {
	case codegen.OpFAdd, codegen.OpFSub, codegen.OpFMul, codegen.OpFDiv:
		return fmt.Sprintf("%s %s %s", a, binarySymbols[op], b)
	case codegen.OpAddNSW, codegen.OpSubNSW, codegen.OpMulNSW:
		if t.IsInt() && t.Bits >= 32 {
			return fmt.Sprintf("%s %s %s", a, binarySymbols[op], b)
		}
		fallthrough
	case codegen.OpAdd, codegen.OpSub, codegen.OpMul:
		return fmt.Sprintf("(%s)((%s)%s %s (%s)%s)", T, W, a, binarySymbols[op], W, b)
	case codegen.OpAnd, codegen.OpOr, codegen.OpXor:
		return fmt.Sprintf("(%s)(%s %s %s)", T, a, binarySymbols[op], b)
	case codegen.OpSDiv:
		return fmt.Sprintf("_kiln_sdiv_%s(%s, %s)", suffix(ir.IntType(bits)), a, b)
	case codegen.OpSRem:
		return fmt.Sprintf("_kiln_srem_%s(%s, %s)", suffix(ir.IntType(bits)), a, b)
	case codegen.OpUDiv:
		return fmt.Sprintf("(%s)(%s == 0 ? 0 : (%s)%s / (%s)%s)", T, b, unsignedType(t), a, unsignedType(t), b)
	case codegen.OpURem:
		return fmt.Sprintf("(%s)(%s == 0 ? 0 : (%s)%s %% (%s)%s)", T, b, unsignedType(t), a, unsignedType(t), b)
	case codegen.OpShl:
		return fmt.Sprintf("((%s)%s >= %d ? (%s)0 : (%s)((%s)%s << %s))", W, b, bits, T, T, W, a, b)
	case codegen.OpAShr:
		S := signedType(t)
		return fmt.Sprintf("((%s)%s >= %d ? (%s)((%s)%s < 0 ? -1 : 0) : (%s)((%s)%s >> %s))",
			W, b, bits, T, S, a, T, S, a, b)
	case codegen.OpLShr:
		return fmt.Sprintf("((%s)%s >= %d ? (%s)0 : (%s)((%s)%s >> %s))", W, b, bits, T, T, unsignedType(t), a, b)
	}
	codegen.Raise(codegen.ErrInternal, nil, "c: binary %s", op)
	return ""
}

var compareSymbols = map[codegen.Pred]string{
	codegen.PredEQ: "==", codegen.PredNE: "!=",
	codegen.PredSLT: "<", codegen.PredSLE: "<=", codegen.PredSGT: ">", codegen.PredSGE: ">=",
	codegen.PredULT: "<", codegen.PredULE: "<=", codegen.PredUGT: ">", codegen.PredUGE: ">=",
	codegen.PredOEQ: "==", codegen.PredUNE: "!=",
	codegen.PredOLT: "<", codegen.PredOLE: "<=", codegen.PredOGT: ">", codegen.PredOGE: ">=",
}

func (Dialect) Compare(p codegen.Pred, t ir.Type, a, b string) string {
	sym := compareSymbols[p]
	switch p {
	case codegen.PredSLT, codegen.PredSLE, codegen.PredSGT, codegen.PredSGE:
		if !t.IsInt() {
			S := signedType(t)
			return fmt.Sprintf("((%s)%s %s (%s)%s)", S, a, sym, S, b)
		}
	case codegen.PredULT, codegen.PredULE, codegen.PredUGT, codegen.PredUGE:
		U := unsignedType(t)
		return fmt.Sprintf("((%s)%s %s (%s)%s)", U, a, sym, U, b)
	}
	return fmt.Sprintf("(%s %s %s)", a, sym, b)
}

func (Dialect) Convert(c codegen.Conv, from, to ir.Type, v string) string {
	T := ctype(to)
	switch {
	case to.IsBool() && from.IsFloat():
		return fmt.Sprintf("(uint8_t)(%s != 0)", v)
	case to.IsBool():
		return fmt.Sprintf("(uint8_t)(%s & 1)", v)
	case from.IsBool() && c == codegen.ConvSExt:
		return fmt.Sprintf("(%s)-(%s)%s", T, signedType(to), v)
	}
	switch c {
	case codegen.ConvSExt, codegen.ConvSIToFP:
		return fmt.Sprintf("(%s)(%s)%s", T, signedType(from), v)
	case codegen.ConvZExt, codegen.ConvUIToFP:
		return fmt.Sprintf("(%s)(%s)%s", T, unsignedType(from), v)
	case codegen.ConvPtrToInt:
		return fmt.Sprintf("(%s)(uintptr_t)%s", T, v)
	case codegen.ConvIntToPtr:
		return fmt.Sprintf("(void *)(uintptr_t)%s", v)
	case codegen.ConvBitcast:
		switch {
		case from.IsFloat() && !to.IsFloat():
			return fmt.Sprintf("(%s)_kiln_%s_bits(%s)", T, suffix(from), v)
		case !from.IsFloat() && to.IsFloat():
			return fmt.Sprintf("_kiln_bits_%s((uint%d_t)%s)", suffix(to), to.Bits, v)
		case from.IsHandle() != to.IsHandle():
			if to.IsHandle() {
				return fmt.Sprintf("(void *)(uintptr_t)%s", v)
			}
			return fmt.Sprintf("(%s)(uintptr_t)%s", T, v)
		}
	}
	return fmt.Sprintf("(%s)%s", T, v)
}

func (Dialect) Select(_ ir.Type, cond, a, b string) string {
	return fmt.Sprintf("(%s ? %s : %s)", cond, a, b)
}

func (Dialect) Intrinsic(name string, t, arg ir.Type, args []string) (string, bool) {
	T := ctype(t)
	x := args[0]
	switch name {
	case "popcount":
		if !arg.IsIntegral() {
			return "", false
		}
		return fmt.Sprintf("(%s)__builtin_popcountll((uint64_t)(%s)%s)", T, unsignedType(arg), x), true
	case "count_leading_zeros":
		if !arg.IsIntegral() {
			return "", false
		}
		bits := storageBits(arg)
		return fmt.Sprintf("(%s)(%s == 0 ? %d : __builtin_clzll((uint64_t)(%s)%s) - %d)",
			T, x, bits, unsignedType(arg), x, 64-bits), true
	case "count_trailing_zeros":
		if !arg.IsIntegral() {
			return "", false
		}
		return fmt.Sprintf("(%s)(%s == 0 ? %d : __builtin_ctzll((uint64_t)(%s)%s))",
			T, x, storageBits(arg), unsignedType(arg), x), true
	case "abs", "floor":
		if !t.IsFloat() {
			return "", false
		}
		f := map[string]string{"abs": "fabs", "floor": "floor"}[name]
		if t.Bits == 32 {
			f += "f"
		}
		return fmt.Sprintf("%s(%s)", f, x), true
	case "min", "max":
		if arg.IsHandle() {
			return "", false
		}
		return fmt.Sprintf("_kiln_%s_%s(%s, %s)", name, suffix(arg), x, args[1]), true
	case "mod":
		if !arg.IsInt() {
			return "", false
		}
		return fmt.Sprintf("_kiln_mod_%s(%s, %s)", suffix(arg), x, args[1]), true
	case "rewrite_buffer":
		return fmt.Sprintf("_kiln_rewrite_buffer(%s)", strings.Join(args, ", ")), true
	}
	return "", false
}

// direct reports whether an access of t at align may dereference the
// pointer instead of going through memcpy.
func direct(t ir.Type, align int) bool {
	return align >= storageBits(t)/8
}

func (Dialect) Load(t ir.Type, ptr string, align int) string {
	if direct(t, align) {
		return fmt.Sprintf("*(%s)%s", declare(ctype(t), "*"), ptr)
	}
	return fmt.Sprintf("_kiln_load_%s(%s)", suffix(t), ptr)
}

func (Dialect) Store(t ir.Type, ptr, v string, align int, atomic bool) string {
	pt := declare(ctype(t), "*")
	switch {
	case atomic:
		return fmt.Sprintf("__atomic_store_n((%s)%s, %s, __ATOMIC_SEQ_CST);", pt, ptr, v)
	case direct(t, align):
		return fmt.Sprintf("*(%s)%s = %s;", pt, ptr, v)
	}
	return fmt.Sprintf("_kiln_store_%s(%s, %s);", suffix(t), ptr, v)
}

func (Dialect) Offset(ptr string, bytes int) string {
	return fmt.Sprintf("(void *)((uint8_t *)%s + %d)", ptr, bytes)
}

func (Dialect) ElementPtr(base, index string, elemBytes int) string {
	return fmt.Sprintf("(void *)((uint8_t *)%s + (ptrdiff_t)%s * %d)", base, index, elemBytes)
}

func (Dialect) Alloca(name string, bytes, align int) ([]string, string) {
	return []string{fmt.Sprintf("_Alignas(%d) uint8_t %s[%d];", align, name, max(bytes, 1))},
		"(void *)" + name
}

func (Dialect) Memcpy(dst, src, n string) string {
	return fmt.Sprintf("memcpy(%s, %s, (size_t)%s);", dst, src, n)
}

func (Dialect) Declare(t ir.Type, name, expr string) string {
	if expr == "" {
		return declare(ctype(t), name) + ";"
	}
	return declare(ctype(t), name) + " = " + expr + ";"
}

func (Dialect) Assign(name, expr string) string { return name + " = " + expr + ";" }

func (Dialect) If(cond string) string { return "if (" + cond + ") {" }

func (Dialect) Else() string { return "} else {" }

func (Dialect) End() string { return "}" }

func (Dialect) For(i, min, end string) string {
	return fmt.Sprintf("for (int32_t %s = %s; %s < %s; %s++) {", i, min, i, end, i)
}

func (Dialect) FunctionBegin(sig codegen.Signature, params []string) []string {
	decls := make([]string, len(params))
	for i, p := range sig.Params {
		decls[i] = declare(ctype(p.Type), params[i])
	}
	list := strings.Join(decls, ", ")
	if list == "" {
		list = "void"
	}
	head := fmt.Sprintf("%s(%s) {", declare(ctype(sig.Ret), sig.Name), list)
	if sig.Closure {
		head = "static " + head
	}
	return []string{head}
}

func (Dialect) FunctionEnd() []string { return []string{"}"} }

func (Dialect) Return(status string) []string { return []string{"return " + status + ";"} }

func (Dialect) Comment(text string) string {
	return "/* " + strings.ReplaceAll(text, "*/", "* /") + " */"
}

func (Dialect) Call(name string, args []string) string {
	return name + "(" + strings.Join(args, ", ") + ")"
}

func (Dialect) FuncAddr(name string) string { return "(void *)" + name }

var _ textgen.Dialect = Dialect{}
