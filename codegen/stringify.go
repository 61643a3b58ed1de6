package codegen

import (
	"strings"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
)

// isBufferArg reports whether e names a buffer descriptor.
func isBufferArg(e ir.Expr) bool {
	v, ok := e.(ir.Variable)
	return ok && v.T.IsHandle() && strings.HasSuffix(v.Name, ".buffer")
}

// StringifySize returns the bounded buffer size for formatting args: one
// byte for the terminator plus a fixed budget per argument, rounded up to
// 16 and capped at 8 KiB.
func StringifySize(args []ir.Expr) int {
	size := abi.StringBudgetBase
	for _, a := range args {
		t := a.Type()
		switch {
		case isStringImm(a):
			size += len(a.(ir.StringImm).Value)
		case ir.IsIntrinsic(a, "stringify"):
			size += StringifySize(a.(ir.Call).Args) - abi.StringBudgetBase
		case isBufferArg(a):
			size += abi.StringBudgetBuffer
		case t.IsHandle():
			size += abi.StringBudgetHandle
		case t.IsFloat() && t.Bits == 32:
			size += abi.StringBudgetFloat32
		case t.IsFloat():
			size += abi.StringBudgetFloat64
		default:
			size += abi.StringBudgetInt
		}
	}
	return min(alignUp(size, abi.StringBudgetAlign), abi.StringBudgetMax)
}

func isStringImm(e ir.Expr) bool {
	_, ok := e.(ir.StringImm)
	return ok
}

// stringify formats args into a stack buffer through the runtime's
// appenders. Each appender writes at dst, never past end, and returns the
// new end of the string.
func (l *Lowerer[V]) stringify(args []ir.Expr) V {
	for _, a := range args {
		if a.Type().IsVector() {
			fail(ErrUnsupported, "stringify", "", "vector argument %s", ir.ExprString(a))
		}
	}
	vals := l.exprs(args)
	if l.native != nil {
		if v, ok := l.native.Intrinsic("stringify", ir.HandleType(), vals); ok {
			return v
		}
	}

	size := StringifySize(args)
	buf := l.b.Alloca(size, abi.StringBudgetAlign)
	end := l.fieldPtr(buf, size)
	dst := buf
	// An empty string is still terminated.
	l.b.Store(l.b.IntConst(ir.U8, 0), buf, 1, false)
	h := ir.HandleType()
	for i, a := range args {
		v := vals[i]
		t := a.Type()
		switch {
		case isBufferArg(a):
			dst = l.b.Call(abi.FuncBufferToStr, h, []V{dst, end, v})
		case isStringLike(a):
			dst = l.b.Call(abi.FuncStringToStr, h, []V{dst, end, v})
		case t.IsHandle():
			dst = l.b.Call(abi.FuncPointerToStr, h, []V{dst, end, v})
		case t.IsFloat():
			scientific := int64(1)
			if t.Bits == 32 {
				scientific = 0
			}
			f := LowerCast(l.b, ir.F64, v, l.cfg.Target.PointerBits)
			dst = l.b.Call(abi.FuncDoubleToStr, h, []V{dst, end, f, l.b.IntConst(ir.I32, scientific)})
		case t.IsInt():
			x := LowerCast(l.b, ir.I64, v, l.cfg.Target.PointerBits)
			dst = l.b.Call(abi.FuncInt64ToStr, h, []V{dst, end, x, l.b.IntConst(ir.I32, 1)})
		default:
			x := LowerCast(l.b, ir.U64, v, l.cfg.Target.PointerBits)
			dst = l.b.Call(abi.FuncUint64ToStr, h, []V{dst, end, x, l.b.IntConst(ir.I32, 1)})
		}
	}
	return buf
}

// isStringLike reports whether a handle expression yields a string: a
// nested stringify or a string constant.
func isStringLike(e ir.Expr) bool {
	return isStringImm(e) || ir.IsIntrinsic(e, "stringify")
}
