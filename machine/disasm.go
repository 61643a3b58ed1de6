package machine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/kiln/ir"
)

// String disassembles m.
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; module %s\n", m.Name)
	for _, f := range m.Functions {
		sb.WriteByte('\n')
		f.write(&sb)
	}
	return sb.String()
}

// String disassembles f.
func (f *Function) String() string {
	var sb strings.Builder
	f.write(&sb)
	return sb.String()
}

func (f *Function) write(sb *strings.Builder) {
	kind := "func"
	if f.Closure {
		kind = "closure"
	}
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s %%%d %q", p.T, p.ID, p.Name)
	}
	fmt.Fprintf(sb, "%s @%s(%s) -> %s {\n", kind, f.Name, strings.Join(params, ", "), f.Ret)
	for i, blk := range f.Blocks {
		fmt.Fprintf(sb, "b%d %s:\n", i, blk.Name)
		for k := range blk.Insts {
			sb.WriteString("  ")
			sb.WriteString(f.format(&blk.Insts[k]))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
}

func operands(args []uint32) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = "%" + strconv.Itoa(int(a))
	}
	return strings.Join(parts, ", ")
}

func (f *Function) constant(t ir.Type, imm []uint64) string {
	parts := make([]string, len(imm))
	for i, x := range imm {
		switch {
		case t.IsFloat():
			parts[i] = strconv.FormatFloat(toFloat(t, x), 'g', -1, t.Bits)
		case t.IsInt():
			parts[i] = strconv.FormatInt(sext(x, t.Bits), 10)
		case t.IsHandle():
			parts[i] = fmt.Sprintf("%#x", x)
		default:
			parts[i] = strconv.FormatUint(x, 10)
		}
	}
	if len(parts) > 1 {
		allSame := true
		for _, p := range parts[1:] {
			allSame = allSame && p == parts[0]
		}
		if allSame {
			return "splat " + parts[0]
		}
		return "<" + strings.Join(parts, ", ") + ">"
	}
	return strings.Join(parts, "")
}

func (f *Function) format(in *Instruction) string {
	var rhs string
	switch op := in.Op; {
	case op == OpConst:
		rhs = fmt.Sprintf("const %s %s", in.T, f.constant(in.T, in.Imm))
	case op == OpString:
		rhs = fmt.Sprintf("string %q", in.Name)
	case op == OpCmp:
		rhs = fmt.Sprintf("cmp %s %s %s", in.Pred, f.TypeOf(in.Args[0]), operands(in.Args))
	case op.IsBinary():
		name := op.String()
		if in.Flags&FlagNSW != 0 {
			name += ".nsw"
		}
		rhs = fmt.Sprintf("%s %s %s", name, in.T, operands(in.Args))
	case op.IsConversion():
		rhs = fmt.Sprintf("%s %s %s to %s", op, f.TypeOf(in.Args[0]), operands(in.Args), in.T)
	case op == OpShuffle:
		idx := make([]string, len(in.Imm))
		for i, x := range in.Imm {
			idx[i] = strconv.Itoa(int(int64(x)))
		}
		rhs = fmt.Sprintf("shuffle %s %s [%s]", in.T, operands(in.Args), strings.Join(idx, " "))
	case op == OpExtract, op == OpInsert:
		rhs = fmt.Sprintf("%s %s %s, %d", op, in.T, operands(in.Args), in.Imm[0])
	case op == OpVDeal:
		parity := "even"
		if in.Imm[0] != 0 {
			parity = "odd"
		}
		rhs = fmt.Sprintf("%s %s %s, %s", op, in.T, operands(in.Args), parity)
	case op == OpLoad:
		rhs = fmt.Sprintf("load %s %s, align %d", in.T, operands(in.Args), in.Align)
	case op == OpStore:
		name := "store"
		if in.Flags&FlagAtomic != 0 {
			name = "store.atomic"
		}
		rhs = fmt.Sprintf("%s %s %s, align %d", name, in.T, operands(in.Args), in.Align)
	case op == OpElementPtr:
		rhs = fmt.Sprintf("elementptr %s, scale %d", operands(in.Args), in.Imm[0])
	case op == OpAlloca:
		rhs = fmt.Sprintf("alloca %d, align %d", in.Imm[0], in.Align)
	case op == OpCall:
		rhs = fmt.Sprintf("call %s @%s(%s)", in.T, in.Name, operands(in.Args))
	case op == OpFuncAddr:
		rhs = fmt.Sprintf("funcaddr @%s", in.Name)
	case op == OpBr:
		rhs = fmt.Sprintf("br b%d", in.Targets[0])
	case op == OpCondBr:
		rhs = fmt.Sprintf("condbr %s, b%d, b%d", operands(in.Args), in.Targets[0], in.Targets[1])
	case op == OpPhi:
		parts := make([]string, len(in.Args))
		for i := range in.Args {
			parts[i] = fmt.Sprintf("[%%%d, b%d]", in.Args[i], in.Targets[i])
		}
		rhs = fmt.Sprintf("phi %s %s", in.T, strings.Join(parts, ", "))
	case op == OpRet:
		rhs = strings.TrimSpace("ret " + operands(in.Args))
	case op == OpComment:
		return "; " + in.Name
	case in.T.IsVoid():
		rhs = fmt.Sprintf("%s %s", op, operands(in.Args))
	default:
		rhs = strings.TrimSpace(fmt.Sprintf("%s %s %s", op, in.T, operands(in.Args)))
	}
	if in.Result != 0 {
		return fmt.Sprintf("%%%d = %s", in.Result, rhs)
	}
	return rhs
}
