// Package native lowers kiln IR to the register machine of package machine.
//
// Backend implements codegen.Backend over a machine.Builder: every IR
// value becomes a numbered register, structured control flow becomes
// basic blocks joined by phis, and nested functions (parallel closures)
// are emitted as separate functions of the same module. The result can be
// verified, encoded, disassembled or executed by machine.Interpreter.
package native

import (
	"math"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
)

type opFlags struct {
	op    machine.Opcode
	flags machine.Flags
}

var binaryOps = map[codegen.Op]opFlags{
	codegen.OpAdd:    {machine.OpAdd, 0},
	codegen.OpAddNSW: {machine.OpAdd, machine.FlagNSW},
	codegen.OpSub:    {machine.OpSub, 0},
	codegen.OpSubNSW: {machine.OpSub, machine.FlagNSW},
	codegen.OpMul:    {machine.OpMul, 0},
	codegen.OpMulNSW: {machine.OpMul, machine.FlagNSW},
	codegen.OpSDiv:   {machine.OpSDiv, 0},
	codegen.OpUDiv:   {machine.OpUDiv, 0},
	codegen.OpSRem:   {machine.OpSRem, 0},
	codegen.OpURem:   {machine.OpURem, 0},
	codegen.OpFAdd:   {machine.OpFAdd, 0},
	codegen.OpFSub:   {machine.OpFSub, 0},
	codegen.OpFMul:   {machine.OpFMul, 0},
	codegen.OpFDiv:   {machine.OpFDiv, 0},
	codegen.OpAnd:    {machine.OpAnd, 0},
	codegen.OpOr:     {machine.OpOr, 0},
	codegen.OpXor:    {machine.OpXor, 0},
	codegen.OpShl:    {machine.OpShl, 0},
	codegen.OpAShr:   {machine.OpAShr, 0},
	codegen.OpLShr:   {machine.OpLShr, 0},
}

var preds = map[codegen.Pred]machine.Pred{
	codegen.PredEQ:  machine.PredEQ,
	codegen.PredNE:  machine.PredNE,
	codegen.PredSLT: machine.PredSLT,
	codegen.PredSLE: machine.PredSLE,
	codegen.PredSGT: machine.PredSGT,
	codegen.PredSGE: machine.PredSGE,
	codegen.PredULT: machine.PredULT,
	codegen.PredULE: machine.PredULE,
	codegen.PredUGT: machine.PredUGT,
	codegen.PredUGE: machine.PredUGE,
	codegen.PredOEQ: machine.PredOEQ,
	codegen.PredUNE: machine.PredUNE,
	codegen.PredOLT: machine.PredOLT,
	codegen.PredOLE: machine.PredOLE,
	codegen.PredOGT: machine.PredOGT,
	codegen.PredOGE: machine.PredOGE,
}

var convs = map[codegen.Conv]machine.Opcode{
	codegen.ConvSExt:     machine.OpSExt,
	codegen.ConvZExt:     machine.OpZExt,
	codegen.ConvTrunc:    machine.OpTrunc,
	codegen.ConvFPExt:    machine.OpFPExt,
	codegen.ConvFPTrunc:  machine.OpFPTrunc,
	codegen.ConvFPToSI:   machine.OpFPToSI,
	codegen.ConvFPToUI:   machine.OpFPToUI,
	codegen.ConvSIToFP:   machine.OpSIToFP,
	codegen.ConvUIToFP:   machine.OpUIToFP,
	codegen.ConvPtrToInt: machine.OpPtrToInt,
	codegen.ConvIntToPtr: machine.OpIntToPtr,
	codegen.ConvBitcast:  machine.OpBitcast,
}

// Backend emits machine code for one module.
type Backend struct {
	b       *machine.Builder
	target  codegen.Target
	externs map[string]bool
}

// New returns a backend writing module name for target. externs names the
// functions the runtime provides beyond the fixed runtime contract, such
// as vector math.
func New(name string, target codegen.Target, externs []string) *Backend {
	set := make(map[string]bool, len(externs))
	for _, e := range externs {
		set[e] = true
	}
	return &Backend{b: machine.NewBuilder(name), target: target, externs: set}
}

// Builder returns the underlying builder.
func (n *Backend) Builder() *machine.Builder { return n.b }

// Module returns the module emitted so far.
func (n *Backend) Module() *machine.Module { return n.b.Module() }

// Target returns the target the backend emits for.
func (n *Backend) Target() codegen.Target { return n.target }

func (n *Backend) TypeOf(v machine.Value) ir.Type { return v.T }

func (n *Backend) IntConst(t ir.Type, v int64) machine.Value {
	return n.b.Const(t, uint64(v))
}

func (n *Backend) FloatConst(t ir.Type, v float64) machine.Value {
	if t.Bits == 32 {
		return n.b.Const(t, uint64(math.Float32bits(float32(v))))
	}
	return n.b.Const(t, math.Float64bits(v))
}

func (n *Backend) StringConst(s string) machine.Value { return n.b.String(s) }

func (n *Backend) NullHandle() machine.Value { return n.b.Const(ir.HandleType(), 0) }

func (n *Backend) Undef(t ir.Type) machine.Value { return n.b.Undef(t) }

func (n *Backend) Binary(op codegen.Op, a, b machine.Value) machine.Value {
	m, ok := binaryOps[op]
	if !ok {
		codegen.Raise(codegen.ErrInternal, nil, "native: no opcode for %s", op)
	}
	return n.b.Binary(m.op, m.flags, a, b)
}

func (n *Backend) Compare(p codegen.Pred, a, b machine.Value) machine.Value {
	return n.b.Cmp(preds[p], a, b)
}

func (n *Backend) Convert(c codegen.Conv, to ir.Type, v machine.Value) machine.Value {
	op, ok := convs[c]
	if !ok {
		codegen.Raise(codegen.ErrInternal, nil, "native: no opcode for %s", c)
	}
	return n.b.Convert(op, to, v)
}

func (n *Backend) Select(cond, a, b machine.Value) machine.Value {
	return n.b.Select(cond, a, b)
}

func (n *Backend) Shuffle(a, b machine.Value, indices []int) machine.Value {
	return n.b.Shuffle(a, b, indices)
}

func (n *Backend) ExtractElement(v machine.Value, i int) machine.Value {
	return n.b.Extract(v, i)
}

func (n *Backend) InsertElement(vec, elem machine.Value, i int) machine.Value {
	return n.b.Insert(vec, elem, i)
}

func (n *Backend) Load(t ir.Type, ptr machine.Value, align int) machine.Value {
	return n.b.Load(t, ptr, align)
}

func (n *Backend) Store(v, ptr machine.Value, align int, atomic bool) {
	var flags machine.Flags
	if atomic {
		flags = machine.FlagAtomic
	}
	n.b.Store(v, ptr, align, flags)
}

func (n *Backend) ElementPtr(elem ir.Type, base, index machine.Value) machine.Value {
	return n.b.ElementPtr(elem.Bytes(), base, index)
}

func (n *Backend) Alloca(bytes, align int) machine.Value {
	return n.b.Alloca(bytes, align)
}

func (n *Backend) Memcpy(dst, src, bytes machine.Value) {
	n.b.Memcpy(dst, src, bytes)
}

// If branches to then and, when present, els, joining at a merge block.
// A branch that already returned does not jump to the merge.
func (n *Backend) If(cond machine.Value, then, els func()) {
	b := n.b
	thenBlk := b.NewBlock("then")
	elseBlk := -1
	if els != nil {
		elseBlk = b.NewBlock("else")
	}
	merge := b.NewBlock("merge")
	if elseBlk < 0 {
		b.CondBr(cond, thenBlk, merge)
	} else {
		b.CondBr(cond, thenBlk, elseBlk)
	}

	b.SetBlock(thenBlk)
	then()
	if !b.Terminated() {
		b.Br(merge)
	}
	if els != nil {
		b.SetBlock(elseBlk)
		els()
		if !b.Terminated() {
			b.Br(merge)
		}
	}
	b.SetBlock(merge)
}

// IfValue evaluates only the taken arm and joins the results with a phi.
func (n *Backend) IfValue(cond machine.Value, t ir.Type, then, els func() machine.Value) machine.Value {
	b := n.b
	thenBlk := b.NewBlock("then")
	elseBlk := b.NewBlock("else")
	merge := b.NewBlock("merge")
	b.CondBr(cond, thenBlk, elseBlk)

	type arm struct {
		v    machine.Value
		from int
	}
	var arms []arm
	for _, c := range []struct {
		blk int
		f   func() machine.Value
	}{{thenBlk, then}, {elseBlk, els}} {
		b.SetBlock(c.blk)
		v := c.f()
		if !b.Terminated() {
			arms = append(arms, arm{v, b.Block()})
			b.Br(merge)
		}
	}

	b.SetBlock(merge)
	phi := b.Phi(t)
	for _, a := range arms {
		b.AddIncoming(phi, a.v, a.from)
	}
	return phi.Value
}

// For emits a rotated loop over [min, min+extent). The entry test skips
// the body entirely when extent is not positive; the latch tests the
// incremented counter against the bound computed once on entry.
func (n *Backend) For(name string, min, extent machine.Value, body func(i machine.Value)) {
	b := n.b
	bound := b.Binary(machine.OpAdd, 0, min, extent)
	pre := b.Block()
	header := b.NewBlock(name + ".loop")
	exit := b.NewBlock(name + ".exit")
	b.CondBr(b.Cmp(machine.PredSLT, min, bound), header, exit)

	b.SetBlock(header)
	i := b.Phi(min.T)
	b.AddIncoming(i, min, pre)
	body(i.Value)
	if !b.Terminated() {
		next := b.Binary(machine.OpAdd, machine.FlagNSW, i.Value, b.Const(min.T, 1))
		b.AddIncoming(i, next, b.Block())
		b.CondBr(b.Cmp(machine.PredSLT, next, bound), header, exit)
	}
	b.SetBlock(exit)
}

func (n *Backend) Return(status machine.Value) { n.b.Ret(status) }

func (n *Backend) Function(sig codegen.Signature, body func(params []machine.Value)) {
	params := make([]machine.Param, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = machine.Param{Name: p.Name, T: p.Type}
	}
	vals := n.b.BeginFunction(sig.Name, params, sig.Ret, sig.Closure)
	body(vals)
	n.b.EndFunction()
}

func (n *Backend) Comment(text string) { n.b.Comment(text) }

func (n *Backend) Call(name string, ret ir.Type, args []machine.Value) machine.Value {
	return n.b.Call(name, ret, args...)
}

func (n *Backend) FuncAddr(name string) machine.Value { return n.b.FuncAddr(name) }

func (n *Backend) HasExtern(name string) bool { return n.externs[name] }

// Intrinsic lowers the bit counts to single instructions when the target
// has them, float abs and floor always, and prefetch to a hint.
func (n *Backend) Intrinsic(name string, t ir.Type, args []machine.Value) (machine.Value, bool) {
	b := n.b
	switch name {
	case "popcount", "count_leading_zeros", "count_trailing_zeros":
		if !n.target.Has(codegen.FeatureBitOps) {
			return machine.Value{}, false
		}
		op := map[string]machine.Opcode{
			"popcount":             machine.OpPopcount,
			"count_leading_zeros":  machine.OpClz,
			"count_trailing_zeros": machine.OpCtz,
		}[name]
		return b.Unary(op, t, args[0]), true
	case "abs":
		if !t.IsFloat() {
			return machine.Value{}, false
		}
		return b.Unary(machine.OpFAbs, t, args[0]), true
	case "floor":
		return b.Unary(machine.OpFloor, t, args[0]), true
	case "prefetch":
		if len(args) == 0 || !args[0].T.IsHandle() {
			return machine.Value{}, false
		}
		b.Prefetch(args[0])
		if t.IsVoid() {
			return b.Const(ir.I32, 0), true
		}
		return b.Const(t, 0), true
	}
	return machine.Value{}, false
}

var (
	_ codegen.Backend[machine.Value]          = (*Backend)(nil)
	_ codegen.NativeIntrinsics[machine.Value] = (*Backend)(nil)
)
