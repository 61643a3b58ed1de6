package machine

import (
	"fmt"
	"slices"

	"github.com/gogpu/kiln/ir"
)

// Builder builds a Module one function at a time. A function may be begun
// while another is open; the open one resumes when the nested one ends.
type Builder struct {
	mod *Module

	fn    *Function
	block int
	saved []cursor
}

type cursor struct {
	fn    *Function
	block int
}

// PhiRef locates a phi instruction so incoming values can be added once
// the predecessor blocks exist.
type PhiRef struct {
	Value Value
	block int
	index int
}

// NewBuilder creates a builder for a module called name.
func NewBuilder(name string) *Builder {
	return &Builder{mod: &Module{Name: name}}
}

// Module returns the module built so far.
func (b *Builder) Module() *Module {
	return b.mod
}

// BeginFunction starts a function and positions the builder at its entry
// block. It returns the parameter values.
func (b *Builder) BeginFunction(name string, params []Param, ret ir.Type, closure bool) []Value {
	if b.fn != nil {
		b.saved = append(b.saved, cursor{fn: b.fn, block: b.block})
	}
	f := &Function{Name: name, Ret: ret, Closure: closure}
	f.define(0, ir.Void)
	vals := make([]Value, len(params))
	for i, p := range params {
		p.ID = f.Bound()
		f.define(p.ID, p.T)
		f.Params = append(f.Params, p)
		vals[i] = Value{ID: p.ID, T: p.T}
	}
	b.mod.Functions = append(b.mod.Functions, f)
	b.fn = f
	b.block = b.NewBlock("entry")
	return vals
}

// EndFunction finishes the current function and resumes the enclosing one.
func (b *Builder) EndFunction() {
	if b.fn == nil {
		panic("machine: EndFunction without BeginFunction")
	}
	b.fn = nil
	if n := len(b.saved); n > 0 {
		b.fn, b.block = b.saved[n-1].fn, b.saved[n-1].block
		b.saved = b.saved[:n-1]
	}
}

// Function returns the function being built.
func (b *Builder) Function() *Function {
	return b.fn
}

// NewBlock appends an empty block to the current function and returns its
// index. It does not move the builder.
func (b *Builder) NewBlock(name string) int {
	b.fn.Blocks = append(b.fn.Blocks, &Block{Name: name})
	return len(b.fn.Blocks) - 1
}

// SetBlock moves the builder to the end of block i.
func (b *Builder) SetBlock(i int) {
	b.block = i
}

// Block returns the index of the current block.
func (b *Builder) Block() int {
	return b.block
}

// Terminated reports whether the current block already ends with a
// terminator.
func (b *Builder) Terminated() bool {
	return b.fn.Blocks[b.block].Terminated()
}

// Emit appends in to the current block, numbering its result. Code emitted
// after a terminator goes to a fresh unreachable block.
func (b *Builder) Emit(in Instruction) Value {
	if b.Terminated() {
		b.block = b.NewBlock("dead")
	}
	var v Value
	if in.Op.hasResult() && !in.T.IsVoid() {
		in.Result = b.fn.Bound()
		b.fn.define(in.Result, in.T)
		v = Value{ID: in.Result, T: in.T}
	}
	blk := b.fn.Blocks[b.block]
	blk.Insts = append(blk.Insts, in)
	return v
}

func ids(vs ...Value) []uint32 {
	out := make([]uint32, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

// Const emits a constant. lanes holds one raw bit pattern per lane, or a
// single pattern splatted across all lanes.
func (b *Builder) Const(t ir.Type, lanes ...uint64) Value {
	if len(lanes) == 1 && t.Lanes > 1 {
		v := lanes[0]
		lanes = make([]uint64, t.Lanes)
		for i := range lanes {
			lanes[i] = v
		}
	}
	if len(lanes) != t.Lanes {
		panic(fmt.Sprintf("machine: %d constant lanes for %s", len(lanes), t))
	}
	norm := make([]uint64, len(lanes))
	for i, x := range lanes {
		norm[i] = normalize(t, x)
	}
	return b.Emit(Instruction{Op: OpConst, T: t, Imm: norm})
}

// Undef emits a value whose lanes are unspecified.
func (b *Builder) Undef(t ir.Type) Value {
	return b.Emit(Instruction{Op: OpUndef, T: t})
}

// String emits a pointer to a constant NUL-terminated string.
func (b *Builder) String(s string) Value {
	return b.Emit(Instruction{Op: OpString, T: ir.HandleType(), Name: s})
}

// Binary emits a two-operand operation on values of one type.
func (b *Builder) Binary(op Opcode, flags Flags, x, y Value) Value {
	return b.Emit(Instruction{Op: op, T: x.T, Args: ids(x, y), Flags: flags})
}

// Cmp emits a comparison producing a bool with the lanes of x.
func (b *Builder) Cmp(p Pred, x, y Value) Value {
	return b.Emit(Instruction{Op: OpCmp, T: ir.Bool().WithLanes(x.T.Lanes), Args: ids(x, y), Pred: p})
}

// Convert emits a conversion of v to t.
func (b *Builder) Convert(op Opcode, t ir.Type, v Value) Value {
	return b.Emit(Instruction{Op: op, T: t, Args: ids(v)})
}

// Select picks lanes of x where cond holds and lanes of y elsewhere.
func (b *Builder) Select(cond, x, y Value) Value {
	return b.Emit(Instruction{Op: OpSelect, T: x.T, Args: ids(cond, x, y)})
}

// Shuffle picks lanes of the concatenation of x and y. A negative index
// is an undefined lane.
func (b *Builder) Shuffle(x, y Value, indices []int) Value {
	imm := make([]uint64, len(indices))
	for i, k := range indices {
		imm[i] = uint64(int64(k))
	}
	t := x.T.WithLanes(len(indices))
	return b.Emit(Instruction{Op: OpShuffle, T: t, Args: ids(x, y), Imm: imm})
}

// Extract emits lane i of v.
func (b *Builder) Extract(v Value, i int) Value {
	return b.Emit(Instruction{Op: OpExtract, T: v.T.Element(), Args: ids(v), Imm: []uint64{uint64(i)}})
}

// Insert replaces lane i of vec with elem.
func (b *Builder) Insert(vec, elem Value, i int) Value {
	return b.Emit(Instruction{Op: OpInsert, T: vec.T, Args: ids(vec, elem), Imm: []uint64{uint64(i)}})
}

// Load reads a value of type t at ptr.
func (b *Builder) Load(t ir.Type, ptr Value, align int) Value {
	return b.Emit(Instruction{Op: OpLoad, T: t, Args: ids(ptr), Align: align})
}

// Store writes v at ptr.
func (b *Builder) Store(v, ptr Value, align int, flags Flags) {
	b.Emit(Instruction{Op: OpStore, T: v.T, Args: ids(v, ptr), Align: align, Flags: flags})
}

// ElementPtr computes base + index*elemBytes.
func (b *Builder) ElementPtr(elemBytes int, base, index Value) Value {
	return b.Emit(Instruction{Op: OpElementPtr, T: ir.HandleType(), Args: ids(base, index), Imm: []uint64{uint64(elemBytes)}})
}

// Alloca reserves bytes of storage released when the function returns.
// The alloca joins the others at the head of the entry block wherever the
// builder is positioned, so a call reserves it once however many times
// the code using it runs.
func (b *Builder) Alloca(bytes, align int) Value {
	in := Instruction{Op: OpAlloca, T: ir.HandleType(), Imm: []uint64{uint64(bytes)}, Align: align}
	in.Result = b.fn.Bound()
	b.fn.define(in.Result, in.T)
	entry := b.fn.Blocks[0]
	k := 0
	for k < len(entry.Insts) && entry.Insts[k].Op == OpAlloca {
		k++
	}
	entry.Insts = slices.Insert(entry.Insts, k, in)
	return Value{ID: in.Result, T: in.T}
}

// Memcpy copies n bytes from src to dst.
func (b *Builder) Memcpy(dst, src, n Value) {
	b.Emit(Instruction{Op: OpMemcpy, Args: ids(dst, src, n)})
}

// Call emits a call. ret is ir.Void for calls without a result.
func (b *Builder) Call(name string, ret ir.Type, args ...Value) Value {
	return b.Emit(Instruction{Op: OpCall, T: ret, Args: ids(args...), Name: name})
}

// FuncAddr emits the address of the function called name.
func (b *Builder) FuncAddr(name string) Value {
	return b.Emit(Instruction{Op: OpFuncAddr, T: ir.HandleType(), Name: name})
}

// Unary emits a one-operand operation with result type t.
func (b *Builder) Unary(op Opcode, t ir.Type, v Value) Value {
	return b.Emit(Instruction{Op: op, T: t, Args: ids(v)})
}

// Prefetch hints that ptr will be read.
func (b *Builder) Prefetch(ptr Value) {
	b.Emit(Instruction{Op: OpPrefetch, Args: ids(ptr)})
}

// VShuff interleaves the lanes of x and y.
func (b *Builder) VShuff(x, y Value) Value {
	return b.Emit(Instruction{Op: OpVShuff, T: x.T.WithLanes(2 * x.T.Lanes), Args: ids(x, y)})
}

// VDeal takes the even (odd == false) or odd lanes of x and y concatenated.
func (b *Builder) VDeal(x, y Value, odd bool) Value {
	var k uint64
	if odd {
		k = 1
	}
	return b.Emit(Instruction{Op: OpVDeal, T: x.T, Args: ids(x, y), Imm: []uint64{k}})
}

// VAbsDiff emits |x - y| with result type t.
func (b *Builder) VAbsDiff(t ir.Type, x, y Value) Value {
	return b.Emit(Instruction{Op: OpVAbsDiff, T: t, Args: ids(x, y)})
}

// Br ends the current block with a jump to block to.
func (b *Builder) Br(to int) {
	b.Emit(Instruction{Op: OpBr, Targets: []int{to}})
}

// CondBr ends the current block with a two-way branch.
func (b *Builder) CondBr(cond Value, then, els int) {
	b.Emit(Instruction{Op: OpCondBr, Args: ids(cond), Targets: []int{then, els}})
}

// Phi emits a phi of type t at the start of the current block. Incoming
// values are added with AddIncoming.
func (b *Builder) Phi(t ir.Type) PhiRef {
	blk := b.fn.Blocks[b.block]
	n := 0
	for n < len(blk.Insts) && blk.Insts[n].Op == OpPhi {
		n++
	}
	id := b.fn.Bound()
	b.fn.define(id, t)
	in := Instruction{Op: OpPhi, Result: id, T: t}
	blk.Insts = append(blk.Insts, Instruction{})
	copy(blk.Insts[n+1:], blk.Insts[n:])
	blk.Insts[n] = in
	return PhiRef{Value: Value{ID: id, T: t}, block: b.block, index: n}
}

// AddIncoming records that the phi takes v when entered from block from.
func (b *Builder) AddIncoming(phi PhiRef, v Value, from int) {
	in := &b.fn.Blocks[phi.block].Insts[phi.index]
	in.Args = append(in.Args, v.ID)
	in.Targets = append(in.Targets, from)
}

// Ret ends the current block by returning v. A zero v returns nothing.
func (b *Builder) Ret(v Value) {
	in := Instruction{Op: OpRet}
	if v.Valid() {
		in.Args = ids(v)
	}
	b.Emit(in)
}

// Comment records text in the disassembly.
func (b *Builder) Comment(text string) {
	b.Emit(Instruction{Op: OpComment, Name: text})
}
