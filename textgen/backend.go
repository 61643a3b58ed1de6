// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package textgen

import (
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
)

type function struct {
	w     *Writer
	head  *Writer
	names *Namer
	next  int
	cse   []map[string]string
}

// Backend emits the source of one module in a dialect.
type Backend struct {
	d      Dialect
	module string

	names   *Namer
	funcs   []string
	fn      *function
	saved   []*function
	defined map[string]bool
	calls   []Extern
	called  map[string]bool
}

// New returns a backend writing module name in dialect d.
func New(name string, d Dialect) *Backend {
	return &Backend{
		d:       d,
		module:  name,
		names:   NewNamer(d.Reserved),
		defined: make(map[string]bool),
		called:  make(map[string]bool),
	}
}

// Dialect returns the dialect the backend writes.
func (b *Backend) Dialect() Dialect { return b.d }

// Source returns the preamble, the extern declarations and every finished
// function.
func (b *Backend) Source() string {
	var sb strings.Builder
	sb.WriteString(b.d.Preamble(b.module))
	var ext []Extern
	for _, e := range b.calls {
		if !b.defined[e.Name] {
			ext = append(ext, e)
		}
	}
	if decl := b.d.Declarations(ext); decl != "" {
		sb.WriteString("\n")
		sb.WriteString(decl)
	}
	for _, f := range b.funcs {
		sb.WriteString("\n")
		sb.WriteString(f)
	}
	return sb.String()
}

func (b *Backend) unsupported(format string, args ...any) {
	codegen.Raise(codegen.ErrUnsupported, nil, "%s: "+format, append([]any{b.d.Name()}, args...)...)
}

func (b *Backend) line(s string) { b.fn.w.Line(s) }

func (b *Backend) push() { b.fn.cse = append(b.fn.cse, make(map[string]string)) }

func (b *Backend) pop() { b.fn.cse = b.fn.cse[:len(b.fn.cse)-1] }

// atom reports whether expr needs no temporary: an identifier or a
// literal, possibly negative.
func atom(expr string) bool {
	return expr != "" && !strings.ContainsAny(expr, " ,")
}

// fresh binds expr to a new temporary.
func (b *Backend) fresh(t ir.Type, expr string) string {
	name := fmt.Sprintf("_%d", b.fn.next)
	b.fn.next++
	b.line(b.d.Declare(t, name, expr))
	return name
}

// let binds the pure expression expr, reusing a temporary that holds the
// same expression in an enclosing scope.
func (b *Backend) let(t ir.Type, expr string) string {
	if atom(expr) {
		return expr
	}
	key := t.String() + "\x00" + expr
	for i := len(b.fn.cse) - 1; i >= 0; i-- {
		if name, ok := b.fn.cse[i][key]; ok {
			return name
		}
	}
	name := b.fresh(t, expr)
	b.fn.cse[len(b.fn.cse)-1][key] = name
	return name
}

func splat(t ir.Type, lane string) Value {
	lanes := make([]string, t.Lanes)
	for i := range lanes {
		lanes[i] = lane
	}
	return Value{T: t, Lanes: lanes}
}

func (b *Backend) lanewise(t ir.Type, n int, f func(i int) string) Value {
	lanes := make([]string, n)
	for i := range lanes {
		lanes[i] = b.let(t.Element(), f(i))
	}
	return Value{T: t, Lanes: lanes}
}

func (b *Backend) TypeOf(v Value) ir.Type { return v.T }

func (b *Backend) IntConst(t ir.Type, v int64) Value {
	e := t.Element()
	bits := uint64(v)
	if e.Bits < 64 {
		s := 64 - uint(e.Bits)
		if e.IsInt() {
			bits = uint64(v<<s>>s)
		} else {
			bits = bits << s >> s
		}
	}
	return splat(t, b.d.IntLiteral(e, bits))
}

func (b *Backend) FloatConst(t ir.Type, v float64) Value {
	if t.Bits == 32 {
		v = float64(float32(v))
	}
	return splat(t, b.d.FloatLiteral(t.Element(), v))
}

func (b *Backend) StringConst(s string) Value {
	return Value{T: ir.HandleType(), Lanes: []string{b.d.StringLiteral(s)}, kind: stringValue}
}

func (b *Backend) NullHandle() Value { return splat(ir.HandleType(), b.d.NullHandle()) }

func (b *Backend) zeroLane(e ir.Type) string {
	switch {
	case e.IsHandle():
		return b.d.NullHandle()
	case e.IsFloat():
		return b.d.FloatLiteral(e, 0)
	}
	return b.d.IntLiteral(e, 0)
}

// Undef is zero: every lane must still be a valid expression.
func (b *Backend) Undef(t ir.Type) Value { return splat(t, b.zeroLane(t.Element())) }

func (b *Backend) Binary(op codegen.Op, x, y Value) Value {
	e := x.T.Element()
	return b.lanewise(x.T, x.T.Lanes, func(i int) string {
		return b.d.Binary(op, e, x.Lanes[i], y.Lanes[i])
	})
}

func (b *Backend) Compare(p codegen.Pred, x, y Value) Value {
	e := x.T.Element()
	return b.lanewise(ir.Bool().WithLanes(x.T.Lanes), x.T.Lanes, func(i int) string {
		return b.d.Compare(p, e, x.Lanes[i], y.Lanes[i])
	})
}

func (b *Backend) Convert(c codegen.Conv, to ir.Type, v Value) Value {
	if to.Lanes != v.T.Lanes {
		b.unsupported("%s from %s to %s changes the lane count", c, v.T, to)
	}
	from := v.T.Element()
	return b.lanewise(to, to.Lanes, func(i int) string {
		return b.d.Convert(c, from, to.Element(), v.Lanes[i])
	})
}

func (b *Backend) Select(cond, x, y Value) Value {
	e := x.T.Element()
	return b.lanewise(x.T, x.T.Lanes, func(i int) string {
		c := cond.Lanes[0]
		if len(cond.Lanes) > 1 {
			c = cond.Lanes[i]
		}
		return b.d.Select(e, c, x.Lanes[i], y.Lanes[i])
	})
}

func (b *Backend) Shuffle(x, y Value, indices []int) Value {
	all := append(append([]string(nil), x.Lanes...), y.Lanes...)
	lanes := make([]string, len(indices))
	for i, j := range indices {
		if j < 0 {
			lanes[i] = b.zeroLane(x.T.Element())
		} else {
			lanes[i] = all[j]
		}
	}
	return Value{T: x.T.WithLanes(len(indices)), Lanes: lanes}
}

func (b *Backend) ExtractElement(v Value, i int) Value {
	return Value{T: v.T.Element(), Lanes: []string{v.Lanes[i]}}
}

func (b *Backend) InsertElement(vec, elem Value, i int) Value {
	lanes := append([]string(nil), vec.Lanes...)
	lanes[i] = elem.Lanes[0]
	return Value{T: vec.T, Lanes: lanes}
}

func (b *Backend) Load(t ir.Type, ptr Value, align int) Value {
	e := t.Element()
	lanes := make([]string, t.Lanes)
	for i := range lanes {
		p := ptr.Scalar()
		if i > 0 {
			p = b.let(ir.HandleType(), b.d.Offset(p, i*e.Bytes()))
		}
		lanes[i] = b.fresh(e, b.d.Load(e, p, min(align, e.Bytes())))
	}
	return Value{T: t, Lanes: lanes}
}

func (b *Backend) Store(v, ptr Value, align int, atomic bool) {
	e := v.T.Element()
	for i, lane := range v.Lanes {
		p := ptr.Scalar()
		if i > 0 {
			p = b.let(ir.HandleType(), b.d.Offset(p, i*e.Bytes()))
		}
		b.line(b.d.Store(e, p, lane, min(align, e.Bytes()), atomic))
	}
}

func (b *Backend) ElementPtr(elem ir.Type, base, index Value) Value {
	return Value{T: ir.HandleType(), Lanes: []string{
		b.let(ir.HandleType(), b.d.ElementPtr(base.Scalar(), index.Scalar(), elem.Bytes())),
	}}
}

// Alloca declares its storage at the top of the function, so a loop body
// that allocates reuses one region on every iteration.
func (b *Backend) Alloca(bytes, align int) Value {
	name := fmt.Sprintf("_%d", b.fn.next)
	b.fn.next++
	decl, ptr := b.d.Alloca(name, bytes, align)
	b.fn.head.Lines(decl)
	return Value{T: ir.HandleType(), Lanes: []string{b.let(ir.HandleType(), ptr)}}
}

func (b *Backend) Memcpy(dst, src, n Value) {
	b.line(b.d.Memcpy(dst.Scalar(), src.Scalar(), n.Scalar()))
}

// block emits body one level deeper with its own cache scope.
func (b *Backend) block(body func()) {
	b.fn.w.Indent()
	b.push()
	body()
	b.pop()
	b.fn.w.Dedent()
}

func (b *Backend) If(cond Value, then, els func()) {
	b.line(b.d.If(cond.Scalar()))
	b.block(then)
	if els != nil {
		b.line(b.d.Else())
		b.block(els)
	}
	b.line(b.d.End())
}

func (b *Backend) IfValue(cond Value, t ir.Type, then, els func() Value) Value {
	lanes := make([]string, t.Lanes)
	for i := range lanes {
		lanes[i] = fmt.Sprintf("_%d", b.fn.next)
		b.fn.next++
		b.line(b.d.Declare(t.Element(), lanes[i], ""))
	}
	arm := func(f func() Value) func() {
		return func() {
			v := f()
			for i, l := range lanes {
				b.line(b.d.Assign(l, v.Lanes[i]))
			}
		}
	}
	b.If(cond, arm(then), arm(els))
	return Value{T: t, Lanes: lanes}
}

func (b *Backend) For(name string, lo, extent Value, body func(i Value)) {
	end := b.let(lo.T, b.d.Binary(codegen.OpAdd, lo.T, lo.Scalar(), extent.Scalar()))
	i := b.fn.names.Name(name)
	b.line(b.d.For(i, lo.Scalar(), end))
	b.block(func() { body(Value{T: lo.T, Lanes: []string{i}}) })
	b.line(b.d.End())
}

func (b *Backend) Return(status Value) { b.fn.w.Lines(b.d.Return(status.Scalar())) }

func (b *Backend) Function(sig codegen.Signature, body func(params []Value)) {
	if b.fn != nil {
		b.saved = append(b.saved, b.fn)
	}
	b.defined[sig.Name] = true
	b.names.Reserve(sig.Name)
	fn := &function{w: NewWriter(b.d.Tab()), head: NewWriter(b.d.Tab()), names: NewNamer(b.d.Reserved)}
	fn.head.Indent()
	b.fn = fn

	ids := make([]string, len(sig.Params))
	vals := make([]Value, len(sig.Params))
	for i, p := range sig.Params {
		if p.Type.IsVector() {
			b.unsupported("vector parameter %s of %s", p.Name, sig.Name)
		}
		ids[i] = fn.names.Name(p.Name)
		vals[i] = Value{T: p.Type, Lanes: []string{ids[i]}}
		if p.Buffer {
			vals[i].kind = bufferValue
		}
	}
	b.block(func() { body(vals) })

	out := NewWriter(b.d.Tab())
	out.Lines(b.d.FunctionBegin(sig, ids))
	out.Raw(fn.head.String())
	out.Raw(fn.w.String())
	out.Lines(b.d.FunctionEnd())
	b.funcs = append(b.funcs, out.String())
	b.fn = nil
	if n := len(b.saved); n > 0 {
		b.fn = b.saved[n-1]
		b.saved = b.saved[:n-1]
	}
}

func (b *Backend) Comment(text string) { b.line(b.d.Comment(text)) }

func (b *Backend) Call(name string, ret ir.Type, args []Value) Value {
	ext := Extern{Name: name, Ret: ret}
	strs := make([]string, len(args))
	for i, a := range args {
		if a.T.IsVector() {
			b.unsupported("vector argument to %s", name)
		}
		strs[i] = a.Scalar()
		ext.Args = append(ext.Args, a.T)
	}
	if !b.called[name] {
		b.called[name] = true
		b.calls = append(b.calls, ext)
	}
	call := b.d.Call(name, strs)
	if ret.IsVoid() {
		b.line(call + ";")
		return Value{}
	}
	if ret.IsVector() {
		b.unsupported("vector result of %s", name)
	}
	return Value{T: ret, Lanes: []string{b.fresh(ret, call)}}
}

func (b *Backend) FuncAddr(name string) Value {
	return Value{T: ir.HandleType(), Lanes: []string{b.let(ir.HandleType(), b.d.FuncAddr(name))}}
}

func (b *Backend) HasExtern(name string) bool { return b.d.HasExtern(name) }

// Intrinsic formats stringify natively for a Stringifier dialect and asks
// the dialect for every other intrinsic lane by lane.
func (b *Backend) Intrinsic(name string, t ir.Type, args []Value) (Value, bool) {
	if name == "stringify" {
		s, ok := b.d.(Stringifier)
		if !ok {
			return Value{}, false
		}
		return Value{T: ir.HandleType(), Lanes: []string{b.fresh(ir.HandleType(), s.Stringify(args))}, kind: stringValue}, true
	}
	if len(args) == 0 || t.IsVoid() {
		return Value{}, false
	}
	arg := args[0].T.Element()
	lanes := make([]string, t.Lanes)
	for i := range lanes {
		ops := make([]string, len(args))
		for j, a := range args {
			if len(a.Lanes) != t.Lanes {
				return Value{}, false
			}
			ops[j] = a.Lanes[i]
		}
		expr, ok := b.d.Intrinsic(name, t.Element(), arg, ops)
		if !ok {
			return Value{}, false
		}
		if name == "rewrite_buffer" {
			// Writes the descriptor; never shared with an equal call.
			lanes[i] = b.fresh(t.Element(), expr)
			continue
		}
		lanes[i] = b.let(t.Element(), expr)
	}
	return Value{T: t, Lanes: lanes}, true
}

// FloatText formats v with the fewest digits that read back as the same
// value of t, always with a decimal point or exponent.
func FloatText(t ir.Type, v float64) string {
	bits := 64
	if t.Bits == 32 {
		bits = 32
	}
	s := fmt.Sprint(v)
	if bits == 32 {
		s = fmt.Sprint(float32(v))
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

var (
	_ codegen.Backend[Value]          = (*Backend)(nil)
	_ codegen.NativeIntrinsics[Value] = (*Backend)(nil)
)
