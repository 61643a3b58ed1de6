package codegen

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
)

// closureSlot is one captured value in a closure buffer.
type closureSlot struct {
	name   string
	t      ir.Type
	offset int
}

// closureName returns a module-unique name for the body of a parallel loop.
func (l *Lowerer[V]) closureName(fn, loopVar string) string {
	base := fn + "_par_for_" + loopVar
	name := base
	for i := 1; l.names[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	l.names[name] = true
	return name
}

// parallelFor extracts the loop body into a function of (context, index,
// closure) and hands it to the runtime dispatcher. Every name the body
// uses from outside the loop travels through the closure buffer.
func (l *Lowerer[V]) parallelFor(s ir.For) {
	outer := l.fn
	captures := lo.Filter(ir.FreeVars(s.Body), func(c ir.Capture, _ int) bool {
		return c.Name != s.Name && c.Name != ir.UserContextName
	})

	min := l.expr(s.Min)
	extent := l.expr(s.Extent)

	slots := make([]closureSlot, 0, len(captures))
	size := 0
	for _, c := range captures {
		t := l.b.TypeOf(outer.values.Value(c.Name))
		slots = append(slots, closureSlot{name: c.Name, t: t, offset: size})
		size += alignUp(t.Bytes()*t.Lanes, abi.ClosureAlign)
	}

	closure := l.b.NullHandle()
	if size > 0 {
		closure = l.b.Alloca(size, abi.ClosureAlign)
		for _, slot := range slots {
			ptr := l.fieldPtr(closure, slot.offset)
			l.b.Store(outer.values.Value(slot.name), ptr, abi.ClosureAlign, false)
		}
	}

	name := l.closureName(outer.name, s.Name)
	l.log.Debug("extracting parallel closure", "func", outer.name, "closure", name,
		"captures", strings.Join(lo.Map(slots, func(c closureSlot, _ int) string { return c.name }), ","))
	sig := Signature{
		Name: name,
		Params: []Param{
			{Name: ir.UserContextName, Type: ir.HandleType()},
			{Name: s.Name, Type: ir.I32},
			{Name: "closure", Type: ir.HandleType()},
		},
		Ret:     ir.I32,
		Closure: true,
	}
	l.b.Function(sig, func(params []V) {
		inner := l.enter(name, params[0])
		inner.values.Push(ir.UserContextName, params[0])
		inner.values.Push(s.Name, params[1])
		for _, slot := range slots {
			ptr := l.fieldPtr(params[2], slot.offset)
			inner.values.Push(slot.name, l.b.Load(slot.t, ptr, abi.ClosureAlign))
			if mr, ok := outer.align.Get(slot.name, false); ok {
				inner.align.Push(slot.name, mr)
			}
			if m, ok := outer.misaligned.Get(slot.name, false); ok {
				inner.misaligned.Push(slot.name, m)
			}
			if rec, ok := outer.allocs.Get(slot.name, false); ok {
				borrowed := *rec
				borrowed.Borrowed = true
				borrowed.entry = nil
				inner.allocs.Push(slot.name, &borrowed)
			}
		}
		l.body(s.Body)
		for i := len(slots) - 1; i >= 0; i-- {
			n := slots[i].name
			if inner.allocs.Contains(n) {
				inner.allocs.Pop(n)
			}
			if inner.misaligned.Contains(n) {
				inner.misaligned.Pop(n)
			}
			if inner.align.Contains(n) {
				inner.align.Pop(n)
			}
			inner.values.Pop(n)
		}
		inner.values.Pop(s.Name)
		inner.values.Pop(ir.UserContextName)
		l.leave(inner)
	})
	l.info.Closures = append(l.info.Closures, name)

	status := l.callRuntime(abi.FuncDoParFor, ir.I32, l.b.FuncAddr(name), min, extent, closure)
	failed := l.b.Compare(PredNE, status, l.b.IntConst(ir.I32, 0))
	l.b.If(failed, func() {
		l.callRuntime(abi.FuncError, ir.Void, l.b.StringConst("failure inside parallel for loop"))
		l.fn.cleanup.unwind()
		l.b.Return(status)
	}, nil)
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
