package codegen

import (
	"fmt"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
)

func (l *Lowerer[V]) stmt(s ir.Stmt) {
	switch s := s.(type) {
	case nil:
	case ir.Block:
		for _, st := range s.Stmts {
			l.stmt(st)
		}
	case ir.For:
		if s.Kind == ir.Parallel {
			l.parallelFor(s)
			return
		}
		l.serialFor(s)
	case ir.IfThenElse:
		l.ifThenElse(s)
	case ir.Allocate:
		l.allocate(s)
	case ir.Free:
		l.free(s)
	case ir.LetStmt:
		fs := l.fn
		fs.cleanup.pushFrame()
		v := l.expr(s.Value)
		l.bind(s.Name, s.Value, v)
		l.stmt(s.Body)
		l.unbind(s.Name, s.Value)
		fs.cleanup.popFrame()
	case ir.AssertStmt:
		l.assert(s)
	case ir.ProducerConsumer:
		verb := "consume"
		if s.Produce {
			verb = "produce"
		}
		l.b.Comment(verb + " " + s.Name)
		l.stmt(s.Body)
	case ir.Evaluate:
		l.expr(s.Value)
	case ir.Store:
		l.store(s)
	default:
		fail(ErrMalformedNode, s, "", "unknown statement %T", s)
	}
}

func (l *Lowerer[V]) serialFor(s ir.For) {
	fs := l.fn
	min := l.expr(s.Min)
	extent := l.expr(s.Extent)
	l.b.For(s.Name, min, extent, func(i V) {
		fs.values.Push(s.Name, i)
		fs.cleanup.pushFrame()
		l.stmt(s.Body)
		fs.cleanup.popFrame()
		fs.values.Pop(s.Name)
	})
}

func (l *Lowerer[V]) ifThenElse(s ir.IfThenElse) {
	fs := l.fn
	cond := l.expr(s.Cond)
	branch := func(body ir.Stmt) func() {
		if body == nil {
			return nil
		}
		return func() {
			fs.cleanup.pushFrame()
			l.stmt(body)
			fs.cleanup.popFrame()
		}
	}
	l.b.If(cond, branch(s.Then), branch(s.Else))
}

// failIf emits a check that reports message, releases every live resource
// and returns code when cond holds.
func (l *Lowerer[V]) failIf(cond V, message string, code int) {
	l.b.If(cond, func() {
		l.callRuntime(abi.FuncError, ir.Void, l.b.StringConst(message))
		l.fn.cleanup.unwind()
		l.b.Return(l.b.IntConst(ir.I32, int64(code)))
	}, nil)
}

func (l *Lowerer[V]) assert(s ir.AssertStmt) {
	cond := l.expr(s.Cond)
	if t := l.b.TypeOf(cond); t.IsVector() {
		all := l.b.ExtractElement(cond, 0)
		for i := 1; i < t.Lanes; i++ {
			all = l.b.Binary(OpAnd, all, l.b.ExtractElement(cond, i))
		}
		cond = all
	}
	failed := LowerNot(l.b, cond)
	l.b.If(failed, func() {
		if c, ok := s.Message.(ir.Call); ok && c.T == ir.I32 {
			// The message is a specialised error reporter whose result is
			// the status to return.
			status := l.expr(c)
			l.fn.cleanup.unwind()
			l.b.Return(status)
			return
		}
		l.callRuntime(abi.FuncError, ir.Void, l.expr(s.Message))
		l.fn.cleanup.unwind()
		l.b.Return(l.b.IntConst(ir.I32, abi.ErrorCodeGeneric))
	}, nil)
}

// constantBytes returns the size of an allocation whose extents are all
// constant.
func constantBytes(s ir.Allocate) (int64, bool) {
	size := int64(s.T.Bytes())
	for _, e := range s.Extents {
		c, ok := ir.IntValue(e)
		if !ok || c < 0 {
			return 0, false
		}
		size *= c
		if size > 1<<31 {
			return 0, false
		}
	}
	return size, true
}

// padding returns the slack added after every internal allocation. It
// covers one native vector, so that vector loads near the end (the second
// half of a stride-2 load in particular) stay inside the allocation.
func (l *Lowerer[V]) padding(elem ir.Type) int {
	return max(l.cfg.Target.NativeBytes(), elem.Bytes())
}

func (l *Lowerer[V]) allocate(s ir.Allocate) {
	fs := l.fn
	rec := &Allocation{Name: s.Name, Type: s.T}
	pad := l.padding(s.T)
	fs.cleanup.pushFrame()

	var ptr V
	if size, ok := constantBytes(s); ok && size <= int64(l.cfg.StackThreshold) {
		rec.Storage = StackStorage
		ptr = l.b.Alloca(int(size)+pad, max(l.cfg.Target.NativeBytes(), s.T.Bytes()))
		l.info.StackAllocations++
		l.log.Debug("allocation placed on stack", "func", fs.name, "name", s.Name, "bytes", size)
	} else {
		rec.Storage = HeapStorage
		ptr = l.heapAllocate(s, pad)
		rec.entry = fs.cleanup.add(s.Name, func() {
			l.callRuntime(abi.FuncFree, ir.Void, ptr)
		})
		l.info.HeapAllocations++
		l.log.Debug("allocation placed on heap", "func", fs.name, "name", s.Name)
	}

	fs.values.Push(s.Name, ptr)
	fs.allocs.Push(s.Name, rec)
	l.stmt(s.Body)
	fs.cleanup.popFrame()
	if !rec.Freed {
		fs.allocs.Pop(s.Name)
	}
	fs.values.Pop(s.Name)
}

// maxAllocation is the largest allocation size, in bytes, for a pointer
// width, leaving room for padding.
func maxAllocation(pointerBits, pad int) int64 {
	if pointerBits >= 64 {
		return 1<<63 - 1 - int64(pad)
	}
	return 1<<31 - 1 - int64(pad)
}

// heapAllocate emits the size computation, the overflow and negative
// extent checks, the allocator call and the null check.
func (l *Lowerer[V]) heapAllocate(s ir.Allocate, pad int) V {
	bits := l.cfg.Target.PointerBits
	st := ir.IntType(bits)
	limit := maxAllocation(bits, pad)
	zero := l.b.IntConst(st, 0)
	one := l.b.IntConst(st, 1)

	total := l.b.IntConst(st, int64(s.T.Bytes()))
	for i, e := range s.Extents {
		ext := LowerCast(l.b, st, l.expr(e), bits)
		l.failIf(l.b.Compare(PredSLT, ext, zero),
			fmt.Sprintf("extent %d of allocation %s is negative", i, s.Name),
			abi.ErrorCodeBufferExtentsNegative)
		divisor := l.b.Select(l.b.Compare(PredEQ, ext, zero), one, ext)
		most := l.b.Binary(OpSDiv, l.b.IntConst(st, limit), divisor)
		l.failIf(l.b.Compare(PredSGT, total, most),
			fmt.Sprintf("total allocation size for %s exceeds the maximum", s.Name),
			abi.ErrorCodeBufferAllocationTooLarge)
		total = l.b.Binary(OpMul, total, ext)
	}
	total = l.b.Binary(OpAdd, total, l.b.IntConst(st, int64(pad)))

	ptr := l.callRuntime(abi.FuncMalloc, ir.HandleType(), total)
	addr := l.b.Convert(ConvPtrToInt, ir.UIntType(bits), ptr)
	l.failIf(l.b.Compare(PredEQ, addr, l.b.IntConst(ir.UIntType(bits), 0)),
		fmt.Sprintf("out of memory allocating %s", s.Name),
		abi.ErrorCodeOutOfMemory)
	return ptr
}

func (l *Lowerer[V]) free(s ir.Free) {
	fs := l.fn
	rec := fs.allocs.Value(s.Name)
	switch {
	case rec.Borrowed:
		fail(ErrInternal, s, s.Name, "free of an allocation owned by the enclosing function")
	case rec.Freed:
		fail(ErrInternal, s, s.Name, "allocation freed twice")
	}
	if rec.Storage == HeapStorage {
		l.callRuntime(abi.FuncFree, ir.Void, fs.values.Value(s.Name))
		rec.entry.released = true
	}
	rec.Freed = true
	fs.allocs.Pop(s.Name)
}
