package codegen

import "github.com/gogpu/kiln/ir"

// elemPtr addresses element index of the buffer or allocation name.
func (l *Lowerer[V]) elemPtr(name string, elem ir.Type, index V) V {
	return l.b.ElementPtr(elem, l.fn.values.Value(name), index)
}

// alignment returns the byte alignment of an access to name at index.
func (l *Lowerer[V]) alignment(name string, index ir.Expr, elem ir.Type) int {
	misaligned, _ := l.fn.misaligned.Get(name, false)
	mr := AnalyzeModRem(index, l.alignFact)
	return InferAlignment(mr, elem, l.cfg.Target.NativeBytes(), misaligned)
}

// internal reports whether name is an allocation of this pipeline rather
// than a caller's buffer.
func (l *Lowerer[V]) internal(name string) bool {
	return l.fn.allocs.Contains(name)
}

func offset(base ir.Expr, k int) ir.Expr {
	if k == 0 {
		return base
	}
	if c, ok := ir.IntValue(base); ok {
		return ir.Int32(c + int64(k))
	}
	return ir.Binary{Op: ir.Add, A: base, B: ir.Int32(int64(k))}
}

func (l *Lowerer[V]) load(e ir.Load) V {
	t := e.T
	elem := t.Element()
	if t.IsScalar() {
		ptr := l.elemPtr(e.Name, elem, l.expr(e.Index))
		return l.b.Load(t, ptr, l.alignment(e.Name, e.Index, elem))
	}
	switch idx := e.Index.(type) {
	case ir.Ramp:
		if stride, ok := ir.IntValue(idx.Stride); ok {
			switch stride {
			case 1:
				return l.denseLoad(e.Name, t, idx.Base)
			case 2:
				return l.strideTwoLoad(e.Name, t, idx.Base)
			case -1:
				first := offset(idx.Base, -(t.Lanes - 1))
				return Reverse(l.b, l.denseLoad(e.Name, t, first))
			}
		}
		return l.stridedLoad(e.Name, t, idx)
	case ir.Broadcast:
		ptr := l.elemPtr(e.Name, elem, l.expr(idx.Value))
		scalar := l.b.Load(elem, ptr, l.alignment(e.Name, idx.Value, elem))
		return Broadcast(l.b, scalar, t.Lanes)
	}
	return l.gather(e.Name, t, l.expr(e.Index))
}

// denseLoad loads t.Lanes consecutive elements starting at base, split into
// native-width pieces.
func (l *Lowerer[V]) denseLoad(name string, t ir.Type, base ir.Expr) V {
	elem := t.Element()
	ptr := l.elemPtr(name, elem, l.expr(base))
	n := l.cfg.Target.NativeLanes(elem)
	if n == 0 || t.Lanes <= n {
		return l.b.Load(t, ptr, l.alignment(name, base, elem))
	}
	l.log.Debug("splitting dense load", "buffer", name, "lanes", t.Lanes, "native", n)
	var parts []V
	for i := 0; i < t.Lanes; i += n {
		w := min(n, t.Lanes-i)
		p := l.b.ElementPtr(elem, ptr, l.b.IntConst(ir.I32, int64(i)))
		parts = append(parts, l.b.Load(t.WithLanes(w), p, l.alignment(name, offset(base, i), elem)))
	}
	return Concat(l.b, parts)
}

// strideTwoLoad loads every other element with two dense loads and one
// shuffle. Internal allocations are padded, so the second load may start
// right after the first and the shuffle takes the even lanes. A caller's
// buffer may end at the last needed element, so the second load is
// shifted back one element.
func (l *Lowerer[V]) strideTwoLoad(name string, t ir.Type, base ir.Expr) V {
	w := t.Lanes
	a := l.denseLoad(name, t, base)
	idx := make([]int, w)
	if l.internal(name) {
		b := l.denseLoad(name, t, offset(base, w))
		for i := range idx {
			idx[i] = 2 * i
		}
		return l.b.Shuffle(a, b, idx)
	}
	b := l.denseLoad(name, t, offset(base, w-1))
	for i := range idx {
		if 2*i < w {
			idx[i] = 2 * i
		} else {
			idx[i] = 2*i + 1
		}
	}
	return l.b.Shuffle(a, b, idx)
}

// stridedLoad loads lane by lane, stepping a pointer by the stride.
func (l *Lowerer[V]) stridedLoad(name string, t ir.Type, idx ir.Ramp) V {
	elem := t.Element()
	ptr := l.elemPtr(name, elem, l.expr(idx.Base))
	stride := l.expr(idx.Stride)
	out := l.b.Undef(t)
	for i := 0; i < t.Lanes; i++ {
		if i > 0 {
			ptr = l.b.ElementPtr(elem, ptr, stride)
		}
		out = l.b.InsertElement(out, l.b.Load(elem, ptr, elem.Bytes()), i)
	}
	return out
}

func (l *Lowerer[V]) gather(name string, t ir.Type, index V) V {
	elem := t.Element()
	out := l.b.Undef(t)
	for i := 0; i < t.Lanes; i++ {
		ptr := l.elemPtr(name, elem, l.b.ExtractElement(index, i))
		out = l.b.InsertElement(out, l.b.Load(elem, ptr, elem.Bytes()), i)
	}
	return out
}

func (l *Lowerer[V]) store(s ir.Store) {
	value := l.expr(s.Value)
	t := l.b.TypeOf(value)
	elem := t.Element()
	if t.IsScalar() {
		ptr := l.elemPtr(s.Name, elem, l.expr(s.Index))
		l.b.Store(value, ptr, l.alignment(s.Name, s.Index, elem), s.Atomic)
		return
	}
	if s.Atomic {
		fail(ErrUnsupported, s, s.Name, "atomic store of %s; atomic stores must be scalar", t)
	}
	switch idx := s.Index.(type) {
	case ir.Ramp:
		if stride, ok := ir.IntValue(idx.Stride); ok {
			switch stride {
			case 1:
				l.denseStore(s.Name, value, idx.Base)
				return
			case -1:
				l.denseStore(s.Name, Reverse(l.b, value), offset(idx.Base, -(t.Lanes-1)))
				return
			}
		}
		ptr := l.elemPtr(s.Name, elem, l.expr(idx.Base))
		stride := l.expr(idx.Stride)
		for i := 0; i < t.Lanes; i++ {
			if i > 0 {
				ptr = l.b.ElementPtr(elem, ptr, stride)
			}
			l.b.Store(l.b.ExtractElement(value, i), ptr, elem.Bytes(), false)
		}
		return
	}
	index := l.expr(s.Index)
	for i := 0; i < t.Lanes; i++ {
		ptr := l.elemPtr(s.Name, elem, l.b.ExtractElement(index, i))
		l.b.Store(l.b.ExtractElement(value, i), ptr, elem.Bytes(), false)
	}
}

func (l *Lowerer[V]) denseStore(name string, value V, base ir.Expr) {
	t := l.b.TypeOf(value)
	elem := t.Element()
	ptr := l.elemPtr(name, elem, l.expr(base))
	n := l.cfg.Target.NativeLanes(elem)
	if n == 0 || t.Lanes <= n {
		l.b.Store(value, ptr, l.alignment(name, base, elem), false)
		return
	}
	l.log.Debug("splitting dense store", "buffer", name, "lanes", t.Lanes, "native", n)
	for i := 0; i < t.Lanes; i += n {
		w := min(n, t.Lanes-i)
		p := l.b.ElementPtr(elem, ptr, l.b.IntConst(ir.I32, int64(i)))
		l.b.Store(Slice(l.b, value, i, w), p, l.alignment(name, offset(base, i), elem), false)
	}
}
