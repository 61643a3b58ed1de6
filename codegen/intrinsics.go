package codegen

import (
	"sort"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
)

type arity struct{ min, max int }

// variadic marks an intrinsic with no upper bound on its argument count.
const variadic = -1

var intrinsicArity = map[string]arity{
	"bitwise_and":          {2, 2},
	"bitwise_or":           {2, 2},
	"bitwise_xor":          {2, 2},
	"bitwise_not":          {1, 1},
	"shift_left":           {2, 2},
	"shift_right":          {2, 2},
	"reinterpret":          {1, 1},
	"abs":                  {1, 1},
	"absd":                 {2, 2},
	"lerp":                 {3, 3},
	"if_then_else":         {2, 3},
	"select":               {3, 3},
	"shuffle_vector":       {2, variadic},
	"interleave_vectors":   {1, variadic},
	"popcount":             {1, 1},
	"count_leading_zeros":  {1, 1},
	"count_trailing_zeros": {1, 1},
	"create_buffer_t":      {2, 2 + 3*abi.Dimensions},
	"rewrite_buffer":       {2, 2 + 3*abi.Dimensions},
	"copy_buffer_t":        {1, 1},
	"extract_buffer_min":   {2, 2},
	"extract_buffer_max":   {2, 2},
	"extract_buffer_host":  {1, 1},
	"set_host_dirty":       {2, 2},
	"set_dev_dirty":        {2, 2},
	"address_of":           {1, 1},
	"trace":                {5, 5 + abi.Dimensions},
	"trace_expr":           {5, 5 + abi.Dimensions},
	"stringify":            {0, variadic},
	"memoize_expr":         {1, variadic},
	"copy_memory":          {3, 3},
	"make_struct":          {0, variadic},
	"prefetch":             {0, variadic},
	"register_destructor":  {2, 2},
	"debug_to_file":        {3, 3},
	"undef":                {0, 0},
	"null_handle":          {0, 0},
}

// IsIntrinsic reports whether name is in the intrinsic table.
func IsIntrinsic(name string) bool {
	_, ok := intrinsicArity[name]
	return ok
}

// IntrinsicNames returns the intrinsic table, sorted.
func IntrinsicNames() []string {
	names := make([]string, 0, len(intrinsicArity))
	for n := range intrinsicArity {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l *Lowerer[V]) zero(t ir.Type) V {
	switch {
	case t.IsVoid():
		return l.b.IntConst(ir.I32, 0)
	case t.IsHandle():
		return l.b.NullHandle()
	case t.IsFloat():
		return l.b.FloatConst(t, 0)
	}
	return l.b.IntConst(t, 0)
}

// nativeOr asks the backend for a dedicated lowering of name and uses
// fallback when it has none.
func (l *Lowerer[V]) nativeOr(name string, t ir.Type, args []V, fallback func() V) V {
	if l.native != nil {
		if v, ok := l.native.Intrinsic(name, t, args); ok {
			return v
		}
	}
	return fallback()
}

func (l *Lowerer[V]) exprs(es []ir.Expr) []V {
	out := make([]V, len(es))
	for i, e := range es {
		out[i] = l.expr(e)
	}
	return out
}

func (l *Lowerer[V]) intrinsic(c ir.Call) V {
	ar, ok := intrinsicArity[c.Name]
	if !ok {
		fail(ErrUnknownIntrinsic, c, c.Name, "unknown intrinsic")
	}
	if n := len(c.Args); n < ar.min || (ar.max != variadic && n > ar.max) {
		fail(ErrMalformedNode, c, c.Name, "got %d arguments", n)
	}
	arg := func(i int) V { return l.expr(c.Args[i]) }

	switch c.Name {
	case "bitwise_and":
		return l.b.Binary(OpAnd, arg(0), arg(1))
	case "bitwise_or":
		return l.b.Binary(OpOr, arg(0), arg(1))
	case "bitwise_xor":
		return l.b.Binary(OpXor, arg(0), arg(1))
	case "bitwise_not":
		x := arg(0)
		return l.b.Binary(OpXor, x, l.b.IntConst(l.b.TypeOf(x), -1))
	case "shift_left", "shift_right":
		x, y := arg(0), arg(1)
		t := l.b.TypeOf(x)
		y = LowerCast(l.b, t, y, l.cfg.Target.PointerBits)
		switch {
		case c.Name == "shift_left":
			return l.b.Binary(OpShl, x, y)
		case t.IsInt():
			return l.b.Binary(OpAShr, x, y)
		}
		return l.b.Binary(OpLShr, x, y)
	case "reinterpret":
		return Reinterpret(l.b, c.T, arg(0))
	case "abs":
		x := arg(0)
		return l.nativeOr("abs", c.T, []V{x}, func() V { return l.abs(c.T, x) })
	case "absd":
		x, y := arg(0), arg(1)
		return l.nativeOr("absd", c.T, []V{x, y}, func() V { return l.absd(c.T, x, y) })
	case "lerp":
		return l.lerp(c)
	case "select":
		cond := arg(0)
		return LowerSelect(l.b, cond, arg(1), arg(2))
	case "if_then_else":
		return l.ifThenElseValue(c)
	case "shuffle_vector":
		return l.shuffleVector(c)
	case "interleave_vectors":
		return Interleave(l.b, l.exprs(c.Args))
	case "popcount":
		x := arg(0)
		return l.nativeOr("popcount", c.T, []V{x}, func() V { return Popcount(l.b, c.T, x) })
	case "count_leading_zeros":
		x := arg(0)
		return l.nativeOr("count_leading_zeros", c.T, []V{x}, func() V { return CountLeadingZeros(l.b, c.T, x) })
	case "count_trailing_zeros":
		x := arg(0)
		return l.nativeOr("count_trailing_zeros", c.T, []V{x}, func() V { return CountTrailingZeros(l.b, c.T, x) })
	case "create_buffer_t":
		buf := l.b.Alloca(abi.BufferSize, abi.BufferAlign)
		l.b.Store(l.b.IntConst(ir.U64, 0), l.fieldPtr(buf, abi.OffsetDev), 8, false)
		l.b.Store(arg(0), l.fieldPtr(buf, abi.OffsetHost), 8, false)
		l.storeShape(buf, l.shape(c))
		l.b.Store(l.b.IntConst(ir.U8, 0), l.fieldPtr(buf, abi.OffsetHostDirty), 1, false)
		l.b.Store(l.b.IntConst(ir.U8, 0), l.fieldPtr(buf, abi.OffsetDevDirty), 1, false)
		return buf
	case "rewrite_buffer":
		buf, shape := arg(0), l.shape(c)
		return l.nativeOr("rewrite_buffer", ir.Bool(), append([]V{buf}, shape...), func() V {
			l.storeShape(buf, shape)
			return l.b.IntConst(ir.Bool(), 1)
		})
	case "copy_buffer_t":
		src := arg(0)
		dst := l.b.Alloca(abi.BufferSize, abi.BufferAlign)
		l.b.Memcpy(dst, src, l.b.IntConst(ir.IntType(l.cfg.Target.PointerBits), abi.BufferSize))
		return dst
	case "extract_buffer_min", "extract_buffer_max":
		d, ok := ir.IntValue(c.Args[1])
		if !ok || d < 0 || d >= abi.Dimensions {
			fail(ErrMalformedNode, c, c.Name, "dimension must be a constant in [0, %d)", abi.Dimensions)
		}
		buf := arg(0)
		lo := l.b.Load(ir.I32, l.fieldPtr(buf, abi.Offset(abi.FieldMin, int(d))), 4)
		if c.Name == "extract_buffer_min" {
			return lo
		}
		ext := l.b.Load(ir.I32, l.fieldPtr(buf, abi.Offset(abi.FieldExtent, int(d))), 4)
		return LowerSub(l.b, LowerAdd(l.b, lo, ext), l.b.IntConst(ir.I32, 1))
	case "extract_buffer_host":
		return l.b.Load(ir.HandleType(), l.fieldPtr(arg(0), abi.OffsetHost), 8)
	case "set_host_dirty", "set_dev_dirty":
		off := abi.OffsetHostDirty
		if c.Name == "set_dev_dirty" {
			off = abi.OffsetDevDirty
		}
		buf := arg(0)
		flag := LowerCast(l.b, ir.U8, arg(1), l.cfg.Target.PointerBits)
		l.b.Store(flag, l.fieldPtr(buf, off), 1, false)
		return l.zero(c.T)
	case "address_of":
		ld, ok := c.Args[0].(ir.Load)
		if !ok || !ld.T.IsScalar() {
			fail(ErrMalformedNode, c, c.Name, "argument must be a scalar load")
		}
		return l.elemPtr(ld.Name, ld.T, l.expr(ld.Index))
	case "trace", "trace_expr":
		return l.trace(c)
	case "stringify":
		return l.stringify(c.Args)
	case "memoize_expr":
		return arg(0)
	case "copy_memory":
		dst, src := arg(0), arg(1)
		n := LowerCast(l.b, ir.IntType(l.cfg.Target.PointerBits), arg(2), l.cfg.Target.PointerBits)
		l.b.Memcpy(dst, src, n)
		return l.zero(c.T)
	case "make_struct":
		return l.makeStruct(l.exprs(c.Args))
	case "prefetch":
		args := l.exprs(c.Args)
		return l.nativeOr("prefetch", c.T, args, func() V { return l.zero(c.T) })
	case "register_destructor":
		fn, ok := c.Args[0].(ir.StringImm)
		if !ok {
			fail(ErrMalformedNode, c, c.Name, "destructor must be named by a string constant")
		}
		obj := arg(1)
		ctx := l.fn.ctx
		l.fn.cleanup.add(fn.Value, func() {
			l.b.Call(fn.Value, ir.Void, []V{ctx, obj})
		})
		return l.b.NullHandle()
	case "debug_to_file":
		return l.callRuntime(abi.FuncDebugToFile, ir.I32, arg(0), arg(1), arg(2))
	case "undef":
		return l.b.Undef(c.T)
	case "null_handle":
		return l.b.NullHandle()
	}
	fail(ErrInternal, c, c.Name, "intrinsic has an arity but no lowering")
	panic("unreachable")
}

// shape evaluates the descriptor shape of a create_buffer_t or
// rewrite_buffer call as int32 values: elem_size followed by a
// min/extent/stride triple for each of abi.Dimensions dimensions. Missing
// dimensions are zero.
func (l *Lowerer[V]) shape(c ir.Call) []V {
	triples := c.Args[2:]
	if len(triples)%3 != 0 {
		fail(ErrMalformedNode, c, c.Name, "shape arguments must be min/extent/stride triples")
	}
	out := make([]V, 0, 1+3*abi.Dimensions)
	out = append(out, l.b.IntConst(ir.I32, int64(c.Args[1].Type().Bytes())))
	for k := 0; k < 3*abi.Dimensions; k++ {
		v := l.b.IntConst(ir.I32, 0)
		if k < len(triples) {
			v = LowerCast(l.b, ir.I32, l.expr(triples[k]), l.cfg.Target.PointerBits)
		}
		out = append(out, v)
	}
	return out
}

// storeShape writes a shape into the descriptor at buf.
func (l *Lowerer[V]) storeShape(buf V, shape []V) {
	l.b.Store(shape[0], l.fieldPtr(buf, abi.OffsetElemSize), 4, false)
	fields := [3]abi.Field{abi.FieldMin, abi.FieldExtent, abi.FieldStride}
	for d := 0; d < abi.Dimensions; d++ {
		for k, f := range fields {
			l.b.Store(shape[1+3*d+k], l.fieldPtr(buf, abi.Offset(f, d)), 4, false)
		}
	}
}

func (l *Lowerer[V]) abs(to ir.Type, x V) V {
	t := l.b.TypeOf(x)
	if t.IsFloat() {
		// Clear the sign bit.
		ut := ir.UIntType(t.Bits).WithLanes(t.Lanes)
		bits := Reinterpret(l.b, ut, x)
		mask := l.b.IntConst(ut, int64(^uint64(0)>>(64-t.Bits+1)))
		return Reinterpret(l.b, t, l.b.Binary(OpAnd, bits, mask))
	}
	if !t.IsInt() {
		return fromUnsigned(l.b, to, x)
	}
	zero := l.b.IntConst(t, 0)
	r := l.b.Select(l.b.Compare(PredSLT, x, zero), l.b.Binary(OpSub, zero, x), x)
	return fromUnsigned(l.b, to, r)
}

func (l *Lowerer[V]) absd(to ir.Type, x, y V) V {
	t := l.b.TypeOf(x)
	if t.IsFloat() {
		d := l.b.Binary(OpFSub, x, y)
		return l.nativeOr("abs", t, []V{d}, func() V { return l.abs(t, d) })
	}
	lt := LowerCompare(l.b, ir.LT, x, y)
	r := l.b.Select(lt, l.b.Binary(OpSub, y, x), l.b.Binary(OpSub, x, y))
	return fromUnsigned(l.b, to, r)
}

// lerp computes zero + (one - zero) * weight. Integer weights span the
// whole range of their type. Integer results are computed exactly in a
// wider integer type and rounded to nearest when one fits, otherwise in
// float64.
func (l *Lowerer[V]) lerp(c ir.Call) V {
	zero, one, w := l.expr(c.Args[0]), l.expr(c.Args[1]), l.expr(c.Args[2])
	t, wt := l.b.TypeOf(zero), l.b.TypeOf(w)
	pb := l.cfg.Target.PointerBits

	// normalized converts the weight to a float type in [0, 1].
	normalized := func(ft ir.Type) V {
		if wt.IsFloat() {
			return LowerCast(l.b, ft, w, pb)
		}
		wf := LowerCast(l.b, ft, w, pb)
		return l.b.Binary(OpFDiv, wf, l.b.FloatConst(ft, float64(wt.Max())))
	}
	if t.IsFloat() {
		wf := normalized(t)
		return l.b.Binary(OpFAdd, zero, l.b.Binary(OpFMul, l.b.Binary(OpFSub, one, zero), wf))
	}

	wide := 8
	for wide < t.Bits+wt.Bits+1 {
		wide *= 2
	}
	if wt.IsFloat() || wide > 64 {
		ft := ir.F64.WithLanes(t.Lanes)
		z, o := LowerCast(l.b, ft, zero, pb), LowerCast(l.b, ft, one, pb)
		r := l.b.Binary(OpFAdd, z, l.b.Binary(OpFMul, l.b.Binary(OpFSub, o, z), normalized(ft)))
		r = l.floor(l.b.Binary(OpFAdd, r, l.b.FloatConst(ft, 0.5)))
		return LowerCast(l.b, c.T, r, pb)
	}

	wideT := ir.IntType(wide).WithLanes(t.Lanes)
	z, o := LowerCast(l.b, wideT, zero, pb), LowerCast(l.b, wideT, one, pb)
	ww := LowerCast(l.b, wideT, w, pb)
	wmax := int64(wt.Max())
	inv := l.b.Binary(OpSub, l.b.IntConst(wideT, wmax), ww)
	num := l.b.Binary(OpAdd, l.b.Binary(OpMul, z, inv), l.b.Binary(OpMul, o, ww))
	num = l.b.Binary(OpAdd, num, l.b.IntConst(wideT, wmax/2))
	return LowerCast(l.b, c.T, EuclidDiv(l.b, num, l.b.IntConst(wideT, wmax)), pb)
}

// ifThenElseValue evaluates only the chosen branch. A vector condition is
// evaluated lane by lane; an arm whose lanes cannot be computed apart is
// evaluated once up front and its lanes extracted.
func (l *Lowerer[V]) ifThenElseValue(c ir.Call) V {
	arms := []ir.Expr{c.Args[1], nil}
	if len(c.Args) == 3 {
		arms[1] = c.Args[2]
	}
	branch := func(e ir.Expr, t ir.Type) func() V {
		if e == nil {
			return func() V { return l.b.Undef(t) }
		}
		return func() V { return l.expr(e) }
	}
	cond := l.expr(c.Args[0])
	ct := l.b.TypeOf(cond)
	if ct.IsScalar() {
		return l.b.IfValue(cond, c.T, branch(arms[0], c.T), branch(arms[1], c.T))
	}
	elem := c.T.Element()
	whole := make([]V, len(arms))
	split := make([]bool, len(arms))
	for k, arm := range arms {
		split[k] = arm == nil || ir.SplitsByLane(arm)
		if !split[k] {
			whole[k] = l.expr(arm)
		}
	}
	laneOf := func(k, i int) func() V {
		if split[k] {
			if arms[k] == nil {
				return branch(nil, elem)
			}
			return branch(ir.ExtractLane(arms[k], i), elem)
		}
		return func() V { return l.b.ExtractElement(whole[k], i) }
	}
	out := l.b.Undef(c.T)
	for i := 0; i < ct.Lanes; i++ {
		lane := l.b.IfValue(l.b.ExtractElement(cond, i), elem, laneOf(0, i), laneOf(1, i))
		out = l.b.InsertElement(out, lane, i)
	}
	return out
}

func (l *Lowerer[V]) shuffleVector(c ir.Call) V {
	idx, ok := vectorIndices(c.Args[1:])
	if !ok {
		fail(ErrMalformedNode, c, c.Name, "lane indices must be constants")
	}
	v := l.expr(c.Args[0])
	lanes := l.b.TypeOf(v).Lanes
	for _, i := range idx {
		if i >= lanes {
			fail(ErrMalformedNode, c, c.Name, "lane index %d out of range for %d lanes", i, lanes)
		}
	}
	switch {
	case lanes == 1:
		return Broadcast(l.b, v, len(idx))
	case len(idx) == 1:
		return l.b.ExtractElement(v, idx[0])
	}
	return l.b.Shuffle(v, v, idx)
}

// trace fills a trace event record on the stack and hands it to the
// runtime. trace returns the event id; trace_expr returns the traced value.
func (l *Lowerer[V]) trace(c ir.Call) V {
	pb := l.cfg.Target.PointerBits
	fname := l.expr(c.Args[0])
	event := LowerCast(l.b, ir.I32, l.expr(c.Args[1]), pb)
	parent := LowerCast(l.b, ir.I32, l.expr(c.Args[2]), pb)
	index := LowerCast(l.b, ir.I32, l.expr(c.Args[3]), pb)
	value := l.expr(c.Args[4])
	vt := l.b.TypeOf(value)

	valueBuf := l.b.Alloca(alignUp(vt.Bytes()*vt.Lanes, 8), 8)
	l.b.Store(value, valueBuf, vt.Bytes(), false)

	coords := c.Args[5:]
	coordBuf := l.b.NullHandle()
	if len(coords) > 0 {
		coordBuf = l.b.Alloca(4*len(coords), 4)
		for i, e := range coords {
			v := LowerCast(l.b, ir.I32, l.expr(e), pb)
			l.b.Store(v, l.fieldPtr(coordBuf, 4*i), 4, false)
		}
	}

	ev := l.b.Alloca(abi.TraceEventSize, 8)
	put := func(v V, off, align int) { l.b.Store(v, l.fieldPtr(ev, off), align, false) }
	put(fname, abi.TraceOffsetFunc, 8)
	put(valueBuf, abi.TraceOffsetValue, 8)
	put(coordBuf, abi.TraceOffsetCoords, 8)
	put(l.b.IntConst(ir.U8, int64(vt.Code)), abi.TraceOffsetTypeCode, 1)
	put(l.b.IntConst(ir.U8, int64(vt.Bits)), abi.TraceOffsetBits, 1)
	put(l.b.IntConst(ir.U16, int64(vt.Lanes)), abi.TraceOffsetLanes, 2)
	put(event, abi.TraceOffsetEvent, 4)
	put(parent, abi.TraceOffsetParentID, 4)
	put(index, abi.TraceOffsetValueIndex, 4)
	put(l.b.IntConst(ir.I32, int64(len(coords))), abi.TraceOffsetDimensions, 4)

	id := l.callRuntime(abi.FuncTrace, ir.I32, ev)
	if c.Name == "trace_expr" {
		return value
	}
	return id
}

// makeStruct packs values at their natural alignment into a stack record.
func (l *Lowerer[V]) makeStruct(vals []V) V {
	if len(vals) == 0 {
		return l.b.NullHandle()
	}
	offsets := make([]int, len(vals))
	size, align := 0, 1
	for i, v := range vals {
		t := l.b.TypeOf(v)
		a := min(t.Bytes(), 8)
		size = alignUp(size, a)
		offsets[i] = size
		size += t.Bytes() * t.Lanes
		align = max(align, a)
	}
	ptr := l.b.Alloca(alignUp(size, align), align)
	for i, v := range vals {
		t := l.b.TypeOf(v)
		l.b.Store(v, l.fieldPtr(ptr, offsets[i]), min(t.Bytes(), 8), false)
	}
	return ptr
}
