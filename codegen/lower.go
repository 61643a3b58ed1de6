// Package codegen lowers kiln IR to a backend through a small set of
// capability interfaces.
//
// A backend implements Backend[V] for its own value type V: a machine
// register for the native and DSP backends, a text expression for the C
// and JS backends. LowerModule walks each function once and drives the
// backend; every rule shared across backends (numeric semantics, vector
// decomposition, intrinsics, allocation, assertions, parallel closures)
// lives here as a free function or a Lowerer method.
//
// Internal inconsistencies abort the walk by panicking with *Error;
// LowerModule recovers and returns it.
package codegen

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
)

// DefaultStackThreshold is the largest constant-size allocation, in bytes,
// placed on the stack.
const DefaultStackThreshold = 8 * 1024

// Config controls lowering.
type Config struct {
	Target Target

	// StackThreshold overrides DefaultStackThreshold when positive.
	StackThreshold int

	// Logger receives Debug records about lowering decisions. Nil discards.
	Logger *slog.Logger

	// SkipValidation lowers the module without running ir.Validate first,
	// for callers that have already validated it. Malformed input then
	// fails in the lowering itself.
	SkipValidation bool
}

// Info summarizes one LowerModule run.
type Info struct {
	// Functions lists the lowered top-level functions.
	Functions []string
	// Closures lists the functions extracted from parallel loops.
	Closures []string

	// Pushes and Pops count symbol table operations across all scopes.
	// They are equal after a successful run.
	Pushes int
	Pops   int

	StackAllocations int
	HeapAllocations  int
}

// Storage is where an allocation lives.
type Storage uint8

const (
	StackStorage Storage = iota
	HeapStorage
)

func (s Storage) String() string {
	if s == HeapStorage {
		return "heap"
	}
	return "stack"
}

// Allocation is the compile-time record of an Allocate node.
type Allocation struct {
	Name    string
	Type    ir.Type
	Storage Storage
	// Borrowed marks a record seen from inside a parallel closure. The
	// closure may read and write the memory but not free it.
	Borrowed bool
	Freed    bool

	entry *cleanupEntry
}

type funcState[V any] struct {
	name       string
	ctx        V
	values     *Scope[V]
	align      *Scope[ModRem]
	allocs     *Scope[*Allocation]
	misaligned *Scope[bool]
	cleanup    cleanupStack
	parent     *funcState[V]
}

// Lowerer holds the state of one LowerModule run.
type Lowerer[V any] struct {
	b      Backend[V]
	native NativeIntrinsics[V]
	cfg    Config
	log    *slog.Logger
	info   Info
	names  map[string]bool
	fn     *funcState[V]
}

// LowerModule validates m, unless cfg.SkipValidation is set, and lowers
// every function to b.
func LowerModule[V any](b Backend[V], m *ir.Module, cfg Config) (info Info, err error) {
	if !cfg.SkipValidation {
		errs, err := ir.Validate(m)
		if err != nil {
			return Info{}, err
		}
		if len(errs) > 0 {
			return Info{}, &Error{Kind: ErrMalformedNode, Message: errs[0].Error()}
		}
	}

	l := newLowerer(b, cfg)
	for i := range m.Functions {
		l.names[m.Functions[i].Name] = true
	}

	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			info, err = Info{}, e
		}
	}()
	for i := range m.Functions {
		l.function(&m.Functions[i])
	}
	if l.info.Pushes != l.info.Pops {
		fail(ErrScopeImbalance, "module", m.Name, "%d pushes but %d pops", l.info.Pushes, l.info.Pops)
	}
	return l.info, nil
}

func newLowerer[V any](b Backend[V], cfg Config) *Lowerer[V] {
	if cfg.StackThreshold <= 0 {
		cfg.StackThreshold = DefaultStackThreshold
	}
	if cfg.Target.PointerBits == 0 {
		cfg.Target.PointerBits = 64
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := &Lowerer[V]{b: b, cfg: cfg, log: log, names: make(map[string]bool)}
	if n, ok := b.(NativeIntrinsics[V]); ok {
		l.native = n
	}
	return l
}

// enter starts the state of a new generated function.
func (l *Lowerer[V]) enter(name string, ctx V) *funcState[V] {
	fs := &funcState[V]{
		name:       name,
		ctx:        ctx,
		values:     NewScope[V]("values"),
		align:      NewScope[ModRem]("alignment"),
		allocs:     NewScope[*Allocation]("allocations"),
		misaligned: NewScope[bool]("misaligned"),
		parent:     l.fn,
	}
	fs.cleanup.pushFrame()
	l.fn = fs
	return fs
}

// body lowers the statements of a generated function and returns success.
func (l *Lowerer[V]) body(s ir.Stmt) {
	l.stmt(s)
	l.fn.cleanup.popFrame()
	l.b.Return(l.b.IntConst(ir.I32, abi.StatusSuccess))
}

// leave checks that fs ended balanced and restores the enclosing function.
func (l *Lowerer[V]) leave(fs *funcState[V]) {
	if fs.cleanup.depth() != 0 {
		fail(ErrScopeImbalance, "cleanup", fs.name, "%d cleanup frames left open", fs.cleanup.depth())
	}
	check := func(kind string, n int, names []string, pushes, pops int) {
		if n != 0 {
			fail(ErrScopeImbalance, kind, fs.name, "names still bound at function end: %v", names)
		}
		l.info.Pushes += pushes
		l.info.Pops += pops
	}
	p, q := fs.values.Stats()
	check("values", fs.values.Len(), fs.values.Names(), p, q)
	p, q = fs.align.Stats()
	check("alignment", fs.align.Len(), fs.align.Names(), p, q)
	p, q = fs.allocs.Stats()
	check("allocations", fs.allocs.Len(), fs.allocs.Names(), p, q)
	p, q = fs.misaligned.Stats()
	check("misaligned", fs.misaligned.Len(), fs.misaligned.Names(), p, q)
	l.fn = fs.parent
}

func (l *Lowerer[V]) function(f *ir.Function) {
	sig := Signature{Name: f.Name, Ret: ir.I32}
	for _, a := range f.Args {
		p := Param{Name: a.Name, Type: a.Type, Buffer: a.IsBuffer()}
		if a.IsBuffer() {
			p.Type = ir.HandleType()
		}
		sig.Params = append(sig.Params, p)
	}
	l.log.Debug("lowering function", "func", f.Name, "args", len(f.Args))
	l.b.Function(sig, func(params []V) {
		fs := l.enter(f.Name, l.b.NullHandle())
		for i, a := range f.Args {
			if a.Name == ir.UserContextName {
				fs.ctx = params[i]
			}
		}
		for i, a := range f.Args {
			if a.IsBuffer() {
				l.unpackBuffer(a.Name, params[i])
			} else {
				fs.values.Push(a.Name, params[i])
			}
		}
		l.body(f.Body)
		for i := len(f.Args) - 1; i >= 0; i-- {
			if a := f.Args[i]; a.IsBuffer() {
				l.dropBuffer(a.Name)
			} else {
				fs.values.Pop(a.Name)
			}
		}
		l.leave(fs)
	})
	l.info.Functions = append(l.info.Functions, f.Name)
	l.log.Debug("lowered function", "func", f.Name)
}

func (l *Lowerer[V]) fieldPtr(desc V, offset int) V {
	return l.b.ElementPtr(ir.U8, desc, l.b.IntConst(ir.I32, int64(offset)))
}

// unpackBuffer binds every field of the descriptor desc under the buffer
// symbol names of buf.
func (l *Lowerer[V]) unpackBuffer(buf string, desc V) {
	fs := l.fn
	fields := make(map[string]V)
	fields[ir.BufferName(buf)] = desc
	fields[buf] = l.b.Load(ir.HandleType(), l.fieldPtr(desc, abi.OffsetHost), 8)
	fields[ir.ElemSizeName(buf)] = l.b.Load(ir.I32, l.fieldPtr(desc, abi.OffsetElemSize), 4)
	fields[ir.HostDirtyName(buf)] = l.loadFlag(desc, abi.OffsetHostDirty)
	fields[ir.DevDirtyName(buf)] = l.loadFlag(desc, abi.OffsetDevDirty)
	for d := 0; d < abi.Dimensions; d++ {
		fields[ir.MinName(buf, d)] = l.b.Load(ir.I32, l.fieldPtr(desc, abi.Offset(abi.FieldMin, d)), 4)
		fields[ir.ExtentName(buf, d)] = l.b.Load(ir.I32, l.fieldPtr(desc, abi.Offset(abi.FieldExtent, d)), 4)
		fields[ir.StrideName(buf, d)] = l.b.Load(ir.I32, l.fieldPtr(desc, abi.Offset(abi.FieldStride, d)), 4)
	}
	for _, sym := range ir.BufferSymbols(buf) {
		fs.values.Push(sym.Name, fields[sym.Name])
	}
	// The host pointer of a caller's buffer has no known alignment.
	fs.misaligned.Push(buf, true)
}

func (l *Lowerer[V]) dropBuffer(buf string) {
	fs := l.fn
	fs.misaligned.Pop(buf)
	syms := ir.BufferSymbols(buf)
	for i := len(syms) - 1; i >= 0; i-- {
		fs.values.Pop(syms[i].Name)
	}
}

func (l *Lowerer[V]) loadFlag(desc V, offset int) V {
	raw := l.b.Load(ir.U8, l.fieldPtr(desc, offset), 1)
	return l.b.Compare(PredNE, raw, l.b.IntConst(ir.U8, 0))
}

// bind pushes a let binding, recording an alignment fact for scalar
// integers.
func (l *Lowerer[V]) bind(name string, value ir.Expr, v V) {
	l.fn.values.Push(name, v)
	if t := value.Type(); t.IsScalar() && t.IsIntegral() {
		l.fn.align.Push(name, AnalyzeModRem(value, l.alignFact))
	}
}

func (l *Lowerer[V]) unbind(name string, value ir.Expr) {
	if t := value.Type(); t.IsScalar() && t.IsIntegral() {
		l.fn.align.Pop(name)
	}
	l.fn.values.Pop(name)
}

func (l *Lowerer[V]) alignFact(name string) (ModRem, bool) {
	return l.fn.align.Get(name, false)
}

func (l *Lowerer[V]) expr(e ir.Expr) V {
	switch e := e.(type) {
	case ir.IntImm:
		return l.b.IntConst(e.T, e.Value)
	case ir.UIntImm:
		return l.b.IntConst(e.T, int64(e.Value))
	case ir.FloatImm:
		return l.b.FloatConst(e.T, e.Value)
	case ir.StringImm:
		return l.b.StringConst(e.Value)
	case ir.Variable:
		return l.fn.values.Value(e.Name)
	case ir.Binary:
		return l.binary(e)
	case ir.Compare:
		return LowerCompare(l.b, e.Op, l.expr(e.A), l.expr(e.B))
	case ir.Not:
		return LowerNot(l.b, l.expr(e.A))
	case ir.Select:
		cond := l.expr(e.Cond)
		return LowerSelect(l.b, cond, l.expr(e.True), l.expr(e.False))
	case ir.Load:
		return l.load(e)
	case ir.Ramp:
		return l.ramp(e)
	case ir.Broadcast:
		return Broadcast(l.b, l.expr(e.Value), e.Lanes)
	case ir.Call:
		if e.Kind == ir.Intrinsic {
			return l.intrinsic(e)
		}
		args := make([]V, len(e.Args))
		for i, a := range e.Args {
			args[i] = l.expr(a)
		}
		return l.callVector(e.Name, e.T, args)
	case ir.Cast:
		return LowerCast(l.b, e.T, l.expr(e.Value), l.cfg.Target.PointerBits)
	case ir.Let:
		v := l.expr(e.Value)
		l.bind(e.Name, e.Value, v)
		r := l.expr(e.Body)
		l.unbind(e.Name, e.Value)
		return r
	}
	fail(ErrMalformedNode, e, "", "unknown expression %T", e)
	panic("unreachable")
}

func (l *Lowerer[V]) binary(e ir.Binary) V {
	x, y := l.expr(e.A), l.expr(e.B)
	switch e.Op {
	case ir.Add:
		return LowerAdd(l.b, x, y)
	case ir.Sub:
		return LowerSub(l.b, x, y)
	case ir.Mul:
		return LowerMul(l.b, x, y)
	case ir.Div:
		return LowerDiv(l.b, x, y, e.B)
	case ir.Mod:
		// Constant divisors keep the shared lowering, which masks powers
		// of two and rejects zero.
		if t := l.b.TypeOf(x); t.IsInt() {
			if _, ok := constantOf(e.B); !ok {
				return l.nativeOr("mod", t, []V{x, y}, func() V { return EuclidMod(l.b, x, y) })
			}
		}
		return LowerMod(l.b, x, y, e.B, l.floor)
	case ir.Min, ir.Max:
		name := "min"
		if e.Op == ir.Max {
			name = "max"
		}
		return l.nativeOr(name, l.b.TypeOf(x), []V{x, y}, func() V { return LowerMinMax(l.b, e.Op, x, y) })
	case ir.And:
		return l.b.Binary(OpAnd, x, y)
	case ir.Or:
		return l.b.Binary(OpOr, x, y)
	}
	fail(ErrMalformedNode, e, "", "unknown binary operator %d", e.Op)
	panic("unreachable")
}

// ramp builds base + [0, 1, ...]*stride.
func (l *Lowerer[V]) ramp(e ir.Ramp) V {
	t := e.Type()
	elem := t.Element()
	base := l.expr(e.Base)
	stride := l.expr(e.Stride)
	lanes := l.b.Undef(t)
	for i := 0; i < e.Lanes; i++ {
		lanes = l.b.InsertElement(lanes, l.b.IntConst(elem, int64(i)), i)
	}
	step := LowerMul(l.b, Broadcast(l.b, stride, e.Lanes), lanes)
	return LowerAdd(l.b, Broadcast(l.b, base, e.Lanes), step)
}

func (l *Lowerer[V]) floor(v V) V {
	t := l.b.TypeOf(v)
	if l.native != nil {
		if r, ok := l.native.Intrinsic("floor", t, []V{v}); ok {
			return r
		}
	}
	return l.callVector(fmt.Sprintf("floor_f%d", t.Bits), t, []V{v})
}

// callRuntime calls a runtime function, passing the context first when
// the function consumes one.
func (l *Lowerer[V]) callRuntime(name string, ret ir.Type, args ...V) V {
	if abi.TakesContext(name) {
		args = append([]V{l.fn.ctx}, args...)
	}
	return l.b.Call(name, ret, args)
}

// callVector calls an extern. A vector call uses the extern's variant of
// the exact width when there is one, otherwise native-width slices of a
// vector variant, otherwise one scalar call per lane.
func (l *Lowerer[V]) callVector(name string, t ir.Type, args []V) V {
	if abi.TakesContext(name) {
		args = append([]V{l.fn.ctx}, args...)
	}
	if !t.IsVector() {
		return l.b.Call(name, t, args)
	}
	w := t.Lanes
	if exact := fmt.Sprintf("%sx%d", name, w); l.b.HasExtern(exact) {
		return l.b.Call(exact, t, args)
	}
	if n := l.cfg.Target.NativeLanes(t.Element()); n > 0 {
		if variant := fmt.Sprintf("%sx%d", name, n); l.b.HasExtern(variant) {
			l.log.Debug("splitting vector call", "func", name, "lanes", w, "native", n)
			var parts []V
			for i := 0; i < w; i += n {
				sub := make([]V, len(args))
				for j, a := range args {
					if l.b.TypeOf(a).IsVector() {
						sub[j] = Slice(l.b, a, i, n)
					} else {
						sub[j] = a
					}
				}
				parts = append(parts, l.b.Call(variant, t.WithLanes(n), sub))
			}
			return Slice(l.b, Concat(l.b, parts), 0, w)
		}
	}
	out := l.b.Undef(t)
	for i := 0; i < w; i++ {
		sub := make([]V, len(args))
		for j, a := range args {
			if l.b.TypeOf(a).IsVector() {
				sub[j] = l.b.ExtractElement(a, i)
			} else {
				sub[j] = a
			}
		}
		out = l.b.InsertElement(out, l.b.Call(name, t.Element(), sub), i)
	}
	return out
}
