package ir

import "sort"

// Capture is a name referenced inside a statement but bound outside it.
type Capture struct {
	Name string
	Type Type
	// Memory is set when the name is used as the target of a load or
	// store, so the captured value is the host pointer of a buffer or
	// allocation.
	Memory bool
}

// FreeVars returns the names s references without binding them, sorted by
// name. Names used both as variables and as memory keep the variable's type.
func FreeVars(s Stmt) []Capture {
	fv := freeVars{
		bound: make(map[string]int),
		found: make(map[string]Capture),
	}
	fv.stmt(s)
	out := make([]Capture, 0, len(fv.found))
	for _, c := range fv.found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type freeVars struct {
	bound map[string]int
	found map[string]Capture
}

func (fv *freeVars) bind(name string)   { fv.bound[name]++ }
func (fv *freeVars) unbind(name string) { fv.bound[name]-- }

func (fv *freeVars) use(name string, t Type, memory bool) {
	if fv.bound[name] > 0 {
		return
	}
	if prev, ok := fv.found[name]; ok && !prev.Memory {
		return
	}
	fv.found[name] = Capture{Name: name, Type: t, Memory: memory}
}

func (fv *freeVars) stmt(s Stmt) {
	switch s := s.(type) {
	case nil:
	case Block:
		for _, st := range s.Stmts {
			fv.stmt(st)
		}
	case For:
		fv.expr(s.Min)
		fv.expr(s.Extent)
		fv.bind(s.Name)
		fv.stmt(s.Body)
		fv.unbind(s.Name)
	case IfThenElse:
		fv.expr(s.Cond)
		fv.stmt(s.Then)
		fv.stmt(s.Else)
	case Allocate:
		for _, e := range s.Extents {
			fv.expr(e)
		}
		fv.bind(s.Name)
		fv.stmt(s.Body)
		fv.unbind(s.Name)
	case Free:
		fv.use(s.Name, HandleType(), true)
	case LetStmt:
		fv.expr(s.Value)
		fv.bind(s.Name)
		fv.stmt(s.Body)
		fv.unbind(s.Name)
	case AssertStmt:
		fv.expr(s.Cond)
		fv.expr(s.Message)
	case ProducerConsumer:
		fv.stmt(s.Body)
	case Evaluate:
		fv.expr(s.Value)
	case Store:
		fv.use(s.Name, HandleType(), true)
		fv.expr(s.Value)
		fv.expr(s.Index)
	}
}

func (fv *freeVars) expr(e Expr) {
	switch e := e.(type) {
	case nil, IntImm, UIntImm, FloatImm, StringImm:
	case Variable:
		fv.use(e.Name, e.T, false)
	case Binary:
		fv.expr(e.A)
		fv.expr(e.B)
	case Compare:
		fv.expr(e.A)
		fv.expr(e.B)
	case Not:
		fv.expr(e.A)
	case Select:
		fv.expr(e.Cond)
		fv.expr(e.True)
		fv.expr(e.False)
	case Load:
		fv.use(e.Name, HandleType(), true)
		fv.expr(e.Index)
	case Ramp:
		fv.expr(e.Base)
		fv.expr(e.Stride)
	case Broadcast:
		fv.expr(e.Value)
	case Call:
		for _, a := range e.Args {
			fv.expr(a)
		}
	case Cast:
		fv.expr(e.Value)
	case Let:
		fv.expr(e.Value)
		fv.bind(e.Name)
		fv.expr(e.Body)
		fv.unbind(e.Name)
	}
}

// laneWise lists the intrinsics whose lane i depends only on lane i of
// their vector operands.
var laneWise = map[string]bool{
	"bitwise_and": true, "bitwise_or": true, "bitwise_xor": true, "bitwise_not": true,
	"shift_left": true, "shift_right": true, "reinterpret": true, "abs": true,
	"absd": true, "lerp": true, "select": true, "if_then_else": true,
	"popcount": true, "count_leading_zeros": true, "count_trailing_zeros": true,
}

// pureIntrinsics lists the other intrinsics without side effects.
var pureIntrinsics = map[string]bool{
	"shuffle_vector": true, "interleave_vectors": true, "extract_buffer_min": true,
	"extract_buffer_max": true, "extract_buffer_host": true, "address_of": true,
	"undef": true, "null_handle": true, "memoize_expr": true,
}

// ExtractLane returns a scalar expression computing lane i of e. Ramps,
// broadcasts, lets, element-wise nodes and element-wise calls are
// rewritten structurally; anything else is wrapped in a shuffle_vector
// intrinsic, which evaluates it whole.
func ExtractLane(e Expr, i int) Expr {
	x := &laneExtractor{lane: i}
	return x.extract(e)
}

// SplitsByLane reports whether ExtractLane computes every lane of e
// without evaluating a call with side effects on behalf of other lanes.
func SplitsByLane(e Expr) bool {
	if e.Type().Lanes == 1 {
		return true
	}
	x := &laneExtractor{}
	x.extract(e)
	return !x.repeated
}

type laneExtractor struct {
	lane int
	// reduced holds the let names whose binding is already narrowed to
	// the lane.
	reduced map[string]bool
	// escaped is set when a scalar part refers to a reduced name.
	escaped bool
	// repeated is set when a call with side effects is evaluated whole.
	repeated bool
}

func (x *laneExtractor) extract(e Expr) Expr {
	if v, ok := e.(Variable); ok && x.reduced[v.Name] {
		return Variable{T: v.T.Element(), Name: v.Name}
	}
	t := e.Type()
	if t.Lanes == 1 {
		if x.mentionsReduced(e) {
			x.escaped = true
		}
		return e
	}
	i := x.lane
	switch e := e.(type) {
	case Broadcast:
		return x.extract(e.Value)
	case Ramp:
		base, stride := x.extract(e.Base), x.extract(e.Stride)
		if i == 0 {
			return base
		}
		if s, ok := IntValue(stride); ok {
			if b, ok := IntValue(base); ok {
				return Const(base.Type(), b+s*int64(i))
			}
			return Binary{Op: Add, A: base, B: Const(base.Type(), s*int64(i))}
		}
		return Binary{Op: Add, A: base, B: Binary{Op: Mul, A: stride, B: Const(base.Type(), int64(i))}}
	case Binary:
		return Binary{Op: e.Op, A: x.extract(e.A), B: x.extract(e.B)}
	case Compare:
		return Compare{Op: e.Op, A: x.extract(e.A), B: x.extract(e.B)}
	case Not:
		return Not{A: x.extract(e.A)}
	case Select:
		return Select{Cond: x.extract(e.Cond), True: x.extract(e.True), False: x.extract(e.False)}
	case Load:
		return Load{T: e.T.Element(), Name: e.Name, Index: x.extract(e.Index)}
	case Cast:
		if e.Value.Type().Lanes == t.Lanes {
			return Cast{T: e.T.Element(), Value: x.extract(e.Value)}
		}
	case Let:
		return x.let(e)
	case Call:
		if e.Kind == Intrinsic && e.Name == "memoize_expr" {
			return x.extract(e.Args[0])
		}
		if splitsCall(e, t.Lanes) {
			args := make([]Expr, len(e.Args))
			for k, a := range e.Args {
				args[k] = x.extract(a)
			}
			return Call{T: t.Element(), Name: e.Name, Args: args, Kind: e.Kind}
		}
	}
	return x.whole(e)
}

// splitsCall reports whether c computes each of its lanes from the same
// lane of its operands. Extern calls on vectors are evaluated lane by lane
// unless the runtime has a vector variant, which computes the same lanes.
func splitsCall(c Call, lanes int) bool {
	if c.Kind == Intrinsic && !laneWise[c.Name] {
		return false
	}
	for _, a := range c.Args {
		if n := a.Type().Lanes; n != 1 && n != lanes {
			return false
		}
	}
	return true
}

func (x *laneExtractor) whole(e Expr) Expr {
	if x.mentionsReduced(e) {
		x.escaped = true
	}
	if hasEffects(e) {
		x.repeated = true
	}
	return Call{
		T:    e.Type().Element(),
		Name: "shuffle_vector",
		Args: []Expr{e, Int32(int64(x.lane))},
		Kind: Intrinsic,
	}
}

// let narrows the binding of a vector let to the lane. When the body also
// uses the whole vector, the let is evaluated whole instead.
func (x *laneExtractor) let(e Let) Expr {
	value := x.extract(e.Value)
	outer, escaped := x.reduced, x.escaped
	x.reduced = make(map[string]bool, len(outer)+1)
	for n := range outer {
		x.reduced[n] = true
	}
	if e.Value.Type().Lanes > 1 {
		x.reduced[e.Name] = true
	} else {
		delete(x.reduced, e.Name)
	}
	x.escaped = false
	body := x.extract(e.Body)
	bodyEscaped := x.escaped
	x.reduced, x.escaped = outer, escaped
	if bodyEscaped {
		return x.whole(e)
	}
	return Let{Name: e.Name, Value: value, Body: body}
}

func (x *laneExtractor) mentionsReduced(e Expr) bool {
	if len(x.reduced) == 0 {
		return false
	}
	fv := freeVars{bound: make(map[string]int), found: make(map[string]Capture)}
	fv.expr(e)
	for name, c := range fv.found {
		if !c.Memory && x.reduced[name] {
			return true
		}
	}
	return false
}

// hasEffects reports whether evaluating e calls an extern or an intrinsic
// with side effects.
func hasEffects(e Expr) bool {
	switch e := e.(type) {
	case Binary:
		return hasEffects(e.A) || hasEffects(e.B)
	case Compare:
		return hasEffects(e.A) || hasEffects(e.B)
	case Not:
		return hasEffects(e.A)
	case Select:
		return hasEffects(e.Cond) || hasEffects(e.True) || hasEffects(e.False)
	case Load:
		return hasEffects(e.Index)
	case Ramp:
		return hasEffects(e.Base) || hasEffects(e.Stride)
	case Broadcast:
		return hasEffects(e.Value)
	case Cast:
		return hasEffects(e.Value)
	case Let:
		return hasEffects(e.Value) || hasEffects(e.Body)
	case Call:
		if e.Kind == Extern || !laneWise[e.Name] && !pureIntrinsics[e.Name] {
			return true
		}
		for _, a := range e.Args {
			if hasEffects(a) {
				return true
			}
		}
	}
	return false
}
