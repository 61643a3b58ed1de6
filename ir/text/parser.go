// Package text reads the S-expression form of kiln IR produced by ir.Print.
//
// Variables are written as bare names and typed from their binding: function
// arguments (including the names a buffer argument unpacks to), let
// bindings, loop variables and allocations. An explicit (var TYPE NAME) form
// is also accepted.
//
// Literals: 3 is an i32, 3:u8 an unsigned byte, 2.5 an f32, 2.5:f64 a
// double, true/false are bools; nan and inf take an optional :f32/:f64
// suffix.
package text

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/kiln/ir"
)

// Parse reads a module.
func Parse(source string) (*ir.Module, error) {
	nodes, err := parseNodes(source)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, &SyntaxError{Msg: fmt.Sprintf("expected one module, found %d top-level forms", len(nodes)), Source: source}
	}
	p := newParser(source)
	return p.module(nodes[0])
}

// ParseStmt reads a single statement. Free names are typed from env.
func ParseStmt(source string, env map[string]ir.Type) (ir.Stmt, error) {
	n, err := parseOne(source)
	if err != nil {
		return nil, err
	}
	p := newParser(source)
	for name, t := range env {
		p.push(name, t)
	}
	return p.stmt(n)
}

// ParseExpr reads a single expression. Free names are typed from env.
func ParseExpr(source string, env map[string]ir.Type) (ir.Expr, error) {
	n, err := parseOne(source)
	if err != nil {
		return nil, err
	}
	p := newParser(source)
	for name, t := range env {
		p.push(name, t)
	}
	return p.expr(n)
}

func parseOne(source string) (node, error) {
	nodes, err := parseNodes(source)
	if err != nil {
		return node{}, err
	}
	if len(nodes) != 1 {
		return node{}, &SyntaxError{Msg: fmt.Sprintf("expected one form, found %d", len(nodes)), Source: source}
	}
	return nodes[0], nil
}

// ParseType reads a type name such as i32, u8x16, f64, bool or handle.
func ParseType(s string) (ir.Type, error) {
	lanes := 1
	base := s
	if i := strings.LastIndexByte(s, 'x'); i > 0 && s != "handle" {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n < 1 {
			return ir.Type{}, fmt.Errorf("invalid lane count in type %q", s)
		}
		lanes = n
		base = s[:i]
	}
	var t ir.Type
	switch {
	case base == "void":
		return ir.Void, nil
	case base == "bool":
		t = ir.Bool()
	case base == "handle":
		t = ir.HandleType()
	case len(base) > 1 && (base[0] == 'i' || base[0] == 'u' || base[0] == 'f'):
		bits, err := strconv.Atoi(base[1:])
		if err != nil {
			return ir.Type{}, fmt.Errorf("unknown type %q", s)
		}
		switch base[0] {
		case 'i':
			t = ir.IntType(bits)
		case 'u':
			t = ir.UIntType(bits)
		default:
			if bits != 32 && bits != 64 {
				return ir.Type{}, fmt.Errorf("unsupported float width in %q", s)
			}
			t = ir.FloatType(bits)
		}
		if t.Code != ir.Float && bits != 1 && bits != 8 && bits != 16 && bits != 32 && bits != 64 {
			return ir.Type{}, fmt.Errorf("unsupported integer width in %q", s)
		}
	default:
		return ir.Type{}, fmt.Errorf("unknown type %q", s)
	}
	return t.WithLanes(lanes), nil
}

type parser struct {
	source string
	names  map[string][]ir.Type
}

func newParser(source string) *parser {
	return &parser{source: source, names: make(map[string][]ir.Type)}
}

func (p *parser) push(name string, t ir.Type) {
	p.names[name] = append(p.names[name], t)
}

func (p *parser) pop(name string) {
	s := p.names[name]
	p.names[name] = s[:len(s)-1]
}

func (p *parser) errorf(n node, format string, args ...any) error {
	return &SyntaxError{Line: n.line, Col: n.column, Msg: fmt.Sprintf(format, args...), Source: p.source}
}

// form checks that n is a list headed by an atom and returns the head and
// the arguments.
func (p *parser) form(n node) (string, []node, error) {
	if !n.isList || len(n.list) == 0 || n.list[0].isList || n.list[0].str {
		return "", nil, p.errorf(n, "expected a form, got %s", n)
	}
	return n.list[0].atom, n.list[1:], nil
}

func (p *parser) arity(n node, args []node, want int) error {
	if len(args) != want {
		return p.errorf(n, "%s takes %d operands, got %d", n.list[0].atom, want, len(args))
	}
	return nil
}

func (p *parser) name(n node) (string, error) {
	if n.isList || n.str || n.atom == "" {
		return "", p.errorf(n, "expected a name, got %s", n)
	}
	return n.atom, nil
}

func (p *parser) typ(n node) (ir.Type, error) {
	if n.isList || n.str {
		return ir.Type{}, p.errorf(n, "expected a type, got %s", n)
	}
	t, err := ParseType(n.atom)
	if err != nil {
		return ir.Type{}, p.errorf(n, "%v", err)
	}
	return t, nil
}

func (p *parser) integer(n node) (int, error) {
	if n.isList || n.str {
		return 0, p.errorf(n, "expected an integer, got %s", n)
	}
	v, err := strconv.Atoi(n.atom)
	if err != nil {
		return 0, p.errorf(n, "expected an integer, got %s", n)
	}
	return v, nil
}

func (p *parser) module(n node) (*ir.Module, error) {
	head, args, err := p.form(n)
	if err != nil {
		return nil, err
	}
	if head != "module" || len(args) < 1 {
		return nil, p.errorf(n, "expected (module NAME FUNC...)")
	}
	name, err := p.name(args[0])
	if err != nil {
		return nil, err
	}
	m := &ir.Module{Name: name}
	for _, f := range args[1:] {
		fn, err := p.function(f)
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, fn)
	}
	return m, nil
}

func (p *parser) function(n node) (ir.Function, error) {
	head, args, err := p.form(n)
	if err != nil {
		return ir.Function{}, err
	}
	if head != "func" || len(args) != 3 || !args[1].isList {
		return ir.Function{}, p.errorf(n, "expected (func NAME (ARGS...) BODY)")
	}
	name, err := p.name(args[0])
	if err != nil {
		return ir.Function{}, err
	}
	fn := ir.Function{Name: name}
	var bound []string
	for _, a := range args[1].list {
		kind, parts, err := p.form(a)
		if err != nil {
			return ir.Function{}, err
		}
		if len(parts) != 2 {
			return ir.Function{}, p.errorf(a, "expected (%s NAME TYPE)", kind)
		}
		argName, err := p.name(parts[0])
		if err != nil {
			return ir.Function{}, err
		}
		t, err := p.typ(parts[1])
		if err != nil {
			return ir.Function{}, err
		}
		switch kind {
		case "buffer":
			fn.Args = append(fn.Args, ir.Buffer(argName, t))
			for _, v := range ir.BufferSymbols(argName) {
				p.push(v.Name, v.T)
				bound = append(bound, v.Name)
			}
		case "scalar":
			fn.Args = append(fn.Args, ir.Scalar(argName, t))
			p.push(argName, t)
			bound = append(bound, argName)
		default:
			return ir.Function{}, p.errorf(a, "unknown argument kind %q", kind)
		}
	}
	fn.Body, err = p.stmt(args[2])
	for _, b := range bound {
		p.pop(b)
	}
	if err != nil {
		return ir.Function{}, err
	}
	return fn, nil
}

//nolint:gocyclo,gocognit // One case per statement keyword
func (p *parser) stmt(n node) (ir.Stmt, error) {
	head, args, err := p.form(n)
	if err != nil {
		return nil, err
	}
	switch head {
	case "block":
		var stmts []ir.Stmt
		for _, a := range args {
			s, err := p.stmt(a)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
		}
		return ir.Block{Stmts: stmts}, nil
	case "for", "parallel":
		if err := p.arity(n, args, 4); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		lo, err := p.expr(args[1])
		if err != nil {
			return nil, err
		}
		ext, err := p.expr(args[2])
		if err != nil {
			return nil, err
		}
		p.push(name, ir.I32)
		body, err := p.stmt(args[3])
		p.pop(name)
		if err != nil {
			return nil, err
		}
		kind := ir.Serial
		if head == "parallel" {
			kind = ir.Parallel
		}
		return ir.For{Name: name, Min: lo, Extent: ext, Kind: kind, Body: body}, nil
	case "if":
		if len(args) != 2 && len(args) != 3 {
			return nil, p.errorf(n, "expected (if COND THEN [ELSE])")
		}
		cond, err := p.expr(args[0])
		if err != nil {
			return nil, err
		}
		then, err := p.stmt(args[1])
		if err != nil {
			return nil, err
		}
		s := ir.IfThenElse{Cond: cond, Then: then}
		if len(args) == 3 {
			if s.Else, err = p.stmt(args[2]); err != nil {
				return nil, err
			}
		}
		return s, nil
	case "allocate":
		if err := p.arity(n, args, 4); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		t, err := p.typ(args[1])
		if err != nil {
			return nil, err
		}
		if !args[2].isList {
			return nil, p.errorf(args[2], "expected an extent list")
		}
		var extents []ir.Expr
		for _, e := range args[2].list {
			x, err := p.expr(e)
			if err != nil {
				return nil, err
			}
			extents = append(extents, x)
		}
		p.push(name, ir.HandleType())
		body, err := p.stmt(args[3])
		p.pop(name)
		if err != nil {
			return nil, err
		}
		return ir.Allocate{Name: name, T: t, Extents: extents, Body: body}, nil
	case "free":
		if err := p.arity(n, args, 1); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		return ir.Free{Name: name}, nil
	case "let-stmt":
		if err := p.arity(n, args, 3); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		value, err := p.expr(args[1])
		if err != nil {
			return nil, err
		}
		p.push(name, value.Type())
		body, err := p.stmt(args[2])
		p.pop(name)
		if err != nil {
			return nil, err
		}
		return ir.LetStmt{Name: name, Value: value, Body: body}, nil
	case "assert":
		if err := p.arity(n, args, 2); err != nil {
			return nil, err
		}
		cond, err := p.expr(args[0])
		if err != nil {
			return nil, err
		}
		msg, err := p.expr(args[1])
		if err != nil {
			return nil, err
		}
		return ir.AssertStmt{Cond: cond, Message: msg}, nil
	case "produce", "consume":
		if err := p.arity(n, args, 2); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		body, err := p.stmt(args[1])
		if err != nil {
			return nil, err
		}
		return ir.ProducerConsumer{Name: name, Produce: head == "produce", Body: body}, nil
	case "evaluate":
		if err := p.arity(n, args, 1); err != nil {
			return nil, err
		}
		e, err := p.expr(args[0])
		if err != nil {
			return nil, err
		}
		return ir.Evaluate{Value: e}, nil
	case "store", "atomic-store":
		if err := p.arity(n, args, 3); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		value, err := p.expr(args[1])
		if err != nil {
			return nil, err
		}
		index, err := p.expr(args[2])
		if err != nil {
			return nil, err
		}
		return ir.Store{Name: name, Value: value, Index: index, Atomic: head == "atomic-store"}, nil
	}
	return nil, p.errorf(n, "unknown statement %q", head)
}

var binaryOps = map[string]ir.BinaryOp{
	"+": ir.Add, "-": ir.Sub, "*": ir.Mul, "/": ir.Div, "%": ir.Mod,
	"min": ir.Min, "max": ir.Max, "&&": ir.And, "||": ir.Or,
}

var compareOps = map[string]ir.CompareOp{
	"==": ir.EQ, "!=": ir.NE, "<": ir.LT, "<=": ir.LE, ">": ir.GT, ">=": ir.GE,
}

//nolint:gocyclo,gocognit // One case per expression keyword
func (p *parser) expr(n node) (ir.Expr, error) {
	if n.str {
		return ir.StringImm{Value: n.atom}, nil
	}
	if !n.isList {
		return p.atom(n)
	}
	head, args, err := p.form(n)
	if err != nil {
		return nil, err
	}
	if op, ok := binaryOps[head]; ok {
		a, b, err := p.pair(n, args)
		if err != nil {
			return nil, err
		}
		return ir.Binary{Op: op, A: a, B: b}, nil
	}
	if op, ok := compareOps[head]; ok {
		a, b, err := p.pair(n, args)
		if err != nil {
			return nil, err
		}
		return ir.Compare{Op: op, A: a, B: b}, nil
	}
	switch head {
	case "!":
		if err := p.arity(n, args, 1); err != nil {
			return nil, err
		}
		a, err := p.expr(args[0])
		if err != nil {
			return nil, err
		}
		return ir.Not{A: a}, nil
	case "select":
		ops, err := p.exprs(n, args, 3)
		if err != nil {
			return nil, err
		}
		return ir.Select{Cond: ops[0], True: ops[1], False: ops[2]}, nil
	case "load":
		if err := p.arity(n, args, 3); err != nil {
			return nil, err
		}
		t, err := p.typ(args[0])
		if err != nil {
			return nil, err
		}
		name, err := p.name(args[1])
		if err != nil {
			return nil, err
		}
		index, err := p.expr(args[2])
		if err != nil {
			return nil, err
		}
		return ir.Load{T: t, Name: name, Index: index}, nil
	case "ramp":
		if err := p.arity(n, args, 3); err != nil {
			return nil, err
		}
		base, stride, err := p.pair(n, args[:2])
		if err != nil {
			return nil, err
		}
		lanes, err := p.integer(args[2])
		if err != nil {
			return nil, err
		}
		return ir.Ramp{Base: base, Stride: stride, Lanes: lanes}, nil
	case "broadcast":
		if err := p.arity(n, args, 2); err != nil {
			return nil, err
		}
		v, err := p.expr(args[0])
		if err != nil {
			return nil, err
		}
		lanes, err := p.integer(args[1])
		if err != nil {
			return nil, err
		}
		return ir.Broadcast{Value: v, Lanes: lanes}, nil
	case "call", "intrinsic":
		if len(args) < 2 {
			return nil, p.errorf(n, "expected (%s TYPE NAME ARGS...)", head)
		}
		t, err := p.typ(args[0])
		if err != nil {
			return nil, err
		}
		name, err := p.name(args[1])
		if err != nil {
			return nil, err
		}
		ops, err := p.exprs(n, args[2:], len(args)-2)
		if err != nil {
			return nil, err
		}
		kind := ir.Extern
		if head == "intrinsic" {
			kind = ir.Intrinsic
		}
		return ir.Call{T: t, Name: name, Args: ops, Kind: kind}, nil
	case "cast":
		if err := p.arity(n, args, 2); err != nil {
			return nil, err
		}
		t, err := p.typ(args[0])
		if err != nil {
			return nil, err
		}
		v, err := p.expr(args[1])
		if err != nil {
			return nil, err
		}
		return ir.Cast{T: t, Value: v}, nil
	case "let":
		if err := p.arity(n, args, 3); err != nil {
			return nil, err
		}
		name, err := p.name(args[0])
		if err != nil {
			return nil, err
		}
		value, err := p.expr(args[1])
		if err != nil {
			return nil, err
		}
		p.push(name, value.Type())
		body, err := p.expr(args[2])
		p.pop(name)
		if err != nil {
			return nil, err
		}
		return ir.Let{Name: name, Value: value, Body: body}, nil
	case "var":
		if err := p.arity(n, args, 2); err != nil {
			return nil, err
		}
		t, err := p.typ(args[0])
		if err != nil {
			return nil, err
		}
		name, err := p.name(args[1])
		if err != nil {
			return nil, err
		}
		return ir.Var(t, name), nil
	}
	return nil, p.errorf(n, "unknown expression %q", head)
}

func (p *parser) pair(n node, args []node) (ir.Expr, ir.Expr, error) {
	ops, err := p.exprs(n, args, 2)
	if err != nil {
		return nil, nil, err
	}
	return ops[0], ops[1], nil
}

func (p *parser) exprs(n node, args []node, want int) ([]ir.Expr, error) {
	if len(args) != want {
		return nil, p.errorf(n, "%s takes %d operands, got %d", n.list[0].atom, want, len(args))
	}
	out := make([]ir.Expr, len(args))
	for i, a := range args {
		e, err := p.expr(a)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (p *parser) atom(n node) (ir.Expr, error) {
	switch n.atom {
	case "true":
		return ir.UIntImm{T: ir.Bool(), Value: 1}, nil
	case "false":
		return ir.UIntImm{T: ir.Bool(), Value: 0}, nil
	}

	lit, suffix := n.atom, ""
	if i := strings.LastIndexByte(n.atom, ':'); i > 0 {
		lit, suffix = n.atom[:i], n.atom[i+1:]
	}
	if e, ok, err := p.literal(n, lit, suffix); ok || err != nil {
		return e, err
	}
	if suffix != "" {
		return nil, p.errorf(n, "invalid literal %q", n.atom)
	}
	s := p.names[n.atom]
	if len(s) == 0 {
		return nil, p.errorf(n, "unbound name %q", n.atom)
	}
	return ir.Var(s[len(s)-1], n.atom), nil
}

func (p *parser) literal(n node, lit, suffix string) (ir.Expr, bool, error) {
	var t ir.Type
	if suffix != "" {
		var err error
		if t, err = ParseType(suffix); err != nil {
			return nil, false, p.errorf(n, "%v", err)
		}
	}

	switch lit {
	case "nan", "inf", "-inf":
		if suffix == "" {
			t = ir.F32
		}
		if !t.IsFloat() {
			return nil, false, p.errorf(n, "%s needs a float type", lit)
		}
		v := math.NaN()
		switch lit {
		case "inf":
			v = math.Inf(1)
		case "-inf":
			v = math.Inf(-1)
		}
		return ir.FloatImm{T: t, Value: v}, true, nil
	}

	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		switch {
		case suffix == "":
			return ir.Int32(i), true, nil
		case t.IsFloat():
			return ir.FloatImm{T: t, Value: float64(i)}, true, nil
		case t.IsUInt():
			return ir.UIntImm{T: t, Value: uint64(i)}, true, nil
		default:
			return ir.IntImm{T: t, Value: i}, true, nil
		}
	}
	if u, err := strconv.ParseUint(lit, 10, 64); err == nil && t.IsUInt() {
		return ir.UIntImm{T: t, Value: u}, true, nil
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil && strings.ContainsAny(lit, ".eE") {
		if suffix == "" {
			t = ir.F32
		}
		if !t.IsFloat() {
			return nil, false, p.errorf(n, "float literal with type %s", t)
		}
		if t.Bits == 32 {
			f = float64(float32(f))
		}
		return ir.FloatImm{T: t, Value: f}, true, nil
	}
	return nil, false, nil
}
