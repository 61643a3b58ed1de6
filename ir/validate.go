package ir

import (
	"fmt"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Message string
	// Optional context
	Function string
	Node     string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Function != "" {
		if e.Node != "" {
			return fmt.Sprintf("in function %s, at %s: %s", e.Function, e.Node, e.Message)
		}
		return fmt.Sprintf("in function %s: %s", e.Function, e.Message)
	}
	return e.Message
}

// Validator checks that a module is well typed and well scoped.
type Validator struct {
	module  *Module
	errors  []ValidationError
	context validationContext
}

type validationContext struct {
	functionName string
	names        map[string][]Type
	allocations  map[string]int
}

// Validate checks the IR module for correctness.
// Returns validation errors if any, or nil if module is valid.
func Validate(module *Module) ([]ValidationError, error) {
	if module == nil {
		return nil, fmt.Errorf("module is nil")
	}

	v := &Validator{
		module: module,
		errors: make([]ValidationError, 0),
	}

	v.ValidateModule()

	if len(v.errors) > 0 {
		return v.errors, nil
	}
	return nil, nil
}

// ValidateModule validates every function of the module.
func (v *Validator) ValidateModule() {
	seen := make(map[string]bool)
	for i := range v.module.Functions {
		fn := &v.module.Functions[i]
		if fn.Name == "" {
			v.addError("function with empty name")
		}
		if seen[fn.Name] {
			v.addError(fmt.Sprintf("duplicate function %q", fn.Name))
		}
		seen[fn.Name] = true
		v.validateFunction(fn)
	}
}

func (v *Validator) validateFunction(fn *Function) {
	v.context = validationContext{
		functionName: fn.Name,
		names:        make(map[string][]Type),
		allocations:  make(map[string]int),
	}
	args := make(map[string]bool)
	for _, a := range fn.Args {
		if args[a.Name] {
			v.addErrorInFunction(fmt.Sprintf("duplicate argument %q", a.Name))
		}
		args[a.Name] = true
		if a.Type.IsVoid() || a.Type.IsVector() {
			v.addErrorInFunction(fmt.Sprintf("argument %q has invalid type %s", a.Name, a.Type))
		}
		if a.Name == UserContextName && (a.IsBuffer() || !a.Type.IsHandle()) {
			v.addErrorInFunction("context argument must be a scalar handle")
		}
		if a.IsBuffer() {
			for _, s := range BufferSymbols(a.Name) {
				v.push(s.Name, s.T)
			}
			continue
		}
		v.push(a.Name, a.Type)
	}
	if fn.Body == nil {
		v.addErrorInFunction("function has no body")
		return
	}
	v.validateStmt(fn.Body)
}

func (v *Validator) push(name string, t Type) {
	v.context.names[name] = append(v.context.names[name], t)
}

func (v *Validator) pop(name string) {
	s := v.context.names[name]
	v.context.names[name] = s[:len(s)-1]
}

func (v *Validator) lookup(name string) (Type, bool) {
	s := v.context.names[name]
	if len(s) == 0 {
		return Type{}, false
	}
	return s[len(s)-1], true
}

//nolint:gocyclo // One case per statement kind
func (v *Validator) validateStmt(s Stmt) {
	switch s := s.(type) {
	case nil:
	case Block:
		for _, st := range s.Stmts {
			v.validateStmt(st)
		}
	case For:
		v.expectScalarI32(s.Min, "loop min")
		v.expectScalarI32(s.Extent, "loop extent")
		v.push(s.Name, I32)
		v.validateStmt(s.Body)
		v.pop(s.Name)
	case IfThenElse:
		t := v.validateExpr(s.Cond)
		if !t.IsBool() || !t.IsScalar() {
			v.addErrorInNode("if", fmt.Sprintf("condition must be a scalar bool, got %s", t))
		}
		v.validateStmt(s.Then)
		v.validateStmt(s.Else)
	case Allocate:
		if s.T.IsVoid() || s.T.IsVector() {
			v.addErrorInNode("allocate "+s.Name, fmt.Sprintf("invalid element type %s", s.T))
		}
		for _, e := range s.Extents {
			v.expectScalarI32(e, "allocation extent")
		}
		v.push(s.Name, HandleType())
		v.context.allocations[s.Name]++
		v.validateStmt(s.Body)
		v.context.allocations[s.Name]--
		v.pop(s.Name)
	case Free:
		if v.context.allocations[s.Name] == 0 {
			v.addErrorInNode("free "+s.Name, "no enclosing allocation")
		}
	case LetStmt:
		t := v.validateExpr(s.Value)
		v.push(s.Name, t)
		v.validateStmt(s.Body)
		v.pop(s.Name)
	case AssertStmt:
		t := v.validateExpr(s.Cond)
		if !t.IsBool() {
			v.addErrorInNode("assert", fmt.Sprintf("condition must be bool, got %s", t))
		}
		if m := v.validateExpr(s.Message); !m.IsHandle() && m != I32 {
			v.addErrorInNode("assert", fmt.Sprintf("message must be a string or an int32 error call, got %s", m))
		}
	case ProducerConsumer:
		v.validateStmt(s.Body)
	case Evaluate:
		v.validateExpr(s.Value)
	case Store:
		node := "store " + s.Name
		if _, ok := v.lookup(s.Name); !ok {
			v.addErrorInNode(node, "unknown buffer")
		}
		vt := v.validateExpr(s.Value)
		it := v.validateExpr(s.Index)
		v.expectIndex(node, it, vt.Lanes)
		if s.Atomic && vt.IsVector() {
			v.addErrorInNode(node, "atomic stores must be scalar")
		}
	default:
		v.addErrorInFunction(fmt.Sprintf("unknown statement %T", s))
	}
}

func (v *Validator) expectScalarI32(e Expr, what string) {
	if t := v.validateExpr(e); t != I32 {
		v.addErrorInNode(what, fmt.Sprintf("must be i32, got %s", t))
	}
}

func (v *Validator) expectIndex(node string, index Type, lanes int) {
	if index.Code != Int || index.Bits != 32 || index.Lanes != lanes {
		v.addErrorInNode(node, fmt.Sprintf("index must be i32 with %d lanes, got %s", lanes, index))
	}
}

//nolint:gocyclo,gocognit // One case per expression kind
func (v *Validator) validateExpr(e Expr) Type {
	switch e := e.(type) {
	case nil:
		v.addErrorInFunction("missing expression")
		return Type{}
	case IntImm:
		if e.T.Code != Int || !e.T.CanRepresent(e.Value) {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("constant does not fit %s", e.T))
		}
	case UIntImm:
		if e.T.Code != UInt || (e.T.Bits < 64 && e.Value > e.T.Max()) {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("constant does not fit %s", e.T))
		}
	case FloatImm:
		if e.T.Code != Float || (e.T.Bits != 32 && e.T.Bits != 64) {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("invalid float type %s", e.T))
		}
	case StringImm:
	case Variable:
		t, ok := v.lookup(e.Name)
		if !ok {
			v.addErrorInNode(e.Name, "unbound name")
		} else if t != e.T {
			v.addErrorInNode(e.Name, fmt.Sprintf("bound as %s but referenced as %s", t, e.T))
		}
	case Binary:
		a, b := v.validateExpr(e.A), v.validateExpr(e.B)
		if a != b {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("operand types differ: %s and %s", a, b))
		}
		switch e.Op {
		case And, Or:
			if !a.IsBool() {
				v.addErrorInNode(ExprString(e), "logical operator on non-bool")
			}
		case Div, Mod:
			if c, ok := IntValue(e.B); ok && c == 0 {
				v.addErrorInNode(ExprString(e), "division by constant zero")
			}
		}
		if a.IsHandle() {
			v.addErrorInNode(ExprString(e), "arithmetic on handle")
		}
	case Compare:
		a, b := v.validateExpr(e.A), v.validateExpr(e.B)
		if a != b {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("operand types differ: %s and %s", a, b))
		}
	case Not:
		if t := v.validateExpr(e.A); !t.IsBool() {
			v.addErrorInNode(ExprString(e), "negation of non-bool")
		}
	case Select:
		c := v.validateExpr(e.Cond)
		a, b := v.validateExpr(e.True), v.validateExpr(e.False)
		if !c.IsBool() || (c.Lanes != 1 && c.Lanes != a.Lanes) {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("bad select condition %s", c))
		}
		if a != b {
			v.addErrorInNode(ExprString(e), fmt.Sprintf("select arms differ: %s and %s", a, b))
		}
	case Load:
		node := "load " + e.Name
		if _, ok := v.lookup(e.Name); !ok {
			v.addErrorInNode(node, "unknown buffer")
		}
		v.expectIndex(node, v.validateExpr(e.Index), e.T.Lanes)
	case Ramp:
		b, s := v.validateExpr(e.Base), v.validateExpr(e.Stride)
		if b != s || !b.IsScalar() || !b.IsIntegral() || e.Lanes < 1 {
			v.addErrorInNode(ExprString(e), "ramp needs matching scalar integer base and stride")
		}
	case Broadcast:
		if t := v.validateExpr(e.Value); !t.IsScalar() || e.Lanes < 1 {
			v.addErrorInNode(ExprString(e), "broadcast of non-scalar")
		}
	case Call:
		if e.Name == "" {
			v.addErrorInFunction("call with empty name")
		}
		for _, a := range e.Args {
			v.validateExpr(a)
		}
	case Cast:
		from := v.validateExpr(e.Value)
		if from.Lanes != e.T.Lanes {
			v.addErrorInNode(ExprString(e), "cast changes lane count")
		}
		if (from.IsHandle() || e.T.IsHandle()) && from != e.T {
			other := from
			if from.IsHandle() {
				other = e.T
			}
			if !other.IsUInt() || (other.Bits != 32 && other.Bits != 64) {
				v.addErrorInNode(ExprString(e), "handles only convert to pointer-width unsigned integers")
			}
		}
	case Let:
		t := v.validateExpr(e.Value)
		v.push(e.Name, t)
		body := v.validateExpr(e.Body)
		v.pop(e.Name)
		return body
	default:
		v.addErrorInFunction(fmt.Sprintf("unknown expression %T", e))
		return Type{}
	}
	return e.Type()
}

func (v *Validator) addError(msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg})
}

func (v *Validator) addErrorInFunction(msg string) {
	v.errors = append(v.errors, ValidationError{
		Message:  msg,
		Function: v.context.functionName,
	})
}

func (v *Validator) addErrorInNode(node, msg string) {
	v.errors = append(v.errors, ValidationError{
		Message:  msg,
		Function: v.context.functionName,
		Node:     node,
	})
}
