package ir

// Expr is an immutable expression node. The set of node kinds is closed;
// consumers dispatch with a type switch over the concrete types below.
//
// Subtrees may be shared between parents. Nodes are never mutated after
// construction.
type Expr interface {
	// Type returns the type of the value the expression produces.
	Type() Type
	expr()
}

// IntImm is a signed integer constant.
type IntImm struct {
	T     Type
	Value int64
}

// UIntImm is an unsigned integer (or boolean) constant.
type UIntImm struct {
	T     Type
	Value uint64
}

// FloatImm is a floating point constant.
type FloatImm struct {
	T     Type
	Value float64
}

// StringImm is a constant string. Its type is a handle to NUL-terminated
// bytes.
type StringImm struct {
	Value string
}

// Variable references a name bound by a function argument, a let, a loop or
// a buffer unpack.
type Variable struct {
	T    Type
	Name string
}

// BinaryOp enumerates the arithmetic and logical binary operators.
type BinaryOp uint8

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Mod
	Min
	Max
	And
	Or
)

var binaryOpNames = [...]string{
	Add: "+",
	Sub: "-",
	Mul: "*",
	Div: "/",
	Mod: "%",
	Min: "min",
	Max: "max",
	And: "&&",
	Or:  "||",
}

// String returns the operator spelling.
func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

// Binary applies an arithmetic or logical operator to two operands of the
// same type.
type Binary struct {
	Op   BinaryOp
	A, B Expr
}

// CompareOp enumerates the comparison operators.
type CompareOp uint8

const (
	EQ CompareOp = iota
	NE
	LT
	LE
	GT
	GE
)

var compareOpNames = [...]string{
	EQ: "==",
	NE: "!=",
	LT: "<",
	LE: "<=",
	GT: ">",
	GE: ">=",
}

// String returns the operator spelling.
func (op CompareOp) String() string {
	if int(op) < len(compareOpNames) {
		return compareOpNames[op]
	}
	return "?"
}

// Compare compares two operands of the same type, producing a boolean with
// the operands' lane count.
type Compare struct {
	Op   CompareOp
	A, B Expr
}

// Not is logical negation of a boolean.
type Not struct {
	A Expr
}

// Select picks True where Cond holds and False elsewhere. Cond is either
// scalar or has the same lane count as the values.
type Select struct {
	Cond, True, False Expr
}

// Load reads T from the buffer or allocation called Name at Index (in
// elements of T). A vector T requires a vector Index of the same lane
// count.
type Load struct {
	T     Type
	Name  string
	Index Expr
}

// Ramp is the vector Base, Base+Stride, ..., Base+(Lanes-1)*Stride.
type Ramp struct {
	Base, Stride Expr
	Lanes        int
}

// Broadcast replicates a scalar into every lane of a vector.
type Broadcast struct {
	Value Expr
	Lanes int
}

// CallKind distinguishes calls into the intrinsic table from calls to
// external functions resolved at link time.
type CallKind uint8

const (
	// Extern calls an external function by name.
	Extern CallKind = iota
	// Intrinsic calls one of the fixed code generator intrinsics.
	Intrinsic
)

// Call invokes an intrinsic or an external function.
type Call struct {
	T    Type
	Name string
	Args []Expr
	Kind CallKind
}

// Cast converts Value to T.
type Cast struct {
	T     Type
	Value Expr
}

// Let binds Name to Value within Body.
type Let struct {
	Name  string
	Value Expr
	Body  Expr
}

func (e IntImm) Type() Type    { return e.T }
func (e UIntImm) Type() Type   { return e.T }
func (e FloatImm) Type() Type  { return e.T }
func (StringImm) Type() Type   { return HandleType() }
func (e Variable) Type() Type  { return e.T }
func (e Binary) Type() Type    { return e.A.Type() }
func (e Compare) Type() Type   { return Bool().WithLanes(e.A.Type().Lanes) }
func (e Not) Type() Type       { return e.A.Type() }
func (e Select) Type() Type    { return e.True.Type() }
func (e Load) Type() Type      { return e.T }
func (e Ramp) Type() Type      { return e.Base.Type().WithLanes(e.Lanes) }
func (e Broadcast) Type() Type { return e.Value.Type().WithLanes(e.Lanes) }
func (e Call) Type() Type      { return e.T }
func (e Cast) Type() Type      { return e.T }
func (e Let) Type() Type       { return e.Body.Type() }

func (IntImm) expr()    {}
func (UIntImm) expr()   {}
func (FloatImm) expr()  {}
func (StringImm) expr() {}
func (Variable) expr()  {}
func (Binary) expr()    {}
func (Compare) expr()   {}
func (Not) expr()       {}
func (Select) expr()    {}
func (Load) expr()      {}
func (Ramp) expr()      {}
func (Broadcast) expr() {}
func (Call) expr()      {}
func (Cast) expr()      {}
func (Let) expr()       {}

// Int32 returns a 32-bit signed integer constant.
func Int32(v int64) IntImm { return IntImm{T: I32, Value: v} }

// Const returns an integer or float constant of type t.
func Const(t Type, v int64) Expr {
	switch t.Code {
	case Int:
		return IntImm{T: t, Value: v}
	case Float:
		return FloatImm{T: t, Value: float64(v)}
	default:
		return UIntImm{T: t, Value: uint64(v)}
	}
}

// Var returns a variable reference.
func Var(t Type, name string) Variable { return Variable{T: t, Name: name} }

// IntValue returns the value of a signed or unsigned integer constant.
func IntValue(e Expr) (int64, bool) {
	switch e := e.(type) {
	case IntImm:
		return e.Value, true
	case UIntImm:
		return int64(e.Value), true
	}
	return 0, false
}

// IsIntrinsic reports whether e is a call to the named intrinsic.
func IsIntrinsic(e Expr, name string) bool {
	c, ok := e.(Call)
	return ok && c.Kind == Intrinsic && c.Name == name
}
