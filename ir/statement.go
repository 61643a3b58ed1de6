package ir

// Stmt is an immutable statement node. Only structured control flow
// reaches code generation: sequences, loops, conditionals and scoped
// allocations.
type Stmt interface {
	stmt()
}

// Block executes its statements in order.
type Block struct {
	Stmts []Stmt
}

// ForKind selects how a loop's iterations are executed.
type ForKind uint8

const (
	// Serial runs iterations in order on the calling thread.
	Serial ForKind = iota
	// Parallel hands the body to the runtime's parallel dispatcher.
	Parallel
)

// String returns the printer keyword for the loop kind.
func (k ForKind) String() string {
	if k == Parallel {
		return "parallel"
	}
	return "for"
}

// For runs Body for Name in [Min, Min+Extent). Min and Extent are scalar
// int32.
type For struct {
	Name        string
	Min, Extent Expr
	Kind        ForKind
	Body        Stmt
}

// IfThenElse runs Then when Cond holds and Else (which may be nil)
// otherwise.
type IfThenElse struct {
	Cond Expr
	Then Stmt
	Else Stmt
}

// Allocate reserves storage for the product of Extents elements of T and
// binds it to Name within Body. A matching Free normally ends Body.
type Allocate struct {
	Name    string
	T       Type
	Extents []Expr
	Body    Stmt
}

// Free releases the allocation called Name.
type Free struct {
	Name string
}

// LetStmt binds Name to Value within Body.
type LetStmt struct {
	Name  string
	Value Expr
	Body  Stmt
}

// AssertStmt makes the enclosing function report Message and return a
// failure status when Cond is false.
type AssertStmt struct {
	Cond    Expr
	Message Expr
}

// ProducerConsumer marks the production (Produce) or consumption of the
// pipeline stage Name. It has no effect on generated code.
type ProducerConsumer struct {
	Name    string
	Produce bool
	Body    Stmt
}

// Evaluate computes Value for its side effects and discards the result.
type Evaluate struct {
	Value Expr
}

// Store writes Value into the buffer or allocation Name at Index. Atomic
// stores must be scalar.
type Store struct {
	Name   string
	Value  Expr
	Index  Expr
	Atomic bool
}

func (Block) stmt()            {}
func (For) stmt()              {}
func (IfThenElse) stmt()       {}
func (Allocate) stmt()         {}
func (Free) stmt()             {}
func (LetStmt) stmt()          {}
func (AssertStmt) stmt()       {}
func (ProducerConsumer) stmt() {}
func (Evaluate) stmt()         {}
func (Store) stmt()            {}

// Seq builds a Block, flattening nested blocks and dropping nil statements.
func Seq(stmts ...Stmt) Stmt {
	var out []Stmt
	for _, s := range stmts {
		switch s := s.(type) {
		case nil:
		case Block:
			out = append(out, s.Stmts...)
		default:
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return Block{Stmts: out}
}
