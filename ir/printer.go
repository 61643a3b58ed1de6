package ir

import (
	"math"
	"strconv"
	"strings"
)

// Print renders m in the S-expression text form read by package ir/text.
func Print(m *Module) string {
	p := &printer{}
	p.module(m)
	return p.out.String()
}

// StmtString renders a statement in text form.
func StmtString(s Stmt) string {
	p := &printer{}
	p.stmt(s)
	return strings.TrimSuffix(p.out.String(), "\n")
}

// ExprString renders an expression in text form.
func ExprString(e Expr) string {
	p := &printer{}
	p.expr(e)
	return p.out.String()
}

type printer struct {
	out    strings.Builder
	indent int
}

func (p *printer) write(s string) { p.out.WriteString(s) }

func (p *printer) newline() {
	p.out.WriteByte('\n')
	for i := 0; i < p.indent; i++ {
		p.out.WriteString("  ")
	}
}

func (p *printer) module(m *Module) {
	p.write("(module " + m.Name)
	p.indent++
	for i := range m.Functions {
		p.newline()
		p.function(&m.Functions[i])
	}
	p.indent--
	p.write(")\n")
}

func (p *printer) function(f *Function) {
	p.write("(func " + f.Name + " (")
	for i, a := range f.Args {
		if i > 0 {
			p.write(" ")
		}
		kind := "scalar"
		if a.IsBuffer() {
			kind = "buffer"
		}
		p.write("(" + kind + " " + a.Name + " " + a.Type.String() + ")")
	}
	p.write(")")
	p.indent++
	p.newline()
	p.stmt(f.Body)
	p.indent--
	p.write(")")
}

func (p *printer) body(s Stmt) {
	p.indent++
	p.newline()
	p.stmt(s)
	p.indent--
}

func (p *printer) stmt(s Stmt) {
	switch s := s.(type) {
	case nil:
		p.write("(block)")
	case Block:
		p.write("(block")
		p.indent++
		for _, st := range s.Stmts {
			p.newline()
			p.stmt(st)
		}
		p.indent--
		p.write(")")
	case For:
		p.write("(" + s.Kind.String() + " " + s.Name + " ")
		p.expr(s.Min)
		p.write(" ")
		p.expr(s.Extent)
		p.body(s.Body)
		p.write(")")
	case IfThenElse:
		p.write("(if ")
		p.expr(s.Cond)
		p.body(s.Then)
		if s.Else != nil {
			p.body(s.Else)
		}
		p.write(")")
	case Allocate:
		p.write("(allocate " + s.Name + " " + s.T.String() + " (")
		for i, e := range s.Extents {
			if i > 0 {
				p.write(" ")
			}
			p.expr(e)
		}
		p.write(")")
		p.body(s.Body)
		p.write(")")
	case Free:
		p.write("(free " + s.Name + ")")
	case LetStmt:
		p.write("(let-stmt " + s.Name + " ")
		p.expr(s.Value)
		p.body(s.Body)
		p.write(")")
	case AssertStmt:
		p.write("(assert ")
		p.expr(s.Cond)
		p.write(" ")
		p.expr(s.Message)
		p.write(")")
	case ProducerConsumer:
		kw := "consume"
		if s.Produce {
			kw = "produce"
		}
		p.write("(" + kw + " " + s.Name)
		p.body(s.Body)
		p.write(")")
	case Evaluate:
		p.write("(evaluate ")
		p.expr(s.Value)
		p.write(")")
	case Store:
		kw := "store"
		if s.Atomic {
			kw = "atomic-store"
		}
		p.write("(" + kw + " " + s.Name + " ")
		p.expr(s.Value)
		p.write(" ")
		p.expr(s.Index)
		p.write(")")
	}
}

func (p *printer) list(head string, args ...Expr) {
	p.write("(" + head)
	for _, a := range args {
		p.write(" ")
		p.expr(a)
	}
	p.write(")")
}

func (p *printer) expr(e Expr) {
	switch e := e.(type) {
	case IntImm:
		p.write(strconv.FormatInt(e.Value, 10))
		if e.T != I32 {
			p.write(":" + e.T.String())
		}
	case UIntImm:
		if e.T.IsBool() {
			p.write(strconv.FormatBool(e.Value != 0))
			return
		}
		p.write(strconv.FormatUint(e.Value, 10) + ":" + e.T.String())
	case FloatImm:
		p.write(FormatFloat(e.Value, e.T.Bits))
		if e.T != F32 {
			p.write(":" + e.T.String())
		}
	case StringImm:
		p.write(strconv.Quote(e.Value))
	case Variable:
		p.write(e.Name)
	case Binary:
		p.list(e.Op.String(), e.A, e.B)
	case Compare:
		p.list(e.Op.String(), e.A, e.B)
	case Not:
		p.list("!", e.A)
	case Select:
		p.list("select", e.Cond, e.True, e.False)
	case Load:
		p.write("(load " + e.T.String() + " " + e.Name + " ")
		p.expr(e.Index)
		p.write(")")
	case Ramp:
		p.write("(ramp ")
		p.expr(e.Base)
		p.write(" ")
		p.expr(e.Stride)
		p.write(" " + strconv.Itoa(e.Lanes) + ")")
	case Broadcast:
		p.write("(broadcast ")
		p.expr(e.Value)
		p.write(" " + strconv.Itoa(e.Lanes) + ")")
	case Call:
		head := "call"
		if e.Kind == Intrinsic {
			head = "intrinsic"
		}
		p.list(head+" "+e.T.String()+" "+e.Name, e.Args...)
	case Cast:
		p.list("cast "+e.T.String(), e.Value)
	case Let:
		p.list("let "+e.Name, e.Value, e.Body)
	}
}

// FormatFloat formats v so that it reads back as a float: the shortest
// representation for the given width, always with a '.', 'e', "nan" or "inf".
func FormatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if bits != 32 {
		bits = 64
	}
	s := strconv.FormatFloat(v, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
