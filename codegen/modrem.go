package codegen

import "github.com/gogpu/kiln/ir"

// ModRem states that an integer value v satisfies v ≡ Remainder (mod
// Modulus). Modulus zero means v is exactly Remainder. Modulus one means
// nothing is known.
type ModRem struct {
	Modulus   int64
	Remainder int64
}

// Unknown is the fact that holds for every value.
var Unknown = ModRem{Modulus: 1}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func makeModRem(m, r int64) ModRem {
	if m < 0 {
		m = -m
	}
	if m != 0 {
		r %= m
		if r < 0 {
			r += m
		}
	}
	return ModRem{Modulus: m, Remainder: r}
}

// AnalyzeModRem derives the congruence satisfied by the scalar integer e.
// facts supplies what is known about free variables.
func AnalyzeModRem(e ir.Expr, facts func(name string) (ModRem, bool)) ModRem {
	a := modRemAnalyzer{facts: facts, lets: map[string][]ModRem{}}
	return a.expr(e)
}

type modRemAnalyzer struct {
	facts func(string) (ModRem, bool)
	lets  map[string][]ModRem
}

func (a *modRemAnalyzer) expr(e ir.Expr) ModRem {
	switch e := e.(type) {
	case ir.IntImm:
		return ModRem{Remainder: e.Value}
	case ir.UIntImm:
		return ModRem{Remainder: int64(e.Value)}
	case ir.Variable:
		if stack := a.lets[e.Name]; len(stack) > 0 {
			return stack[len(stack)-1]
		}
		if a.facts != nil {
			if mr, ok := a.facts(e.Name); ok {
				return mr
			}
		}
		return Unknown
	case ir.Let:
		a.lets[e.Name] = append(a.lets[e.Name], a.expr(e.Value))
		mr := a.expr(e.Body)
		a.lets[e.Name] = a.lets[e.Name][:len(a.lets[e.Name])-1]
		return mr
	case ir.Binary:
		switch e.Op {
		case ir.Add:
			x, y := a.expr(e.A), a.expr(e.B)
			return makeModRem(gcd(x.Modulus, y.Modulus), x.Remainder+y.Remainder)
		case ir.Sub:
			x, y := a.expr(e.A), a.expr(e.B)
			return makeModRem(gcd(x.Modulus, y.Modulus), x.Remainder-y.Remainder)
		case ir.Mul:
			x, y := a.expr(e.A), a.expr(e.B)
			switch {
			case x.Modulus == 0:
				return makeModRem(x.Remainder*y.Modulus, x.Remainder*y.Remainder)
			case y.Modulus == 0:
				return makeModRem(y.Remainder*x.Modulus, x.Remainder*y.Remainder)
			}
			m := gcd(x.Modulus*y.Modulus, gcd(x.Modulus*y.Remainder, y.Modulus*x.Remainder))
			return makeModRem(m, x.Remainder*y.Remainder)
		case ir.Mod:
			c, ok := ir.IntValue(e.B)
			if !ok || c <= 0 {
				return Unknown
			}
			x := a.expr(e.A)
			if x.Modulus == 0 {
				return makeModRem(0, ((x.Remainder%c)+c)%c)
			}
			return makeModRem(gcd(x.Modulus, c), x.Remainder)
		}
	}
	return Unknown
}

// InferAlignment returns the byte alignment of an access to elem at an
// index satisfying mr, given the base is aligned to nativeBytes. The result
// starts at the element size and doubles while both modulus and remainder
// stay even, up to nativeBytes. Possibly misaligned bases keep the element
// alignment.
func InferAlignment(mr ModRem, elem ir.Type, nativeBytes int, misaligned bool) int {
	align := elem.Bytes()
	if misaligned {
		return align
	}
	m, r := mr.Modulus, mr.Remainder
	for align < nativeBytes && m%2 == 0 && r%2 == 0 {
		if m == 0 && r == 0 {
			return nativeBytes
		}
		m /= 2
		r /= 2
		align *= 2
	}
	return align
}
