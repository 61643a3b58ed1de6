package machine

import (
	"fmt"

	"github.com/gogpu/kiln/ir"
)

// VerifyError describes one structural problem in a module.
type VerifyError struct {
	Func    string
	Block   int
	Index   int
	Message string
}

func (e VerifyError) Error() string {
	return fmt.Sprintf("%s: b%d[%d]: %s", e.Func, e.Block, e.Index, e.Message)
}

type verifier struct {
	fn     *Function
	block  int
	index  int
	errors []VerifyError
}

func (v *verifier) errorf(format string, args ...any) {
	v.errors = append(v.errors, VerifyError{
		Func:    v.fn.Name,
		Block:   v.block,
		Index:   v.index,
		Message: fmt.Sprintf(format, args...),
	})
}

// Verify checks that every block ends with exactly one terminator, that
// phis lead their block and name a block for every value, that branch
// targets exist, and that operands are defined and typed consistently.
func Verify(m *Module) []VerifyError {
	var out []VerifyError
	names := make(map[string]bool)
	for _, f := range m.Functions {
		v := &verifier{fn: f, index: -1}
		if names[f.Name] {
			v.errorf("function defined twice")
		}
		names[f.Name] = true
		v.function()
		out = append(out, v.errors...)
	}
	return out
}

func (v *verifier) function() {
	f := v.fn
	if len(f.Blocks) == 0 {
		v.errorf("function has no blocks")
		return
	}
	for i, blk := range f.Blocks {
		v.block, v.index = i, -1
		if len(blk.Insts) == 0 || !blk.Terminated() {
			v.errorf("block %s does not end with a terminator", blk.Name)
		}
		leading := true
		for k := range blk.Insts {
			v.index = k
			in := &blk.Insts[k]
			if in.Op.IsTerminator() && k != len(blk.Insts)-1 {
				v.errorf("%s before the end of the block", in.Op)
			}
			if in.Op == OpPhi && !leading {
				v.errorf("phi after a non-phi instruction")
			}
			leading = leading && in.Op == OpPhi
			v.instruction(in)
		}
	}
}

func (v *verifier) operand(id uint32) ir.Type {
	t := v.fn.TypeOf(id)
	if t.IsVoid() {
		v.errorf("operand %%%d is not defined", id)
	}
	return t
}

func (v *verifier) target(b int) {
	if b < 0 || b >= len(v.fn.Blocks) {
		v.errorf("branch to missing block b%d", b)
	}
}

func (v *verifier) arity(in *Instruction, n int) bool {
	if len(in.Args) != n {
		v.errorf("%s has %d operands, want %d", in.Op, len(in.Args), n)
		return false
	}
	return true
}

func (v *verifier) pointer(id uint32) {
	if t := v.operand(id); !t.IsHandle() {
		v.errorf("operand %%%d is %s, not a pointer", id, t)
	}
}

func (v *verifier) instruction(in *Instruction) {
	var types []ir.Type
	for _, a := range in.Args {
		if in.Op != OpPhi {
			types = append(types, v.operand(a))
		}
	}
	switch op := in.Op; {
	case op.IsBinary():
		if v.arity(in, 2) && (types[0] != types[1] || types[0] != in.T) {
			v.errorf("%s of %s and %s to %s", op, types[0], types[1], in.T)
		}
	case op == OpCmp:
		if v.arity(in, 2) {
			if types[0] != types[1] {
				v.errorf("comparison of %s and %s", types[0], types[1])
			}
			if !in.T.IsBool() || in.T.Lanes != types[0].Lanes {
				v.errorf("comparison of %s produces %s", types[0], in.T)
			}
		}
	case op == OpSelect:
		if v.arity(in, 3) {
			if !types[0].IsBool() || (types[0].Lanes != 1 && types[0].Lanes != in.T.Lanes) {
				v.errorf("select condition is %s", types[0])
			}
			if types[1] != in.T || types[2] != in.T {
				v.errorf("select of %s and %s to %s", types[1], types[2], in.T)
			}
		}
	case op.IsConversion():
		if v.arity(in, 1) && types[0].Lanes != in.T.Lanes {
			v.errorf("%s changes %d lanes to %d", op, types[0].Lanes, in.T.Lanes)
		}
	case op == OpShuffle:
		if v.arity(in, 2) && types[0] != types[1] {
			v.errorf("shuffle of %s and %s", types[0], types[1])
		}
	case op == OpLoad, op == OpPrefetch:
		if v.arity(in, 1) {
			v.pointer(in.Args[0])
		}
	case op == OpStore:
		if v.arity(in, 2) {
			v.pointer(in.Args[1])
			if types[0] != in.T {
				v.errorf("store of %s declared as %s", types[0], in.T)
			}
		}
	case op == OpElementPtr:
		if v.arity(in, 2) {
			v.pointer(in.Args[0])
			if !types[1].IsIntegral() || !types[1].IsScalar() {
				v.errorf("element index is %s", types[1])
			}
		}
	case op == OpMemcpy:
		if v.arity(in, 3) {
			v.pointer(in.Args[0])
			v.pointer(in.Args[1])
		}
	case op == OpBr:
		if len(in.Targets) != 1 {
			v.errorf("br has %d targets", len(in.Targets))
		}
	case op == OpCondBr:
		if len(in.Targets) != 2 {
			v.errorf("condbr has %d targets", len(in.Targets))
		}
		if v.arity(in, 1) && (!types[0].IsBool() || !types[0].IsScalar()) {
			v.errorf("branch condition is %s", types[0])
		}
	case op == OpPhi:
		if len(in.Args) == 0 || len(in.Args) != len(in.Targets) {
			v.errorf("phi has %d values for %d blocks", len(in.Args), len(in.Targets))
		}
		for _, a := range in.Args {
			// Incoming values may be defined later in a loop latch.
			if t := v.fn.TypeOf(a); t != in.T {
				v.errorf("phi of %s takes %%%d of type %s", in.T, a, t)
			}
		}
	case op == OpRet:
		switch {
		case v.fn.Ret.IsVoid() && len(in.Args) != 0:
			v.errorf("return of a value from a void function")
		case !v.fn.Ret.IsVoid() && (len(in.Args) != 1 || types[0] != v.fn.Ret):
			v.errorf("return does not produce %s", v.fn.Ret)
		}
	}
	for _, t := range in.Targets {
		v.target(t)
	}
}
