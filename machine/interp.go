package machine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/kiln/ir"
)

// maxCallDepth bounds recursion through calls and externs.
const maxCallDepth = 256

// Extern implements a function the module calls but does not define.
type Extern func(in *Interpreter, args []Lanes) (Lanes, error)

// Trap reports a failure while executing an instruction.
type Trap struct {
	Func  string
	Block int
	Index int
	Op    Opcode
	Err   error
}

func (t *Trap) Error() string {
	return fmt.Sprintf("machine: %s: b%d[%d] %s: %v", t.Func, t.Block, t.Index, t.Op, t.Err)
}

func (t *Trap) Unwrap() error { return t.Err }

// Interpreter executes the functions of a module. Calls may run
// concurrently from several goroutines.
type Interpreter struct {
	mod     *Module
	mem     *Memory
	externs map[string]Extern
	funcs   map[string]int

	mu      sync.Mutex
	strings map[string]uint64
	atomic  sync.Mutex
}

// NewInterpreter prepares mod for execution over mem.
func NewInterpreter(mod *Module, mem *Memory, externs map[string]Extern) *Interpreter {
	in := &Interpreter{
		mod:     mod,
		mem:     mem,
		externs: externs,
		funcs:   make(map[string]int, len(mod.Functions)),
		strings: make(map[string]uint64),
	}
	for i, f := range mod.Functions {
		in.funcs[f.Name] = i
	}
	return in
}

// Memory returns the memory the interpreter runs over.
func (in *Interpreter) Memory() *Memory { return in.mem }

// Module returns the module being executed.
func (in *Interpreter) Module() *Module { return in.mod }

// Call runs the function or extern called name.
func (in *Interpreter) Call(name string, args ...Lanes) (Lanes, error) {
	return in.call(name, args, 0)
}

// CallAddr runs the function whose address is addr.
func (in *Interpreter) CallAddr(addr uint64, args ...Lanes) (Lanes, error) {
	i := int(addr &^ FuncAddrTag)
	if addr&FuncAddrTag == 0 || i >= len(in.mod.Functions) {
		return nil, fmt.Errorf("call of %#x: %w", addr, ErrBadPointer)
	}
	return in.run(in.mod.Functions[i], args, 0)
}

// FuncAddr returns the address of the function called name.
func (in *Interpreter) FuncAddr(name string) (uint64, bool) {
	i, ok := in.funcs[name]
	return FuncAddrTag | uint64(i), ok
}

func (in *Interpreter) call(name string, args []Lanes, depth int) (Lanes, error) {
	if i, ok := in.funcs[name]; ok {
		return in.run(in.mod.Functions[i], args, depth)
	}
	if ext, ok := in.externs[name]; ok {
		return ext(in, args)
	}
	return nil, fmt.Errorf("undefined function %q", name)
}

// intern returns the address of a NUL-terminated copy of s.
func (in *Interpreter) intern(s string) (uint64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if p, ok := in.strings[s]; ok {
		return p, nil
	}
	p := in.mem.Alloc(len(s)+1, "string")
	if err := in.mem.Write(p, []byte(s)); err != nil {
		return 0, err
	}
	in.strings[s] = p
	return p, nil
}

type frame struct {
	fn      *Function
	regs    []Lanes
	allocas []uint64
	depth   int
}

func (in *Interpreter) run(f *Function, args []Lanes, depth int) (Lanes, error) {
	if depth > maxCallDepth {
		return nil, fmt.Errorf("%s: call depth exceeds %d", f.Name, maxCallDepth)
	}
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", f.Name, len(args), len(f.Params))
	}
	fr := &frame{fn: f, regs: make([]Lanes, f.Bound()), depth: depth}
	for i, p := range f.Params {
		if len(args[i]) != p.T.Lanes {
			return nil, fmt.Errorf("%s: argument %s has %d lanes, want %d", f.Name, p.Name, len(args[i]), p.T.Lanes)
		}
		fr.regs[p.ID] = args[i]
	}
	defer func() {
		for _, p := range fr.allocas {
			_ = in.mem.Free(p)
		}
	}()

	blk, prev := 0, -1
	for {
		b := f.Blocks[blk]
		k, err := in.phis(fr, b, prev)
		if err != nil {
			return nil, &Trap{Func: f.Name, Block: blk, Index: k, Op: OpPhi, Err: err}
		}
		next := -1
		for ; k < len(b.Insts) && next < 0; k++ {
			inst := &b.Insts[k]
			switch inst.Op {
			case OpBr:
				next = inst.Targets[0]
			case OpCondBr:
				next = inst.Targets[1]
				if fr.regs[inst.Args[0]][0] != 0 {
					next = inst.Targets[0]
				}
			case OpRet:
				if len(inst.Args) == 0 {
					return nil, nil
				}
				return fr.regs[inst.Args[0]], nil
			default:
				v, err := in.step(fr, inst)
				if err != nil {
					var trap *Trap
					if errors.As(err, &trap) {
						return nil, err
					}
					return nil, &Trap{Func: f.Name, Block: blk, Index: k, Op: inst.Op, Err: err}
				}
				if inst.Result != 0 {
					fr.regs[inst.Result] = v
				}
			}
		}
		if next < 0 {
			return nil, &Trap{Func: f.Name, Block: blk, Index: len(b.Insts), Op: OpNop, Err: errors.New("block has no terminator")}
		}
		prev, blk = blk, next
	}
}

// phis evaluates the leading phis of b together and returns the index of
// the first other instruction.
func (in *Interpreter) phis(fr *frame, b *Block, prev int) (int, error) {
	k := 0
	var vals []Lanes
	for ; k < len(b.Insts) && b.Insts[k].Op == OpPhi; k++ {
		inst := &b.Insts[k]
		found := false
		for j, from := range inst.Targets {
			if from == prev {
				vals = append(vals, fr.regs[inst.Args[j]])
				found = true
				break
			}
		}
		if !found {
			return k, fmt.Errorf("phi %%%d has no value for predecessor b%d", inst.Result, prev)
		}
	}
	for j := range vals {
		fr.regs[b.Insts[j].Result] = vals[j]
	}
	return k, nil
}

func (in *Interpreter) step(fr *frame, inst *Instruction) (Lanes, error) {
	f := fr.fn
	arg := func(i int) Lanes { return fr.regs[inst.Args[i]] }
	argType := func(i int) ir.Type { return f.TypeOf(inst.Args[i]) }

	switch op := inst.Op; {
	case op == OpConst:
		return Lanes(inst.Imm), nil
	case op == OpUndef:
		return make(Lanes, inst.T.Lanes), nil
	case op == OpString:
		p, err := in.intern(inst.Name)
		return Lanes{p}, err
	case op.IsBinary():
		return evalBinary(op, argType(0), arg(0), arg(1))
	case op == OpCmp:
		return compare(inst.Pred, argType(0), arg(0), arg(1))
	case op == OpSelect:
		cond, a, b := arg(0), arg(1), arg(2)
		out := make(Lanes, len(a))
		for i := range out {
			c := cond[0]
			if len(cond) > 1 {
				c = cond[i]
			}
			if c != 0 {
				out[i] = a[i]
			} else {
				out[i] = b[i]
			}
		}
		return out, nil
	case op.IsConversion():
		return convert(op, argType(0), inst.T, arg(0))
	case op == OpShuffle:
		cat := append(append(Lanes(nil), arg(0)...), arg(1)...)
		out := make(Lanes, len(inst.Imm))
		for i, raw := range inst.Imm {
			k := int(int64(raw))
			if k >= len(cat) {
				return nil, fmt.Errorf("lane %d out of range for %d lanes", k, len(cat))
			}
			if k >= 0 {
				out[i] = cat[k]
			}
		}
		return out, nil
	case op == OpExtract:
		v, i := arg(0), int(inst.Imm[0])
		if i >= len(v) {
			return nil, fmt.Errorf("lane %d out of range for %d lanes", i, len(v))
		}
		return Lanes{v[i]}, nil
	case op == OpInsert:
		out := append(Lanes(nil), arg(0)...)
		i := int(inst.Imm[0])
		if i >= len(out) {
			return nil, fmt.Errorf("lane %d out of range for %d lanes", i, len(out))
		}
		out[i] = arg(1)[0]
		return out, nil
	case op == OpLoad:
		return in.load(inst.T, arg(0)[0], inst.Align)
	case op == OpStore:
		return nil, in.store(inst.T, arg(0), arg(1)[0], inst.Align, inst.Flags&FlagAtomic != 0)
	case op == OpElementPtr:
		idx := sext(arg(1)[0], argType(1).Bits)
		return Lanes{arg(0)[0] + uint64(idx*int64(inst.Imm[0]))}, nil
	case op == OpAlloca:
		p := in.mem.Alloc(int(inst.Imm[0]), f.Name+" stack")
		fr.allocas = append(fr.allocas, p)
		return Lanes{p}, nil
	case op == OpMemcpy:
		n := int(sext(arg(2)[0], argType(2).Bits))
		src, err := in.mem.Bytes(arg(1)[0], n)
		if err != nil {
			return nil, err
		}
		dst, err := in.mem.Bytes(arg(0)[0], n)
		if err != nil {
			return nil, err
		}
		copy(dst, src)
		return nil, nil
	case op == OpCall:
		args := make([]Lanes, len(inst.Args))
		for i := range args {
			args[i] = arg(i)
		}
		return in.call(inst.Name, args, fr.depth+1)
	case op == OpFuncAddr:
		p, ok := in.FuncAddr(inst.Name)
		if !ok {
			return nil, fmt.Errorf("address of undefined function %q", inst.Name)
		}
		return Lanes{p}, nil
	case op == OpPopcount, op == OpClz, op == OpCtz, op == OpFAbs, op == OpFloor, op == OpVPopcount:
		return unary(op, argType(0), inst.T, arg(0))
	case op == OpPrefetch, op == OpComment, op == OpNop:
		return nil, nil
	case op == OpVShuff:
		a, b := arg(0), arg(1)
		out := make(Lanes, 2*len(a))
		for i := range a {
			out[2*i], out[2*i+1] = a[i], b[i]
		}
		return out, nil
	case op == OpVDeal:
		cat := append(append(Lanes(nil), arg(0)...), arg(1)...)
		out := make(Lanes, inst.T.Lanes)
		for i := range out {
			out[i] = cat[2*i+int(inst.Imm[0])]
		}
		return out, nil
	case op == OpVAbsDiff:
		return absDiff(argType(0), inst.T, arg(0), arg(1)), nil
	}
	return nil, fmt.Errorf("cannot execute %s", inst.Op)
}

func checkAlign(p uint64, align int) error {
	if align > 1 && p%uint64(align) != 0 {
		return fmt.Errorf("access at %#x claims alignment %d: %w", p, align, ErrBadPointer)
	}
	return nil
}

func (in *Interpreter) load(t ir.Type, p uint64, align int) (Lanes, error) {
	if err := checkAlign(p, align); err != nil {
		return nil, err
	}
	size := t.Bytes()
	b, err := in.mem.Bytes(p, size*t.Lanes)
	if err != nil {
		return nil, err
	}
	out := make(Lanes, t.Lanes)
	for i := range out {
		x := getUint(b[i*size:], size)
		if t.IsBool() && x != 0 {
			x = 1
		}
		out[i] = x
	}
	return out, nil
}

func (in *Interpreter) store(t ir.Type, v Lanes, p uint64, align int, atomic bool) error {
	if err := checkAlign(p, align); err != nil {
		return err
	}
	if atomic {
		in.atomic.Lock()
		defer in.atomic.Unlock()
	}
	size := t.Bytes()
	b, err := in.mem.Bytes(p, size*len(v))
	if err != nil {
		return err
	}
	for i, x := range v {
		putUint(b[i*size:], size, x)
	}
	return nil
}
