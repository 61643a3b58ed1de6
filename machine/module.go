// Package machine is kiln's native code-generation toolkit: a typed SSA
// instruction set organised in functions and basic blocks, a builder, a
// binary encoding, a verifier, a disassembler and a reference interpreter.
//
// Values are numbered per function starting at 1; parameters take the
// first numbers. Every value has an ir.Type, so a vector of eight int32
// lanes is a single value.
package machine

import "github.com/gogpu/kiln/ir"

// Value is an SSA value of the function being built. The zero Value is the
// result of instructions that define none.
type Value struct {
	ID uint32
	T  ir.Type
}

// Valid reports whether v names a value.
func (v Value) Valid() bool { return v.ID != 0 }

// Param is a function parameter.
type Param struct {
	Name string
	T    ir.Type
	ID   uint32
}

// Instruction is one machine instruction.
type Instruction struct {
	Op Opcode
	// Result is the defined value, or 0.
	Result uint32
	// T is the result type, or the stored type for OpStore.
	T     ir.Type
	Args  []uint32
	Imm   []uint64
	Pred  Pred
	Flags Flags
	// Align is the claimed byte alignment of a memory access or alloca.
	Align int
	// Targets are block indices: branch destinations, or the incoming
	// block of each OpPhi argument.
	Targets []int
	// Name is the callee, string constant or comment text.
	Name string
}

// Block is a basic block. It ends with exactly one terminator.
type Block struct {
	Name  string
	Insts []Instruction
}

// Terminated reports whether the block already ends with a terminator.
func (b *Block) Terminated() bool {
	n := len(b.Insts)
	return n > 0 && b.Insts[n-1].Op.IsTerminator()
}

// Function is a generated function. Block 0 is the entry.
type Function struct {
	Name    string
	Params  []Param
	Ret     ir.Type
	Closure bool
	Blocks  []*Block

	// types[id] is the type of value id.
	types []ir.Type
}

// Bound is one past the largest value number in f.
func (f *Function) Bound() uint32 {
	if len(f.types) == 0 {
		return 1
	}
	return uint32(len(f.types))
}

// TypeOf returns the type of value id, or ir.Void when id is not defined.
func (f *Function) TypeOf(id uint32) ir.Type {
	if int(id) < len(f.types) {
		return f.types[id]
	}
	return ir.Void
}

func (f *Function) define(id uint32, t ir.Type) {
	for int(id) >= len(f.types) {
		f.types = append(f.types, ir.Void)
	}
	f.types[id] = t
}

// Module is a set of functions.
type Module struct {
	Name      string
	Functions []*Function
}

// Function returns the function called name, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Externs returns the names called by m that no function of m defines, in
// first-use order.
func (m *Module) Externs() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range m.Functions {
		for _, blk := range f.Blocks {
			for _, in := range blk.Insts {
				if in.Op != OpCall || seen[in.Name] || m.Function(in.Name) != nil {
					continue
				}
				seen[in.Name] = true
				out = append(out, in.Name)
			}
		}
	}
	return out
}

// Stats counts the instructions of m by opcode.
func (m *Module) Stats() map[Opcode]int {
	out := make(map[Opcode]int)
	for _, f := range m.Functions {
		for _, blk := range f.Blocks {
			for _, in := range blk.Insts {
				out[in.Op]++
			}
		}
	}
	return out
}
