package codegen

import (
	"fmt"

	"github.com/gogpu/kiln/ir"
)

// Op is a machine-level binary operation. Integer operations wrap unless
// marked NSW, in which case signed overflow is undefined.
type Op uint8

const (
	OpAdd Op = iota
	OpAddNSW
	OpSub
	OpSubNSW
	OpMul
	OpMulNSW
	OpSDiv // truncating
	OpUDiv
	OpSRem // sign of dividend
	OpURem
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpAnd
	OpOr
	OpXor
	OpShl
	OpAShr
	OpLShr
)

var opNames = [...]string{
	OpAdd:    "add",
	OpAddNSW: "add.nsw",
	OpSub:    "sub",
	OpSubNSW: "sub.nsw",
	OpMul:    "mul",
	OpMulNSW: "mul.nsw",
	OpSDiv:   "sdiv",
	OpUDiv:   "udiv",
	OpSRem:   "srem",
	OpURem:   "urem",
	OpFAdd:   "fadd",
	OpFSub:   "fsub",
	OpFMul:   "fmul",
	OpFDiv:   "fdiv",
	OpAnd:    "and",
	OpOr:     "or",
	OpXor:    "xor",
	OpShl:    "shl",
	OpAShr:   "ashr",
	OpLShr:   "lshr",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op%d", uint8(op))
}

// Pred is a comparison predicate. Float predicates prefixed O are false
// when either operand is NaN; UNE is true.
type Pred uint8

const (
	PredEQ Pred = iota
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredULE
	PredUGT
	PredUGE
	PredOEQ
	PredUNE
	PredOLT
	PredOLE
	PredOGT
	PredOGE
)

var predNames = [...]string{
	PredEQ:  "eq",
	PredNE:  "ne",
	PredSLT: "slt",
	PredSLE: "sle",
	PredSGT: "sgt",
	PredSGE: "sge",
	PredULT: "ult",
	PredULE: "ule",
	PredUGT: "ugt",
	PredUGE: "uge",
	PredOEQ: "oeq",
	PredUNE: "une",
	PredOLT: "olt",
	PredOLE: "ole",
	PredOGT: "ogt",
	PredOGE: "oge",
}

func (p Pred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return fmt.Sprintf("pred%d", uint8(p))
}

// Conv is a value conversion.
type Conv uint8

const (
	ConvSExt Conv = iota
	ConvZExt
	ConvTrunc
	ConvFPExt
	ConvFPTrunc
	ConvFPToSI
	ConvFPToUI
	ConvSIToFP
	ConvUIToFP
	ConvPtrToInt
	ConvIntToPtr
	ConvBitcast
)

var convNames = [...]string{
	ConvSExt:     "sext",
	ConvZExt:     "zext",
	ConvTrunc:    "trunc",
	ConvFPExt:    "fpext",
	ConvFPTrunc:  "fptrunc",
	ConvFPToSI:   "fptosi",
	ConvFPToUI:   "fptoui",
	ConvSIToFP:   "sitofp",
	ConvUIToFP:   "uitofp",
	ConvPtrToInt: "ptrtoint",
	ConvIntToPtr: "inttoptr",
	ConvBitcast:  "bitcast",
}

func (c Conv) String() string {
	if int(c) < len(convNames) {
		return convNames[c]
	}
	return fmt.Sprintf("conv%d", uint8(c))
}

// Values creates constants and reports the IR type of emitted values.
type Values[V any] interface {
	TypeOf(v V) ir.Type
	// IntConst returns an integer or bool constant of t. Vector types
	// splat the value across all lanes. Unsigned types reinterpret the bits.
	IntConst(t ir.Type, v int64) V
	FloatConst(t ir.Type, v float64) V
	StringConst(s string) V
	NullHandle() V
	Undef(t ir.Type) V
}

// Arith emits elementwise arithmetic. Operands of Binary and Compare have
// the same type.
type Arith[V any] interface {
	Binary(op Op, a, b V) V
	Compare(p Pred, a, b V) V
	Convert(c Conv, to ir.Type, v V) V
	// Select picks lanes of a or b. cond is a bool scalar or a bool vector
	// with as many lanes as a.
	Select(cond, a, b V) V
}

// VectorOps emits lane permutations.
type VectorOps[V any] interface {
	// Shuffle concatenates a and b, which have the same type, and picks
	// lanes by index. A negative index is an undefined lane.
	Shuffle(a, b V, indices []int) V
	ExtractElement(v V, i int) V
	InsertElement(vec, elem V, i int) V
}

// Memory emits memory accesses. Pointers are handles addressing bytes.
type Memory[V any] interface {
	Load(t ir.Type, ptr V, align int) V
	Store(v, ptr V, align int, atomic bool)
	// ElementPtr returns base + index*elem.Bytes(). index is a scalar
	// 32-bit integer.
	ElementPtr(elem ir.Type, base, index V) V
	// Alloca reserves bytes of stack storage for the current function.
	Alloca(bytes, align int) V
	Memcpy(dst, src, bytes V)
}

// Control emits structured control flow. Callbacks run synchronously and
// emit into the region they describe.
type Control[V any] interface {
	If(cond V, then, els func())
	IfValue(cond V, t ir.Type, then, els func() V) V
	For(name string, min, extent V, body func(i V))
	Return(status V)
	// Function emits a new function. It may be called while another
	// function is being emitted; the nested function is independent.
	Function(sig Signature, body func(params []V))
	Comment(text string)
}

// Calls emits calls to runtime and extern functions.
type Calls[V any] interface {
	// Call returns the zero V for void calls.
	Call(name string, ret ir.Type, args []V) V
	FuncAddr(name string) V
	HasExtern(name string) bool
}

// Backend is the full capability set a lowering target provides.
type Backend[V any] interface {
	Values[V]
	Arith[V]
	VectorOps[V]
	Memory[V]
	Control[V]
	Calls[V]
}

// Arithmetic is the subset used by the numeric rules.
type Arithmetic[V any] interface {
	Values[V]
	Arith[V]
}

// Vectors is the subset used by slicing, concatenation and interleaving.
type Vectors[V any] interface {
	Values[V]
	VectorOps[V]
}

// NativeIntrinsics is implemented by backends with a dedicated lowering for
// some intrinsics. Intrinsic returns false to fall back to the shared one.
// It is consulted for popcount, count_leading_zeros, count_trailing_zeros,
// abs, absd, floor, prefetch, stringify, rewrite_buffer, the min and max
// operators, and signed mod by a non-constant divisor. rewrite_buffer
// receives the descriptor followed by the int32 elem_size and
// min/extent/stride triples.
type NativeIntrinsics[V any] interface {
	Intrinsic(name string, t ir.Type, args []V) (V, bool)
}

// Signature describes an emitted function.
type Signature struct {
	Name   string
	Params []Param
	Ret    ir.Type
	// Closure marks a function extracted from a parallel loop body.
	Closure bool
}

// Param is one parameter of an emitted function.
type Param struct {
	Name string
	Type ir.Type
	// Buffer marks a buffer descriptor argument.
	Buffer bool
}
