package machine

import "fmt"

// Opcode identifies a machine instruction.
type Opcode uint16

// Module structure records. These only appear in the binary encoding.
const (
	OpNop Opcode = iota
	OpFunction
	OpParam
	OpLabel
	OpFunctionEnd
)

// Values.
const (
	OpConst Opcode = iota + 16
	OpUndef
	OpString
)

// Integer and float arithmetic. Integer operations wrap unless the
// instruction carries FlagNSW.
const (
	OpAdd Opcode = iota + 32
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
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
	OpCmp
	OpSelect
)

// Conversions.
const (
	OpSExt Opcode = iota + 64
	OpZExt
	OpTrunc
	OpFPExt
	OpFPTrunc
	OpFPToSI
	OpFPToUI
	OpSIToFP
	OpUIToFP
	OpPtrToInt
	OpIntToPtr
	OpBitcast
)

// Lane permutation.
const (
	OpShuffle Opcode = iota + 96
	OpExtract
	OpInsert
)

// Memory.
const (
	OpLoad Opcode = iota + 112
	OpStore
	OpElementPtr
	OpAlloca
	OpMemcpy
)

// Calls.
const (
	OpCall Opcode = iota + 128
	OpFuncAddr
)

// Bit and float operations with a native instruction.
const (
	OpPopcount Opcode = iota + 144
	OpClz
	OpCtz
	OpFAbs
	OpFloor
	OpPrefetch
)

// DSP vector instructions.
const (
	// OpVShuff interleaves the lanes of two vectors.
	OpVShuff Opcode = iota + 160
	// OpVDeal takes the even (Imm[0] == 0) or odd lanes of the
	// concatenation of two vectors.
	OpVDeal
	OpVAbsDiff
	OpVPopcount
)

// Control flow.
const (
	OpBr Opcode = iota + 192
	OpCondBr
	OpPhi
	OpRet
	OpComment
)

var opcodeNames = map[Opcode]string{
	OpNop:         "nop",
	OpFunction:    "function",
	OpParam:       "param",
	OpLabel:       "label",
	OpFunctionEnd: "end",
	OpConst:       "const",
	OpUndef:       "undef",
	OpString:      "string",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpSDiv:        "sdiv",
	OpUDiv:        "udiv",
	OpSRem:        "srem",
	OpURem:        "urem",
	OpFAdd:        "fadd",
	OpFSub:        "fsub",
	OpFMul:        "fmul",
	OpFDiv:        "fdiv",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpAShr:        "ashr",
	OpLShr:        "lshr",
	OpCmp:         "cmp",
	OpSelect:      "select",
	OpSExt:        "sext",
	OpZExt:        "zext",
	OpTrunc:       "trunc",
	OpFPExt:       "fpext",
	OpFPTrunc:     "fptrunc",
	OpFPToSI:      "fptosi",
	OpFPToUI:      "fptoui",
	OpSIToFP:      "sitofp",
	OpUIToFP:      "uitofp",
	OpPtrToInt:    "ptrtoint",
	OpIntToPtr:    "inttoptr",
	OpBitcast:     "bitcast",
	OpShuffle:     "shuffle",
	OpExtract:     "extract",
	OpInsert:      "insert",
	OpLoad:        "load",
	OpStore:       "store",
	OpElementPtr:  "elementptr",
	OpAlloca:      "alloca",
	OpMemcpy:      "memcpy",
	OpCall:        "call",
	OpFuncAddr:    "funcaddr",
	OpPopcount:    "popcount",
	OpClz:         "clz",
	OpCtz:         "ctz",
	OpFAbs:        "fabs",
	OpFloor:       "floor",
	OpPrefetch:    "prefetch",
	OpVShuff:      "dsp.vshuff",
	OpVDeal:       "dsp.vdeal",
	OpVAbsDiff:    "dsp.vabsdiff",
	OpVPopcount:   "dsp.vpopcount",
	OpBr:          "br",
	OpCondBr:      "condbr",
	OpPhi:         "phi",
	OpRet:         "ret",
	OpComment:     "comment",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op%d", uint16(op))
}

// IsTerminator reports whether op ends a block.
func (op Opcode) IsTerminator() bool {
	return op == OpBr || op == OpCondBr || op == OpRet
}

// IsBinary reports whether op is a two-operand arithmetic or bitwise
// operation whose operands and result share one type.
func (op Opcode) IsBinary() bool {
	return op >= OpAdd && op <= OpLShr
}

// IsConversion reports whether op converts one value to another type.
func (op Opcode) IsConversion() bool {
	return op >= OpSExt && op <= OpBitcast
}

// hasResult reports whether instructions with op define a value.
func (op Opcode) hasResult() bool {
	switch op {
	case OpStore, OpMemcpy, OpPrefetch, OpBr, OpCondBr, OpRet, OpComment, OpNop:
		return false
	}
	return true
}

// Pred is a comparison predicate. Ordered float predicates are false when
// either operand is NaN; PredUNE is true.
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

// Flags modify an instruction.
type Flags uint8

const (
	// FlagNSW marks integer arithmetic whose signed overflow is undefined.
	FlagNSW Flags = 1 << iota
	// FlagAtomic marks an atomic store.
	FlagAtomic
)
